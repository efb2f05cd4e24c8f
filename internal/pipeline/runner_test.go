package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

func TestStageOrder(t *testing.T) {
	assert.Equal(t, []string{"research", "score", "synthesize"}, Stages())
}

func TestSourceStatus(t *testing.T) {
	tests := []struct {
		stage  string
		source string
		known  bool
	}{
		{StageResearch, store.StatusSubmitted, true},
		{StageScore, store.StatusResearched, true},
		{StageSynthesize, store.StatusScored, true},
		{"publish", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		source, ok := sourceStatus(tt.stage)
		assert.Equal(t, tt.known, ok, "stage %q", tt.stage)
		assert.Equal(t, tt.source, source, "stage %q", tt.stage)
	}
}

func TestRunRejectsUnknownStage(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)

	stats, err := r.Run(context.Background(), "deploy", "v2", Opts{})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "research, score, synthesize")
	assert.Equal(t, "deploy", stats.Stage)
}

func TestSynthesizeRejectsSingleSubmission(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)

	_, err := r.Run(context.Background(), StageSynthesize, "v2", Opts{ID: "some-sub"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestDrainIsolatesFailures(t *testing.T) {
	var visited []string
	stats, err := drain(context.Background(), StageResearch, []string{"a", "b", "c"}, func(_ context.Context, id string) error {
		visited = append(visited, id)
		if id == "b" {
			return errors.New("judge offline")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, visited)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}

func TestDrainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := drain(ctx, StageScore, []string{"a"}, func(context.Context, string) error {
		t.Fatal("op ran after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Processed)
}
