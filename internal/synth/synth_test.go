package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	stats := computeStats([]float64{20, 30, 40})
	assert.Equal(t, 3, stats.Size)
	assert.InDelta(t, 30, stats.Mean, 1e-9)
	assert.InDelta(t, 30, stats.Median, 1e-9)
	assert.InDelta(t, 8.1649, stats.StdDev, 1e-3)

	even := computeStats([]float64{10, 20, 30, 40})
	assert.InDelta(t, 25, even.Median, 1e-9)

	empty := computeStats(nil)
	assert.Zero(t, empty.Size)
	assert.Zero(t, empty.Mean)
}

func TestVariance(t *testing.T) {
	assert.Zero(t, variance([]float64{25, 25, 25, 25}))
	assert.InDelta(t, 25, variance([]float64{20, 30}), 1e-9)
	assert.Zero(t, variance(nil))
}

func TestEngagementTiersByDistribution(t *testing.T) {
	// Median 4.5: high above 6.75, medium above 4.5, low otherwise.
	tiers := engagementTiers([]float64{10, 5, 4, 1})
	assert.Equal(t, []string{TierHigh, TierMedium, TierLow, TierLow}, tiers)
}

func TestEngagementTiersSingletonFallsBackToAbsolute(t *testing.T) {
	assert.Equal(t, []string{TierHigh}, engagementTiers([]float64{7}))
	assert.Equal(t, []string{TierMedium}, engagementTiers([]float64{3}))
	assert.Equal(t, []string{TierLow}, engagementTiers([]float64{1}))
	assert.Empty(t, engagementTiers(nil))
}

func TestApplyRevision(t *testing.T) {
	pf := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		round1 float64
		rev    Revision
		want   float64
	}{
		{"none keeps score", 28, Revision{Type: "none"}, 28},
		{"empty type keeps score", 28, Revision{}, 28},
		{"unknown type keeps score", 28, Revision{Type: "vibes"}, 28},
		{"adjustment applies", 28, Revision{Type: "adjustment", Adjustment: pf(3)}, 31},
		{"negative adjustment applies", 28, Revision{Type: "adjustment", Adjustment: pf(-5)}, 23},
		{"adjustment clamps high", 38, Revision{Type: "adjustment", Adjustment: pf(7)}, 40},
		{"adjustment clamps low", 3, Revision{Type: "adjustment", Adjustment: pf(-9)}, 0},
		{"adjustment without delta keeps score", 28, Revision{Type: "adjustment"}, 28},
		{"explicit in range", 28, Revision{Type: "explicit", NewScore: pf(33)}, 33},
		{"explicit zero allowed", 28, Revision{Type: "explicit", NewScore: pf(0)}, 0},
		{"explicit above range ignored", 28, Revision{Type: "explicit", NewScore: pf(55)}, 28},
		{"explicit below range ignored", 28, Revision{Type: "explicit", NewScore: pf(-2)}, 28},
		{"explicit without score ignored", 28, Revision{Type: "explicit"}, 28},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, disposition := ApplyRevision(tt.round1, tt.rev)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, disposition)
		})
	}
}

func TestParseRound2(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		resp, warnings := parseRound2(`{
			"final_verdict": "still the strongest build here.",
			"score_revision": {"type": "adjustment", "adjustment": 2, "reason": "cohort context"},
			"reasoning": "ranked first with low variance",
			"community_influence": "moderate",
			"confidence": "high"
		}`)
		assert.Empty(t, warnings)
		assert.Equal(t, "adjustment", resp.ScoreRevision.Type)
		require.NotNil(t, resp.ScoreRevision.Adjustment)
		assert.Equal(t, 2.0, *resp.ScoreRevision.Adjustment)
		assert.Equal(t, "moderate", resp.CommunityInfluence)
		assert.Equal(t, "high", resp.Confidence)
	})

	t.Run("invalid enums normalized", func(t *testing.T) {
		resp, _ := parseRound2(`{
			"final_verdict": "fine",
			"score_revision": {"type": "none"},
			"community_influence": "massive",
			"confidence": "absolute"
		}`)
		assert.Equal(t, "unknown", resp.CommunityInfluence)
		assert.Equal(t, "low", resp.Confidence)
	})

	t.Run("prose keeps round-1 score", func(t *testing.T) {
		resp, warnings := parseRound2("I stand by my original assessment.")
		assert.Equal(t, "none", resp.ScoreRevision.Type)
		assert.Equal(t, "I stand by my original assessment.", resp.FinalVerdict)
		assert.NotEmpty(t, warnings)
	})

	t.Run("missing verdict preserved from raw", func(t *testing.T) {
		resp, warnings := parseRound2(`{"score_revision": {"type": "none"}}`)
		assert.NotEmpty(t, resp.FinalVerdict)
		assert.NotEmpty(t, warnings)
	})
}

func TestSharedThemes(t *testing.T) {
	own := "The scaffolding is generic and the contract tests are missing entirely."
	others := []string{
		"Another generic scaffolding job without tests.",
		"Generic frontend, no tests, solid docs though.",
		"Original protocol design with thorough tests.",
	}

	themes := sharedThemes(own, others)
	assert.Contains(t, themes, "generic")
	assert.Contains(t, themes, "tests")
	assert.NotContains(t, themes, "scaffolding")
	assert.LessOrEqual(t, len(themes), 5)
}

func TestSharedThemesSmallCohort(t *testing.T) {
	themes := sharedThemes("missing tests everywhere", []string{"also missing tests"})
	assert.Contains(t, themes, "missing")

	assert.Nil(t, sharedThemes("", nil))
}
