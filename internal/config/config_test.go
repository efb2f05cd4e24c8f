package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, float64(100), cfg.VoteCap)
	assert.Equal(t, float64(3), cfg.VoteMultiplier)
	assert.Equal(t, 24*time.Hour, cfg.ResearchCacheTTL)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("VOTE_CAP", "250")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("ENVIRONMENT", EnvProduction)
	t.Setenv("SUBMISSION_DEADLINE", "2025-07-01T00:00:00Z")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.HTTPPort)
	assert.Equal(t, float64(250), cfg.VoteCap)
	assert.False(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.IsProduction())

	assert.False(t, cfg.SubmissionsOpen(time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, cfg.SubmissionsOpen(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "HTTP_PORT", "not-a-port"},
		{"bad vote cap", "VOTE_CAP", "many"},
		{"bad deadline", "SUBMISSION_DEADLINE", "July 1st"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSubmissionsOpenWithoutDeadline(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.SubmissionsOpen(time.Now()))
}
