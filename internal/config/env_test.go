package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FEEDSCHED_USER_AGENT", "feedscheduler/1.0 (+https://example.com)")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.GlobalMaxConcurrentRequests)
	assert.Equal(t, 4, cfg.PerHostMaxConcurrent)
	assert.InDelta(t, 0.1, cfg.HistorySampleRate, 1e-9)
	assert.Equal(t, int64(900), cfg.DefaultPollSeconds)
	assert.Equal(t, int64(86400), cfg.MaxPollSeconds)
	assert.InDelta(t, 0.2, cfg.JitterFraction, 1e-9)
	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, 1000, cfg.DueBatchSize)
}

func TestLoadRejectsMissingUserAgent(t *testing.T) {
	t.Setenv("FEEDSCHED_USER_AGENT", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangeFraction(t *testing.T) {
	t.Setenv("FEEDSCHED_USER_AGENT", "ua/1.0")
	t.Setenv("FEEDSCHED_JITTER_FRACTION", "1.5")
	_, err := Load()
	assert.Error(t, err)
}
