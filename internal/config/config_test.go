package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "https://plan.zut.edu.pl", cfg.Plan.BaseURL)
	assert.Equal(t, 60, cfg.Plan.TimeoutSeconds)
	assert.Equal(t, 10, cfg.Sync.MaxWorkers)
	assert.Equal(t, "data/plansync.db", cfg.DB.Path)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("PLAN_TIMEOUT", "15")
	t.Setenv("SYNC_MAX_WORKERS", "4")
	t.Setenv("DEFAULT_TOK_NAME", "WI_I-ST")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 15, cfg.Plan.TimeoutSeconds)
	assert.Equal(t, 4, cfg.Sync.MaxWorkers)
	assert.Equal(t, "WI_I-ST", cfg.Plan.DefaultTokName)
}

func TestNewFromEnv_RejectsBadCron(t *testing.T) {
	t.Setenv("SYNC_CRON_EXPR", "not a cron expr")

	_, err := NewFromEnv()
	require.Error(t, err)
}

func TestNewFromEnv_RejectsNonPositiveWorkers(t *testing.T) {
	t.Setenv("SYNC_MAX_WORKERS", "0")

	_, err := NewFromEnv()
	require.Error(t, err)
}
