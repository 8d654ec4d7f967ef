package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 120, cfg.Detention.DefaultGraceMinutes)
	assert.InDelta(t, 75.0, cfg.Detention.DefaultHourlyRate, 1e-9)
	assert.InDelta(t, 200.0, cfg.Detention.GeofenceRadiusM, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Detention.PollInterval)
	assert.Equal(t, "detention-storage", cfg.Detention.StateKey)
	assert.Equal(t, "postgres", cfg.Remote.Backend)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "sqlite", cfg.Detention.StateStore, "durable state by default")
	assert.Equal(t, "detention-state.db", cfg.Detention.StatePath)
	assert.Equal(t, 10, cfg.Database.MaxConns)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DETENTION_GRACE_MINUTES", "90")
	t.Setenv("DETENTION_HOURLY_RATE", "62.5")
	t.Setenv("GEOFENCE_POLL_INTERVAL", "5s")
	t.Setenv("EVENT_STORE_BACKEND", "rest")
	t.Setenv("LOG_DEVELOPMENT", "true")

	cfg := Load()

	assert.Equal(t, 90, cfg.Detention.DefaultGraceMinutes)
	assert.InDelta(t, 62.5, cfg.Detention.DefaultHourlyRate, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Detention.PollInterval)
	assert.Equal(t, "rest", cfg.Remote.Backend)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DETENTION_GRACE_MINUTES", "two hours")
	t.Setenv("SYNC_INTERVAL", "often")

	cfg := Load()

	assert.Equal(t, 120, cfg.Detention.DefaultGraceMinutes)
	assert.Equal(t, time.Minute, cfg.Detention.SyncInterval)
}
