package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "kosh.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "vision", cfg.OCR.Provider)
	assert.Equal(t, 60, cfg.OCR.TimeoutSecs)
	assert.Equal(t, int64(25<<20), cfg.Asset.MaxBytes)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 600, cfg.Pipeline.ClaimTTLSecs)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30, cfg.Retry.InitialBackoffSecs)
	assert.Equal(t, 600, cfg.Retry.MaxBackoffSecs)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.InDelta(t, 0.25, cfg.Retry.JitterFraction, 0.001)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60, cfg.Breaker.CoolDownSecs)
	assert.InDelta(t, 0.85, cfg.Catalog.SimilarityThreshold, 0.001)
	assert.InDelta(t, 0.05, cfg.Recommend.MinMargin, 0.001)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/kosh
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  workers: 8
catalog:
  similarity_threshold: 0.9
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/kosh", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.InDelta(t, 0.9, cfg.Catalog.SimilarityThreshold, 0.001)
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("KOSH_SERVER_PORT", "7070")
	t.Setenv("KOSH_STORE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
