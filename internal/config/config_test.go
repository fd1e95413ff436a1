package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultThreshold, cfg.Threshold)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultJobTimeout, cfg.JobTimeout)
	assert.Equal(t, DefaultCascadeDepth, cfg.MaxCascadeDepth)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	viper.Reset()
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("DATABASE_PATH", "/tmp/atlas.db")
	t.Setenv("WORKERS", "8")
	t.Setenv("APPROVAL_THRESHOLD", "0.9")
	t.Setenv("JOB_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test-key", cfg.GeminiAPIKey)
	assert.Equal(t, "/tmp/atlas.db", cfg.DatabasePath)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 0.9, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
}

func TestValidate(t *testing.T) {
	cfg := &Config{GeminiAPIKey: "k", Threshold: 0.75}
	assert.NoError(t, cfg.Validate())

	cfg.GeminiAPIKey = ""
	assert.Error(t, cfg.Validate())

	cfg.GeminiAPIKey = "k"
	cfg.Threshold = 1.5
	assert.Error(t, cfg.Validate())
}
