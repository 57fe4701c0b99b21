package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Session.TimeoutMinutes)
	assert.Equal(t, 5, cfg.Session.SweepIntervalMinutes)
	assert.Equal(t, 100, cfg.Session.MaxConcurrent)
	assert.Equal(t, 50, cfg.Session.ContextLimit)
	assert.Equal(t, DefaultModels, cfg.Gemini.Models)
	assert.Equal(t, "gemini", cfg.Vision.Provider)
}

func TestSessionDurations(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval())
}

func TestLoadMissingFileDefaults(t *testing.T) {
	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{
		"server": {"host": "127.0.0.1", "port": 9090},
		"session": {"timeout_minutes": 10},
		"gemini": {"models": ["gemini-2.0-flash-live-001"]}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Session.TimeoutMinutes)
	assert.Equal(t, []string{"gemini-2.0-flash-live-001"}, cfg.Gemini.Models)
	// Untouched sections keep defaults
	assert.Equal(t, 5, cfg.Session.SweepIntervalMinutes)
}

func TestLoadBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	loader := NewLoader(path)
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "google-key", cfg.Gemini.APIKey)
}

func TestGeminiAPIKeyFallback(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini-key", cfg.Gemini.APIKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Gemini.APIKey = "test-key"
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := valid()
		cfg.Gemini.APIKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty model list", func(t *testing.T) {
		cfg := valid()
		cfg.Gemini.Models = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero timeout", func(t *testing.T) {
		cfg := valid()
		cfg.Session.TimeoutMinutes = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown vision provider", func(t *testing.T) {
		cfg := valid()
		cfg.Vision.Provider = "cohere"
		assert.Error(t, cfg.Validate())
	})

	t.Run("anthropic provider requires key", func(t *testing.T) {
		cfg := valid()
		cfg.Vision.Provider = "anthropic"
		cfg.Vision.APIKey = ""
		assert.Error(t, cfg.Validate())

		cfg.Vision.APIKey = "sk-ant-test"
		assert.NoError(t, cfg.Validate())
	})
}
