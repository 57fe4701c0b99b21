package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	// Read environment variables with KISAN_ prefix
	v.SetEnvPrefix("KISAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets come from plain environment variables, never the config file
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = resolveGeminiAPIKey()
	}
	if cfg.Vision.APIKey == "" {
		cfg.Vision.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return cfg, nil
}

// resolveGeminiAPIKey mirrors the GOOGLE_API_KEY / GEMINI_API_KEY precedence
func resolveGeminiAPIKey() string {
	google := os.Getenv("GOOGLE_API_KEY")
	gemini := os.Getenv("GEMINI_API_KEY")

	if google != "" && gemini != "" {
		log.Info().Msg("Both GOOGLE_API_KEY and GEMINI_API_KEY are set. Using GOOGLE_API_KEY.")
	}
	if google != "" {
		return google
	}
	return gemini
}
