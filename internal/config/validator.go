package config

import (
	"fmt"
)

// Validate checks configuration completeness for serving
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("no GOOGLE_API_KEY or GEMINI_API_KEY found in environment or config")
	}
	if c.Gemini.Endpoint == "" {
		return fmt.Errorf("gemini endpoint cannot be empty")
	}
	if len(c.Gemini.Models) == 0 {
		return fmt.Errorf("gemini model candidate list cannot be empty")
	}
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("session timeout must be positive, got %d", c.Session.TimeoutMinutes)
	}
	if c.Session.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("session sweep interval must be positive, got %d", c.Session.SweepIntervalMinutes)
	}
	if c.Session.ContextLimit <= 0 {
		return fmt.Errorf("session context limit must be positive, got %d", c.Session.ContextLimit)
	}

	switch c.Vision.Provider {
	case "gemini", "anthropic":
	default:
		return fmt.Errorf("unknown vision provider: %s", c.Vision.Provider)
	}
	if c.Vision.Provider == "anthropic" && c.Vision.APIKey == "" {
		return fmt.Errorf("anthropic vision provider requires ANTHROPIC_API_KEY")
	}

	return nil
}
