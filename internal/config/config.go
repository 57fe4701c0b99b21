package config

import (
	"time"
)

// Config represents the main Kisan Relay configuration
type Config struct {
	// Server holds the client-facing WebSocket server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Gemini holds the upstream Live API settings
	Gemini GeminiConfig `json:"gemini" mapstructure:"gemini"`

	// Vision holds the crop image analysis settings
	Vision VisionConfig `json:"vision" mapstructure:"vision"`

	// Session holds session lifecycle settings
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`

	// PingInterval and PongTimeout control WebSocket keepalive
	PingIntervalSeconds int `json:"ping_interval_seconds" mapstructure:"ping_interval_seconds"`
	PongTimeoutSeconds  int `json:"pong_timeout_seconds" mapstructure:"pong_timeout_seconds"`
}

// GeminiConfig holds upstream Gemini Live API configuration
type GeminiConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// Endpoint is the Live API WebSocket endpoint
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`

	// Models is the ordered candidate list tried at connect time
	Models []string `json:"models" mapstructure:"models"`

	// SystemPrompt overrides the built-in assistant instruction
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`

	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// VisionConfig holds image analysis configuration
type VisionConfig struct {
	// Provider selects the analysis backend: gemini, anthropic
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`

	// APIKey is used by the anthropic provider; the gemini provider
	// shares the upstream API key
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	TimeoutMinutes       int `json:"timeout_minutes" mapstructure:"timeout_minutes"`
	SweepIntervalMinutes int `json:"sweep_interval_minutes" mapstructure:"sweep_interval_minutes"`

	// MaxConcurrent is a soft cap: sessions beyond it are accepted and
	// reported, not rejected
	MaxConcurrent int `json:"max_concurrent" mapstructure:"max_concurrent"`

	// ContextLimit bounds the per-session conversation ring
	ContextLimit int `json:"context_limit" mapstructure:"context_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// Timeout returns the session idle timeout as a duration
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// SweepInterval returns the sweep interval as a duration
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// DefaultModels is the ordered Live API model fallback list
var DefaultModels = []string{
	"gemini-2.5-flash-preview-native-audio-dialog", // native audio model (preferred)
	"gemini-live-2.5-flash-preview",                // half-cascade model
	"gemini-2.0-flash-live-001",                    // fallback Live model
}

// DefaultEndpoint is the Gemini Live API WebSocket endpoint
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8081,
			PingIntervalSeconds: 30,
			PongTimeoutSeconds:  10,
		},
		Gemini: GeminiConfig{
			Endpoint:    DefaultEndpoint,
			Models:      DefaultModels,
			Temperature: 0.7,
		},
		Vision: VisionConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
		},
		Session: SessionConfig{
			TimeoutMinutes:       30,
			SweepIntervalMinutes: 5,
			MaxConcurrent:        100,
			ContextLimit:         50,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: true,
		},
	}
}
