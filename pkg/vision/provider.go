package vision

import (
	"context"
	"fmt"
)

// Provider produces a prose description of an image.
type Provider interface {
	// Describe sends the base64-encoded JPEG with the prompt and returns
	// the model's text response.
	Describe(ctx context.Context, imageB64, prompt string) (string, error)

	// Name returns the provider name.
	Name() string
}

// Config selects and configures the vision provider.
type Config struct {
	// Provider is "gemini" or "anthropic".
	Provider string

	// Model overrides the provider's default model.
	Model string

	// APIKey authenticates against the chosen provider.
	APIKey string
}

// NewProvider creates a vision provider from config.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiProvider(cfg.APIKey, cfg.Model), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Provider)
	}
}
