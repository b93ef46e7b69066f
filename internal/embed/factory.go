package embed

import (
	"fmt"
)

// Providers recognized by New.
const (
	ProviderStatic = "static"
	ProviderOpenAI = "openai"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string // static or openai
	Model      string // Provider model name, "" for the provider default
	Dimensions int    // 0 for the provider default
	BaseURL    string // Override endpoint for openai-compatible servers
}

// New creates an embedder for the configured provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", ProviderStatic:
		return NewStaticEmbedder(), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.Model, cfg.Dimensions, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}
