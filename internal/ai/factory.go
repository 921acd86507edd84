package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider names a supported backend implementation.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderStub   Provider = "stub"
)

// Factory creates chat-completion backends from configuration.
type Factory struct {
	logger *zap.Logger
}

func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{logger: logger}
}

// CreateBackend builds the backend for the configured provider.
func (f *Factory) CreateBackend(ctx context.Context, config *Config) (Backend, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	switch Provider(config.Provider) {
	case ProviderOpenAI:
		f.logger.Info("Creating OpenAI backend",
			zap.String("model", config.Model),
			zap.String("base_url", config.BaseURL))
		return NewOpenAIBackend(config, f.logger), nil

	case ProviderGemini:
		f.logger.Info("Creating Gemini backend",
			zap.String("model", config.Model))
		return NewGeminiBackend(ctx, config, f.logger)

	case ProviderStub:
		f.logger.Info("Creating stub backend, responses are canned")
		return NewStubBackend(), nil

	default:
		return nil, fmt.Errorf("unsupported AI provider: %s (supported: openai, gemini, stub)", config.Provider)
	}
}

// ValidateConfig checks provider settings before any backend is built.
func (f *Factory) ValidateConfig(config *Config) error {
	switch Provider(config.Provider) {
	case ProviderOpenAI, ProviderGemini:
		if config.APIKey == "" {
			return fmt.Errorf("api key is required for provider %s", config.Provider)
		}
		if config.Model == "" {
			return fmt.Errorf("model is required for provider %s", config.Provider)
		}
	case ProviderStub:
	default:
		return fmt.Errorf("unsupported AI provider: %s", config.Provider)
	}
	if config.Timeout <= 0 {
		return fmt.Errorf("ai timeout must be positive")
	}
	return nil
}
