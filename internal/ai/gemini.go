package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// GeminiBackend runs completions through the Google Generative AI SDK.
type GeminiBackend struct {
	config  *Config
	client  *genai.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewGeminiBackend(ctx context.Context, config *Config, logger *zap.Logger) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiBackend{
		config:  config,
		client:  client,
		limiter: newLimiter(config),
		logger:  logger,
	}, nil
}

func (b *GeminiBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	model := b.client.GenerativeModel(b.config.Model)
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("API returned no candidates")
	}

	var sb strings.Builder
	for i, candidate := range resp.Candidates {
		if candidate.FinishReason != genai.FinishReasonStop && candidate.FinishReason != genai.FinishReasonUnspecified {
			b.logger.Warn("Candidate finished early",
				zap.Int("candidate", i),
				zap.String("finish_reason", candidate.FinishReason.String()))
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("API returned empty response")
	}
	return sb.String(), nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Close() error { return b.client.Close() }
