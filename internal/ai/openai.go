package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Compile-time interface checks for all backends.
var (
	_ Backend = (*OpenAIBackend)(nil)
	_ Backend = (*GeminiBackend)(nil)
	_ Backend = (*StubBackend)(nil)
)

// OpenAIBackend talks to an OpenAI-compatible chat completions API.
// Requests run at temperature 0 so repeated reviews of the same
// document stay consistent.
type OpenAIBackend struct {
	config  *Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewOpenAIBackend(config *Config, logger *zap.Logger) *OpenAIBackend {
	return &OpenAIBackend{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: newLimiter(config),
		logger:  logger,
	}
}

func newLimiter(config *Config) *rate.Limiter {
	if config.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
}

func (b *OpenAIBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reqBody := map[string]interface{}{
		"model": b.config.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": 0.0,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(b.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.config.APIKey)

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		b.logger.Warn("OpenAI API error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)))
		return "", fmt.Errorf("API error: %d - %s", resp.StatusCode, truncate(string(body), 512))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("API returned no choices")
	}

	choice := apiResp.Choices[0]
	if choice.FinishReason != "" && choice.FinishReason != "stop" {
		b.logger.Warn("Completion finished early", zap.String("finish_reason", choice.FinishReason))
	}
	b.logger.Debug("Chat completion succeeded",
		zap.Int("total_tokens", apiResp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)))

	return choice.Message.Content, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
