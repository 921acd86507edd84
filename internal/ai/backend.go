package ai

import "context"

// Backend is a chat-completion provider. Implementations wrap an
// upstream API (OpenAI, Gemini) or a local stub for tests and offline
// development; the reviewer layers prompts, retries, caching, and
// response parsing on top.
type Backend interface {
	// Complete sends one system+user prompt pair and returns the raw
	// model output.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Name identifies the provider for logs and health reporting.
	Name() string

	// Close releases underlying connections.
	Close() error
}
