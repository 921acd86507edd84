package ai

import (
	"context"
	"sync"
	"time"
)

// StubBackend returns canned responses without any upstream call. It
// keeps local development and tests independent of network access and
// API keys.
type StubBackend struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	calls    int
}

func NewStubBackend() *StubBackend {
	return &StubBackend{
		response: `{"summary": "Stub backend response. Configure a real AI provider for live analysis."}`,
	}
}

// SetResponse replaces the canned response for subsequent calls.
func (b *StubBackend) SetResponse(response string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.response = response
	b.err = nil
}

// SetError makes subsequent calls fail with err.
func (b *StubBackend) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// SetDelay makes subsequent calls block for d before responding.
func (b *StubBackend) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// Calls reports how many completions were requested.
func (b *StubBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *StubBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	b.mu.Lock()
	response, err, delay := b.response, b.err, b.delay
	b.calls++
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return response, nil
}

func (b *StubBackend) Name() string { return "stub" }

func (b *StubBackend) Close() error { return nil }
