package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/askbot/internal/ai"
)

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	GenerateResponse *ai.GenerateResult
	GenerateError    error
	Delay            time.Duration

	// Call tracking for testing
	GenerateCalls int
	LastParams    ai.GenerateParams
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Name returns "mock".
func (p *Provider) Name() string { return "mock" }

// Generate echoes the prompt unless a custom response or error is set.
func (p *Provider) Generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	p.mu.Lock()
	p.GenerateCalls++
	p.LastParams = params
	resp, err, delay := p.GenerateResponse, p.GenerateError, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ai.EAITimeout
		}
	}

	// If a custom response or error is set, use it
	if err != nil {
		return nil, err
	}
	if resp != nil {
		out := *resp
		return &out, nil
	}

	text := fmt.Sprintf("mock answer to: %s", params.Text)
	if params.HasImage() {
		text = fmt.Sprintf("mock description of a %d byte %s image", len(params.ImageData), params.ContentType)
	}

	p.logger.Debug("mock generate", "user_id", params.UserID, "has_image", params.HasImage())

	return &ai.GenerateResult{
		Text: text,
		Usage: ai.UsageInfo{
			Model:        "mock-ai-v1",
			InputTokens:  len(params.Text),
			OutputTokens: len(text),
			Duration:     delay,
		},
	}, nil
}

// Calls returns the number of Generate calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.GenerateCalls
}

// SetError configures the error returned by subsequent calls.
func (p *Provider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateError = err
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = 0
	p.GenerateResponse = nil
	p.GenerateError = nil
	p.Delay = 0
	p.LastParams = ai.GenerateParams{}
}
