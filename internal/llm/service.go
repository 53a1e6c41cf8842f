// Package llm provides the field extraction port: turning recognized poster
// text, or the poster image itself, into structured event fields.
//
// Every FieldExtractor speaks the same prompt contract and returns its outcome
// as a models.Result, so a transport failure, a refusal and an unparsable
// answer all look the same to the pipeline: OK=false with a message.
//
// Providers:
//   - mock: deterministic canned data, no network
//   - gemini: Google Gemini through github.com/google/generative-ai-go
//   - openai: OpenAI chat completions through github.com/sashabaranov/go-openai
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eventposter/pkg/models"
)

// Provider names accepted by New.
const (
	ProviderMock   = "mock"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default models per provider.
const (
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// DefaultTemperature keeps answers close to deterministic.
const DefaultTemperature = 0.1

// FieldExtractor extracts event fields with a language model.
type FieldExtractor interface {
	// Name identifies the provider.
	Name() string

	// TextToJSON extracts fields from recognized text and its layout blocks.
	TextToJSON(ctx context.Context, text string, blocks []models.LayoutBlock, timezone string) models.Result[models.Extraction]

	// ImageToJSON extracts fields directly from the encoded image bytes.
	ImageToJSON(ctx context.Context, image []byte, timezone string) models.Result[models.Extraction]

	// Close releases provider resources.
	Close() error
}

// Options selects and configures a provider.
type Options struct {
	Provider    string
	APIKey      string
	Model       string  // empty selects the provider default
	Temperature float32 // zero selects DefaultTemperature
	MaxRetries  int     // extra attempts on rate-limit errors
	MockLatency time.Duration
}

// New creates the FieldExtractor selected by opts.Provider (case-insensitive).
func New(ctx context.Context, opts Options) (FieldExtractor, error) {
	const op = "New"

	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}

	switch provider {
	case ProviderMock:
		return NewMockExtractor(opts.MockLatency), nil
	case ProviderGemini:
		if opts.APIKey == "" {
			return nil, newProviderError(provider, op, ErrMissingAPIKey)
		}
		if opts.Model == "" {
			opts.Model = DefaultGeminiModel
		}
		ext, err := NewGeminiExtractor(ctx, opts)
		if err != nil {
			return nil, err
		}
		return ext, nil
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, newProviderError(provider, op, ErrMissingAPIKey)
		}
		if opts.Model == "" {
			opts.Model = DefaultOpenAIModel
		}
		return NewOpenAIExtractor(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s, %s, %s)",
			ErrUnknownProvider, opts.Provider, ProviderMock, ProviderGemini, ProviderOpenAI)
	}
}

// retryBackoff is the wait before the first retry; later waits grow linearly.
var retryBackoff = 2 * time.Second

// withRetry calls fn until it succeeds, fails with a non rate-limit error, or
// the retry budget is spent. Waits respect ctx.
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || attempt >= maxRetries || !isRateLimited(err) {
			return err
		}
		wait := time.Duration(attempt+1) * retryBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "rate limit")
}
