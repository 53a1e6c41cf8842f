package llm

import (
	"errors"
	"fmt"
)

// Common field extraction errors
var (
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown LLM provider")

	// ErrMissingAPIKey is returned when a real provider is selected without an API key.
	ErrMissingAPIKey = errors.New("API key is required")

	// ErrEmptyResponse is returned when the model answers without any text.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrInvalidResponse is returned when the model output is not a valid extraction object.
	ErrInvalidResponse = errors.New("model response is not a valid extraction")

	// ErrModelReported is returned when the model output carries an error key.
	ErrModelReported = errors.New("model reported an error")
)

// ProviderError wraps errors with the provider and operation that produced them.
type ProviderError struct {
	// Provider is the backend name (e.g., "gemini", "openai").
	Provider string

	// Op is the operation that failed (e.g., "TextToJSON", "ImageToJSON").
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: %s %s failed: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *ProviderError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
