// Package ocr provides the text extraction port used by the ocr_first route.
//
// A TextExtractor turns the enhanced grayscale poster into recognized text
// plus layout blocks in reading order. Extractors never fail: backend errors
// are logged and reported as an empty result, which the pipeline treats as
// "no text found".
//
// Backends:
//   - google_vision: Cloud Vision DOCUMENT_TEXT_DETECTION, one block per paragraph
//   - documentai: a Document AI OCR processor, one block per paragraph
//   - none: always empty, for setups without cloud credentials
//
// Credentials for the Google backends are read from GOOGLE_CREDENTIALS (inline
// JSON) or GOOGLE_APPLICATION_CREDENTIALS (file path), falling back to
// application default credentials.
package ocr

import (
	"context"
	"fmt"
	"image"
	"os"

	"google.golang.org/api/option"

	"eventposter/pkg/models"
)

// Provider names accepted by New.
const (
	ProviderNone         = "none"
	ProviderGoogleVision = "google_vision"
	ProviderDocumentAI   = "documentai"
)

// TextExtractor recognizes text on a grayscale image.
type TextExtractor interface {
	// Extract returns the recognized text and layout blocks. lang is a language
	// hint such as "en". It never returns an error; failures yield an empty result.
	Extract(ctx context.Context, img *image.Gray, lang string) TextResult

	// Name identifies the backend.
	Name() string

	// Close releases backend resources.
	Close() error
}

// TextResult is the output of a TextExtractor.
type TextResult struct {
	// Text is the block texts joined by newlines, in reading order.
	Text string `json:"text"`

	// Blocks are the recognized fragments sorted top-to-bottom, left-to-right.
	Blocks []models.LayoutBlock `json:"blocks"`
}

// Options selects and configures a backend.
type Options struct {
	Provider    string // none, google_vision or documentai
	ProjectID   string // Google Cloud project (documentai)
	Location    string // Document AI location, default "us"
	ProcessorID string // Document AI OCR processor ID
}

// New creates the TextExtractor selected by opts.Provider.
func New(ctx context.Context, opts Options) (TextExtractor, error) {
	const op = "New"

	switch opts.Provider {
	case "", ProviderNone:
		return NoopTextExtractor{}, nil
	case ProviderGoogleVision:
		ext, err := NewGoogleVisionTextExtractor(ctx)
		if err != nil {
			return nil, err
		}
		return ext, nil
	case ProviderDocumentAI:
		ext, err := NewDocumentAITextExtractor(ctx, DocumentAIConfig{
			ProjectID:   opts.ProjectID,
			Location:    opts.Location,
			ProcessorID: opts.ProcessorID,
		})
		if err != nil {
			return nil, err
		}
		return ext, nil
	default:
		return nil, NewOCRError(op, ErrUnknownProvider, fmt.Sprintf("provider %q", opts.Provider))
	}
}

// NoopTextExtractor recognizes nothing.
type NoopTextExtractor struct{}

// Extract always returns an empty result.
func (NoopTextExtractor) Extract(context.Context, *image.Gray, string) TextResult {
	return TextResult{Blocks: []models.LayoutBlock{}}
}

// Name returns "none".
func (NoopTextExtractor) Name() string { return ProviderNone }

// Close is a no-op.
func (NoopTextExtractor) Close() error { return nil }

// credentialOptions returns client options for the credentials found in the environment.
func credentialOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}
