package services

import (
	"context"

	"eventposter/pkg/models"
)

// ExtractionService turns poster image bytes into an extraction envelope.
type ExtractionService interface {
	// Extract runs the full pipeline. It returns an error only when the image
	// cannot be decoded or the request parameters are invalid; every other
	// failure is reported inside the returned envelope.
	Extract(ctx context.Context, image []byte, params ExtractionParams) (models.ExtractionResult, error)
}

// ExtractionParams are the per-request knobs of an extraction.
type ExtractionParams struct {
	Lang       string `json:"lang"`        // OCR language hint, default "en"
	Timezone   string `json:"timezone"`    // timezone for date/time interpretation, default "UTC"
	ForceRoute string `json:"force_route"` // optional route override: "ocr_first" or "vision"
}

// DefaultExtractionParams returns the request defaults.
func DefaultExtractionParams() ExtractionParams {
	return ExtractionParams{
		Lang:     "en",
		Timezone: "UTC",
	}
}

// WithDefaults fills empty values with the request defaults.
func (p ExtractionParams) WithDefaults() ExtractionParams {
	d := DefaultExtractionParams()
	if p.Lang == "" {
		p.Lang = d.Lang
	}
	if p.Timezone == "" {
		p.Timezone = d.Timezone
	}
	return p
}
