package llm

import (
	"context"
	"time"

	"eventposter/pkg/models"
)

// MockExtractor returns the same canned conference poster for every request.
type MockExtractor struct {
	latency time.Duration
}

// NewMockExtractor creates a MockExtractor that waits latency before answering.
func NewMockExtractor(latency time.Duration) *MockExtractor {
	return &MockExtractor{latency: latency}
}

// Name returns "mock".
func (m *MockExtractor) Name() string { return ProviderMock }

// TextToJSON ignores its input and returns MockExtraction.
func (m *MockExtractor) TextToJSON(ctx context.Context, _ string, _ []models.LayoutBlock, _ string) models.Result[models.Extraction] {
	return m.answer(ctx, m.latency)
}

// ImageToJSON ignores its input and returns MockExtraction. Vision answers
// take twice the text latency.
func (m *MockExtractor) ImageToJSON(ctx context.Context, _ []byte, _ string) models.Result[models.Extraction] {
	return m.answer(ctx, 2*m.latency)
}

// Close is a no-op.
func (m *MockExtractor) Close() error { return nil }

func (m *MockExtractor) answer(ctx context.Context, latency time.Duration) models.Result[models.Extraction] {
	if latency > 0 {
		select {
		case <-ctx.Done():
			return models.Fail[models.Extraction](ctx.Err().Error())
		case <-time.After(latency):
		}
	}
	return models.Ok(MockExtraction())
}

// MockExtraction returns a fresh copy of the canned extraction.
func MockExtraction() models.Extraction {
	return models.Extraction{
		Fields: map[string]models.FieldEntry{
			models.FieldEventName:    {Value: "Mock Tech Conference 2026", Confidence: 0.95, Source: "line 1"},
			models.FieldDate:         {Value: "2026-03-15", Confidence: 0.90, Source: "line 2"},
			models.FieldTime:         {Value: "09:00-17:00", Confidence: 0.85, Source: "line 3"},
			models.FieldVenueName:    {Value: "Convention Center", Confidence: 0.92, Source: "line 4"},
			models.FieldVenueAddress: {Value: "123 Main Street, San Francisco, CA 94105", Confidence: 0.88, Source: "line 5"},
			models.FieldDescription:  {Value: "Annual technology conference featuring the latest in AI and ML", Confidence: 0.80, Source: "lines 6-8"},
			models.FieldOrganizer:    {Value: "Tech Org Inc", Confidence: 0.75, Source: "line 9"},
			models.FieldContactEmail: {Value: "info@mocktech.com", Confidence: 0.90, Source: "line 10"},
			models.FieldContactPhone: {Value: "(555) 123-4567", Confidence: 0.85, Source: "line 11"},
			models.FieldTicketPrice:  {Value: "$50", Confidence: 0.80, Source: "line 12"},
			models.FieldWebsite:      {Value: "https://mocktech.com", Confidence: 0.95, Source: "line 13"},
		},
		Extra: []models.ExtraField{
			{Key: "wifi_available", Value: "Yes", Confidence: 0.70, Source: "line 14"},
			{Key: "refreshments", Value: "Coffee and snacks provided", Confidence: 0.65, Source: "line 15"},
		},
	}
}
