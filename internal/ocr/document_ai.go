package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

// DocumentAIConfig holds Document AI settings.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string        // processor region, "us" or "eu"
	ProcessorID string        // OCR processor ID
	Timeout     time.Duration // per-request timeout, default 60s
}

type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAITextExtractor implements TextExtractor using a Document AI OCR processor.
type DocumentAITextExtractor struct {
	client documentProcessor
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAITextExtractor creates an extractor for the configured processor.
func NewDocumentAITextExtractor(ctx context.Context, config DocumentAIConfig) (*DocumentAITextExtractor, error) {
	const op = "NewDocumentAITextExtractor"

	if config.ProjectID == "" {
		return nil, NewOCRError(op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, NewOCRError(op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	var clientOptions []option.ClientOption
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	creds := credentialOptions()
	clientOptions = append(clientOptions, creds...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(creds) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return newDocumentAITextExtractor(client, config), nil
}

func newDocumentAITextExtractor(client documentProcessor, config DocumentAIConfig) *DocumentAITextExtractor {
	return &DocumentAITextExtractor{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

// Name returns "documentai".
func (d *DocumentAITextExtractor) Name() string { return ProviderDocumentAI }

// Extract sends img to the OCR processor. lang is not used; Document AI
// detects languages itself.
func (d *DocumentAITextExtractor) Extract(ctx context.Context, img *image.Gray, lang string) TextResult {
	result, err := d.extract(ctx, img)
	if err != nil {
		d.log.Error().Err(err).Str("processor", d.config.ProcessorID).Msg("Document OCR failed")
		return TextResult{Blocks: []models.LayoutBlock{}}
	}
	d.log.Debug().
		Int("blocks", len(result.Blocks)).
		Int("chars", len(result.Text)).
		Msg("Document OCR completed")
	return result
}

func (d *DocumentAITextExtractor) extract(ctx context.Context, img *image.Gray) (TextResult, error) {
	const op = "Extract"

	if img == nil || img.Bounds().Empty() {
		return TextResult{}, NewOCRError(op, ErrEmptyImage, "")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return TextResult{}, WrapOCRError(op, err, "failed to encode image")
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	resp, err := d.client.ProcessDocument(processCtx, &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  buf.Bytes(),
				MimeType: "image/png",
			},
		},
	})
	if err != nil {
		return TextResult{}, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Document AI call failed: %v", err))
	}
	if resp.GetDocument() == nil {
		return TextResult{}, WrapOCRError(op, ErrOCRFailed, "no document in response")
	}

	b := img.Bounds()
	return arrangeBlocks(blocksFromDocument(resp.GetDocument(), b.Dx(), b.Dy()), b.Dy()), nil
}

func (d *DocumentAITextExtractor) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.config.ProjectID, d.config.Location, d.config.ProcessorID)
}

// blocksFromDocument converts every paragraph of the first page into a layout
// block. Normalized vertices are scaled to the given image size.
func blocksFromDocument(doc *documentaipb.Document, width, height int) []models.LayoutBlock {
	pages := doc.GetPages()
	if len(pages) == 0 {
		return nil
	}
	page := pages[0]

	var blocks []models.LayoutBlock
	for _, para := range page.GetParagraphs() {
		layout := para.GetLayout()
		blocks = append(blocks, models.LayoutBlock{
			Text: anchorText(doc.GetText(), layout.GetTextAnchor()),
			BBox: boxFromPoly(layout.GetBoundingPoly(), width, height),
			Conf: clampConfidence(layout.GetConfidence()),
		})
	}
	return blocks
}

func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	var sb strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start >= end {
			continue
		}
		sb.WriteString(text[start:end])
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func boxFromPoly(poly *documentaipb.BoundingPoly, width, height int) [4]models.Point {
	var pts []models.Point
	if vs := poly.GetVertices(); len(vs) > 0 {
		for _, v := range vs {
			pts = append(pts, models.Point{int(v.GetX()), int(v.GetY())})
		}
	} else {
		for _, v := range poly.GetNormalizedVertices() {
			pts = append(pts, models.Point{
				int(math.Round(float64(v.GetX()) * float64(width))),
				int(math.Round(float64(v.GetY()) * float64(height))),
			})
		}
	}
	return boxFromPoints(pts)
}

// Close closes the underlying Document AI client.
func (d *DocumentAITextExtractor) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
