package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

// imageAnnotator is the subset of the Vision client used here.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// GoogleVisionTextExtractor implements TextExtractor using Google Cloud Vision.
type GoogleVisionTextExtractor struct {
	client imageAnnotator
	log    zerolog.Logger
}

// NewGoogleVisionTextExtractor creates an extractor with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS JSON in env.
func NewGoogleVisionTextExtractor(ctx context.Context) (*GoogleVisionTextExtractor, error) {
	const op = "NewGoogleVisionTextExtractor"

	opts := credentialOptions()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}

	return newGoogleVisionTextExtractor(client), nil
}

func newGoogleVisionTextExtractor(client imageAnnotator) *GoogleVisionTextExtractor {
	return &GoogleVisionTextExtractor{
		client: client,
		log:    logger.WithComponent("google-vision"),
	}
}

// Name returns "google_vision".
func (g *GoogleVisionTextExtractor) Name() string { return ProviderGoogleVision }

// Extract runs document text detection on img.
func (g *GoogleVisionTextExtractor) Extract(ctx context.Context, img *image.Gray, lang string) TextResult {
	result, err := g.extract(ctx, img, lang)
	if err != nil {
		g.log.Error().Err(err).Str("lang", lang).Msg("Text detection failed")
		return TextResult{Blocks: []models.LayoutBlock{}}
	}
	g.log.Debug().
		Int("blocks", len(result.Blocks)).
		Int("chars", len(result.Text)).
		Msg("Text detection completed")
	return result
}

func (g *GoogleVisionTextExtractor) extract(ctx context.Context, img *image.Gray, lang string) (TextResult, error) {
	const op = "Extract"

	if img == nil || img.Bounds().Empty() {
		return TextResult{}, NewOCRError(op, ErrEmptyImage, "")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return TextResult{}, WrapOCRError(op, err, "failed to encode image")
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: buf.Bytes()},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}
	if lang != "" {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: []string{lang}}
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return TextResult{}, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.GetResponses()) == 0 {
		return TextResult{}, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	imgResp := resp.GetResponses()[0]
	if imgResp.GetError() != nil {
		return TextResult{}, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", imgResp.GetError().GetMessage()))
	}

	return arrangeBlocks(blocksFromVision(imgResp.GetFullTextAnnotation()), img.Bounds().Dy()), nil
}

// blocksFromVision converts every paragraph of the annotation into a layout block.
func blocksFromVision(ann *visionpb.TextAnnotation) []models.LayoutBlock {
	var blocks []models.LayoutBlock
	for _, page := range ann.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				var pts []models.Point
				for _, v := range para.GetBoundingBox().GetVertices() {
					pts = append(pts, models.Point{int(v.GetX()), int(v.GetY())})
				}
				blocks = append(blocks, models.LayoutBlock{
					Text: paragraphText(para),
					BBox: boxFromPoints(pts),
					Conf: clampConfidence(para.GetConfidence()),
				})
			}
		}
	}
	return blocks
}

// paragraphText rebuilds a paragraph from its symbols, honouring detected breaks.
func paragraphText(para *visionpb.Paragraph) string {
	var sb strings.Builder
	for _, word := range para.GetWords() {
		for _, sym := range word.GetSymbols() {
			sb.WriteString(sym.GetText())
			switch sym.GetProperty().GetDetectedBreak().GetType() {
			case visionpb.TextAnnotation_DetectedBreak_SPACE,
				visionpb.TextAnnotation_DetectedBreak_SURE_SPACE,
				visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
				visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
				sb.WriteByte(' ')
			case visionpb.TextAnnotation_DetectedBreak_HYPHEN:
				sb.WriteByte('-')
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// Close closes the underlying Vision client.
func (g *GoogleVisionTextExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
