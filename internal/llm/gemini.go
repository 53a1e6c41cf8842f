package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

// contentGenerator is satisfied by *genai.GenerativeModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor implements FieldExtractor with Google Gemini.
type GeminiExtractor struct {
	client     *genai.Client
	model      contentGenerator
	modelName  string
	maxRetries int
	log        zerolog.Logger
}

// NewGeminiExtractor creates a Gemini client for opts.Model.
func NewGeminiExtractor(ctx context.Context, opts Options) (*GeminiExtractor, error) {
	const op = "NewGeminiExtractor"

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, newProviderError(ProviderGemini, op, err)
	}

	model := client.GenerativeModel(opts.Model)
	model.SetTemperature(opts.Temperature)
	model.ResponseMIMEType = "application/json"

	ext := newGeminiExtractor(model, opts.Model, opts.MaxRetries)
	ext.client = client
	return ext, nil
}

func newGeminiExtractor(model contentGenerator, name string, maxRetries int) *GeminiExtractor {
	return &GeminiExtractor{
		model:      model,
		modelName:  name,
		maxRetries: maxRetries,
		log:        logger.WithComponent("gemini"),
	}
}

// Name returns "gemini".
func (g *GeminiExtractor) Name() string { return ProviderGemini }

// TextToJSON sends the recognized text in the prompt.
func (g *GeminiExtractor) TextToJSON(ctx context.Context, text string, blocks []models.LayoutBlock, timezone string) models.Result[models.Extraction] {
	const op = "TextToJSON"

	g.log.Debug().
		Str("model", g.modelName).
		Int("chars", len(text)).
		Int("blocks", len(blocks)).
		Msg("Calling Gemini with recognized text")

	prompt := BuildPrompt(textContent(text, blocks), timezone)
	return g.generate(ctx, op, genai.Text(prompt))
}

// ImageToJSON sends the image bytes together with the prompt.
func (g *GeminiExtractor) ImageToJSON(ctx context.Context, image []byte, timezone string) models.Result[models.Extraction] {
	const op = "ImageToJSON"

	mime := imageMIMEType(image)
	g.log.Debug().
		Str("model", g.modelName).
		Int("bytes", len(image)).
		Str("mime", mime).
		Msg("Calling Gemini vision")

	return g.generate(ctx, op,
		genai.Blob{MIMEType: mime, Data: image},
		genai.Text(BuildPrompt("", timezone)),
	)
}

func (g *GeminiExtractor) generate(ctx context.Context, op string, parts ...genai.Part) models.Result[models.Extraction] {
	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, g.maxRetries, func() error {
		var err error
		resp, err = g.model.GenerateContent(ctx, parts...)
		return err
	})
	if err != nil {
		return g.fail(op, err)
	}

	answer, err := responseText(resp)
	if err != nil {
		return g.fail(op, err)
	}

	extraction, err := ParseExtraction(answer)
	if err != nil {
		return g.fail(op, err)
	}

	g.log.Debug().
		Str("op", op).
		Int("fields", len(extraction.Fields)).
		Int("extra", len(extraction.Extra)).
		Msg("Gemini extraction parsed")
	return models.Ok(extraction)
}

func (g *GeminiExtractor) fail(op string, err error) models.Result[models.Extraction] {
	perr := newProviderError(ProviderGemini, op, err)
	g.log.Error().Err(err).Str("op", op).Str("model", g.modelName).Msg("Gemini extraction failed")
	return models.Fail[models.Extraction](perr.Error())
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("%w (finish reason: %v)", ErrEmptyResponse, cand.FinishReason)
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// imageMIMEType sniffs the image type, defaulting to JPEG.
func imageMIMEType(data []byte) string {
	mt := mimetype.Detect(data)
	if strings.HasPrefix(mt.String(), "image/") {
		return mt.String()
	}
	return "image/jpeg"
}

// Close closes the Gemini client.
func (g *GeminiExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
