package llm

import (
	"context"
	"encoding/base64"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

// chatCompleter is satisfied by *openai.Client.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIExtractor implements FieldExtractor with OpenAI chat completions.
type OpenAIExtractor struct {
	client      chatCompleter
	model       string
	temperature float32
	maxRetries  int
	log         zerolog.Logger
}

// NewOpenAIExtractor creates an OpenAI client for opts.Model.
func NewOpenAIExtractor(opts Options) *OpenAIExtractor {
	return newOpenAIExtractor(openai.NewClient(opts.APIKey), opts)
}

func newOpenAIExtractor(client chatCompleter, opts Options) *OpenAIExtractor {
	return &OpenAIExtractor{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxRetries:  opts.MaxRetries,
		log:         logger.WithComponent("openai"),
	}
}

// Name returns "openai".
func (o *OpenAIExtractor) Name() string { return ProviderOpenAI }

// TextToJSON sends the recognized text in the prompt.
func (o *OpenAIExtractor) TextToJSON(ctx context.Context, text string, blocks []models.LayoutBlock, timezone string) models.Result[models.Extraction] {
	const op = "TextToJSON"

	o.log.Debug().
		Str("model", o.model).
		Int("chars", len(text)).
		Int("blocks", len(blocks)).
		Msg("Calling OpenAI with recognized text")

	return o.complete(ctx, op, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: BuildPrompt(textContent(text, blocks), timezone),
	})
}

// ImageToJSON sends the image as a data URL together with the prompt.
func (o *OpenAIExtractor) ImageToJSON(ctx context.Context, image []byte, timezone string) models.Result[models.Extraction] {
	const op = "ImageToJSON"

	mime := imageMIMEType(image)
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	o.log.Debug().
		Str("model", o.model).
		Int("bytes", len(image)).
		Str("mime", mime).
		Msg("Calling OpenAI vision")

	return o.complete(ctx, op, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: BuildPrompt("", timezone)},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	})
}

func (o *OpenAIExtractor) complete(ctx context.Context, op string, msg openai.ChatCompletionMessage) models.Result[models.Extraction] {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages:    []openai.ChatCompletionMessage{msg},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, o.maxRetries, func() error {
		var err error
		resp, err = o.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return o.fail(op, err)
	}
	if len(resp.Choices) == 0 {
		return o.fail(op, ErrEmptyResponse)
	}

	extraction, err := ParseExtraction(resp.Choices[0].Message.Content)
	if err != nil {
		return o.fail(op, err)
	}

	o.log.Debug().
		Str("op", op).
		Int("fields", len(extraction.Fields)).
		Int("extra", len(extraction.Extra)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("OpenAI extraction parsed")
	return models.Ok(extraction)
}

func (o *OpenAIExtractor) fail(op string, err error) models.Result[models.Extraction] {
	perr := newProviderError(ProviderOpenAI, op, err)
	o.log.Error().Err(err).Str("op", op).Str("model", o.model).Msg("OpenAI extraction failed")
	return models.Fail[models.Extraction](perr.Error())
}

// Close is a no-op; the OpenAI client holds no resources.
func (o *OpenAIExtractor) Close() error { return nil }
