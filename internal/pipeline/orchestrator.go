// Package pipeline runs the extraction state machine for one poster image:
//
//	preprocessing -> scoring -> routing -> extracting -> sufficiency_check
//	  -> extracting (fallback) -> normalizing -> validating -> done
//
// The text route (ocr_first) is tried when the image is sharp and text dense;
// if its field extraction fails or is judged insufficient, the vision route
// runs once and the final route becomes ocr_fallback_vision. The vision route
// is never retried.
//
// An Orchestrator holds only read-only collaborators and is safe for
// concurrent use. It imposes no timeouts of its own; callers bound the work
// through the context.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"eventposter/internal/complexity"
	"eventposter/internal/imaging"
	"eventposter/internal/llm"
	"eventposter/internal/logger"
	"eventposter/internal/metrics"
	"eventposter/internal/ocr"
	"eventposter/internal/postprocess"
	"eventposter/pkg/models"
	"eventposter/pkg/services"
)

// State names a pipeline stage.
type State string

const (
	StatePreprocessing    State = "preprocessing"
	StateScoring          State = "scoring"
	StateRouting          State = "routing"
	StateExtracting       State = "extracting"
	StateSufficiencyCheck State = "sufficiency_check"
	StateNormalizing      State = "normalizing"
	StateValidating       State = "validating"
	StateDone             State = "done"
)

// Params are the per-request knobs of an extraction.
type Params = services.ExtractionParams

// Config bundles the tunables of every stage.
type Config struct {
	Imaging   imaging.Options
	Scorer    complexity.Options
	Route     complexity.RouteOptions
	Validator postprocess.ValidatorOptions
}

// DefaultConfig returns the default settings of every stage.
func DefaultConfig() Config {
	return Config{
		Imaging:   imaging.DefaultOptions(),
		Scorer:    complexity.DefaultOptions(),
		Route:     complexity.DefaultRouteOptions(),
		Validator: postprocess.DefaultValidatorOptions(),
	}
}

type scorer interface {
	Calculate(gray *image.Gray) models.ComplexityScore
}

// Orchestrator implements services.ExtractionService.
type Orchestrator struct {
	processor  *imaging.Processor
	scorer     scorer
	router     *complexity.RouteDecider
	text       ocr.TextExtractor
	fields     llm.FieldExtractor
	normalizer *postprocess.Normalizer
	validator  *postprocess.Validator
	log        zerolog.Logger
}

var _ services.ExtractionService = (*Orchestrator)(nil)

// New creates an Orchestrator over the given text and field extraction ports.
// A nil text port disables OCR; a nil field port falls back to the mock
// provider.
func New(text ocr.TextExtractor, fields llm.FieldExtractor, cfg Config) *Orchestrator {
	if text == nil {
		text = ocr.NoopTextExtractor{}
	}
	if fields == nil {
		fields = llm.NewMockExtractor(0)
	}
	return &Orchestrator{
		processor:  imaging.NewProcessor(cfg.Imaging),
		scorer:     complexity.NewScorer(cfg.Scorer),
		router:     complexity.NewRouteDecider(cfg.Route),
		text:       text,
		fields:     fields,
		normalizer: postprocess.NewNormalizer(),
		validator:  postprocess.NewValidator(cfg.Validator),
		log:        logger.WithComponent("pipeline"),
	}
}

// Router returns the route decider, for validating overrides before upload
// handling.
func (o *Orchestrator) Router() *complexity.RouteDecider { return o.router }

// FieldExtractorName returns the name of the field extraction provider.
func (o *Orchestrator) FieldExtractorName() string { return o.fields.Name() }

// TextExtractorName returns the name of the text extraction backend.
func (o *Orchestrator) TextExtractorName() string { return o.text.Name() }

// WithFieldExtractor returns a copy of o that sends field extraction to
// fields. The copy shares every other stage with o. A nil fields keeps the
// current provider.
func (o *Orchestrator) WithFieldExtractor(fields llm.FieldExtractor) *Orchestrator {
	clone := *o
	if fields != nil {
		clone.fields = fields
	}
	return &clone
}

// Extract implements services.ExtractionService.
func (o *Orchestrator) Extract(ctx context.Context, raw []byte, params services.ExtractionParams) (models.ExtractionResult, error) {
	return o.Process(ctx, raw, params)
}

// Process runs the pipeline on raw image bytes.
//
// It returns an error only for an invalid route override
// (complexity.ErrInvalidRoute) or an undecodable image (*imaging.DecodeError).
// Port failures are reported through the envelope's Error field.
func (o *Orchestrator) Process(ctx context.Context, raw []byte, params Params) (models.ExtractionResult, error) {
	const op = "Process"

	start := time.Now()
	params = params.WithDefaults()
	log := logger.FromContext(ctx, "pipeline")

	override, err := o.router.ParseOverride(params.ForceRoute)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("%s: %w", op, err)
	}

	enter(log, StatePreprocessing)
	processed, err := o.processor.Process(raw)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("Image rejected")
		return models.ExtractionResult{}, err
	}

	enter(log, StateScoring)
	score := o.scorer.Calculate(processed.Gray)

	enter(log, StateRouting)
	route := override
	if route == "" {
		route = o.router.Decide(score)
	}
	log.Debug().
		Str("route", string(route)).
		Bool("forced", override != "").
		Float64("overall_complexity", score.OverallComplexity).
		Float64("text_density", score.TextDensity).
		Bool("blurry", score.IsBlurry).
		Msg("Route selected")

	result := models.NewExtractionResult(route, score)

	enter(log, StateExtracting)
	if route == models.RouteOCRFirst {
		result = o.runTextRoute(ctx, log, result, processed.Gray, raw, params)
	} else {
		result = o.runVisionRoute(ctx, log, result, raw, params.Timezone, models.RouteVision)
	}

	enter(log, StateNormalizing)
	result = o.normalizer.Normalize(result)

	enter(log, StateValidating)
	result = o.validator.Validate(result)

	enter(log, StateDone)
	metrics.ObserveExtraction(string(result.Route), result.Error == "")

	log.Info().
		Str("route", string(result.Route)).
		Float64("confidence", result.Confidence).
		Int("fields", len(result.Fields)).
		Int("warnings", len(result.Warnings)).
		Bool("error", result.Error != "").
		Dur("elapsed", time.Since(start)).
		Msg("Extraction finished")

	return result, nil
}

// runTextRoute recognizes text, extracts fields from it and applies the
// sufficiency gate, falling back to the vision route when needed.
func (o *Orchestrator) runTextRoute(ctx context.Context, log zerolog.Logger, result models.ExtractionResult, gray *image.Gray, original []byte, params Params) models.ExtractionResult {
	text := o.recognize(ctx, gray, params.Lang)

	blocks := text.Blocks
	if blocks == nil {
		blocks = []models.LayoutBlock{}
	}
	result.Raw = &models.RawData{
		OCRText:      text.Text,
		LayoutBlocks: blocks,
		Debug: map[string]any{
			"blur":         result.ComplexityScore.BlurVariance,
			"edge_density": result.ComplexityScore.EdgeDensity,
			"cc_count":     len(blocks),
		},
	}
	log.Debug().
		Str("backend", o.text.Name()).
		Int("chars", len(text.Text)).
		Int("blocks", len(blocks)).
		Msg("Text recognized")

	res := o.callFieldPort(ctx, "TextToJSON", func() models.Result[models.Extraction] {
		return o.fields.TextToJSON(ctx, text.Text, blocks, params.Timezone)
	})
	if !res.OK {
		log.Warn().
			Str("provider", o.fields.Name()).
			Str("reason", res.ErrorMessage).
			Msg("Text route failed, falling back to vision")
		metrics.IncFallback(metrics.FallbackPortError)
		return o.runVisionRoute(ctx, log, result, original, params.Timezone, models.RouteOCRFallbackVision)
	}
	result = withExtraction(result, res.Value)

	enter(log, StateSufficiencyCheck)
	if !o.validator.IsExtractionSufficient(result) {
		log.Info().
			Float64("confidence", postprocess.OverallConfidence(result.Fields)).
			Strs("missing", postprocess.MissingCriticalFields(result.Fields)).
			Msg("Text route insufficient, falling back to vision")
		metrics.IncFallback(metrics.FallbackInsufficient)
		enter(log, StateExtracting)
		return o.runVisionRoute(ctx, log, result, original, params.Timezone, models.RouteOCRFallbackVision)
	}
	return result
}

// runVisionRoute sends the original image bytes to the field port. Any Raw
// payload already on result is kept; a direct vision run gets a debug-only
// payload.
func (o *Orchestrator) runVisionRoute(ctx context.Context, log zerolog.Logger, result models.ExtractionResult, original []byte, timezone string, route models.Route) models.ExtractionResult {
	result.Route = route
	result.Fields = map[string]models.FieldEntry{}
	result.Extra = []models.ExtraField{}
	if result.Raw == nil {
		result.Raw = &models.RawData{
			LayoutBlocks: []models.LayoutBlock{},
			Debug: map[string]any{
				"blur":         result.ComplexityScore.BlurVariance,
				"edge_density": result.ComplexityScore.EdgeDensity,
			},
		}
	}

	res := o.callFieldPort(ctx, "ImageToJSON", func() models.Result[models.Extraction] {
		return o.fields.ImageToJSON(ctx, original, timezone)
	})
	if !res.OK {
		log.Error().
			Str("provider", o.fields.Name()).
			Str("route", string(route)).
			Str("reason", res.ErrorMessage).
			Msg("Vision extraction failed")
		result.Error = res.ErrorMessage
		return result
	}
	return withExtraction(result, res.Value)
}

// recognize calls the text port. A panicking backend yields an empty result.
func (o *Orchestrator) recognize(ctx context.Context, gray *image.Gray, lang string) (out ocr.TextResult) {
	start := time.Now()
	ok := true
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("backend", o.text.Name()).Interface("panic", r).Msg("Text extractor panicked")
			out = ocr.TextResult{}
			ok = false
		}
		metrics.ObservePort(metrics.PortText, o.text.Name(), ok, time.Since(start))
	}()
	return o.text.Extract(ctx, gray, lang)
}

// callFieldPort runs one field port call, turning a panic into a failed Result.
func (o *Orchestrator) callFieldPort(ctx context.Context, op string, call func() models.Result[models.Extraction]) (res models.Result[models.Extraction]) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("op", op).Str("provider", o.fields.Name()).Interface("panic", r).Msg("Field extractor panicked")
			res = models.Fail[models.Extraction](fmt.Sprintf("%s: %s panicked: %v", o.fields.Name(), op, r))
		}
		metrics.ObservePort(metrics.PortField, o.fields.Name(), res.OK, time.Since(start))
	}()
	if err := ctx.Err(); err != nil {
		return models.Fail[models.Extraction](fmt.Sprintf("%s: %s: %v", o.fields.Name(), op, err))
	}
	return call()
}

// withExtraction returns a copy of result carrying the extracted fields.
func withExtraction(result models.ExtractionResult, ext models.Extraction) models.ExtractionResult {
	fields := make(map[string]models.FieldEntry, len(ext.Fields))
	for k, v := range ext.Fields {
		fields[k] = v
	}
	extra := make([]models.ExtraField, len(ext.Extra))
	copy(extra, ext.Extra)

	result.Fields = fields
	result.Extra = extra
	return result
}

func enter(log zerolog.Logger, s State) {
	log.Debug().Str("state", string(s)).Msg("Pipeline state")
}
