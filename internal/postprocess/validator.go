package postprocess

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

// Default confidence thresholds. The sufficiency gate and the warning level
// are separate knobs.
const (
	DefaultMinSufficientConfidence = 0.5
	DefaultWarnConfidence          = 0.6
)

// ValidatorOptions configures the Validator.
type ValidatorOptions struct {
	MinSufficientConfidence float64 // below this the cheap route falls back
	WarnConfidence          float64 // below this overall and per-field warnings fire
}

// DefaultValidatorOptions returns the default thresholds.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		MinSufficientConfidence: DefaultMinSufficientConfidence,
		WarnConfidence:          DefaultWarnConfidence,
	}
}

// Validator scores extracted fields and attaches warnings.
type Validator struct {
	opts ValidatorOptions
	log  zerolog.Logger
}

// NewValidator creates a Validator. Zero thresholds select the defaults.
func NewValidator(opts ValidatorOptions) *Validator {
	def := DefaultValidatorOptions()
	if opts.MinSufficientConfidence == 0 {
		opts.MinSufficientConfidence = def.MinSufficientConfidence
	}
	if opts.WarnConfidence == 0 {
		opts.WarnConfidence = def.WarnConfidence
	}
	return &Validator{
		opts: opts,
		log:  logger.WithComponent("validator"),
	}
}

// Validate returns a copy of result with its overall confidence set and its
// warnings replaced by the ones found in the fields.
//
// Warnings appear in a fixed order: missing critical fields, low overall
// confidence, low per-field confidence.
func (v *Validator) Validate(result models.ExtractionResult) models.ExtractionResult {
	confidence := OverallConfidence(result.Fields)
	warnings := []models.Warning{}

	if missing := MissingCriticalFields(result.Fields); len(missing) > 0 {
		warnings = append(warnings, models.Warning{
			Type:    models.WarningMissingCriticalFields,
			Fields:  missing,
			Message: "Missing critical fields: " + strings.Join(missing, ", "),
		})
	}

	if confidence < v.opts.WarnConfidence {
		c := confidence
		warnings = append(warnings, models.Warning{
			Type:       models.WarningLowConfidence,
			Confidence: &c,
			Message:    fmt.Sprintf("Overall confidence is low (%.2f)", confidence),
		})
	}

	if low := v.lowConfidenceFields(result.Fields); len(low) > 0 {
		warnings = append(warnings, models.Warning{
			Type:    models.WarningLowFieldConfidence,
			Fields:  low,
			Message: "Some fields have low confidence: " + strings.Join(low, ", "),
		})
	}

	v.log.Debug().
		Float64("confidence", confidence).
		Int("warnings", len(warnings)).
		Msg("Fields validated")

	result.Confidence = confidence
	result.Warnings = warnings
	return result
}

// IsExtractionSufficient reports whether a cheap-route extraction is good
// enough to keep. It fails when two or more critical fields are missing or
// when the confidence computed from the fields is below the gate threshold.
func (v *Validator) IsExtractionSufficient(result models.ExtractionResult) bool {
	if len(MissingCriticalFields(result.Fields)) >= 2 {
		return false
	}
	return OverallConfidence(result.Fields) >= v.opts.MinSufficientConfidence
}

func (v *Validator) lowConfidenceFields(fields map[string]models.FieldEntry) []string {
	var low []string
	for name, f := range fields {
		if models.HasValue(f.Value) && f.Confidence < v.opts.WarnConfidence {
			low = append(low, name)
		}
	}
	sort.Strings(low)
	return low
}

// OverallConfidence is the mean field confidence rounded to two decimals, or
// 0 when there are no fields.
func OverallConfidence(fields map[string]models.FieldEntry) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fields {
		sum += f.Confidence
	}
	return math.Round(sum/float64(len(fields))*100) / 100
}

// MissingCriticalFields lists the critical fields that are absent or empty.
func MissingCriticalFields(fields map[string]models.FieldEntry) []string {
	var missing []string
	for _, name := range models.CriticalFields {
		f, ok := fields[name]
		if !ok || !models.HasValue(f.Value) {
			missing = append(missing, name)
		}
	}
	return missing
}
