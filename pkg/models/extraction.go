package models

// ResultType is the constant tag carried by every extraction envelope.
const ResultType = "event_poster"

// Route identifies the extraction path taken for an image.
type Route string

const (
	RouteOCRFirst          Route = "ocr_first"           // text recognition followed by text-to-JSON
	RouteVision            Route = "vision"              // image sent directly to the vision model
	RouteOCRFallbackVision Route = "ocr_fallback_vision" // ocr_first attempted, vision produced the result
)

// Position is the vertical third of the image a layout block sits in.
type Position string

const (
	PositionTop    Position = "top"
	PositionMiddle Position = "middle"
	PositionBottom Position = "bottom"
)

// Core field names produced by the field extraction contract.
const (
	FieldEventName        = "event_name"
	FieldDate             = "date"
	FieldTime             = "time"
	FieldVenueName        = "venue_name"
	FieldVenueAddress     = "venue_address"
	FieldDescription      = "description"
	FieldOrganizer        = "organizer"
	FieldContactEmail     = "contact_email"
	FieldContactPhone     = "contact_phone"
	FieldTicketPrice      = "ticket_price"
	FieldWebsite          = "website"
	FieldRegistrationLink = "registration_link"
	FieldStartDate        = "start_date"
	FieldEndDate          = "end_date"
	FieldStartTime        = "start_time"
	FieldEndTime          = "end_time"
)

// CoreFields lists every core field name in prompt order.
var CoreFields = []string{
	FieldEventName, FieldDate, FieldTime, FieldVenueName, FieldVenueAddress,
	FieldDescription, FieldOrganizer, FieldContactEmail, FieldContactPhone,
	FieldTicketPrice, FieldWebsite, FieldRegistrationLink,
	FieldStartDate, FieldEndDate, FieldStartTime, FieldEndTime,
}

// CriticalFields are the fields whose absence produces a dedicated warning
// and influences the fallback decision.
var CriticalFields = []string{FieldEventName, FieldDate, FieldVenueName}

// IsCoreField reports whether name belongs to the closed core field set.
func IsCoreField(name string) bool {
	for _, f := range CoreFields {
		if f == name {
			return true
		}
	}
	return false
}

// ComplexityScore holds the routing signals computed from the grayscale image.
type ComplexityScore struct {
	// BlurVariance is the variance of the Laplacian response. Unbounded, >= 0.
	BlurVariance float64 `json:"blur_variance"`

	// EdgeDensity is the fraction of pixels flagged as edges (0.0 to 1.0).
	EdgeDensity float64 `json:"edge_density"`

	// TextDensity is the normalized count of text-like regions (0.0 to 1.0).
	TextDensity float64 `json:"text_density"`

	// OverallComplexity is the weighted combination of edge and text density (0.0 to 1.0).
	OverallComplexity float64 `json:"overall_complexity"`

	// IsBlurry is true when BlurVariance is below the configured threshold.
	IsBlurry bool `json:"is_blurry"`
}

// Point is an (x, y) pixel coordinate, serialized as a two element array.
type Point [2]int

// LayoutBlock is one recognized text fragment with its location.
type LayoutBlock struct {
	Text     string   `json:"text"`
	BBox     [4]Point `json:"bbox"`
	Conf     float64  `json:"conf"`
	Position Position `json:"position,omitempty"`
}

// FieldEntry is one named extracted attribute.
type FieldEntry struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Normalized bool    `json:"normalized"`
}

// ExtraField is a non-core key/value pair reported by the extractor.
type ExtraField struct {
	Key        string  `json:"key"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Extraction is the payload a field extraction port produces.
type Extraction struct {
	Fields map[string]FieldEntry `json:"fields"`
	Extra  []ExtraField          `json:"extra"`
}

// RawData carries diagnostic output of the extraction route.
type RawData struct {
	OCRText      string         `json:"ocr_text,omitempty"`
	LayoutBlocks []LayoutBlock  `json:"layout_blocks"`
	Debug        map[string]any `json:"debug,omitempty"`
}

// WarningType classifies validation warnings.
type WarningType string

const (
	WarningMissingCriticalFields WarningType = "missing_critical_fields"
	WarningLowConfidence         WarningType = "low_confidence"
	WarningLowFieldConfidence    WarningType = "low_field_confidence"
)

// Warning is an advisory signal attached to a result.
type Warning struct {
	Type       WarningType `json:"type"`
	Fields     []string    `json:"fields,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
	Message    string      `json:"message"`
}

// ExtractionResult is the envelope returned for every processed image.
//
// Stages receive the envelope by value and return an updated copy; Fields,
// Extra and Warnings must be cloned before they are modified.
type ExtractionResult struct {
	Type            string                `json:"type"`
	Route           Route                 `json:"route"`
	ComplexityScore ComplexityScore       `json:"complexity_score"`
	Confidence      float64               `json:"confidence"`
	Fields          map[string]FieldEntry `json:"fields"`
	Extra           []ExtraField          `json:"extra"`
	Raw             *RawData              `json:"raw,omitempty"`
	Warnings        []Warning             `json:"warnings"`
	Error           string                `json:"error,omitempty"`
}

// NewExtractionResult returns an envelope with empty, non-nil collections.
func NewExtractionResult(route Route, score ComplexityScore) ExtractionResult {
	return ExtractionResult{
		Type:            ResultType,
		Route:           route,
		ComplexityScore: score,
		Fields:          map[string]FieldEntry{},
		Extra:           []ExtraField{},
		Warnings:        []Warning{},
	}
}

// CloneFields returns a shallow copy of the field map that is safe to modify.
func (r ExtractionResult) CloneFields() map[string]FieldEntry {
	out := make(map[string]FieldEntry, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

// Field returns the named field and whether it is present.
func (r ExtractionResult) Field(name string) (FieldEntry, bool) {
	f, ok := r.Fields[name]
	return f, ok
}

// HasValue reports whether a field value counts as present: not nil, not an
// empty string and not an empty list or map.
func HasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
