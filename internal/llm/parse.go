package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"eventposter/pkg/models"
)

const extractionSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "fields": {
      "type": "object",
      "additionalProperties": {
        "type": ["object", "null"],
        "properties": {
          "confidence": {"type": ["number", "string", "null"]},
          "source": {"type": ["string", "null"]}
        }
      }
    },
    "extra": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["key"],
        "properties": {
          "key": {"type": "string"},
          "confidence": {"type": ["number", "string", "null"]},
          "source": {"type": ["string", "null"]}
        }
      }
    },
    "error": {}
  }
}`

var extractionSchema = jsonschema.MustCompileString("extraction.json", extractionSchemaJSON)

// ParseExtraction decodes a model answer into an Extraction.
//
// The answer may be wrapped in a markdown code fence. It must match the
// extraction schema; within that, values are coerced leniently: confidences
// may be numbers or numeric strings and are clamped to [0, 1], null field
// entries are dropped, and non-core keys found under "fields" move to Extra.
// An answer carrying a non-empty "error" key is a failure.
func ParseExtraction(answer string) (models.Extraction, error) {
	body := stripCodeFence(answer)
	if body == "" {
		return models.Extraction{}, ErrEmptyResponse
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return models.Extraction{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := extractionSchema.Validate(doc); err != nil {
		return models.Extraction{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	obj := doc.(map[string]any)
	if msg, ok := obj["error"]; ok && models.HasValue(msg) {
		return models.Extraction{}, fmt.Errorf("%w: %v", ErrModelReported, msg)
	}

	out := models.Extraction{
		Fields: map[string]models.FieldEntry{},
		Extra:  []models.ExtraField{},
	}

	fields, _ := obj["fields"].(map[string]any)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry, ok := fields[name].(map[string]any)
		if !ok {
			continue
		}
		conf := coerceConfidence(entry["confidence"])
		source := coerceString(entry["source"])
		if models.IsCoreField(name) {
			out.Fields[name] = models.FieldEntry{
				Value:      entry["value"],
				Confidence: conf,
				Source:     source,
			}
			continue
		}
		out.Extra = append(out.Extra, models.ExtraField{
			Key:        name,
			Value:      entry["value"],
			Confidence: conf,
			Source:     source,
		})
	}

	extra, _ := obj["extra"].([]any)
	for _, item := range extra {
		m := item.(map[string]any)
		out.Extra = append(out.Extra, models.ExtraField{
			Key:        coerceString(m["key"]),
			Value:      m["value"],
			Confidence: coerceConfidence(m["confidence"]),
			Source:     coerceString(m["source"]),
		})
	}

	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func coerceConfidence(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
