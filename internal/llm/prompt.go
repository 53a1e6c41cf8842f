package llm

import (
	"fmt"
	"strings"

	"eventposter/pkg/models"
)

const extractionPrompt = `Extract event information from the provided content and return ONLY a JSON object with this structure:

{
  "fields": {
    "event_name": {"value": "Conference Title", "confidence": 0.95, "source": "line 1"},
    "date": {"value": "2026-03-15", "confidence": 0.90, "source": "line 2"},
    "time": {"value": "09:00-17:00", "confidence": 0.85, "source": "line 3"},
    "venue_name": {"value": "Convention Center", "confidence": 0.92, "source": "line 4"},
    "venue_address": {"value": "123 Main St, City, State", "confidence": 0.88, "source": "line 5"},
    "description": {"value": "Event description", "confidence": 0.80, "source": "lines 6-8"},
    "organizer": {"value": "Organizing Entity", "confidence": 0.75, "source": "line 10"},
    "contact_email": {"value": "info@event.com", "confidence": 0.90, "source": "line 11"},
    "contact_phone": {"value": "(555) 123-4567", "confidence": 0.85, "source": "line 12"},
    "ticket_price": {"value": "$50", "confidence": 0.80, "source": "line 13"},
    "website": {"value": "https://event.com", "confidence": 0.95, "source": "line 14"},
    "registration_link": {"value": "https://event.com/register", "confidence": 0.90, "source": "line 15"}
  },
  "extra": [
    {"key": "dress_code", "value": "Business casual", "confidence": 0.70, "source": "line 16"},
    {"key": "parking_info", "value": "Free parking", "confidence": 0.65, "source": "line 17"}
  ]
}

**IMPORTANT RULES:**
1. Use timezone: %s for date/time interpretation
2. Only include fields that are actually present (use null for missing fields or omit them)
3. Confidence: 0.0-1.0 based on text clarity and certainty
4. Source: reference to where the information was found (e.g., "line 1", "top banner", "bottom left")
5. Core fields belong in "fields" object: %s
6. Any additional non-core information goes in "extra" array with key-value pairs
7. Return ONLY valid JSON - no markdown code blocks, no explanations, no additional text
8. Use ISO 8601 format for dates (YYYY-MM-DD) when possible
9. Use 24-hour format for times (HH:MM or HH:MM-HH:MM) when possible
%s
Remember: Return ONLY the JSON object, nothing else.`

// BuildPrompt renders the extraction prompt. content is appended after the
// rules; it is empty for image requests.
func BuildPrompt(content, timezone string) string {
	if timezone == "" {
		timezone = "UTC"
	}
	if content != "" {
		content = "\n" + content + "\n"
	}
	return fmt.Sprintf(extractionPrompt, timezone, strings.Join(models.CoreFields, ", "), content)
}

// textContent formats recognized text, plus the block layout when available,
// as prompt content.
func textContent(text string, blocks []models.LayoutBlock) string {
	var sb strings.Builder
	sb.WriteString("OCR Text:\n")
	sb.WriteString(text)
	if len(blocks) > 0 {
		sb.WriteString("\n\nLayout (line: region, confidence):\n")
		for i, b := range blocks {
			fmt.Fprintf(&sb, "line %d: %s, %.2f: %s\n", i+1, b.Position, b.Conf, b.Text)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
