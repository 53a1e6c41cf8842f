// Package postprocess normalizes and validates extracted event fields.
//
// Both stages take the envelope by value and return an updated copy. Neither
// fails: values that cannot be normalized are left as they are, and quality
// problems become warnings on the envelope.
package postprocess

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	dps "github.com/markusmobius/go-dateparser"
	"github.com/rs/zerolog"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

var (
	dateFields = []string{models.FieldDate, models.FieldStartDate, models.FieldEndDate}
	timeFields = []string{models.FieldTime, models.FieldStartTime, models.FieldEndTime}
	urlFields  = []string{models.FieldWebsite, models.FieldRegistrationLink}
)

var (
	timeRangeSep  = regexp.MustCompile(`(?i)\s*-\s*|\s+to\s+`)
	clockPattern  = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*([ap]m)?`)
	hourPattern   = regexp.MustCompile(`(?i)(\d{1,2})\s*([ap]m)`)
	nonDigit      = regexp.MustCompile(`\D`)
	weekdayPrefix = regexp.MustCompile(`(?i)^(mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?,?\s+`)
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
)

// yearlessLayouts are month/day forms without a year.
var yearlessLayouts = []string{
	"January 2",
	"Jan 2",
	"Jan. 2",
	"2 January",
	"2 Jan",
	"01/02",
	"1/2",
}

// Normalizer rewrites field values into canonical formats.
type Normalizer struct {
	now func() time.Time
	log zerolog.Logger
}

// NewNormalizer creates a Normalizer that resolves year-less dates against
// the current time.
func NewNormalizer() *Normalizer {
	return NewNormalizerWithClock(time.Now)
}

// NewNormalizerWithClock creates a Normalizer with an injectable clock.
func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{
		now: now,
		log: logger.WithComponent("normalizer"),
	}
}

// Normalize returns a copy of result with date, time, phone, email and URL
// fields in canonical form. Fields whose value changes are marked Normalized.
// Applying Normalize twice gives the same result as applying it once.
func (n *Normalizer) Normalize(result models.ExtractionResult) models.ExtractionResult {
	fields := result.CloneFields()
	changed := 0

	apply := func(names []string, fn func(string) string) {
		for _, name := range names {
			entry, ok := fields[name]
			if !ok {
				continue
			}
			value, ok := entry.Value.(string)
			if !ok || value == "" {
				continue
			}
			if out := fn(value); out != value {
				entry.Value = out
				entry.Normalized = true
				fields[name] = entry
				changed++
			}
		}
	}

	apply(dateFields, n.normalizeDate)
	apply(timeFields, normalizeTime)
	apply([]string{models.FieldContactPhone}, normalizePhone)
	apply([]string{models.FieldContactEmail}, normalizeEmail)
	apply(urlFields, normalizeURL)

	n.log.Debug().
		Int("fields", len(fields)).
		Int("normalized", changed).
		Msg("Fields normalized")

	result.Fields = fields
	return result
}

// normalizeDate converts a date in any recognizable format to YYYY-MM-DD.
// Dates without a year and relative phrases resolve to their next occurrence
// on or after today.
func (n *Normalizer) normalizeDate(value string) string {
	now := n.now()
	cleaned := cleanDate(value)

	if t, ok := parseYearless(cleaned, now); ok {
		return t.Format("2006-01-02")
	}
	if t, ok := parseNatural(cleaned, now); ok {
		return t.Format("2006-01-02")
	}
	if t, ok := parseAny(cleaned, now.Location()); ok {
		return t.Format("2006-01-02")
	}
	return value
}

func cleanDate(s string) string {
	s = strings.TrimSpace(s)
	s = weekdayPrefix.ReplaceAllString(s, "")
	return ordinalSuffix.ReplaceAllString(s, "$1")
}

func parseYearless(s string, now time.Time) (time.Time, bool) {
	for _, layout := range yearlessLayouts {
		t, err := time.ParseInLocation(layout, s, now.Location())
		if err != nil {
			continue
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		candidate := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
		if candidate.Before(today) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate, true
	}
	return time.Time{}, false
}

// parseNatural handles relative and weekday phrases ("tomorrow", "Friday",
// "in 3 days") and resolves ambiguous dates to the nearest future occurrence.
func parseNatural(s string, now time.Time) (t time.Time, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	cfg := &dps.Configuration{
		CurrentTime:         now,
		DefaultTimezone:     now.Location(),
		PreferredDateSource: dps.Future,
	}
	parsed, err := dps.Parse(cfg, s)
	if err != nil || parsed.Time.IsZero() || parsed.Time.Year() < 1900 {
		return time.Time{}, false
	}
	return parsed.Time.In(now.Location()), true
}

// parseAny wraps dateparse, which panics on a few malformed inputs.
func parseAny(s string, loc *time.Location) (t time.Time, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	parsed, err := dateparse.ParseIn(s, loc)
	if err != nil || parsed.Year() < 1900 {
		return time.Time{}, false
	}
	return parsed, true
}

// normalizeTime converts a time or time range to 24-hour HH:MM form.
// A range is kept only when both ends parse on their own, so "7-9pm"
// collapses to the single time "21:00".
func normalizeTime(value string) string {
	lower := strings.ToLower(value)
	if strings.Contains(value, "-") || strings.Contains(lower, "to") {
		parts := timeRangeSep.Split(value, -1)
		if len(parts) == 2 {
			start, okStart := to24h(strings.TrimSpace(parts[0]))
			end, okEnd := to24h(strings.TrimSpace(parts[1]))
			if okStart && okEnd {
				return start + "-" + end
			}
		}
	}
	if out, ok := to24h(value); ok {
		return out
	}
	return value
}

func to24h(s string) (string, bool) {
	if m := clockPattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:%s", applyMeridiem(hour, m[3]), m[2]), true
	}
	if m := hourPattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:00", applyMeridiem(hour, m[2])), true
	}
	return "", false
}

func applyMeridiem(hour int, meridiem string) int {
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			return hour + 12
		}
	case "am":
		if hour == 12 {
			return 0
		}
	}
	return hour
}

// normalizePhone formats 10 and 11 digit North American numbers.
func normalizePhone(value string) string {
	digits := nonDigit.ReplaceAllString(value, "")
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
	default:
		return value
	}
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// normalizeURL adds an https scheme to bare domains. Best effort only.
func normalizeURL(value string) string {
	u := strings.TrimSpace(value)
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if strings.Contains(u, ".") || strings.HasPrefix(u, "www.") {
		return "https://" + u
	}
	return u
}
