package complexity

import (
	"errors"
	"fmt"
	"strings"

	"eventposter/pkg/models"
)

// ErrInvalidRoute is returned for a route override outside the allowed set.
var ErrInvalidRoute = errors.New("invalid route override")

const (
	// DefaultComplexityThreshold is the overall complexity above which vision is used.
	DefaultComplexityThreshold = 0.7

	// DefaultTextDensityThreshold is the text density above which ocr_first is used.
	DefaultTextDensityThreshold = 0.5
)

// DefaultAllowedRoutes are the routes a caller may force.
var DefaultAllowedRoutes = []models.Route{models.RouteOCRFirst, models.RouteVision}

// RouteOptions configures the RouteDecider.
type RouteOptions struct {
	ComplexityThreshold  float64
	TextDensityThreshold float64
	AllowedOverrides     []models.Route
}

// DefaultRouteOptions returns the standard routing thresholds.
func DefaultRouteOptions() RouteOptions {
	return RouteOptions{
		ComplexityThreshold:  DefaultComplexityThreshold,
		TextDensityThreshold: DefaultTextDensityThreshold,
		AllowedOverrides:     DefaultAllowedRoutes,
	}
}

// RouteDecider maps complexity scores to extraction routes.
type RouteDecider struct {
	opts RouteOptions
}

// NewRouteDecider creates a RouteDecider; unset thresholds fall back to defaults.
func NewRouteDecider(opts RouteOptions) *RouteDecider {
	d := DefaultRouteOptions()
	if opts.ComplexityThreshold <= 0 {
		opts.ComplexityThreshold = d.ComplexityThreshold
	}
	if opts.TextDensityThreshold <= 0 {
		opts.TextDensityThreshold = d.TextDensityThreshold
	}
	if len(opts.AllowedOverrides) == 0 {
		opts.AllowedOverrides = d.AllowedOverrides
	}
	return &RouteDecider{opts: opts}
}

// Decide picks a route for the score. Rules apply in order: blurry images and
// overly complex images go to vision, text-heavy sharp images go to ocr_first,
// anything else goes to vision.
func (d *RouteDecider) Decide(score models.ComplexityScore) models.Route {
	switch {
	case score.IsBlurry:
		return models.RouteVision
	case score.OverallComplexity > d.opts.ComplexityThreshold:
		return models.RouteVision
	case score.TextDensity > d.opts.TextDensityThreshold:
		return models.RouteOCRFirst
	default:
		return models.RouteVision
	}
}

// ParseOverride validates a caller-supplied route. An empty string means no
// override and returns "", nil.
func (d *RouteDecider) ParseOverride(s string) (models.Route, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	for _, r := range d.opts.AllowedOverrides {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w %q: must be one of: %s", ErrInvalidRoute, s, d.AllowedList())
}

// AllowedList returns the allowed overrides as a comma separated list.
func (d *RouteDecider) AllowedList() string {
	names := make([]string, len(d.opts.AllowedOverrides))
	for i, r := range d.opts.AllowedOverrides {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
