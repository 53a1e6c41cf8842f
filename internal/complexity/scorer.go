// Package complexity scores how hard a poster image is to read and decides
// which extraction route to take for it.
//
// The Scorer measures three signals on the enhanced grayscale image:
//   - sharpness as the variance of the Laplacian
//   - edge density as the share of Canny edge pixels
//   - text density as the number of stable text-like regions per 10,000 pixels
//
// The RouteDecider turns a score into a route. Both are deterministic and hold
// no mutable state.
package complexity

import (
	"image"

	"github.com/rs/zerolog"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

const (
	// DefaultBlurThreshold is the Laplacian variance below which an image is blurry.
	DefaultBlurThreshold = 100.0

	// DefaultEdgeWeight is the weight of edge density in the overall score.
	DefaultEdgeWeight = 0.4

	// DefaultTextWeight is the weight of text density in the overall score.
	DefaultTextWeight = 0.6

	cannyLow  = 50.0
	cannyHigh = 150.0

	// textDensityArea is the pixel area one text region is normalized against.
	textDensityArea = 10000.0
)

// Options configures the Scorer.
type Options struct {
	BlurThreshold float64
	EdgeWeight    float64
	TextWeight    float64
}

// DefaultOptions returns the standard scoring weights.
func DefaultOptions() Options {
	return Options{
		BlurThreshold: DefaultBlurThreshold,
		EdgeWeight:    DefaultEdgeWeight,
		TextWeight:    DefaultTextWeight,
	}
}

// Scorer computes ComplexityScore values.
type Scorer struct {
	opts Options
	log  zerolog.Logger
}

// NewScorer creates a Scorer. A zero Options value selects the defaults.
func NewScorer(opts Options) *Scorer {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	return &Scorer{
		opts: opts,
		log:  logger.WithComponent("complexity"),
	}
}

// Calculate scores a grayscale image. It never fails; an empty image scores zero
// everywhere and counts as blurry.
func (s *Scorer) Calculate(gray *image.Gray) models.ComplexityScore {
	g := newGrayPlane(gray)

	blur := laplacianVariance(g)
	edges := clamp01(edgeDensity(g, cannyLow, cannyHigh))
	text := s.textDensity(g)

	score := models.ComplexityScore{
		BlurVariance:      blur,
		EdgeDensity:       edges,
		TextDensity:       text,
		OverallComplexity: clamp01(edges*s.opts.EdgeWeight + text*s.opts.TextWeight),
		IsBlurry:          blur < s.opts.BlurThreshold,
	}

	s.log.Debug().
		Float64("blur_variance", score.BlurVariance).
		Float64("edge_density", score.EdgeDensity).
		Float64("text_density", score.TextDensity).
		Float64("overall", score.OverallComplexity).
		Bool("blurry", score.IsBlurry).
		Msg("Complexity calculated")

	return score
}

func (s *Scorer) textDensity(g grayPlane) float64 {
	if g.empty() {
		return 0
	}
	norm := float64(g.w*g.h) / textDensityArea

	regions, err := countMSER(g, defaultMSER)
	if err != nil {
		s.log.Debug().Err(err).Msg("Region detection failed, using threshold components")
		regions = countThresholdComponents(g)
	}
	return clamp01(float64(regions) / norm)
}
