package complexity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventposter/pkg/models"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		score models.ComplexityScore
		want  models.Route
	}{
		{
			name:  "blurry always goes to vision",
			score: models.ComplexityScore{IsBlurry: true, TextDensity: 0.9, OverallComplexity: 0.2},
			want:  models.RouteVision,
		},
		{
			name:  "complex goes to vision",
			score: models.ComplexityScore{TextDensity: 0.9, OverallComplexity: 0.71},
			want:  models.RouteVision,
		},
		{
			name:  "complexity at threshold is not complex",
			score: models.ComplexityScore{TextDensity: 0.9, OverallComplexity: 0.7},
			want:  models.RouteOCRFirst,
		},
		{
			name:  "text heavy and sharp goes to ocr_first",
			score: models.ComplexityScore{TextDensity: 0.6, OverallComplexity: 0.5},
			want:  models.RouteOCRFirst,
		},
		{
			name:  "text density at threshold goes to vision",
			score: models.ComplexityScore{TextDensity: 0.5, OverallComplexity: 0.3},
			want:  models.RouteVision,
		},
		{
			name:  "low signal goes to vision",
			score: models.ComplexityScore{},
			want:  models.RouteVision,
		},
	}

	d := NewRouteDecider(DefaultRouteOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Decide(tt.score))
		})
	}
}

func TestParseOverride(t *testing.T) {
	d := NewRouteDecider(RouteOptions{})

	r, err := d.ParseOverride("")
	require.NoError(t, err)
	assert.Equal(t, models.Route(""), r)

	r, err = d.ParseOverride("vision")
	require.NoError(t, err)
	assert.Equal(t, models.RouteVision, r)

	r, err = d.ParseOverride(" ocr_first ")
	require.NoError(t, err)
	assert.Equal(t, models.RouteOCRFirst, r)

	for _, bad := range []string{"ocr_fallback_vision", "VISION", "magic"} {
		_, err = d.ParseOverride(bad)
		assert.ErrorIs(t, err, ErrInvalidRoute, bad)
	}
}

func TestParseOverride_RestrictedSet(t *testing.T) {
	d := NewRouteDecider(RouteOptions{AllowedOverrides: []models.Route{models.RouteVision}})

	_, err := d.ParseOverride("ocr_first")
	require.ErrorIs(t, err, ErrInvalidRoute)
	assert.Contains(t, err.Error(), "must be one of: vision")
}
