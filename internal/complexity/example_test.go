package complexity_test

import (
	"fmt"

	"eventposter/internal/complexity"
	"eventposter/pkg/models"
)

// ExampleRouteDecider_Decide shows how scores map to routes.
func ExampleRouteDecider_Decide() {
	decider := complexity.NewRouteDecider(complexity.DefaultRouteOptions())

	scores := []models.ComplexityScore{
		{BlurVariance: 40, IsBlurry: true, TextDensity: 0.8},
		{BlurVariance: 900, TextDensity: 0.8, OverallComplexity: 0.55},
		{BlurVariance: 900, TextDensity: 1.0, EdgeDensity: 0.9, OverallComplexity: 0.96},
	}
	for _, s := range scores {
		fmt.Println(decider.Decide(s))
	}
	// Output:
	// vision
	// ocr_first
	// vision
}
