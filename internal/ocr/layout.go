package ocr

import (
	"sort"
	"strings"

	"eventposter/pkg/models"
)

// arrangeBlocks sorts blocks into reading order, assigns each its vertical
// region and joins the texts. Blocks with empty text are dropped.
func arrangeBlocks(blocks []models.LayoutBlock, height int) TextResult {
	out := make([]models.LayoutBlock, 0, len(blocks))
	for _, b := range blocks {
		b.Text = strings.TrimSpace(b.Text)
		if b.Text == "" {
			continue
		}
		b.Position = regionOf(b.BBox, height)
		out = append(out, b)
	}

	// Top-left corner: y first, then x.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].BBox[0], out[j].BBox[0]
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[0] < b[0]
	})

	texts := make([]string, len(out))
	for i, b := range out {
		texts[i] = b.Text
	}
	return TextResult{
		Text:   strings.Join(texts, "\n"),
		Blocks: out,
	}
}

// regionOf places a box in the top, middle or bottom third by its mean y.
func regionOf(box [4]models.Point, height int) models.Position {
	var sum float64
	for _, p := range box {
		sum += float64(p[1])
	}
	center := sum / 4
	h := float64(height)

	switch {
	case center < h/3:
		return models.PositionTop
	case center < 2*h/3:
		return models.PositionMiddle
	default:
		return models.PositionBottom
	}
}

// boxFromPoints builds a four-corner box, padding or truncating as needed.
func boxFromPoints(pts []models.Point) [4]models.Point {
	var box [4]models.Point
	for i := 0; i < len(box) && i < len(pts); i++ {
		box[i] = pts[i]
	}
	for i := len(pts); i > 0 && i < len(box); i++ {
		box[i] = pts[len(pts)-1]
	}
	return box
}

func clampConfidence(c float32) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return float64(c)
	}
}
