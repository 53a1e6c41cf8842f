package cmd

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventposter/internal/complexity"
	"eventposter/internal/imaging"
	"eventposter/pkg/models"
)

func TestRouterScoresUniformImageAsBlurry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.png")
	img := image.NewGray(image.Rect(0, 0, 80, 60))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r := router{
		loader:    imageLoader{allowed: allowedTypes},
		processor: imaging.NewProcessor(imaging.DefaultOptions()),
		scorer:    complexity.NewScorer(complexity.DefaultOptions()),
		decider:   complexity.NewRouteDecider(complexity.DefaultRouteOptions()),
	}

	out := r.score(path)
	require.Empty(t, out.Error)
	require.NotNil(t, out.Score)
	assert.True(t, out.Score.IsBlurry)
	assert.Equal(t, models.RouteVision, out.Route)
	assert.Equal(t, 80, out.Width)
	assert.Equal(t, 60, out.Height)
	assert.Contains(t, formatScore(out), "flat.png: route=vision 80x60")
	assert.Contains(t, formatScore(out), "(blurry)")

	bad := r.score(filepath.Join(dir, "missing.png"))
	assert.NotEmpty(t, bad.Error)
	assert.Contains(t, formatScore(bad), "error:")
}
