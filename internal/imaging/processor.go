// Package imaging prepares uploaded poster photographs for extraction.
//
// A Processor decodes the raw bytes (JPEG, PNG or WebP), bounds the longer
// side to a maximum dimension and produces two variants:
//   - an enhanced grayscale image (CLAHE followed by bilateral smoothing) used
//     for complexity scoring and text recognition
//   - the resized, unenhanced color image, kept for inspection; the vision
//     route sends the original upload bytes instead
//
// All operations are pure; a Processor holds only read-only options and is
// safe for concurrent use.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"eventposter/internal/logger"
)

const (
	// DefaultMaxDimension bounds the longer side of the processed image.
	DefaultMaxDimension = 2000

	// DefaultClaheClipLimit is the contrast limit used by CLAHE.
	DefaultClaheClipLimit = 2.0

	// DefaultClaheTileSize is the number of CLAHE tiles per axis.
	DefaultClaheTileSize = 8

	bilateralDiameter   = 9
	bilateralSigmaColor = 75.0
	bilateralSigmaSpace = 75.0
)

// Options configures image normalization.
type Options struct {
	MaxDimension   int     // longer side limit in pixels
	ClaheClipLimit float64 // contrast enhancement strength
	ClaheTileSize  int     // tiles per axis
}

// DefaultOptions returns the standard normalization settings.
func DefaultOptions() Options {
	return Options{
		MaxDimension:   DefaultMaxDimension,
		ClaheClipLimit: DefaultClaheClipLimit,
		ClaheTileSize:  DefaultClaheTileSize,
	}
}

// Processed holds both variants of a normalized image.
type Processed struct {
	// Gray is the enhanced grayscale variant used for scoring and OCR.
	Gray *image.Gray

	// Color is the resized, unenhanced original. The pipeline does not read
	// it; callers use it to report or inspect the bounded image.
	Color image.Image

	// Format is the decoder name reported by image.Decode (jpeg, png, webp).
	Format string

	// Resized is true when the image was scaled down.
	Resized bool
}

// Processor decodes and normalizes poster images.
type Processor struct {
	opts Options
	log  zerolog.Logger
}

// NewProcessor creates a Processor, replacing non-positive options with defaults.
func NewProcessor(opts Options) *Processor {
	d := DefaultOptions()
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = d.MaxDimension
	}
	if opts.ClaheClipLimit <= 0 {
		opts.ClaheClipLimit = d.ClaheClipLimit
	}
	if opts.ClaheTileSize <= 0 {
		opts.ClaheTileSize = d.ClaheTileSize
	}
	return &Processor{
		opts: opts,
		log:  logger.WithComponent("imaging"),
	}
}

// Process decodes raw bytes and returns the enhanced grayscale and color variants.
// It fails with a *DecodeError when the bytes are not a supported raster image.
func (p *Processor) Process(raw []byte) (Processed, error) {
	const op = "Process"

	if len(raw) == 0 {
		return Processed{}, newDecodeError(op, ErrEmptyImage, "no image data")
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Processed{}, newDecodeError(op, err, fmt.Sprintf("%d bytes", len(raw)))
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Processed{}, newDecodeError(op, ErrEmptyImage, format)
	}

	colorImg, resized := Resize(img, p.opts.MaxDimension)
	gray := ToGray(colorImg)
	enhanced := CLAHE(gray, p.opts.ClaheClipLimit, p.opts.ClaheTileSize)
	enhanced = Bilateral(enhanced, bilateralDiameter, bilateralSigmaColor, bilateralSigmaSpace)

	p.log.Debug().
		Str("format", format).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Int("out_width", enhanced.Bounds().Dx()).
		Int("out_height", enhanced.Bounds().Dy()).
		Bool("resized", resized).
		Msg("Image normalized")

	return Processed{
		Gray:    enhanced,
		Color:   colorImg,
		Format:  format,
		Resized: resized,
	}, nil
}

// areaKernel is a box filter; draw.Kernel widens its support by the scale
// factor when shrinking, which averages every source pixel under a target pixel.
var areaKernel = &draw.Kernel{
	Support: 0.5,
	At:      func(float64) float64 { return 1 },
}

// Resize scales img so that its longer side is at most maxDim, preserving the
// aspect ratio. Images already within bounds are returned unchanged.
func Resize(img image.Image, maxDim int) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if maxDim <= 0 || longer <= maxDim {
		return img, false
	}

	scale := float64(maxDim) / float64(longer)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	areaKernel.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, true
}

// ToGray converts any image to an 8-bit grayscale image anchored at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
