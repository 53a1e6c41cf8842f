package imaging

import (
	"image"
	"math"
)

// CLAHE applies contrast limited adaptive histogram equalization.
//
// The image is split into tiles×tiles regions; each region gets a clipped,
// equalized lookup table and every pixel is mapped through a bilinear blend
// of the four nearest tile tables.
func CLAHE(src *image.Gray, clipLimit float64, tiles int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	if tiles < 1 {
		tiles = 1
	}
	tilesX, tilesY := tiles, tiles
	if tilesX > w {
		tilesX = w
	}
	if tilesY > h {
		tilesY = h
	}
	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY
	// Rounding the tile size up can leave trailing tiles with no pixels.
	tilesX = (w + tileW - 1) / tileW
	tilesY = (h + tileH - 1) / tileH

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := minInt(x0+tileW, w), minInt(y0+tileH, h)
			luts[ty*tilesX+tx] = tileLUT(src, x0, y0, x1, y1, clipLimit)
		}
	}

	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty1 := int(math.Floor(fy))
		ya := fy - float64(ty1)
		ty2 := ty1 + 1
		ty1 = clampInt(ty1, 0, tilesY-1)
		ty2 = clampInt(ty2, 0, tilesY-1)

		srcRow := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx1 := int(math.Floor(fx))
			xa := fx - float64(tx1)
			tx2 := tx1 + 1
			tx1 = clampInt(tx1, 0, tilesX-1)
			tx2 = clampInt(tx2, 0, tilesX-1)

			v := srcRow[x+b.Min.X-src.Rect.Min.X]
			top := float64(luts[ty1*tilesX+tx1][v])*(1-xa) + float64(luts[ty1*tilesX+tx2][v])*xa
			bot := float64(luts[ty2*tilesX+tx1][v])*(1-xa) + float64(luts[ty2*tilesX+tx2][v])*xa
			dstRow[x] = clampUint8(top*(1-ya) + bot*ya)
		}
	}
	return dst
}

func tileLUT(src *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	b := src.Bounds()
	for y := y0; y < y1; y++ {
		row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride:]
		for x := x0; x < x1; x++ {
			hist[row[x+b.Min.X-src.Rect.Min.X]]++
		}
	}

	area := (x1 - x0) * (y1 - y0)
	var lut [256]uint8
	if area == 0 {
		return lut
	}

	if clipLimit > 0 {
		limit := int(clipLimit * float64(area) / 256)
		if limit < 1 {
			limit = 1
		}
		excess := 0
		for i := range hist {
			if hist[i] > limit {
				excess += hist[i] - limit
				hist[i] = limit
			}
		}
		batch := excess / 256
		residual := excess - batch*256
		for i := range hist {
			hist[i] += batch
		}
		if residual > 0 {
			step := 256 / residual
			if step < 1 {
				step = 1
			}
			for i := 0; i < 256 && residual > 0; i += step {
				hist[i]++
				residual--
			}
		}
	}

	scale := 255.0 / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = clampUint8(float64(sum) * scale)
	}
	return lut
}

// Bilateral smooths noise while preserving edges. diameter is the
// neighbourhood size; sigmaColor and sigmaSpace control the intensity and
// distance falloff of the weights.
func Bilateral(src *image.Gray, diameter int, sigmaColor, sigmaSpace float64) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	radius := diameter / 2
	if radius < 1 {
		radius = 1
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	var taps []tap
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r := math.Sqrt(float64(dx*dx + dy*dy))
			if r > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(r * r * spaceCoeff)})
		}
	}

	var colorW [256]float64
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	for i := range colorW {
		colorW[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	at := func(x, y int) int {
		x = reflect101(x, w)
		y = reflect101(y, h)
		return int(src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+x+b.Min.X-src.Rect.Min.X])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := at(x, y)
			var sum, norm float64
			for _, t := range taps {
				v := at(x+t.dx, y+t.dy)
				d := v - center
				if d < 0 {
					d = -d
				}
				wt := t.w * colorW[d]
				sum += wt * float64(v)
				norm += wt
			}
			dst.Pix[y*dst.Stride+x] = clampUint8(sum / norm)
		}
	}
	return dst
}

// reflect101 mirrors out-of-range coordinates without repeating the edge
// pixel: -1 -> 1, n -> n-2.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
