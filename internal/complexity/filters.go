package complexity

import (
	"image"
	"math"
)

// grayPlane is a dense copy of an 8-bit grayscale image anchored at (0, 0).
type grayPlane struct {
	w, h int
	pix  []uint8
}

func newGrayPlane(img *image.Gray) grayPlane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		off := (y+b.Min.Y-img.Rect.Min.Y)*img.Stride + b.Min.X - img.Rect.Min.X
		copy(pix[y*w:(y+1)*w], img.Pix[off:off+w])
	}
	return grayPlane{w: w, h: h, pix: pix}
}

func (g grayPlane) empty() bool { return g.w == 0 || g.h == 0 }

// reflect returns the pixel at (x, y) with reflect-101 borders.
func (g grayPlane) reflect(x, y int) float64 {
	return float64(g.pix[reflect101(y, g.h)*g.w+reflect101(x, g.w)])
}

// replicate returns the pixel at (x, y) with the edge pixel repeated outside.
func (g grayPlane) replicate(x, y int) float64 {
	return float64(g.pix[clampInt(y, 0, g.h-1)*g.w+clampInt(x, 0, g.w-1)])
}

// laplacianVariance returns the variance of the 4-neighbour Laplacian.
func laplacianVariance(g grayPlane) float64 {
	if g.empty() {
		return 0
	}
	var sum, sumSq float64
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			v := g.reflect(x-1, y) + g.reflect(x+1, y) + g.reflect(x, y-1) + g.reflect(x, y+1) - 4*g.reflect(x, y)
			sum += v
			sumSq += v * v
		}
	}
	n := float64(g.w * g.h)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

var tan22 = math.Tan(math.Pi / 8)
var tan67 = math.Tan(3 * math.Pi / 8)

// cannyEdges runs the Canny detector and returns an edge mask (true = edge).
// Gradients use the 3x3 Sobel operator with L1 magnitude; weak edges survive
// hysteresis only when 8-connected to a strong edge.
func cannyEdges(g grayPlane, low, high float64) []bool {
	n := g.w * g.h
	mag := make([]float64, n)
	gx := make([]float64, n)
	gy := make([]float64, n)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			dx := (g.replicate(x+1, y-1) + 2*g.replicate(x+1, y) + g.replicate(x+1, y+1)) -
				(g.replicate(x-1, y-1) + 2*g.replicate(x-1, y) + g.replicate(x-1, y+1))
			dy := (g.replicate(x-1, y+1) + 2*g.replicate(x, y+1) + g.replicate(x+1, y+1)) -
				(g.replicate(x-1, y-1) + 2*g.replicate(x, y-1) + g.replicate(x+1, y-1))
			i := y*g.w + x
			gx[i], gy[i] = dx, dy
			mag[i] = math.Abs(dx) + math.Abs(dy)
		}
	}

	magAt := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= g.w || y >= g.h {
			return 0
		}
		return mag[y*g.w+x]
	}

	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, n)
	var stack []int
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			i := y*g.w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gx[i]), math.Abs(gy[i])
			var isMax bool
			switch {
			case ay < ax*tan22:
				isMax = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ay > ax*tan67:
				isMax = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				s := 1
				if (gx[i] < 0) != (gy[i] < 0) {
					s = -1
				}
				isMax = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
			}
			if !isMax {
				continue
			}
			if m > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%g.w, i/g.w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= g.w || ny >= g.h {
					continue
				}
				j := ny*g.w + nx
				if state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}

	edges := make([]bool, n)
	for i, s := range state {
		edges[i] = s == strong
	}
	return edges
}

// edgeDensity returns the fraction of Canny edge pixels.
func edgeDensity(g grayPlane, low, high float64) float64 {
	if g.empty() {
		return 0
	}
	count := 0
	for _, e := range cannyEdges(g, low, high) {
		if e {
			count++
		}
	}
	return float64(count) / float64(g.w*g.h)
}

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

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
