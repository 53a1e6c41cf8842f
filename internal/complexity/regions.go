package complexity

import (
	"errors"
	"math"
)

var errDegenerateImage = errors.New("image too small for region detection")

// mserParams mirror the common MSER defaults.
type mserParams struct {
	delta        int
	minArea      int
	maxArea      int
	maxVariation float64
	minDiversity float64
}

var defaultMSER = mserParams{
	delta:        5,
	minArea:      60,
	maxArea:      14400,
	maxVariation: 0.25,
	minDiversity: 0.2,
}

// countMSER counts maximally stable extremal regions, both dark-on-light and
// light-on-dark.
func countMSER(g grayPlane, p mserParams) (int, error) {
	if g.w < 3 || g.h < 3 {
		return 0, errDegenerateImage
	}
	inverted := make([]uint8, len(g.pix))
	for i, v := range g.pix {
		inverted[i] = 255 - v
	}
	dark := newMSERDetector(g.w, g.h, p).run(g.pix)
	light := newMSERDetector(g.w, g.h, p).run(inverted)
	return dark + light, nil
}

type areaSnapshot struct {
	level uint8
	area  int32
}

// mserDetector grows components by flooding pixels in increasing intensity
// order with union-find. A component is identified by its root pixel; when two
// components meet, the larger one keeps growing and the smaller one's history
// is evaluated for stable levels.
type mserDetector struct {
	w, h    int
	p       mserParams
	parent  []int32
	area    []int32
	history map[int32][]areaSnapshot
	// recordMin is the smallest area that can take part in a stable region:
	// a region of minArea with variation <= maxVariation had at least
	// minArea*(1-maxVariation) pixels delta levels earlier.
	recordMin int32
	total     float64
	found     int
}

func newMSERDetector(w, h int, p mserParams) *mserDetector {
	n := w * h
	parent := make([]int32, n)
	for i := range parent {
		parent[i] = -1
	}
	recordMin := int32(math.Floor(float64(p.minArea) * (1 - p.maxVariation)))
	if recordMin < 1 {
		recordMin = 1
	}
	return &mserDetector{
		w:         w,
		h:         h,
		p:         p,
		parent:    parent,
		area:      make([]int32, n),
		history:   make(map[int32][]areaSnapshot),
		recordMin: recordMin,
		total:     float64(n),
	}
}

func (d *mserDetector) find(i int32) int32 {
	root := i
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[i] != root {
		next := d.parent[i]
		d.parent[i] = root
		i = next
	}
	return root
}

func (d *mserDetector) run(pix []uint8) int {
	var buckets [256][]int32
	for i, v := range pix {
		buckets[v] = append(buckets[v], int32(i))
	}

	var touched []int32
	for level := 0; level < 256; level++ {
		touched = touched[:0]
		for _, i := range buckets[level] {
			d.parent[i] = i
			d.area[i] = 1
			root := i
			x, y := int(i)%d.w, int(i)/d.w
			for _, nb := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				nx, ny := x+nb[0], y+nb[1]
				if nx < 0 || ny < 0 || nx >= d.w || ny >= d.h {
					continue
				}
				j := int32(ny*d.w + nx)
				if d.parent[j] < 0 {
					continue
				}
				root = d.union(root, d.find(j), uint8(level))
			}
			touched = append(touched, root)
		}
		for _, r := range touched {
			if d.parent[r] != r || d.area[r] < d.recordMin {
				continue
			}
			d.snapshot(r, uint8(level))
		}
	}

	for r, h := range d.history {
		if d.parent[r] == r {
			d.found += d.evaluate(h, 255)
		}
	}
	return d.found
}

// union merges the components rooted at a and b and returns the surviving root.
func (d *mserDetector) union(a, b int32, level uint8) int32 {
	if a == b {
		return a
	}
	if d.area[a] < d.area[b] {
		a, b = b, a
	}
	d.parent[b] = a
	d.area[a] += d.area[b]
	if h, ok := d.history[b]; ok {
		if level > 0 {
			d.found += d.evaluate(h, level-1)
		}
		delete(d.history, b)
	}
	return a
}

func (d *mserDetector) snapshot(root int32, level uint8) {
	h := d.history[root]
	if n := len(h); n > 0 && h[n-1].level == level {
		h[n-1].area = d.area[root]
		return
	}
	d.history[root] = append(h, areaSnapshot{level: level, area: d.area[root]})
}

// evaluate counts stable levels in a component history that ended at level end.
func (d *mserDetector) evaluate(h []areaSnapshot, end uint8) int {
	if len(h) == 0 || h[0].level > end {
		return 0
	}
	start := int(h[0].level)
	last := int(end)
	areas := make([]float64, last-start+1)
	k := 0
	for l := start; l <= last; l++ {
		for k+1 < len(h) && int(h[k+1].level) <= l {
			k++
		}
		areas[l-start] = float64(h[k].area)
	}
	at := func(l int) float64 { return areas[l-start] }

	delta := d.p.delta
	variation := func(l int) float64 {
		if l-delta < start || l+delta > last {
			return math.Inf(1)
		}
		return (at(l+delta) - at(l-delta)) / at(l)
	}

	count := 0
	var kept float64
	for l := start; l <= last; l++ {
		a := at(l)
		if a < float64(d.p.minArea) || a > float64(d.p.maxArea) || a >= d.total {
			continue
		}
		v := variation(l)
		if v > d.p.maxVariation {
			continue
		}
		if l > start && variation(l-1) < v {
			continue
		}
		if l < last && variation(l+1) < v {
			continue
		}
		if kept > 0 && a <= kept*(1+d.p.minDiversity) {
			continue
		}
		kept = a
		count++
	}
	return count
}

// countThresholdComponents binarizes with a Gaussian adaptive threshold
// (block 11, C=2, inverted) and returns the number of 8-connected labels,
// background included.
func countThresholdComponents(g grayPlane) int {
	if g.empty() {
		return 0
	}
	const (
		block = 11
		c     = 2.0
	)
	mean := gaussianBlur(g, block, 0.3*((block-1)*0.5-1)+0.8)

	fg := make([]bool, len(g.pix))
	for i, v := range g.pix {
		fg[i] = float64(v) <= math.Round(mean[i])-c
	}

	labels := 1
	seen := make([]bool, len(fg))
	var stack []int
	for i := range fg {
		if !fg[i] || seen[i] {
			continue
		}
		labels++
		seen[i] = true
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%g.w, p/g.w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= g.w || ny >= g.h {
						continue
					}
					j := ny*g.w + nx
					if fg[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
	}
	return labels
}

// gaussianBlur applies a separable Gaussian with replicated borders.
func gaussianBlur(g grayPlane, size int, sigma float64) []float64 {
	r := size / 2
	kernel := make([]float64, size)
	var sum float64
	for i := range kernel {
		d := float64(i - r)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float64, g.w*g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			var acc float64
			for k := -r; k <= r; k++ {
				acc += kernel[k+r] * g.replicate(x+k, y)
			}
			tmp[y*g.w+x] = acc
		}
	}
	out := make([]float64, g.w*g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			var acc float64
			for k := -r; k <= r; k++ {
				acc += kernel[k+r] * tmp[clampInt(y+k, 0, g.h-1)*g.w+x]
			}
			out[y*g.w+x] = acc
		}
	}
	return out
}
