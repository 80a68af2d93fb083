// Package siemens contains the geometry and radial sampling primitives for
// Siemens star targets: center/radius estimation from image shape, circular
// nearest-neighbor profiles, annulus masks, and a synthetic star renderer.
//
// The estimator is deliberately shape-only.  It assumes the star is roughly
// centered in the frame, which holds for synthetic data and most lab
// captures; content-based center refinement can replace it later without
// touching the callers.
package siemens

import (
	"fmt"
	"math"

	"github.com/opticslab/starbench/floatimg"
)

// DefaultRadiusFrac is the fraction of min(height, width) used as the
// estimated target radius when the caller does not supply one.
const DefaultRadiusFrac = 0.45

// Point is a pixel-space coordinate pair, x along columns, y along rows.
type Point struct {
	X float64
	Y float64
}

// Geometry describes where the star sits in the frame.  Radius is the
// approximate usable outer radius in pixels and is always positive.
type Geometry struct {
	Cx     float64
	Cy     float64
	Radius float64
}

// InvalidShapeError indicates degenerate image dimensions.
type InvalidShapeError struct {
	W int
	H int
}

func (e InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid image shape %dx%d, width and height must be positive", e.W, e.H)
}

// Estimate computes the target geometry for a w x h image with the default
// center and radius fraction.  Estimate never inspects pixel values.
func Estimate(w, h int) (Geometry, error) {
	return EstimateHint(w, h, nil, DefaultRadiusFrac)
}

// EstimateHint is Estimate with an optional center override and an explicit
// radius fraction.  radiusFrac <= 0 selects DefaultRadiusFrac.  With a nil
// hint the center is the geometric center of the pixel grid,
// ((w-1)/2, (h-1)/2).
func EstimateHint(w, h int, hint *Point, radiusFrac float64) (Geometry, error) {
	if w <= 0 || h <= 0 {
		return Geometry{}, InvalidShapeError{W: w, H: h}
	}
	if radiusFrac <= 0 {
		radiusFrac = DefaultRadiusFrac
	}
	var cx, cy float64
	if hint == nil {
		cx = float64(w-1) / 2
		cy = float64(h-1) / 2
	} else {
		cx = hint.X
		cy = hint.Y
	}
	m := h
	if w < m {
		m = w
	}
	return Geometry{Cx: cx, Cy: cy, Radius: radiusFrac * float64(m)}, nil
}

// SampleRing reads a circular intensity profile of exactly n samples from g.
// Sample k lies at angle 2*pi*k/n (the interval is half-open, the seam is
// never read twice), at the pixel nearest to (cx + r cos, cy + r sin).
// Rounding is half-to-even and the rounded coordinates are clamped into the
// image extent, so a circle that leaves the frame degrades to re-reading
// edge pixels rather than failing.  Nearest-neighbor is a deliberate
// trade-off of subpixel accuracy for speed and determinism.
func SampleRing(g floatimg.Gray, cx, cy, r float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	w, h := g.Dims()
	profile := make([]float64, n)
	dtheta := 2 * math.Pi / float64(n)
	for k := 0; k < n; k++ {
		theta := dtheta * float64(k)
		x := int(math.RoundToEven(cx + r*math.Cos(theta)))
		y := int(math.RoundToEven(cy + r*math.Sin(theta)))
		if x < 0 {
			x = 0
		} else if x > w-1 {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y > h-1 {
			y = h - 1
		}
		profile[k] = g[y][x]
	}
	return profile
}

// Mask is a row-major boolean pixel selection with the same layout as
// floatimg.Gray.
type Mask [][]bool

// Dims returns the width and height of the mask.
func (m Mask) Dims() (w, h int) {
	h = len(m)
	if h == 0 {
		return 0, 0
	}
	return len(m[0]), h
}

// AnnulusMask selects the pixels whose distance from (cx, cy) lies in
// [rInner, rOuter], inclusive at both edges.  Distances are compared on
// squared radii; no square roots are taken.
func AnnulusMask(w, h int, cx, cy, rInner, rOuter float64) Mask {
	m := make(Mask, h)
	r2in := rInner * rInner
	r2out := rOuter * rOuter
	for y := 0; y < h; y++ {
		row := make([]bool, w)
		dy := float64(y) - cy
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			d2 := dx*dx + dy*dy
			row[x] = d2 >= r2in && d2 <= r2out
		}
		m[y] = row
	}
	return m
}

// Count returns the number of selected pixels.
func (m Mask) Count() int {
	n := 0
	for _, row := range m {
		for _, b := range row {
			if b {
				n++
			}
		}
	}
	return n
}
