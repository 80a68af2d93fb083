// Package sharpness implements scalar focus metrics over grayscale images.
// All metrics are pure functions of their input; higher values mean more
// high-frequency structure, i.e. sharper focus.
package sharpness

import (
	"fmt"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/siemens"
)

// Metric maps an image to a scalar sharpness value.  Implementations must
// be stateless and safe to share between scans.
type Metric interface {
	Evaluate(g floatimg.Gray) (float64, error)
}

// ShapeMismatchError indicates a mask whose dimensions do not match the
// image it is applied to.
type ShapeMismatchError struct {
	ImgW, ImgH   int
	MaskW, MaskH int
}

func (e ShapeMismatchError) Error() string {
	return fmt.Sprintf("mask shape %dx%d does not match image shape %dx%d",
		e.MaskW, e.MaskH, e.ImgW, e.ImgH)
}

// gradientSq computes the per-pixel squared gradient magnitude gx^2+gy^2.
// Differences follow the numerical-gradient convention: central differences
// in the interior, one-sided at the edges.  Dimensions of length 1
// contribute zero gradient.
func gradientSq(g floatimg.Gray) floatimg.Gray {
	w, h := g.Dims()
	out := floatimg.NewGray(w, h)
	for y := 0; y < h; y++ {
		row := g[y]
		orow := out[y]
		if w > 1 {
			d := row[1] - row[0]
			orow[0] += d * d
			d = row[w-1] - row[w-2]
			orow[w-1] += d * d
			for x := 1; x < w-1; x++ {
				d = (row[x+1] - row[x-1]) / 2
				orow[x] += d * d
			}
		}
	}
	if h > 1 {
		for x := 0; x < w; x++ {
			d := g[1][x] - g[0][x]
			out[0][x] += d * d
			d = g[h-1][x] - g[h-2][x]
			out[h-1][x] += d * d
		}
		for y := 1; y < h-1; y++ {
			top, bot := g[y-1], g[y+1]
			orow := out[y]
			for x := 0; x < w; x++ {
				d := (bot[x] - top[x]) / 2
				orow[x] += d * d
			}
		}
	}
	return out
}

// GradientEnergy is the Tenengrad metric: the mean squared gradient
// magnitude over the whole frame.
type GradientEnergy struct{}

// Evaluate implements Metric.
func (GradientEnergy) Evaluate(g floatimg.Gray) (float64, error) {
	w, h := g.Dims()
	if w <= 0 || h <= 0 {
		return 0, siemens.InvalidShapeError{W: w, H: h}
	}
	g2 := gradientSq(g)
	var sum float64
	for _, row := range g2 {
		for _, v := range row {
			sum += v
		}
	}
	return sum / float64(w*h), nil
}

// MaskedGradientEnergy is GradientEnergy aggregated only over the pixels
// selected by mask.  An empty selection returns 0.0; this is an expected
// boundary case in parameter sweeps, not a fault.
func MaskedGradientEnergy(g floatimg.Gray, mask siemens.Mask) (float64, error) {
	w, h := g.Dims()
	if w <= 0 || h <= 0 {
		return 0, siemens.InvalidShapeError{W: w, H: h}
	}
	mw, mh := mask.Dims()
	if mw != w || mh != h {
		return 0, ShapeMismatchError{ImgW: w, ImgH: h, MaskW: mw, MaskH: mh}
	}
	g2 := gradientSq(g)
	var sum float64
	var n int
	for y, row := range g2 {
		mrow := mask[y]
		for x, v := range row {
			if mrow[x] {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}
