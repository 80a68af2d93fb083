package sharpness

import (
	"gonum.org/v1/gonum/stat"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/siemens"
)

// LaplacianVariance is the variance-of-Laplacian metric: a 4-neighbor
// discrete Laplacian with reflect-101 borders, followed by the population
// variance of the response.
type LaplacianVariance struct{}

// reflect101 mirrors an out-of-range index without repeating the edge
// sample, e.g. -1 -> 1 and size -> size-2.
func reflect101(idx, size int) int {
	if size == 1 {
		return 0
	}
	for idx < 0 || idx >= size {
		if idx < 0 {
			idx = -idx
		} else {
			idx = 2*size - 2 - idx
		}
	}
	return idx
}

// Evaluate implements Metric.
func (LaplacianVariance) Evaluate(g floatimg.Gray) (float64, error) {
	w, h := g.Dims()
	if w <= 0 || h <= 0 {
		return 0, siemens.InvalidShapeError{W: w, H: h}
	}
	lap := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		up := g[reflect101(y-1, h)]
		dn := g[reflect101(y+1, h)]
		row := g[y]
		for x := 0; x < w; x++ {
			l := row[reflect101(x-1, w)]
			r := row[reflect101(x+1, w)]
			lap = append(lap, l+r+up[x]+dn[x]-4*row[x])
		}
	}
	return stat.PopVariance(lap, nil), nil
}
