package siemens

import (
	"math"

	"github.com/opticslab/starbench/floatimg"
)

// Render draws a synthetic Siemens star: cycles alternating light/dark
// sectors around the circumference, white outside the star radius.  The
// star radius is 0.48*size so the pattern clears the frame edge.  Pixel
// values are 0 or 255.  Used by the simulated camera, the stack generator,
// and tests; a printed chart photographed on the bench looks the same to
// the estimator.
func Render(size, cycles int) floatimg.Gray {
	g := floatimg.NewGray(size, size)
	c := float64(size-1) / 2
	r := 0.48 * float64(size)
	r2 := r * r
	for y := 0; y < size; y++ {
		dy := float64(y) - c
		row := g[y]
		for x := 0; x < size; x++ {
			dx := float64(x) - c
			if dx*dx+dy*dy > r2 {
				row[x] = 255
				continue
			}
			theta := math.Atan2(dy, dx)
			if math.Cos(float64(cycles)*theta) >= 0 {
				row[x] = 255
			}
		}
	}
	return g
}
