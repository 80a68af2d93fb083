// Package mtf estimates a modulation-transfer-function-like curve from a
// single image of a Siemens star.
//
// The star has a fixed number of cycles per revolution, so a circular
// profile at radius r sees a linear spatial frequency proportional to
// 1/r: sweeping the sampling radius from the outside of the star inward
// walks the frequency axis from low to high.  At each radius the
// modulation is read from one FFT bin, the fundamental harmonic located
// at a reference radius.  The result is an uncalibrated relative
// modulation proxy, good for best-focus selection and lens comparisons,
// not a standards-traceable MTF measurement.
package mtf

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/mathx"
	"github.com/opticslab/starbench/siemens"
)

// Defaults for Params.  The radius fractions bracket the well-resolved
// part of the star; 2048 angles comfortably oversamples typical spoke
// counts.
const (
	DefaultRMinFrac  = 0.2
	DefaultRMaxFrac  = 0.9
	DefaultNumRadii  = 20
	DefaultNumAngles = 2048
)

// ErrNoValidRadii is returned when every radius in a sweep had to be
// skipped because the harmonic bin was out of range of its spectrum.
var ErrNoValidRadii = errors.New("mtf: no radius in the sweep produced a usable harmonic sample")

// DegenerateSpectrumError indicates a one-sided spectrum too small to
// locate a fundamental harmonic in.
type DegenerateSpectrumError struct {
	Bins int
}

func (e DegenerateSpectrumError) Error() string {
	return fmt.Sprintf("mtf: spectrum of %d bins is too small to locate a harmonic", e.Bins)
}

// Curve is a frequency response estimate.  Freq and Mod have equal
// length, Freq is sorted non-decreasing, and both axes are normalized so
// their maximum is 1 (unless the raw values were all zero, in which case
// they are left untouched).
type Curve struct {
	Freq []float64 `json:"freq"`
	Mod  []float64 `json:"mod"`
}

// Params configures Estimate.  The zero value selects all defaults.
type Params struct {
	// Center overrides the estimated target center when non-nil.  The
	// radius is still derived from the image shape.
	Center *siemens.Point

	// RMinFrac and RMaxFrac bound the radius sweep as fractions of the
	// estimated target radius.  The sweep runs outer to inner.
	RMinFrac float64
	RMaxFrac float64

	// NumRadii is the number of radii in the sweep.
	NumRadii int

	// NumAngles is the number of circular samples per radius.
	NumAngles int
}

func (p Params) withDefaults() Params {
	if p.RMinFrac == 0 {
		p.RMinFrac = DefaultRMinFrac
	}
	if p.RMaxFrac == 0 {
		p.RMaxFrac = DefaultRMaxFrac
	}
	if p.NumRadii == 0 {
		p.NumRadii = DefaultNumRadii
	}
	if p.NumAngles == 0 {
		p.NumAngles = DefaultNumAngles
	}
	return p
}

// Estimate computes the multi-radius MTF proxy for g.  The algorithm is
// deterministic: the same image and parameters produce a bit-identical
// curve.
//
// The fundamental harmonic bin is located once, at the outer reference
// radius, and reused at every radius in the sweep.  That holds as long as
// NumAngles is fixed across the sweep and the target's spoke count does
// not change, which is the case here by construction.
func Estimate(g floatimg.Gray, p Params) (Curve, error) {
	p = p.withDefaults()
	w, h := g.Dims()
	geom, err := siemens.Estimate(w, h)
	if err != nil {
		return Curve{}, err
	}
	cx, cy := geom.Cx, geom.Cy
	if p.Center != nil {
		cx, cy = p.Center.X, p.Center.Y
	}

	bins := p.NumAngles/2 + 1
	if p.NumAngles < 2 || bins < 2 {
		return Curve{}, DegenerateSpectrumError{Bins: bins}
	}

	rOuter := p.RMaxFrac * geom.Radius
	rInner := p.RMinFrac * geom.Radius
	radii := mathx.Linspace(rOuter, rInner, p.NumRadii)

	fft := fourier.NewFFT(p.NumAngles)
	coeffs := make([]complex128, bins)
	mag := make([]float64, bins)
	magnitudeAt := func(r float64) []float64 {
		prof := siemens.SampleRing(g, cx, cy, r, p.NumAngles)
		removeDC(prof)
		fft.Coefficients(coeffs, prof)
		for i, c := range coeffs {
			mag[i] = cmplx.Abs(c)
		}
		return mag
	}

	// the harmonic search always excludes the DC bin
	ref := magnitudeAt(rOuter)
	k0 := floats.MaxIdx(ref[1:]) + 1

	freqs := make([]float64, 0, len(radii))
	mods := make([]float64, 0, len(radii))
	for _, r := range radii {
		m := magnitudeAt(r)
		if k0 >= len(m) {
			// undersampled at this radius; skip rather than abort
			continue
		}
		freqs = append(freqs, float64(k0)/(2*math.Pi*r))
		mods = append(mods, m[k0])
	}
	if len(freqs) == 0 {
		return Curve{}, ErrNoValidRadii
	}

	// outer-to-inner sweep order does not guarantee a monotonic
	// frequency axis; sort explicitly
	inds := make([]int, len(freqs))
	floats.Argsort(freqs, inds)
	sorted := make([]float64, len(mods))
	for i, idx := range inds {
		sorted[i] = mods[idx]
	}
	mods = sorted

	normalize(freqs)
	normalize(mods)
	return Curve{Freq: freqs, Mod: mods}, nil
}

// removeDC subtracts the mean in place.
func removeDC(xs []float64) {
	if len(xs) == 0 {
		return
	}
	mean := floats.Sum(xs) / float64(len(xs))
	for i := range xs {
		xs[i] -= mean
	}
}

// normalize divides xs by its maximum in place.  A non-positive maximum
// leaves xs unchanged; zero data stays zero rather than faulting.  True
// division, not multiplication by the reciprocal, so the maximum itself
// lands exactly on 1.0.
func normalize(xs []float64) {
	if len(xs) == 0 {
		return
	}
	max := floats.Max(xs)
	if max <= 0 {
		return
	}
	for i := range xs {
		xs[i] /= max
	}
}
