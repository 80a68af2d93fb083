package mtf

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/siemens"
)

// DefaultSpectrumRadiusFrac positions the single diagnostic ring well
// inside the star to avoid clipping.
const DefaultSpectrumRadiusFrac = 0.7

// SpectrumParams configures Spectrum.  The zero value selects all
// defaults.
type SpectrumParams struct {
	// Center overrides the estimated target center when non-nil.
	Center *siemens.Point

	// Radius is the absolute sampling radius in pixels.  Zero selects
	// DefaultSpectrumRadiusFrac times the estimated target radius.
	Radius float64

	// NumAngles is the number of circular samples.
	NumAngles int
}

// Spectrum returns the full one-sided FFT magnitude of a single circular
// profile together with its normalized frequency axis.  It is a
// diagnostic for inspecting the harmonic structure of a target (spoke
// count, contamination), not a sharpness curve; no harmonic extraction
// or radius sweep is performed.
func Spectrum(g floatimg.Gray, p SpectrumParams) (freq, mag []float64, err error) {
	if p.NumAngles <= 0 {
		p.NumAngles = DefaultNumAngles
	}
	w, h := g.Dims()
	geom, err := siemens.Estimate(w, h)
	if err != nil {
		return nil, nil, err
	}
	cx, cy := geom.Cx, geom.Cy
	if p.Center != nil {
		cx, cy = p.Center.X, p.Center.Y
	}
	r := p.Radius
	if r == 0 {
		r = DefaultSpectrumRadiusFrac * geom.Radius
	}

	prof := siemens.SampleRing(g, cx, cy, r, p.NumAngles)
	removeDC(prof)

	fft := fourier.NewFFT(p.NumAngles)
	coeffs := fft.Coefficients(nil, prof)
	mag = make([]float64, len(coeffs))
	freq = make([]float64, len(coeffs))
	for i, c := range coeffs {
		mag[i] = cmplx.Abs(c)
		freq[i] = fft.Freq(i)
	}
	normalize(freq)
	normalize(mag)
	return freq, mag, nil
}
