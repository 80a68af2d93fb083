/*Package sim provides a synthetic camera imaging a Siemens star through
a defocusable system.  Frame sharpness depends on where the bound focus
axis sits: Gaussian blur grows linearly with distance from best focus,
so scans over the simulator have a well defined peak to find.
*/
package sim

import (
	"image"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/disintegration/imaging"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/siemens"
)

const (
	// DefaultSize is the rendered frame side length in pixels.
	DefaultSize = 256

	// DefaultCycles is the number of spoke pairs on the rendered star.
	DefaultCycles = 32

	// DefaultSigmaPerUnit converts axis distance from best focus to
	// blur sigma in pixels.
	DefaultSigmaPerUnit = 2.0
)

// Camera renders the star as seen from the current focus position.
type Camera struct {
	mu       sync.Mutex
	star     floatimg.Gray
	exposure time.Duration
	rng      *rand.Rand

	// Pos reports the focus axis position.  nil parks the camera at
	// best focus.
	Pos func() (float64, error)

	// BestFocus is the axis position of sharpest focus.
	BestFocus float64

	// SigmaPerUnit scales distance from best focus to blur sigma.
	SigmaPerUnit float64

	// Noise is the standard deviation of additive pixel noise on the
	// 0-255 scale.  Zero disables it.
	Noise float64
}

// New returns a camera rendering a size x size star with the given
// number of spoke pairs.  Nonpositive arguments take the defaults.
func New(size, cycles int, pos func() (float64, error)) *Camera {
	if size <= 0 {
		size = DefaultSize
	}
	if cycles <= 0 {
		cycles = DefaultCycles
	}
	return &Camera{
		star:         siemens.Render(size, cycles),
		Pos:          pos,
		SigmaPerUnit: DefaultSigmaPerUnit,
		exposure:     10 * time.Millisecond,
		rng:          rand.New(rand.NewSource(1)),
	}
}

// Grab captures one frame at the current defocus.
func (c *Camera) Grab() (image.Image, error) {
	z := c.BestFocus
	if c.Pos != nil {
		var err error
		z, err = c.Pos()
		if err != nil {
			return nil, err
		}
	}
	sigma := math.Abs(z-c.BestFocus) * c.SigmaPerUnit
	var frame image.Image = c.star
	if sigma > 0 {
		frame = imaging.Blur(c.star, sigma)
	}
	if c.Noise > 0 {
		frame = c.addNoise(frame)
	}
	return frame, nil
}

func (c *Camera) addNoise(img image.Image) image.Image {
	g := floatimg.FromImage(img)
	c.mu.Lock()
	defer c.mu.Unlock()
	for y := range g {
		for x := range g[y] {
			g[y][x] += c.rng.NormFloat64() * c.Noise
		}
	}
	return g
}

// GetExposureTime returns the stored exposure time.  The synthetic
// frames do not depend on it; it exists so the exposure routes have
// something to act on.
func (c *Camera) GetExposureTime() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure, nil
}

// SetExposureTime stores the exposure time.
func (c *Camera) SetExposureTime(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposure = d
	return nil
}

// CollectHeaderMetadata describes the render state for FITS headers.
func (c *Camera) CollectHeaderMetadata() []fitsio.Card {
	z := c.BestFocus
	if c.Pos != nil {
		if zz, err := c.Pos(); err == nil {
			z = zz
		}
	}
	c.mu.Lock()
	texp := c.exposure
	c.mu.Unlock()
	return []fitsio.Card{
		{Name: "CAMERA", Value: "sim"},
		{Name: "EXPTIME", Value: texp.Seconds(), Comment: "exposure time, seconds"},
		{Name: "SIGMA", Value: math.Abs(z-c.BestFocus) * c.SigmaPerUnit, Comment: "blur sigma, pixels"},
	}
}
