/*Package sim provides an in-memory motion controller with ideal
kinematics.  Moves land exactly on the commanded position, so scans run
against the simulator produce bit-reproducible traces.  Readback noise
and travel time are opt in.

The zero value is usable; axes spring into existence enabled, unhomed,
at position zero with a velocity of 1.
*/
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Controller simulates an axis-addressed motion controller.
type Controller struct {
	sync.Mutex
	pos     map[string]float64
	vel     map[string]float64
	enabled map[string]bool
	homed   map[string]bool
	rng     *rand.Rand

	// Noise is the half-width of uniform readback noise added by
	// GetPos.  Zero reads back exact positions.
	Noise float64

	// Travel makes moves block for distance over velocity, as a real
	// stage would.
	Travel bool
}

// NewController returns a simulated controller with no axes yet.
func NewController() *Controller {
	return &Controller{}
}

// ensure lazily initializes storage and the axis.  Callers hold the
// lock.
func (c *Controller) ensure(axis string) {
	if c.pos == nil {
		c.pos = make(map[string]float64)
		c.vel = make(map[string]float64)
		c.enabled = make(map[string]bool)
		c.homed = make(map[string]bool)
		c.rng = rand.New(rand.NewSource(1))
	}
	if _, ok := c.vel[axis]; !ok {
		c.vel[axis] = 1
		c.enabled[axis] = true
	}
}

// GetPos returns the axis position, with readback noise if configured.
func (c *Controller) GetPos(axis string) (float64, error) {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	p := c.pos[axis]
	if c.Noise > 0 {
		p += (c.rng.Float64()*2 - 1) * c.Noise
	}
	return p, nil
}

// MoveAbs moves the axis to pos.
func (c *Controller) MoveAbs(axis string, pos float64) error {
	c.Lock()
	c.ensure(axis)
	dist := math.Abs(pos - c.pos[axis])
	c.pos[axis] = pos
	v := c.vel[axis]
	travel := c.Travel
	c.Unlock()
	if travel && v > 0 {
		time.Sleep(time.Duration(dist / v * float64(time.Second)))
	}
	return nil
}

// MoveRel moves the axis by delta.
func (c *Controller) MoveRel(axis string, delta float64) error {
	c.Lock()
	target := c.pos[axis] + delta
	c.Unlock()
	return c.MoveAbs(axis, target)
}

// Home references the axis to zero.
func (c *Controller) Home(axis string) error {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	c.pos[axis] = 0
	c.homed[axis] = true
	return nil
}

// Homed returns whether the axis has been referenced.
func (c *Controller) Homed(axis string) (bool, error) {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	return c.homed[axis], nil
}

// Enable energizes the axis.
func (c *Controller) Enable(axis string) error {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	c.enabled[axis] = true
	return nil
}

// Disable de-energizes the axis.
func (c *Controller) Disable(axis string) error {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	c.enabled[axis] = false
	return nil
}

// GetEnabled returns whether the axis is energized.
func (c *Controller) GetEnabled(axis string) (bool, error) {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	return c.enabled[axis], nil
}

// GetVelocity returns the axis velocity setpoint.
func (c *Controller) GetVelocity(axis string) (float64, error) {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	return c.vel[axis], nil
}

// SetVelocity changes the axis velocity setpoint.
func (c *Controller) SetVelocity(axis string, v float64) error {
	c.Lock()
	defer c.Unlock()
	c.ensure(axis)
	c.vel[axis] = v
	return nil
}
