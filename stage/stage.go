// Package stage defines the motion interface the bench drivers implement
// and the adapter that binds one controller axis to the autofocus
// scanner.
package stage

import (
	"time"

	"github.com/opticslab/starbench/autofocus"
)

// Controller is an axis-addressed motion controller.  Axis names are
// driver specific: letters for GCS controllers, slave IDs for RTU buses,
// anything for the simulator.
type Controller interface {
	// GetPos returns the axis position in controller units.
	GetPos(axis string) (float64, error)

	// MoveAbs commands an absolute move.
	MoveAbs(axis string, pos float64) error

	// MoveRel commands a relative move.
	MoveRel(axis string, delta float64) error

	// Home references the axis.
	Home(axis string) error

	// Enable energizes the axis servo.
	Enable(axis string) error

	// Disable de-energizes the axis servo.
	Disable(axis string) error

	// GetEnabled returns whether the servo is energized.
	GetEnabled(axis string) (bool, error)

	// GetVelocity returns the axis velocity setpoint.
	GetVelocity(axis string) (float64, error)

	// SetVelocity changes the axis velocity setpoint.
	SetVelocity(axis string, v float64) error
}

// Axis binds one named axis of a controller to the single-axis interface
// the autofocus scanner consumes.
type Axis struct {
	Controller
	Name string
}

// MoveTo commands an absolute move on the bound axis.
func (a Axis) MoveTo(pos float64) error {
	return a.MoveAbs(a.Name, pos)
}

// Position returns the bound axis position.
func (a Axis) Position() (float64, error) {
	return a.GetPos(a.Name)
}

// Settle returns a scan hook that sleeps for d after each move, long
// enough for vibration to damp out on the bench.
func Settle(d time.Duration) func(autofocus.Positioner) error {
	return func(autofocus.Positioner) error {
		time.Sleep(d)
		return nil
	}
}

// Limiter is a travel limit for one axis.  The zero value passes
// everything: unlimited axes need no configuration.
type Limiter struct {
	// Min is the lower bound.  Only enforced if either bound is nonzero.
	Min float64 `json:"min" yaml:"min"`

	// Max is the upper bound.
	Max float64 `json:"max" yaml:"max"`
}

// Check returns true if pos is within the limits.
func (l Limiter) Check(pos float64) bool {
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	return pos >= l.Min && pos <= l.Max
}
