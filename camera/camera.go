// Package camera defines the interfaces the bench cameras implement.
// Camera has the same shape as the image source consumed by the
// autofocus scanner, so any camera plugs straight into a scan.
package camera

import (
	"image"
	"time"
)

// Camera produces frames.
type Camera interface {
	// Grab captures and returns one frame.
	Grab() (image.Image, error)
}

// ExposureManipulator is the optional exposure time capability.
type ExposureManipulator interface {
	// GetExposureTime returns the exposure time.
	GetExposureTime() (time.Duration, error)

	// SetExposureTime changes the exposure time.
	SetExposureTime(time.Duration) error
}
