// Package motion provides an HTTP interface to motion controllers.
//
// Controllers implement any subset of the small interfaces here; the
// wrapper probes for each one at construction and only binds routes for
// the capabilities the concrete type actually has.
package motion

import (
	"github.com/opticslab/starbench/generichttp"
)

// Controller is the minimum interface for the HTTP wrapper; anything
// beyond Mover is probed and bound only if present
type Controller interface {
	// Mover - all Controllers must be Movers
	Mover
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	w := HTTPMotionController{Controller: c}
	rt := generichttp.RouteTable{}
	// the interface{}(c).(foo), ok syntax tests if c implements foo
	HTTPMove(c, rt)
	if enabler, ok := interface{}(c).(Enabler); ok {
		HTTPEnable(enabler, rt)
	}
	if speeder, ok := interface{}(c).(Speeder); ok {
		HTTPSpeed(speeder, rt)
	}
	if inpos, ok := interface{}(c).(InPositionQueryer); ok {
		HTTPInPosition(inpos, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}
