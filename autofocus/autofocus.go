// Package autofocus drives a bounded 1-D focus search and reports the
// position of maximum sharpness together with the full metric trace.
//
// Two modes share one result contract: a live sweep over a positioner and
// an image source, and a sweep over a pre-captured focus stack mapped to
// positions by linear interpolation.  Callers cannot tell from a Result
// which mode produced it.
package autofocus

import (
	"errors"
	"fmt"
	"image"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/mathx"
	"github.com/opticslab/starbench/sharpness"
)

// overtravelTol absorbs floating point drift when deciding whether the
// scan has passed its stop position.
const overtravelTol = 1e-9

// ErrEmptyScan is returned when a live scan collected zero samples.
var ErrEmptyScan = errors.New("autofocus: scan collected zero samples, check scan parameters")

// InvalidScanRangeError indicates a ScanSpec whose step is zero or points
// away from the stop position.
type InvalidScanRangeError struct {
	Spec ScanSpec
}

func (e InvalidScanRangeError) Error() string {
	return fmt.Sprintf("autofocus: scan from %v to %v with step %v never terminates",
		e.Spec.Start, e.Spec.Stop, e.Spec.Step)
}

// InsufficientFramesError indicates a focus stack with too few frames to
// interpolate positions over.
type InsufficientFramesError struct {
	N int
}

func (e InsufficientFramesError) Error() string {
	return fmt.Sprintf("autofocus: focus stack has %d frames, need at least 2", e.N)
}

// Positioner is the 1-D motion capability the live scan drives.  Positions
// are opaque scalars in whatever unit the caller uses consistently; no
// conversion happens here.
type Positioner interface {
	// MoveTo commands an absolute move and blocks until it completes.
	MoveTo(pos float64) error

	// Position reports the current position.
	Position() (float64, error)
}

// ImageSource is the capture capability.  Grab blocks until a frame is
// available; the scan never retries or times out a grab.
type ImageSource interface {
	Grab() (image.Image, error)
}

// ScanSpec is a bounded, directional sweep: from Start toward Stop in
// increments of Step.
type ScanSpec struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
}

// Validate rejects a zero step and a step pointing away from Stop.  A
// degenerate spec with Start == Stop is valid and yields a single sample.
func (s ScanSpec) Validate() error {
	if s.Step == 0 || (s.Stop-s.Start)*s.Step < 0 {
		return InvalidScanRangeError{Spec: s}
	}
	return nil
}

// Result is the outcome of a scan.  Positions and Metrics always have
// equal length of at least 1; BestPos and BestMetric are the entry at the
// argmax of Metrics, first index winning ties.
type Result struct {
	BestPos    float64   `json:"best_pos"`
	BestMetric float64   `json:"best_metric"`
	Positions  []float64 `json:"positions"`
	Metrics    []float64 `json:"metrics"`
}

func finish(positions, metrics []float64) Result {
	best := mathx.ArgMax(metrics)
	return Result{
		BestPos:    positions[best],
		BestMetric: metrics[best],
		Positions:  positions,
		Metrics:    metrics,
	}
}

// Positions returns the commanded sample positions of a sweep without
// touching hardware: Start, advancing by Step, until Stop has been
// passed in the direction of travel.  A live scan over an exact
// positioner visits these same values.
func Positions(spec ScanSpec) ([]float64, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out []float64
	z := spec.Start
	for {
		if spec.Step > 0 && z > spec.Stop+overtravelTol {
			break
		}
		if spec.Step < 0 && z < spec.Stop-overtravelTol {
			break
		}
		out = append(out, z)
		z += spec.Step
	}
	return out, nil
}

// Scan runs a live sweep: move to Start, then at each position settle (if
// a hook is given), grab a frame, evaluate the metric, and advance by
// Step until the position has passed Stop in the direction of travel.
// The positioner is queried once for its actual position after the
// initial move; subsequent positions accumulate the commanded step.
//
// Scan is synchronous and single-threaded; it mutates nothing but its own
// trace and the positioner it was handed.
func Scan(p Positioner, src ImageSource, m sharpness.Metric, spec ScanSpec, settle func(Positioner) error) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	if err := p.MoveTo(spec.Start); err != nil {
		return Result{}, fmt.Errorf("autofocus: moving to scan start %v: %w", spec.Start, err)
	}
	z, err := p.Position()
	if err != nil {
		return Result{}, fmt.Errorf("autofocus: reading start position: %w", err)
	}

	var positions, metrics []float64
	for {
		if spec.Step > 0 && z > spec.Stop+overtravelTol {
			break
		}
		if spec.Step < 0 && z < spec.Stop-overtravelTol {
			break
		}
		if settle != nil {
			if err := settle(p); err != nil {
				return Result{}, fmt.Errorf("autofocus: settle at %v: %w", z, err)
			}
		}
		img, err := src.Grab()
		if err != nil {
			return Result{}, fmt.Errorf("autofocus: grab at %v: %w", z, err)
		}
		v, err := m.Evaluate(floatimg.FromImage(img))
		if err != nil {
			return Result{}, fmt.Errorf("autofocus: metric at %v: %w", z, err)
		}
		positions = append(positions, z)
		metrics = append(metrics, v)

		z += spec.Step
		if err := p.MoveTo(z); err != nil {
			return Result{}, fmt.Errorf("autofocus: moving to %v: %w", z, err)
		}
	}
	if len(metrics) == 0 {
		return Result{}, ErrEmptyScan
	}
	return finish(positions, metrics), nil
}
