package autofocus

import (
	"fmt"
	"image"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/mathx"
	"github.com/opticslab/starbench/sharpness"
)

// FrameStack is an ordered, indexable focus sweep.  Frame(i) must return
// the same image for the same i across repeated access; the scanner
// visits every index exactly once, in increasing order.
type FrameStack interface {
	Len() int
	Frame(i int) (image.Image, error)
}

// MemStack is an in-memory FrameStack, used by tests and synthetic
// sweeps.
type MemStack []image.Image

// Len implements FrameStack.
func (m MemStack) Len() int { return len(m) }

// Frame implements FrameStack.
func (m MemStack) Frame(i int) (image.Image, error) {
	if i < 0 || i >= len(m) {
		return nil, fmt.Errorf("frame index %d out of range [0, %d)", i, len(m))
	}
	return m[i], nil
}

// ScanStack runs an autofocus sweep over a pre-captured stack.  Frame i of
// n maps to a position linearly interpolated from zStart to zEnd,
// inclusive at both ends.  The metric is the target-aware annulus metric;
// it is evaluated at every frame with no early termination, since the full
// trace is part of the contract.  Fewer than 2 frames is rejected with
// InsufficientFramesError.
func ScanStack(stack FrameStack, zStart, zEnd float64) (Result, error) {
	n := stack.Len()
	if n < 2 {
		return Result{}, InsufficientFramesError{N: n}
	}
	positions := mathx.Linspace(zStart, zEnd, n)
	metrics := make([]float64, n)
	metric := sharpness.TargetMetric{}
	for i := 0; i < n; i++ {
		img, err := stack.Frame(i)
		if err != nil {
			return Result{}, fmt.Errorf("autofocus: frame %d: %w", i, err)
		}
		v, err := metric.Evaluate(floatimg.FromImage(img))
		if err != nil {
			return Result{}, fmt.Errorf("autofocus: metric at frame %d: %w", i, err)
		}
		metrics[i] = v
	}
	return finish(positions, metrics), nil
}
