// Package mathx provides the small numeric helpers shared by the sweep
// code: inclusive linear spacing and argmax with a first-wins tie rule.
// Both wrap gonum with the degenerate inputs gonum panics on handled.
package mathx

import "gonum.org/v1/gonum/floats"

// Linspace returns n values evenly spaced from start to stop, inclusive of
// both endpoints.  n == 1 yields just start; n <= 0 yields nil.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, stop)
}

// ArgMax returns the index of the largest value in xs, the first such
// index when several entries share the maximum.  It returns -1 for an
// empty slice.
func ArgMax(xs []float64) int {
	if len(xs) == 0 {
		return -1
	}
	return floats.MaxIdx(xs)
}
