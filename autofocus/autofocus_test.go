package autofocus

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/siemens"
)

// simAxis is an exact, instantly settling positioner.
type simAxis struct {
	pos   float64
	moves int
}

func (s *simAxis) MoveTo(p float64) error {
	s.pos = p
	s.moves++
	return nil
}

func (s *simAxis) Position() (float64, error) { return s.pos, nil }

// lyingAxis accepts moves but reports a position far past any stop.
type lyingAxis struct{ simAxis }

func (l *lyingAxis) Position() (float64, error) { return 1e6, nil }

// peakSource emits a 1x1 frame whose brightness peaks at position 200.
type peakSource struct{ axis *simAxis }

func (p peakSource) Grab() (image.Image, error) {
	im := image.NewGray(image.Rect(0, 0, 1, 1))
	im.Pix[0] = uint8(255 - math.Abs(p.axis.pos-200)/2)
	return im, nil
}

// pixelValue scores a frame by its top-left pixel.
type pixelValue struct{}

func (pixelValue) Evaluate(g floatimg.Gray) (float64, error) { return g[0][0], nil }

func TestScanFindsPeak(t *testing.T) {
	axis := &simAxis{}
	res, err := Scan(axis, peakSource{axis}, pixelValue{}, ScanSpec{Start: 0, Stop: 400, Step: 50}, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(res.Positions) != 9 || len(res.Metrics) != 9 {
		t.Fatalf("expected 9 samples, got %d positions and %d metrics", len(res.Positions), len(res.Metrics))
	}
	if res.BestPos != 200 {
		t.Errorf("expected best position 200, got %v", res.BestPos)
	}
	for i, want := range []float64{0, 50, 100, 150, 200, 250, 300, 350, 400} {
		if res.Positions[i] != want {
			t.Errorf("position %d: expected %v, got %v", i, want, res.Positions[i])
		}
	}
	if res.BestMetric != res.Metrics[4] {
		t.Errorf("best metric %v does not match trace entry %v", res.BestMetric, res.Metrics[4])
	}
}

func TestScanNegativeDirection(t *testing.T) {
	axis := &simAxis{}
	res, err := Scan(axis, peakSource{axis}, pixelValue{}, ScanSpec{Start: 400, Stop: 0, Step: -50}, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(res.Positions) != 9 {
		t.Errorf("expected 9 samples, got %d", len(res.Positions))
	}
	if res.BestPos != 200 {
		t.Errorf("expected best position 200, got %v", res.BestPos)
	}
}

func TestScanSinglePoint(t *testing.T) {
	for _, step := range []float64{1, -3} {
		axis := &simAxis{}
		res, err := Scan(axis, peakSource{axis}, pixelValue{}, ScanSpec{Start: 7, Stop: 7, Step: step}, nil)
		if err != nil {
			t.Fatalf("step %v: unexpected error %v", step, err)
		}
		if len(res.Positions) != 1 || res.Positions[0] != 7 {
			t.Errorf("step %v: expected exactly one sample at 7, got %v", step, res.Positions)
		}
	}
}

func TestPositionsMatchLiveScan(t *testing.T) {
	spec := ScanSpec{Start: -1, Stop: 1, Step: 0.25}
	want, err := Positions(spec)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(want) != 9 {
		t.Fatalf("expected 9 positions, got %d", len(want))
	}
	axis := &simAxis{}
	res, err := Scan(axis, peakSource{axis}, pixelValue{}, spec, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(res.Positions) != len(want) {
		t.Fatalf("live scan has %d samples, dry run has %d", len(res.Positions), len(want))
	}
	for i := range want {
		if res.Positions[i] != want[i] {
			t.Errorf("sample %d: live %v, dry run %v", i, res.Positions[i], want[i])
		}
	}
}

func TestPositionsSinglePoint(t *testing.T) {
	got, err := Positions(ScanSpec{Start: 7, Stop: 7, Step: -2})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("expected exactly one position at 7, got %v", got)
	}
}

func TestPositionsRejectsBadSpecs(t *testing.T) {
	_, err := Positions(ScanSpec{Start: 0, Stop: 10, Step: -1})
	var isre InvalidScanRangeError
	if !errors.As(err, &isre) {
		t.Errorf("expected InvalidScanRangeError, got %v", err)
	}
}

func TestScanRejectsBadSpecs(t *testing.T) {
	axis := &simAxis{}
	for _, spec := range []ScanSpec{
		{Start: 0, Stop: 10, Step: -1},
		{Start: 10, Stop: 0, Step: 1},
		{Start: 0, Stop: 10, Step: 0},
		{Start: 3, Stop: 3, Step: 0},
	} {
		_, err := Scan(axis, peakSource{axis}, pixelValue{}, spec, nil)
		var isre InvalidScanRangeError
		if !errors.As(err, &isre) {
			t.Errorf("spec %+v: expected InvalidScanRangeError, got %v", spec, err)
			continue
		}
		if isre.Spec != spec {
			t.Errorf("error carries wrong spec: %+v", isre.Spec)
		}
		if axis.moves != 0 {
			t.Errorf("spec %+v: stage moved %d times before validation", spec, axis.moves)
		}
	}
}

func TestScanEmptyWhenPositionerOvershoots(t *testing.T) {
	axis := &lyingAxis{}
	_, err := Scan(axis, peakSource{&axis.simAxis}, pixelValue{}, ScanSpec{Start: 0, Stop: 10, Step: 1}, nil)
	if !errors.Is(err, ErrEmptyScan) {
		t.Errorf("expected ErrEmptyScan, got %v", err)
	}
}

func TestScanSettleHook(t *testing.T) {
	axis := &simAxis{}
	settled := 0
	settle := func(p Positioner) error {
		if p == nil {
			t.Fatal("settle hook received a nil positioner")
		}
		settled++
		return nil
	}
	_, err := Scan(axis, peakSource{axis}, pixelValue{}, ScanSpec{Start: 0, Stop: 400, Step: 50}, settle)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if settled != 9 {
		t.Errorf("expected the settle hook to run 9 times, got %d", settled)
	}
}

func TestScanSettleErrorPropagates(t *testing.T) {
	axis := &simAxis{}
	boom := errors.New("vibration interlock tripped")
	settle := func(Positioner) error { return boom }
	_, err := Scan(axis, peakSource{axis}, pixelValue{}, ScanSpec{Start: 0, Stop: 10, Step: 5}, settle)
	if !errors.Is(err, boom) {
		t.Errorf("expected the settle error to propagate, got %v", err)
	}
}

type failingSource struct{ err error }

func (f failingSource) Grab() (image.Image, error) { return nil, f.err }

func TestScanGrabErrorPropagates(t *testing.T) {
	axis := &simAxis{}
	boom := errors.New("camera timeout")
	_, err := Scan(axis, failingSource{boom}, pixelValue{}, ScanSpec{Start: 0, Stop: 10, Step: 5}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected the grab error to propagate, got %v", err)
	}
}

func blurLadder(frames int, sigmaMax float64) MemStack {
	star := siemens.Render(128, 8)
	center := float64(frames-1) / 2
	stack := make(MemStack, frames)
	for i := range stack {
		sigma := math.Abs(float64(i)-center) / center * sigmaMax
		stack[i] = imaging.Blur(star, sigma)
	}
	return stack
}

func TestScanStackFindsBestFocus(t *testing.T) {
	stack := blurLadder(9, 6.0)
	res, err := ScanStack(stack, -200, 200)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(res.Positions) != 9 || len(res.Metrics) != 9 {
		t.Fatalf("expected full 9-sample trace, got %d/%d", len(res.Positions), len(res.Metrics))
	}
	// sharpest frame is the stack center, which maps to z = 0
	if res.BestPos != 0 {
		t.Errorf("expected best position 0, got %v", res.BestPos)
	}
	if res.BestMetric != res.Metrics[4] {
		t.Errorf("best metric should be the center frame's, got %v vs %v", res.BestMetric, res.Metrics[4])
	}
	if res.Positions[0] != -200 || res.Positions[8] != 200 {
		t.Errorf("endpoint positions not preserved: %v ... %v", res.Positions[0], res.Positions[8])
	}
}

func TestScanStackTieBreaksToFirstIndex(t *testing.T) {
	star := siemens.Render(64, 8)
	res, err := ScanStack(MemStack{star, star, star}, 10, 30)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if res.BestPos != 10 {
		t.Errorf("expected the first of the tied frames (position 10), got %v", res.BestPos)
	}
}

func TestScanStackRejectsShortStacks(t *testing.T) {
	star := siemens.Render(32, 4)
	for _, stack := range []MemStack{{}, {star}} {
		_, err := ScanStack(stack, 0, 1)
		var ife InsufficientFramesError
		if !errors.As(err, &ife) {
			t.Errorf("%d frames: expected InsufficientFramesError, got %v", len(stack), err)
			continue
		}
		if ife.N != len(stack) {
			t.Errorf("error reports %d frames, expected %d", ife.N, len(stack))
		}
	}
}

func TestMemStackFrameOutOfRange(t *testing.T) {
	m := MemStack{siemens.Render(16, 4)}
	if _, err := m.Frame(1); err == nil {
		t.Error("expected an error for an out-of-range frame index")
	}
	if _, err := m.Frame(-1); err == nil {
		t.Error("expected an error for a negative frame index")
	}
}
