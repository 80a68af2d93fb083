package motion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/opticslab/starbench/generichttp"
	"github.com/opticslab/starbench/stage"
)

type fakeController struct {
	pos     map[string]float64
	vel     map[string]float64
	enabled map[string]bool
	homed   map[string]bool
}

func newFake() *fakeController {
	return &fakeController{
		pos:     map[string]float64{},
		vel:     map[string]float64{},
		enabled: map[string]bool{},
		homed:   map[string]bool{},
	}
}

func (f *fakeController) GetPos(a string) (float64, error) { return f.pos[a], nil }

func (f *fakeController) MoveAbs(a string, p float64) error { f.pos[a] = p; return nil }

func (f *fakeController) MoveRel(a string, p float64) error { f.pos[a] += p; return nil }

func (f *fakeController) Home(a string) error { f.homed[a] = true; f.pos[a] = 0; return nil }

func (f *fakeController) Enable(a string) error { f.enabled[a] = true; return nil }

func (f *fakeController) Disable(a string) error { f.enabled[a] = false; return nil }

func (f *fakeController) GetEnabled(a string) (bool, error) { return f.enabled[a], nil }

func (f *fakeController) GetVelocity(a string) (float64, error) { return f.vel[a], nil }

func (f *fakeController) SetVelocity(a string, v float64) error { f.vel[a] = v; return nil }

func (f *fakeController) GetInPosition(a string) (bool, error) { return true, nil }

// bareMover implements only Mover, to exercise capability probing
type bareMover struct {
	pos map[string]float64
}

func (b *bareMover) GetPos(a string) (float64, error) { return b.pos[a], nil }

func (b *bareMover) MoveAbs(a string, p float64) error { b.pos[a] = p; return nil }

func (b *bareMover) MoveRel(a string, p float64) error { b.pos[a] += p; return nil }

func (b *bareMover) Home(a string) error { b.pos[a] = 0; return nil }

// mountController stands up a controller the way the server does:
// limit middleware, routes bound to a sub-router, sub-router mounted
// below a stem.
func mountController(c Controller, limits map[string]stage.Limiter) http.Handler {
	httper := NewHTTPMotionController(c)
	limiter := LimitMiddleware{Limits: limits, Mov: c}
	limiter.Inject(httper)
	root := chi.NewRouter()
	r := chi.NewRouter()
	r.Use(limiter.Check)
	httper.RT().Bind(r)
	root.Mount("/bench2/stage", r)
	return root
}

func TestGetPosOverHTTP(t *testing.T) {
	fake := newFake()
	fake.pos["A"] = 80.4106
	srv := mountController(fake, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/bench2/stage/axis/A/pos", nil)
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	f := generichttp.FloatT{}
	err := json.NewDecoder(w.Body).Decode(&f)
	if err != nil {
		t.Fatal(err)
	}
	if f.F64 != 80.4106 {
		t.Errorf("expected 80.4106, got %f", f.F64)
	}
}

func TestSetPosAbsoluteAndRelative(t *testing.T) {
	fake := newFake()
	srv := mountController(fake, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/A/pos", strings.NewReader(`{"f64": 5}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("absolute: expected status 200, got %d", w.Code)
	}
	if fake.pos["A"] != 5 {
		t.Errorf("expected position 5, got %f", fake.pos["A"])
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/A/pos?relative=true", strings.NewReader(`{"f64": 2}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("relative: expected status 200, got %d", w.Code)
	}
	if fake.pos["A"] != 7 {
		t.Errorf("expected position 7 after relative move, got %f", fake.pos["A"])
	}
}

func TestHomeOverHTTP(t *testing.T) {
	fake := newFake()
	fake.pos["B"] = 12
	srv := mountController(fake, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/B/home", nil)
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !fake.homed["B"] {
		t.Error("expected axis B homed")
	}
	if fake.pos["B"] != 0 {
		t.Errorf("expected position 0 after home, got %f", fake.pos["B"])
	}
}

func TestEnabledRoundTrip(t *testing.T) {
	fake := newFake()
	srv := mountController(fake, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/A/enabled", strings.NewReader(`{"bool": true}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/bench2/stage/axis/A/enabled", nil)
	srv.ServeHTTP(w, r)
	b := generichttp.BoolT{}
	err := json.NewDecoder(w.Body).Decode(&b)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("expected enabled true, got false")
	}
}

func TestVelocityRoundTrip(t *testing.T) {
	fake := newFake()
	srv := mountController(fake, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/A/velocity", strings.NewReader(`{"f64": 2.5}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/bench2/stage/axis/A/velocity", nil)
	srv.ServeHTTP(w, r)
	f := generichttp.FloatT{}
	err := json.NewDecoder(w.Body).Decode(&f)
	if err != nil {
		t.Fatal(err)
	}
	if f.F64 != 2.5 {
		t.Errorf("expected velocity 2.5, got %f", f.F64)
	}
}

func TestInPositionOverHTTP(t *testing.T) {
	fake := newFake()
	srv := mountController(fake, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/bench2/stage/axis/A/inposition", nil)
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	b := generichttp.BoolT{}
	err := json.NewDecoder(w.Body).Decode(&b)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("expected in position true, got false")
	}
}

func TestCapabilityProbing(t *testing.T) {
	bare := &bareMover{pos: map[string]float64{}}
	httper := NewHTTPMotionController(bare)
	eps := httper.RT().Endpoints()
	if len(eps) != 3 {
		t.Fatalf("expected 3 endpoints for bare mover, got %d: %v", len(eps), eps)
	}
	for _, ep := range eps {
		if strings.Contains(ep, "enabled") || strings.Contains(ep, "velocity") || strings.Contains(ep, "inposition") {
			t.Errorf("bare mover should not serve %s", ep)
		}
	}

	full := NewHTTPMotionController(newFake())
	if got := len(full.RT().Endpoints()); got != 8 {
		t.Errorf("expected 8 endpoints for full controller, got %d", got)
	}
}

func TestLimitMiddlewareBlocksAbsolute(t *testing.T) {
	fake := newFake()
	limits := map[string]stage.Limiter{"A": {Min: -10, Max: 10}}
	srv := mountController(fake, limits)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/A/pos", strings.NewReader(`{"f64": 20}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if fake.pos["A"] != 0 {
		t.Errorf("expected blocked move to leave position at 0, got %f", fake.pos["A"])
	}

	// a legal command passes through with its body intact
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/A/pos", strings.NewReader(`{"f64": 5}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if fake.pos["A"] != 5 {
		t.Errorf("expected position 5, got %f", fake.pos["A"])
	}
}

func TestLimitMiddlewareAccountsForRelative(t *testing.T) {
	fake := newFake()
	fake.pos["A"] = 8
	limits := map[string]stage.Limiter{"A": {Min: -10, Max: 10}}
	srv := mountController(fake, limits)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/A/pos?relative=true", strings.NewReader(`{"f64": 5}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for 8+5 beyond limit 10, got %d", w.Code)
	}
	if fake.pos["A"] != 8 {
		t.Errorf("expected position unchanged at 8, got %f", fake.pos["A"])
	}
}

func TestLimitMiddlewareIgnoresUnlimitedAxis(t *testing.T) {
	fake := newFake()
	limits := map[string]stage.Limiter{"A": {Min: -1, Max: 1}}
	srv := mountController(fake, limits)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bench2/stage/axis/B/pos", strings.NewReader(`{"f64": 500}`))
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 on unlimited axis, got %d", w.Code)
	}
	if fake.pos["B"] != 500 {
		t.Errorf("expected position 500, got %f", fake.pos["B"])
	}
}

func TestLimitsRoute(t *testing.T) {
	fake := newFake()
	limits := map[string]stage.Limiter{"A": {Min: -10, Max: 10}}
	srv := mountController(fake, limits)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/bench2/stage/axis/A/limits", nil)
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	lim := stage.Limiter{}
	err := json.NewDecoder(w.Body).Decode(&lim)
	if err != nil {
		t.Fatal(err)
	}
	if lim.Min != -10 || lim.Max != 10 {
		t.Errorf("expected limits [-10, 10], got [%f, %f]", lim.Min, lim.Max)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/bench2/stage/axis/B/limits", nil)
	srv.ServeHTTP(w, r)
	if body := strings.TrimSpace(w.Body.String()); body != "null" {
		t.Errorf("expected null for unlimited axis, got %s", body)
	}
}
