package generichttp

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
)

type tableHTTPer struct {
	rt RouteTable
}

func (h tableHTTPer) RT() RouteTable {
	return h.rt
}

func TestGetFloatEncodes(t *testing.T) {
	hndl := GetFloat(func() (float64, error) { return 3.5, nil })
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/pos", nil)
	hndl(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	f := FloatT{}
	err := json.NewDecoder(w.Body).Decode(&f)
	if err != nil {
		t.Fatal(err)
	}
	if f.F64 != 3.5 {
		t.Errorf("expected 3.5, got %f", f.F64)
	}
}

func TestGetFloatErrorIs500(t *testing.T) {
	hndl := GetFloat(func() (float64, error) { return 0, errors.New("no reply from controller") })
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/pos", nil)
	hndl(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestSetFloatDecodes(t *testing.T) {
	var got float64
	hndl := SetFloat(func(v float64) error { got = v; return nil })
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/pos", strings.NewReader(`{"f64": 2.25}`))
	hndl(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if got != 2.25 {
		t.Errorf("expected 2.25, got %f", got)
	}
}

func TestSetFloatBadBodyIs400(t *testing.T) {
	hndl := SetFloat(func(v float64) error { return nil })
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/pos", strings.NewReader("not json"))
	hndl(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestSetBoolRoundTrip(t *testing.T) {
	var got bool
	hndl := SetBool(func(v bool) error { got = v; return nil })
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/enabled", strings.NewReader(`{"bool": true}`))
	hndl(w, r)
	if !got {
		t.Error("expected true, got false")
	}
	hndl2 := GetBool(func() (bool, error) { return got, nil })
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/enabled", nil)
	hndl2(w, r)
	b := BoolT{}
	err := json.NewDecoder(w.Body).Decode(&b)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("expected true, got false")
	}
}

func TestGetStringEncodes(t *testing.T) {
	hndl := GetString(func() (string, error) { return "siemens-star", nil })
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/target", nil)
	hndl(w, r)
	s := StrT{}
	err := json.NewDecoder(w.Body).Decode(&s)
	if err != nil {
		t.Fatal(err)
	}
	if s.Str != "siemens-star" {
		t.Errorf("expected siemens-star, got %s", s.Str)
	}
}

func TestHumanPayloadUnsupportedType(t *testing.T) {
	hp := HumanPayload{T: types.Complex128}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	hp.EncodeAndRespond(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestRouteTableEndpointsSorted(t *testing.T) {
	nop := func(w http.ResponseWriter, r *http.Request) {}
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/pos"}:              nop,
		{Method: http.MethodGet, Path: "/axis/{axis}/pos"}:  nop,
		{Method: http.MethodPost, Path: "/axis/{axis}/pos"}: nop,
	}
	eps := rt.Endpoints()
	if len(eps) != 3 {
		t.Fatalf("expected 3 endpoints, got %d", len(eps))
	}
	for i := 1; i < len(eps); i++ {
		if eps[i-1] > eps[i] {
			t.Errorf("endpoints not sorted: %s before %s", eps[i-1], eps[i])
		}
	}
	if eps[0] != "GET /axis/{axis}/pos" {
		t.Errorf("expected GET /axis/{axis}/pos first, got %s", eps[0])
	}
}

func TestRouteTableBindServesParams(t *testing.T) {
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/axis/{axis}/pos"}: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(chi.URLParam(r, "axis")))
		},
	}
	root := chi.NewRouter()
	sub := chi.NewRouter()
	rt.Bind(sub)
	root.Mount("/bench2/stage", sub)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/bench2/stage/axis/A/pos", nil)
	root.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "A" {
		t.Errorf("expected axis A, got %s", body)
	}
}

func TestRouteTableBindRejectsWrongMethod(t *testing.T) {
	rt := RouteTable{
		{Method: http.MethodPost, Path: "/home"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	r := chi.NewRouter()
	rt.Bind(r)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestSubMuxSanitize(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{"stage", "/stage"},
		{"/stage", "/stage"},
		{"/stage/", "/stage"},
		{"/stage/*", "/stage"},
		{"bench2/stage", "/bench2/stage"},
		{"", "/"},
		{"/", "/"},
	}
	for _, tc := range cases {
		got := SubMuxSanitize(tc.in)
		if got != tc.out {
			t.Errorf("sanitize(%q): expected %q, got %q", tc.in, tc.out, got)
		}
	}
}

var _ HTTPer = tableHTTPer{}
