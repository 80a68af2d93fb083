package ascii

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/opticslab/starbench/generichttp"
)

type echoComm struct{ last string }

func (e *echoComm) Raw(s string) (string, error) {
	e.last = s
	return "A=" + s, nil
}

func TestInjectRawComm(t *testing.T) {
	rt := generichttp.RouteTable{}
	device := &echoComm{}
	InjectRawComm(rt, device)

	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/raw", "application/json", strings.NewReader(`{"str": "POS? A"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if device.last != "POS? A" {
		t.Errorf("expected the command to reach the device, got %q", device.last)
	}
	var body generichttp.StrT
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Str != "A=POS? A" {
		t.Errorf("expected the device response in the body, got %q", body.Str)
	}
}

func TestRawRejectsBadBodies(t *testing.T) {
	rt := generichttp.RouteTable{}
	InjectRawComm(rt, &echoComm{})

	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/raw", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
