/*Package bench serves the optical measurements over HTTP.

A bench couples one focus axis with one camera.  The routes run an
autofocus sweep, estimate an MTF curve from the current frame, dump a
circular spectrum, and report frame sharpness and target geometry.

The bench drives its axis in-process, not through the motion routes.
Lock the stage node before a long sweep when other clients might move
the same axis.
*/
package bench

import (
	"encoding/json"
	"errors"
	"go/types"
	"io"
	"net/http"
	"strconv"

	"github.com/opticslab/starbench/autofocus"
	"github.com/opticslab/starbench/camera"
	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/generichttp"
	"github.com/opticslab/starbench/mtf"
	"github.com/opticslab/starbench/sharpness"
	"github.com/opticslab/starbench/siemens"
)

// DefaultMetric names the sharpness metric used when a request does not
// pick one.
const DefaultMetric = "target"

// Bench couples a focus axis with a camera for closed loop measurements.
type Bench struct {
	// Axis drives focus.
	Axis autofocus.Positioner

	// Cam supplies frames.
	Cam camera.Camera

	// Settle runs between a move and the following grab, nil to skip.
	Settle func(autofocus.Positioner) error
}

// AutofocusRequest is the body of POST /autofocus.  An empty metric
// selects the target-aware default.
type AutofocusRequest struct {
	autofocus.ScanSpec
	Metric string `json:"metric"`
}

// MTFRequest is the body of POST /mtf.  Zero fields take the package
// defaults; center overrides go together or not at all.
type MTFRequest struct {
	CenterX   *float64 `json:"centerX"`
	CenterY   *float64 `json:"centerY"`
	RMinFrac  float64  `json:"rminFrac"`
	RMaxFrac  float64  `json:"rmaxFrac"`
	NumRadii  int      `json:"numRadii"`
	NumAngles int      `json:"numAngles"`
}

// SpectrumResponse is the body of GET /spectrum.
type SpectrumResponse struct {
	Freq []float64 `json:"freq"`
	Mag  []float64 `json:"mag"`
}

// GeometryResponse is the body of GET /target-geometry.
type GeometryResponse struct {
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Radius float64 `json:"radius"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// HTTPBench wraps a bench in an HTTP route table.
type HTTPBench struct {
	// B is the bench being exposed
	B Bench

	// RouteTable maps methods and paths to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPBench returns an HTTPBench with the measurement routes bound.
func NewHTTPBench(b Bench) HTTPBench {
	h := HTTPBench{B: b}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/autofocus"}:      h.Autofocus,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/mtf"}:            h.MTF,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/spectrum"}:        h.Spectrum,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/sharpness"}:       h.Sharpness,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/target-geometry"}: h.TargetGeometry,
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer.
func (h HTTPBench) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Autofocus runs a live sweep over the bench axis and returns the full
// trace with the best position.
func (h HTTPBench) Autofocus(w http.ResponseWriter, r *http.Request) {
	req := AutofocusRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Metric == "" {
		req.Metric = DefaultMetric
	}
	m, err := sharpness.ByName(req.Metric)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := autofocus.Scan(h.B.Axis, h.B.Cam, m, req.ScanSpec, h.B.Settle)
	if err != nil {
		var rangeErr autofocus.InvalidScanRangeError
		if errors.As(err, &rangeErr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, res)
}

// MTF grabs a frame and estimates its multi-radius MTF curve.  An
// empty body selects all defaults.
func (h HTTPBench) MTF(w http.ResponseWriter, r *http.Request) {
	req := MTFRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	center, ok := centerOf(w, req.CenterX, req.CenterY)
	if !ok {
		return
	}
	g, ok := h.frame(w)
	if !ok {
		return
	}
	curve, err := mtf.Estimate(g, mtf.Params{
		Center:    center,
		RMinFrac:  req.RMinFrac,
		RMaxFrac:  req.RMaxFrac,
		NumRadii:  req.NumRadii,
		NumAngles: req.NumAngles,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, curve)
}

// Spectrum grabs a frame and returns the one-sided magnitude spectrum
// of a circular profile.  Query parameters radius, numAngles, centerX
// and centerY override the defaults.
func (h HTTPBench) Spectrum(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := mtf.SpectrumParams{}
	if s := q.Get("radius"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.Radius = f
	}
	if s := q.Get("numAngles"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.NumAngles = n
	}
	var cx, cy *float64
	if s := q.Get("centerX"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cx = &f
	}
	if s := q.Get("centerY"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cy = &f
	}
	center, ok := centerOf(w, cx, cy)
	if !ok {
		return
	}
	p.Center = center
	g, ok := h.frame(w)
	if !ok {
		return
	}
	freq, mag, err := mtf.Spectrum(g, p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, SpectrumResponse{Freq: freq, Mag: mag})
}

// Sharpness evaluates the metric query parameter against the current
// frame.
func (h HTTPBench) Sharpness(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("metric")
	if name == "" {
		name = DefaultMetric
	}
	m, err := sharpness.ByName(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g, ok := h.frame(w)
	if !ok {
		return
	}
	v, err := m.Evaluate(g)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}

// TargetGeometry reports where the star sits in the current frame.
func (h HTTPBench) TargetGeometry(w http.ResponseWriter, r *http.Request) {
	g, ok := h.frame(w)
	if !ok {
		return
	}
	width, height := g.Dims()
	geom, err := siemens.Estimate(width, height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, GeometryResponse{
		Cx:     geom.Cx,
		Cy:     geom.Cy,
		Radius: geom.Radius,
		Width:  width,
		Height: height,
	})
}

// frame grabs one frame as float pixels, writing the error response on
// failure.
func (h HTTPBench) frame(w http.ResponseWriter) (floatimg.Gray, bool) {
	img, err := h.B.Cam.Grab()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return floatimg.FromImage(img), true
}

// centerOf validates a center override pair, writing a 400 when only
// one half is present.
func centerOf(w http.ResponseWriter, cx, cy *float64) (*siemens.Point, bool) {
	if (cx == nil) != (cy == nil) {
		http.Error(w, "centerX and centerY go together", http.StatusBadRequest)
		return nil, false
	}
	if cx == nil {
		return nil, true
	}
	return &siemens.Point{X: *cx, Y: *cy}, true
}

func respondJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(obj)
}
