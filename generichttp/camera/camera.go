// Package camera provides an HTTP interface to bench cameras.
//
// Any frame source satisfying camera.Camera gets /frame and /stream
// routes; exposure control and frame selection routes appear when the
// concrete type supports them.
package camera

import (
	"encoding/json"
	"fmt"
	"go/types"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"golang.org/x/time/rate"

	"github.com/opticslab/starbench/camera"
	"github.com/opticslab/starbench/generichttp"
	"github.com/opticslab/starbench/imgrec"
)

// DefaultStreamFPS caps /stream when the request does not name a rate.
const DefaultStreamFPS = 10

// MetadataMaker can furnish FITS cards describing the current frame.
type MetadataMaker interface {
	// CollectHeaderMetadata returns the cards to put in a FITS header
	CollectHeaderMetadata() []fitsio.Card
}

// FrameSelector is a camera whose next frame can be chosen, like a
// playback stack.
type FrameSelector interface {
	// SetIndex selects the frame the next Grab returns
	SetIndex(int) error

	// Index returns the selected frame index
	Index() int
}

// HTTPCamera wraps a camera in an HTTP route table.
type HTTPCamera struct {
	// Cam is the camera being exposed
	Cam camera.Camera

	// Rec is an optional recorder; when enabled, FITS frames served
	// over /frame are also written to disk
	Rec *imgrec.Recorder

	// RouteTable maps methods and paths to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPCamera binds the routes the camera's capabilities allow.
func NewHTTPCamera(c camera.Camera, rec *imgrec.Recorder) HTTPCamera {
	h := HTTPCamera{Cam: c, Rec: rec}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}:  h.GetFrame,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/stream"}: h.Stream,
	}
	if exp, ok := c.(camera.ExposureManipulator); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = GetExposureTime(exp)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(exp)
	}
	if sel, ok := c.(FrameSelector); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/index"}] = generichttp.GetInt(func() (int, error) { return sel.Index(), nil })
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/index"}] = generichttp.SetInt(sel.SetIndex)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer.
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetFrame grabs a frame and encodes it per the fmt query parameter,
// jpg when absent.  fmt=fits also writes the frame through the
// recorder when one is attached and enabled, and carries any header
// metadata the camera can collect.  An exposureTime query parameter
// updates the exposure before the grab.
func (h HTTPCamera) GetFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if texp := q.Get("exposureTime"); texp != "" {
		exp, ok := h.Cam.(camera.ExposureManipulator)
		if !ok {
			http.Error(w, "camera does not support exposure control", http.StatusBadRequest)
			return
		}
		if allNumbers(texp) {
			texp += "s"
		}
		d, err := time.ParseDuration(texp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = exp.SetExposureTime(d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	img, err := h.Cam.Grab()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	format := q.Get("fmt")
	if format == "" {
		format = "jpg"
	}
	switch format {
	case "jpg":
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		jpeg.Encode(w, img, nil)
	case "png":
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		png.Encode(w, img)
	case "fits":
		var cards []fitsio.Card
		if carder, ok := h.Cam.(MetadataMaker); ok {
			cards = carder.CollectHeaderMetadata()
		}
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		var w2 io.Writer = w
		if rec := h.Rec; rec != nil && rec.Enabled && rec.Root != "" {
			w2 = io.MultiWriter(w, rec)
			defer rec.Incr()
		}
		if err := imgrec.WriteFITS(w2, img, cards); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("fmt %s unrecognized, must be jpg, png, or fits", format), http.StatusBadRequest)
	}
}

// Stream serves multipart MJPEG until the client disconnects, capped
// at the fps query parameter.
func (h HTTPCamera) Stream(w http.ResponseWriter, r *http.Request) {
	fps := float64(DefaultStreamFPS)
	if s := r.URL.Query().Get("fps"); s != "" {
		var err error
		fps, err = strconv.ParseFloat(s, 64)
		if err != nil || fps <= 0 {
			http.Error(w, "fps must be a positive number", http.StatusBadRequest)
			return
		}
	}
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)
	limiter := rate.NewLimiter(rate.Limit(fps), 1)
	for {
		if err := limiter.Wait(r.Context()); err != nil {
			// client went away
			return
		}
		img, err := h.Cam.Grab()
		if err != nil {
			return
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": []string{"image/jpeg"}})
		if err != nil {
			return
		}
		if err = jpeg.Encode(part, img, nil); err != nil {
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// SetExposureTime sets the exposure time on a POST request.  It may be
// provided as a query parameter exposureTime formatted in a way that is
// parseable by golang/time.ParseDuration, or a json payload with key
// f64, holding the exposure time in seconds.
func SetExposureTime(e camera.ExposureManipulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			d = time.Duration(int(f.F64*1e9)) * time.Nanosecond // 1e9 s => ns
		} else {
			if allNumbers(texp) {
				texp += "s"
			}
			d, err = time.ParseDuration(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err = e.SetExposureTime(d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time in seconds.
func GetExposureTime(e camera.ExposureManipulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := e.GetExposureTime()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: d.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// allNumbers is true when s is a bare number, a second count rather
// than a duration string.
func allNumbers(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '+' && r != '-' && r != 'e' {
			return false
		}
	}
	return true
}
