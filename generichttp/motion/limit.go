package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/opticslab/starbench/generichttp"
	"github.com/opticslab/starbench/stage"
)

var (
	errClamped = errors.New("requested position violates software limits, aborted")
)

// LimitMiddleware imposes axis-specific software limits on commanded
// moves, bouncing violations before they reach the controller
type LimitMiddleware struct {
	// Limits contains the server imposed limits on the controller
	Limits map[string]stage.Limiter

	// Mov is a reference to the mover, used to query axis positions
	Mov Mover
}

// axisFromPath digs the axis name out of a URL path of the form
// .../axis/<name>/...  Route parameters are not populated yet when
// middleware runs, so the path is parsed directly.
func axisFromPath(p string) string {
	pieces := strings.Split(p, "/")
	for i := 0; i < len(pieces)-1; i++ {
		if pieces[i] == "axis" {
			return pieces[i+1]
		}
	}
	return ""
}

// Check verifies if a motion would violate the axis limit, if it exists,
// and if it does, responds with StatusBadRequest; otherwise control
// flows to the next handler.  Only POST .../pos requests are inspected.
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/pos") {
			next.ServeHTTP(w, r)
			return
		}
		axis := axisFromPath(r.URL.Path)
		// bail as early as possible if we don't have a limit for this axis
		limiter, ok := l.Limits[axis]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		relative := false
		if q := r.URL.Query().Get("relative"); q != "" {
			var err error
			relative, err = strconv.ParseBool(q)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		// downstream handlers want the body too; read it all here,
		// then paste it back
		f := generichttp.FloatT{}
		bodyContent, _ := io.ReadAll(r.Body)
		defer r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(bodyContent))
		err := json.NewDecoder(bytes.NewReader(bodyContent)).Decode(&f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := f.F64
		if relative {
			// in the relative case, shift the command by the current position
			currPos, err := l.Mov.GetPos(axis)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			cmd += currPos
		}
		if !limiter.Check(cmd) {
			http.Error(w, errClamped.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits for an axis
func Limits(l LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		lim, ok := l.Limits[axis]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		var err error
		if !ok {
			err = json.NewEncoder(w).Encode(nil)
		} else {
			err = json.NewEncoder(w).Encode(lim)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
}
