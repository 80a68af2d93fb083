// Package imgrec contains an image recorder used to automatically save
// bench frames to disk.  Frames land in yyyy-mm-dd subfolders of the
// root with incrementing filenames, so back to back sweeps never
// clobber each other.  It is not thread safe.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/opticslab/starbench/generichttp"
)

// Recorder records image sequences with incrementing filenames in
// yyyy-mm-dd subfolders.
type Recorder struct {
	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	// Enabled is a flag unused by this struct that allows consumers to
	// disable its use in their code
	Enabled bool
}

// updateFolder checks the current time and updates the folder name as needed
func (r *Recorder) updateFolder() {
	now := time.Now()
	y, m, d := now.Year(), now.Month(), now.Day()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// dir returns today's folder, creating it if needed.
func (r *Recorder) dir() (string, error) {
	r.updateFolder()
	return r.mkDir()
}

// Dir returns today's recording folder, creating it if needed.  Use it
// to place sidecar files, manifests and the like, next to the frames.
func (r *Recorder) Dir() (string, error) {
	return r.dir()
}

// nextName returns the auto-numbered filename for ext, which includes
// the leading dot.
func (r *Recorder) nextName(ext string) string {
	return fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, ext)
}

// Write implements io.Writer and appends the contents of a fits file
// to the current auto-numbered frame on disk.  Callers stream a whole
// file, then call Incr to move to the next one.
func (r *Recorder) Write(p []byte) (n int, err error) {
	fldr, err := r.dir()
	if err != nil {
		return 0, err
	}
	fn := filepath.Join(fldr, r.nextName(".fits"))
	fid, err := os.OpenFile(fn, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return 0, err
	}
	defer fid.Close()
	return fid.Write(p)
}

// WriteImage encodes img into today's folder under name, with the
// format chosen by the extension.  An empty name takes the next
// auto-numbered .png.  The path written is returned.
func (r *Recorder) WriteImage(img image.Image, name string) (string, error) {
	fldr, err := r.dir()
	if err != nil {
		return "", err
	}
	if name == "" {
		name = r.nextName(".png")
	}
	fn := filepath.Join(fldr, name)
	if strings.EqualFold(filepath.Ext(name), ".webp") {
		fid, err := os.Create(fn)
		if err != nil {
			return "", err
		}
		defer fid.Close()
		return fn, webp.Encode(fid, img, &webp.Options{Lossless: true})
	}
	return fn, imaging.Save(img, fn)
}

// WriteFITS writes img as a 16-bit FITS frame with the given header
// cards.  An empty name takes the next auto-numbered .fits.  The path
// written is returned.
func (r *Recorder) WriteFITS(img image.Image, name string, cards []fitsio.Card) (string, error) {
	fldr, err := r.dir()
	if err != nil {
		return "", err
	}
	if name == "" {
		name = r.nextName(".fits")
	}
	fn := filepath.Join(fldr, name)
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer fid.Close()
	return fn, WriteFITS(fid, img, cards)
}

// Incr updates the filename counter; it scans the folder to do so.  If
// there is an error, the counter is not incremented.
func (r *Recorder) Incr() {
	dn, _ := r.dir()
	files, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimPrefix(fn, r.Prefix)
		bit = strings.TrimSuffix(bit, filepath.Ext(bit))
		n, err := strconv.Atoi(bit)
		if err != nil {
			// named frame from a sweep, not a counter file
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows
// the folder and prefix to be changed on the fly.
//
// it does not implement generichttp.HTTPer, offering an Inject method
// allowing it to be injected into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.Root = str.Str
	if _, err := rec.dir(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Root}
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.Prefix = str.Str
	h.Recorder.counter = 0
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Prefix}
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled}
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.Enabled = bT.Bool
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix
// and /autowrite/enabled to the HTTPer which manipulate this wrapper's
// recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
