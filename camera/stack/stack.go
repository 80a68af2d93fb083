/*Package stack provides a camera backed by a directory of previously
captured frames.

Frames are ordered by sorted file name, so a capture sweep written with
zero padded indices plays back in scan order; sweeps that record a PNG
and a FITS of each frame play back one frame per position.  A Stack
satisfies both
the indexed frame interface consumed by the stack focus scanner and the
live camera interface: SetIndex selects the frame the next Grab
returns.

png, jpeg, gif, bmp and tiff decode through imaging; webp decodes
through the chai2010 codec with the image registry as fallback; fits
frames follow the 16-bit BZERO convention the recorder writes.
*/
package stack

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/astrogo/fitsio"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Stack is an ordered set of frames read from a directory.
type Stack struct {
	mu    sync.Mutex
	paths []string
	idx   int
}

// Open lists the frames under dir in sorted name order.  A frame
// present in more than one format, as when a capture sweep records PNG
// and FITS side by side, counts once; the FITS form wins.
func Open(dir string) (*Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("stack: reading %s: %w", dir, err)
	}
	chosen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !supportedExt(e.Name()) {
			continue
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		prev, ok := chosen[stem]
		if !ok || (isFITS(name) && !isFITS(prev)) {
			chosen[stem] = name
		}
	}
	if len(chosen) == 0 {
		return nil, fmt.Errorf("stack: no frames in %s", dir)
	}
	stems := make([]string, 0, len(chosen))
	for stem := range chosen {
		stems = append(stems, stem)
	}
	sort.Strings(stems)
	paths := make([]string, len(stems))
	for i, stem := range stems {
		paths[i] = filepath.Join(dir, chosen[stem])
	}
	return &Stack{paths: paths}, nil
}

func isFITS(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".fit", ".fits":
		return true
	}
	return false
}

func supportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".fit", ".fits":
		return true
	}
	return false
}

// Len returns the number of frames.
func (s *Stack) Len() int { return len(s.paths) }

// Paths returns the frame paths in playback order.
func (s *Stack) Paths() []string { return append([]string(nil), s.paths...) }

// Frame decodes frame i.
func (s *Stack) Frame(i int) (image.Image, error) {
	if i < 0 || i >= len(s.paths) {
		return nil, fmt.Errorf("stack: frame %d out of range [0, %d)", i, len(s.paths))
	}
	p := s.paths[i]
	switch strings.ToLower(filepath.Ext(p)) {
	case ".fit", ".fits":
		return readFITS(p)
	case ".webp":
		return readWebP(p)
	}
	return imaging.Open(p)
}

// SetIndex selects the frame the next Grab returns.
func (s *Stack) SetIndex(i int) error {
	if i < 0 || i >= len(s.paths) {
		return fmt.Errorf("stack: frame %d out of range [0, %d)", i, len(s.paths))
	}
	s.mu.Lock()
	s.idx = i
	s.mu.Unlock()
	return nil
}

// Index returns the selected frame index.
func (s *Stack) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx
}

// Grab decodes the selected frame, so a Stack can stand in for a live
// camera.
func (s *Stack) Grab() (image.Image, error) {
	return s.Frame(s.Index())
}

func readWebP(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("stack: decoding %s: %w", path, err)
	}
	return img, nil
}

// readFITS decodes the primary HDU of a 16-bit FITS frame into a
// Gray16, honoring the BZERO offset the recorder writes.
func readFITS(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("stack: opening %s: %w", path, err)
	}
	defer fits.Close()
	hdus := fits.HDUs()
	if len(hdus) == 0 {
		return nil, fmt.Errorf("stack: %s has no HDUs", path)
	}
	img, ok := hdus[0].(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("stack: primary HDU of %s is not an image", path)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, fmt.Errorf("stack: %s has %d axes, need at least 2", path, len(axes))
	}
	w, h := axes[0], axes[1]
	if hdr.Bitpix() != 16 {
		return nil, fmt.Errorf("stack: %s has bitpix %d, only 16 is supported", path, hdr.Bitpix())
	}
	bzero := 0.0
	if card := hdr.Get("BZERO"); card != nil {
		switch v := card.Value.(type) {
		case int:
			bzero = float64(v)
		case int64:
			bzero = float64(v)
		case float64:
			bzero = v
		}
	}
	var data []int16
	if err := img.Read(&data); err != nil {
		return nil, fmt.Errorf("stack: reading %s: %w", path, err)
	}
	if len(data) < w*h {
		return nil, fmt.Errorf("stack: %s holds %d samples, need %d", path, len(data), w*h)
	}
	out := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(data[y*w+x]) + bzero
			if v < 0 {
				v = 0
			}
			if v > 65535 {
				v = 65535
			}
			out.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return out, nil
}
