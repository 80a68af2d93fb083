package imgrec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/go-chi/chi"

	"github.com/opticslab/starbench/generichttp"
)

func grayRamp(side int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16((y*side + x) * 1000)})
		}
	}
	return img
}

func TestWriteImageUsesDatedFolderAndCounter(t *testing.T) {
	r := Recorder{Root: t.TempDir(), Prefix: "cap"}
	fn, err := r.WriteImage(grayRamp(8), "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	day := time.Now().Format("2006-01-02")
	if !strings.Contains(fn, day) {
		t.Errorf("expected path under a %s folder, got %s", day, fn)
	}
	if filepath.Base(fn) != "cap000000.png" {
		t.Errorf("expected cap000000.png, got %s", filepath.Base(fn))
	}
	if _, err := imaging.Open(fn); err != nil {
		t.Errorf("expected a decodable png on disk, got %v", err)
	}
}

func TestIncrScansTheFolder(t *testing.T) {
	r := Recorder{Root: t.TempDir(), Prefix: "cap"}
	if _, err := r.WriteImage(grayRamp(8), ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	// a stale frame from an older run with a higher number
	dn, err := r.dir()
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dn, "cap000007.png"), []byte("x"), 0666); err != nil {
		t.Fatalf("seeding stale frame: %v", err)
	}
	r.Incr()
	fn, err := r.WriteImage(grayRamp(8), "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(fn) != "cap000008.png" {
		t.Errorf("expected the counter to jump past stale frames to cap000008.png, got %s", filepath.Base(fn))
	}
}

func TestNamedFramesDoNotDisturbTheCounter(t *testing.T) {
	r := Recorder{Root: t.TempDir(), Prefix: "cap"}
	name := fmt.Sprintf("z%+09.4f_idx%03d.png", 12.5, 3)
	if _, err := r.WriteImage(grayRamp(8), name); err != nil {
		t.Fatalf("write named: %v", err)
	}
	r.Incr()
	fn, err := r.WriteImage(grayRamp(8), "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(fn) != "cap000001.png" {
		t.Errorf("expected sweep-named frames to be skipped by the scan, got %s", filepath.Base(fn))
	}
}

func TestWriteImageWebP(t *testing.T) {
	r := Recorder{Root: t.TempDir(), Prefix: "cap"}
	fn, err := r.WriteImage(grayRamp(8), "frame.webp")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	fid, err := os.Open(fn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fid.Close()
	img, err := webp.Decode(fid)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("expected an 8 wide webp, got %d", img.Bounds().Dx())
	}
}

func TestWriteFITSHeaderAndData(t *testing.T) {
	src := grayRamp(4)
	buf := bytes.Buffer{}
	err := WriteFITS(&buf, src, []fitsio.Card{
		{Name: "Z", Value: 1.25},
		{Name: "INDEX", Value: 3},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	fits, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fits.Close()
	img, ok := fits.HDUs()[0].(fitsio.Image)
	if !ok {
		t.Fatal("expected the primary HDU to be an image")
	}
	hdr := img.Header()
	if hdr.Bitpix() != 16 {
		t.Errorf("expected bitpix 16, got %d", hdr.Bitpix())
	}
	if card := hdr.Get("Z"); card == nil || card.Value.(float64) != 1.25 {
		t.Errorf("expected Z card 1.25, got %v", card)
	}
	if card := hdr.Get("BZERO"); card == nil {
		t.Error("expected a BZERO card")
	}
	if card := hdr.Get("DATE-OBS"); card == nil || card.Value.(string) == "" {
		t.Error("expected a DATE-OBS card")
	}
	var data []int16
	if err := img.Read(&data); err != nil {
		t.Fatalf("read: %v", err)
	}
	got := uint16(int32(data[5]) + 32768)
	if want := src.Gray16At(1, 1).Y; got != want {
		t.Errorf("expected pixel (1,1) to survive the offset, want %d, got %d", want, got)
	}
}

func TestRecorderStreamsWholeFiles(t *testing.T) {
	r := Recorder{Root: t.TempDir(), Prefix: "cap"}
	if _, err := r.Write([]byte("SIM")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := r.Write([]byte("PLE")); err != nil {
		t.Fatalf("write: %v", err)
	}
	dn, err := r.dir()
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dn, "cap000000.fits"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "SIMPLE" {
		t.Errorf("expected chunked writes to append to one file, got %q", string(b))
	}
	r.Incr()
	if _, err := r.Write([]byte("NEXT")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dn, "cap000001.fits")); err != nil {
		t.Errorf("expected Incr to move to a new file, got %v", err)
	}
}

type recHTTPer struct {
	rt generichttp.RouteTable
}

func (h recHTTPer) RT() generichttp.RouteTable { return h.rt }

func TestHTTPWrapperRoutes(t *testing.T) {
	rec := &Recorder{Root: t.TempDir(), Prefix: "cap"}
	other := recHTTPer{rt: generichttp.RouteTable{}}
	NewHTTPWrapper(rec).Inject(other)

	router := chi.NewRouter()
	other.rt.Bind(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/autowrite/prefix", "application/json", strings.NewReader(`{"str": "scan"}`))
	if err != nil {
		t.Fatalf("post prefix: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 setting the prefix, got %d", resp.StatusCode)
	}
	if rec.Prefix != "scan" {
		t.Errorf("expected prefix scan, got %s", rec.Prefix)
	}

	resp, err = http.Post(srv.URL+"/autowrite/enabled", "application/json", strings.NewReader(`{"bool": true}`))
	if err != nil {
		t.Fatalf("post enabled: %v", err)
	}
	resp.Body.Close()
	if !rec.Enabled {
		t.Error("expected the recorder to be enabled")
	}

	resp, err = http.Get(srv.URL + "/autowrite/root")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	buf := bytes.Buffer{}
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), rec.Root) {
		t.Errorf("expected the root in the response, got %s", buf.String())
	}
}
