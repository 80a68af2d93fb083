/*Package workflow runs bench measurements end to end and writes their
artifacts.

A focus-and-MTF run sweeps through focus, picks the sharpest frame,
estimates the MTF there, and leaves a self contained artifact folder:
the autofocus trace, the MTF curve, a JSON summary, and a preview of
the best frame.  A capture sweep records every frame of a scan in both
PNG and FITS forms with a manifest beside them, so the sweep can be
played back later as a frame stack.
*/
package workflow

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/disintegration/imaging"
	"golang.org/x/time/rate"

	"github.com/opticslab/starbench/autofocus"
	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/imgrec"
	"github.com/opticslab/starbench/mathx"
	"github.com/opticslab/starbench/mtf"
	"github.com/opticslab/starbench/rig"
	"github.com/opticslab/starbench/sharpness"
)

// Artifact filenames within a run's output folder.
const (
	TraceFile    = "af_trace.csv"
	CurveFile    = "mtf_curve.csv"
	SummaryFile  = "summary.json"
	PreviewFile  = "preview.png"
	ManifestFile = "manifest.json"
)

// previewWidth is the width previews are resized to, preserving aspect.
const previewWidth = 256

// Report is the outcome of a focus-and-MTF run.
type Report struct {
	AF    autofocus.Result `json:"af"`
	Curve mtf.Curve        `json:"curve"`
	Dir   string           `json:"dir"`
}

// Summary is the digest written to summary.json.
type Summary struct {
	BestPos     float64   `json:"best_pos"`
	BestMetric  float64   `json:"best_metric"`
	Samples     int       `json:"samples"`
	CurvePoints int       `json:"curve_points"`
	When        time.Time `json:"when"`
}

// SweepFrame names the pair of files recorded at one scan position.
type SweepFrame struct {
	Index int     `json:"index"`
	Z     float64 `json:"z"`
	PNG   string  `json:"png"`
	FITS  string  `json:"fits"`
}

// Manifest describes a capture sweep: the spec it executed, the folder
// the frames landed in, and one entry per frame.  Plan returns one with
// an empty Dir and nothing on disk.
type Manifest struct {
	Spec   autofocus.ScanSpec `json:"spec"`
	Dir    string             `json:"dir,omitempty"`
	Frames []SweepFrame       `json:"frames"`
	When   time.Time          `json:"when"`
}

// FrameName is the stem shared by the PNG and FITS forms of sweep frame
// i at position z.  Index-first naming keeps sorted filename order
// equal to scan order, which stack playback relies on.
func FrameName(z float64, i int) string {
	return fmt.Sprintf("idx%03d_z%+09.4f", i, z)
}

// FocusAndMTF scans a pre-captured focus stack mapped onto [zStart,
// zEnd], estimates the MTF of the sharpest frame, and writes the
// artifact set into outDir.
func FocusAndMTF(stack autofocus.FrameStack, zStart, zEnd float64, outDir string) (Report, error) {
	res, err := autofocus.ScanStack(stack, zStart, zEnd)
	if err != nil {
		return Report{}, err
	}
	frame, err := stack.Frame(mathx.ArgMax(res.Metrics))
	if err != nil {
		return Report{}, fmt.Errorf("workflow: best frame: %w", err)
	}
	return report(res, frame, outDir)
}

// FocusAndMTFLive runs a live focus sweep on the rig with the Siemens
// target metric, moves to the best position, grabs a frame there,
// estimates its MTF, and writes the artifact set into outDir.
func FocusAndMTFLive(r *rig.Rig, spec autofocus.ScanSpec, outDir string) (Report, error) {
	res, err := autofocus.Scan(r.Axis, r.Cam, sharpness.TargetMetric{}, spec, nil)
	if err != nil {
		return Report{}, err
	}
	if err := r.Axis.MoveTo(res.BestPos); err != nil {
		return Report{}, fmt.Errorf("workflow: returning to best focus: %w", err)
	}
	frame, err := r.Cam.Grab()
	if err != nil {
		return Report{}, fmt.Errorf("workflow: grab at best focus: %w", err)
	}
	return report(res, frame, outDir)
}

// CaptureSweep walks the positions of spec, grabbing a frame at each
// and recording it under outDir in both PNG and FITS forms.  Grabs are
// capped at maxFPS when it is positive.  A manifest lands beside the
// frames; the returned copy carries the folder they are in.
func CaptureSweep(r *rig.Rig, spec autofocus.ScanSpec, outDir string, maxFPS float64) (Manifest, error) {
	positions, err := autofocus.Positions(spec)
	if err != nil {
		return Manifest{}, err
	}
	rec := &imgrec.Recorder{Root: outDir, Enabled: true}
	var limiter *rate.Limiter
	if maxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxFPS), 1)
	}
	man := Manifest{Spec: spec, When: time.Now().UTC()}
	for i, z := range positions {
		if limiter != nil {
			if err := limiter.Wait(context.Background()); err != nil {
				return Manifest{}, err
			}
		}
		if err := r.Axis.MoveTo(z); err != nil {
			return Manifest{}, fmt.Errorf("workflow: moving to %v: %w", z, err)
		}
		frame, err := r.Cam.Grab()
		if err != nil {
			return Manifest{}, fmt.Errorf("workflow: grab at %v: %w", z, err)
		}
		stem := FrameName(z, i)
		pngPath, err := rec.WriteImage(frame, stem+".png")
		if err != nil {
			return Manifest{}, fmt.Errorf("workflow: recording %s: %w", stem, err)
		}
		_, err = rec.WriteFITS(frame, stem+".fits", []fitsio.Card{
			{Name: "Z", Value: z, Comment: "commanded focus position"},
			{Name: "INDEX", Value: i, Comment: "sweep frame index"},
		})
		if err != nil {
			return Manifest{}, fmt.Errorf("workflow: recording %s: %w", stem, err)
		}
		man.Frames = append(man.Frames, SweepFrame{
			Index: i,
			Z:     z,
			PNG:   filepath.Base(pngPath),
			FITS:  stem + ".fits",
		})
	}
	dn, err := rec.Dir()
	if err != nil {
		return Manifest{}, err
	}
	man.Dir = dn
	if err := writeJSON(filepath.Join(dn, ManifestFile), man); err != nil {
		return Manifest{}, err
	}
	return man, nil
}

// Plan returns the manifest a capture sweep of spec would produce,
// without moving anything or writing anything.
func Plan(spec autofocus.ScanSpec) (Manifest, error) {
	positions, err := autofocus.Positions(spec)
	if err != nil {
		return Manifest{}, err
	}
	man := Manifest{Spec: spec, When: time.Now().UTC()}
	for i, z := range positions {
		stem := FrameName(z, i)
		man.Frames = append(man.Frames, SweepFrame{
			Index: i,
			Z:     z,
			PNG:   stem + ".png",
			FITS:  stem + ".fits",
		})
	}
	return man, nil
}

func report(res autofocus.Result, frame image.Image, outDir string) (Report, error) {
	curve, err := mtf.Estimate(floatimg.FromImage(frame), mtf.Params{})
	if err != nil {
		return Report{}, fmt.Errorf("workflow: estimating MTF: %w", err)
	}
	if err := writeArtifacts(outDir, res, curve, frame); err != nil {
		return Report{}, err
	}
	return Report{AF: res, Curve: curve, Dir: outDir}, nil
}

func writeArtifacts(dir string, res autofocus.Result, curve mtf.Curve, frame image.Image) error {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	err := writeCSV(filepath.Join(dir, TraceFile),
		[]string{"position", "metric"}, res.Positions, res.Metrics)
	if err != nil {
		return err
	}
	err = writeCSV(filepath.Join(dir, CurveFile),
		[]string{"freq", "mod"}, curve.Freq, curve.Mod)
	if err != nil {
		return err
	}
	s := Summary{
		BestPos:     res.BestPos,
		BestMetric:  res.BestMetric,
		Samples:     len(res.Positions),
		CurvePoints: len(curve.Freq),
		When:        time.Now().UTC(),
	}
	if err := writeJSON(filepath.Join(dir, SummaryFile), s); err != nil {
		return err
	}
	preview := imaging.Resize(frame, previewWidth, 0, imaging.Lanczos)
	return imaging.Save(preview, filepath.Join(dir, PreviewFile))
}

func writeCSV(path string, header []string, cols ...[]float64) error {
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fid.Close()
	cw := csv.NewWriter(fid)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for i := 0; i < len(cols[0]); i++ {
		for j, col := range cols {
			row[j] = strconv.FormatFloat(col[i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(path string, v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0666)
}
