/*Package focusmon contains the machinery for a focus drift monitor.

It grabs a frame every <cadence>, scores it with a sharpness metric,
and stores up to N samples with timestamps and axis positions to return
over HTTP.  The trace is the first thing to look at when overnight MTF
numbers disagree with the afternoon's.
*/
package focusmon

import (
	"encoding/csv"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/brandondube/ringo"

	"github.com/opticslab/starbench/camera"
	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/generichttp"
	"github.com/opticslab/starbench/sharpness"
)

// Monitor samples sharpness on a fixed cadence into ring buffers.
type Monitor struct {
	mu sync.Mutex

	// S holds the sharpness samples
	S ringo.CircleF64

	// Z holds the axis positions, zero when the monitor has no
	// position source
	Z ringo.CircleF64

	// Time holds the sample timestamps
	Time ringo.CircleTime

	cam     camera.Camera
	pos     func() (float64, error)
	metric  sharpness.Metric
	cadence time.Duration
	ticker  *time.Ticker
	stop    chan struct{}
	rt      generichttp.RouteTable
}

type trace struct {
	Sharpness []float64   `json:"sharpness"`
	Z         []float64   `json:"z"`
	Time      []time.Time `json:"timestamp"`
}

// New creates a monitor sampling cam with m every cadence, keeping the
// last capacity samples.  pos supplies the axis position per sample and
// may be nil.
func New(cam camera.Camera, pos func() (float64, error), m sharpness.Metric, cadence time.Duration, capacity int) *Monitor {
	mon := &Monitor{
		cam:     cam,
		pos:     pos,
		metric:  m,
		cadence: cadence,
		stop:    make(chan struct{}),
	}
	mon.S.Init(capacity)
	mon.Z.Init(capacity)
	mon.Time.Init(capacity)
	mon.rt = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/trace"}: mon.HTTPTrace,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/csv"}:   mon.HTTPCSV,
	}
	return mon
}

// RT satisfies generichttp.HTTPer.
func (m *Monitor) RT() generichttp.RouteTable {
	return m.rt
}

// Start triggers operation of the monitor.
func (m *Monitor) Start() {
	m.ticker = time.NewTicker(m.cadence)
	go m.runner()
}

// Stop kills a running monitor.  It may be restarted.
func (m *Monitor) Stop() {
	m.stop <- struct{}{}
}

func (m *Monitor) runner() {
	defer m.ticker.Stop()
	for {
		select {
		case t := <-m.ticker.C:
			m.sample(t)
		case <-m.stop:
			return
		}
	}
}

// sample grabs and scores one frame.  Errors are logged and the tick
// skipped; a flaky camera leaves gaps, not a dead monitor.
func (m *Monitor) sample(t time.Time) {
	img, err := m.cam.Grab()
	if err != nil {
		log.Printf("focusmon: grabbing frame: %v", err)
		return
	}
	v, err := m.metric.Evaluate(floatimg.FromImage(img))
	if err != nil {
		log.Printf("focusmon: scoring frame: %v", err)
		return
	}
	z := 0.0
	if m.pos != nil {
		zz, err := m.pos()
		if err != nil {
			log.Printf("focusmon: reading axis position: %v", err)
		} else {
			z = zz
		}
	}
	m.mu.Lock()
	m.Time.Append(t)
	m.S.Append(v)
	m.Z.Append(z)
	m.mu.Unlock()
}

// snapshot copies the buffers under the lock.
func (m *Monitor) snapshot() trace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return trace{
		Sharpness: m.S.Contiguous(),
		Z:         m.Z.Contiguous(),
		Time:      m.Time.Contiguous(),
	}
}

// HTTPTrace returns the buffered samples as arrays of sharpness, z,
// and timestamp.
func (m *Monitor) HTTPTrace(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(m.snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPCSV returns the buffered samples as CSV with a header row.
func (m *Monitor) HTTPCSV(w http.ResponseWriter, r *http.Request) {
	tr := m.snapshot()
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	cw.Write([]string{"timestamp", "z", "sharpness"})
	for i := range tr.Time {
		cw.Write([]string{
			tr.Time[i].Format(time.RFC3339Nano),
			strconv.FormatFloat(tr.Z[i], 'g', -1, 64),
			strconv.FormatFloat(tr.Sharpness[i], 'g', -1, 64),
		})
	}
	cw.Flush()
}
