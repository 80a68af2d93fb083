/*Package rig assembles a bench from configuration.

A rig is one focus stage and one camera, plus the measurement surface
coupling them.  Open constructs the backends a Config names; BuildMux
mounts each piece under its endpoint stem on a chi router, every node
behind its own lock and the stage behind its software travel limits.
*/
package rig

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/opticslab/starbench/camera"
	camsim "github.com/opticslab/starbench/camera/sim"
	"github.com/opticslab/starbench/camera/stack"
	"github.com/opticslab/starbench/focusmon"
	"github.com/opticslab/starbench/generichttp"
	"github.com/opticslab/starbench/generichttp/ascii"
	"github.com/opticslab/starbench/generichttp/bench"
	camhttp "github.com/opticslab/starbench/generichttp/camera"
	"github.com/opticslab/starbench/generichttp/locker"
	"github.com/opticslab/starbench/generichttp/motion"
	"github.com/opticslab/starbench/imgrec"
	"github.com/opticslab/starbench/sharpness"
	"github.com/opticslab/starbench/stage"
	"github.com/opticslab/starbench/stage/gcs"
	"github.com/opticslab/starbench/stage/rtu"
	stagesim "github.com/opticslab/starbench/stage/sim"
)

// StageConfig selects and parameterizes the focus stage.
type StageConfig struct {
	// Type is the backend tag: sim, gcs, gcs-usb, or rtu.  Empty means
	// sim.
	Type string `koanf:"type" yaml:"type"`

	// Addr is the network or filesystem address of the controller,
	// e.g. 192.168.100.123:50000, or /dev/ttyUSB0 when Serial
	Addr string `koanf:"addr" yaml:"addr"`

	// Serial selects RS232 framing over a TCP socket
	Serial bool `koanf:"serial" yaml:"serial"`

	// VID and PID identify a USB controller for the gcs-usb type
	VID int `koanf:"vid" yaml:"vid"`
	PID int `koanf:"pid" yaml:"pid"`

	// Axis is the focus axis name: a letter for GCS controllers, a
	// slave ID for RTU buses.  Empty picks the backend's first axis.
	Axis string `koanf:"axis" yaml:"axis"`

	// CountsPerUnit scales RTU register counts to engineering units
	CountsPerUnit float64 `koanf:"countsperunit" yaml:"countsperunit"`

	// Endpoint is the stem the motion routes are served under
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// Limits holds per-axis software travel limits
	Limits map[string]stage.Limiter `koanf:"limits" yaml:"limits"`
}

// CameraConfig selects and parameterizes the camera.
type CameraConfig struct {
	// Type is the backend tag: sim or stack.  Empty means sim.
	Type string `koanf:"type" yaml:"type"`

	// Endpoint is the stem the camera routes are served under
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// Dir is the frame directory for the stack type
	Dir string `koanf:"dir" yaml:"dir"`

	// Size and Cycles shape the simulated star
	Size   int `koanf:"size" yaml:"size"`
	Cycles int `koanf:"cycles" yaml:"cycles"`

	// BestFocus, SigmaPerUnit and Noise tune the simulated defocus
	BestFocus    float64 `koanf:"bestfocus" yaml:"bestfocus"`
	SigmaPerUnit float64 `koanf:"sigmaperunit" yaml:"sigmaperunit"`
	Noise        float64 `koanf:"noise" yaml:"noise"`
}

// BenchConfig parameterizes the measurement surface.
type BenchConfig struct {
	// Endpoint is the stem the measurement routes are served under
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// Settle is the pause between a move and the following grab, in
	// seconds
	Settle float64 `koanf:"settle" yaml:"settle"`
}

// MonitorConfig parameterizes the focus drift monitor.
type MonitorConfig struct {
	// Enabled turns the monitor on
	Enabled bool `koanf:"enabled" yaml:"enabled"`

	// Endpoint is the stem the trace routes are served under
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// Metric names the sharpness metric, target when empty
	Metric string `koanf:"metric" yaml:"metric"`

	// Cadence is the sampling period in seconds, 5 when zero
	Cadence float64 `koanf:"cadence" yaml:"cadence"`

	// Capacity is the number of samples kept, 3600 when zero
	Capacity int `koanf:"capacity" yaml:"capacity"`
}

// RecordConfig parameterizes the frame recorder.
type RecordConfig struct {
	// Root is the directory frames are recorded under; empty disables
	// recording entirely
	Root string `koanf:"root" yaml:"root"`

	// Prefix is the frame filename prefix
	Prefix string `koanf:"prefix" yaml:"prefix"`

	// Enabled arms the recorder at boot; it can be toggled over HTTP
	Enabled bool `koanf:"enabled" yaml:"enabled"`
}

// Config holds the initialization parameters for a bench rig.
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Mock substitutes simulators for both backends regardless of type
	Mock bool `koanf:"mock" yaml:"mock"`

	Stage   StageConfig   `koanf:"stage" yaml:"stage"`
	Camera  CameraConfig  `koanf:"camera" yaml:"camera"`
	Bench   BenchConfig   `koanf:"bench" yaml:"bench"`
	Monitor MonitorConfig `koanf:"monitor" yaml:"monitor"`
	Record  RecordConfig  `koanf:"record" yaml:"record"`
}

// BackendUnavailableError indicates a backend tag this process cannot
// construct, either unknown or excluded from the build.
type BackendUnavailableError struct {
	Tag    string
	Reason string
}

func (e BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %q unavailable: %s", e.Tag, e.Reason)
}

// Rig is an opened bench: the constructed backends behind a Config.
type Rig struct {
	// Stage is the motion controller
	Stage stage.Controller

	// Axis is the focus axis bound for scans
	Axis stage.Axis

	// Cam is the camera
	Cam camera.Camera

	// Rec is the frame recorder, nil when recording is unconfigured
	Rec *imgrec.Recorder

	// Mon is the focus monitor, nil unless enabled.  Open does not
	// start it.
	Mon *focusmon.Monitor
}

// Open constructs the backends c names.  It does not touch the network
// or bus; connections are deferred to first use like the drivers
// themselves do.
func Open(c Config) (*Rig, error) {
	r := &Rig{}
	if err := openStage(c, r); err != nil {
		return nil, err
	}
	if err := openCamera(c, r); err != nil {
		return nil, err
	}
	if c.Record.Root != "" {
		r.Rec = &imgrec.Recorder{
			Root:    c.Record.Root,
			Prefix:  c.Record.Prefix,
			Enabled: c.Record.Enabled,
		}
	}
	if c.Monitor.Enabled {
		name := c.Monitor.Metric
		if name == "" {
			name = "target"
		}
		m, err := sharpness.ByName(name)
		if err != nil {
			return nil, fmt.Errorf("rig: monitor: %w", err)
		}
		cadence := c.Monitor.Cadence
		if cadence <= 0 {
			cadence = 5
		}
		capacity := c.Monitor.Capacity
		if capacity <= 0 {
			capacity = 3600
		}
		r.Mon = focusmon.New(r.Cam, r.Axis.Position, m,
			time.Duration(cadence*float64(time.Second)), capacity)
	}
	return r, nil
}

func openStage(c Config, r *Rig) error {
	typ := strings.ToLower(c.Stage.Type)
	if c.Mock {
		typ = "sim"
	}
	axis := c.Stage.Axis
	switch typ {
	case "", "sim":
		r.Stage = stagesim.NewController()
	case "gcs", "pi":
		r.Stage = gcs.NewController(c.Stage.Addr, c.Stage.Serial)
	case "gcs-usb":
		ctl, err := gcs.NewUSBController(uint16(c.Stage.VID), uint16(c.Stage.PID))
		if err != nil {
			return fmt.Errorf("rig: opening USB stage: %w", err)
		}
		r.Stage = ctl
	case "rtu", "modbus":
		r.Stage = rtu.NewController(c.Stage.Addr, c.Stage.Serial, c.Stage.CountsPerUnit)
		if axis == "" {
			axis = "1"
		}
	default:
		return BackendUnavailableError{Tag: typ, Reason: "no stage backend registered for this tag"}
	}
	if axis == "" {
		axis = "A"
	}
	r.Axis = stage.Axis{Controller: r.Stage, Name: axis}
	return nil
}

func openCamera(c Config, r *Rig) error {
	typ := strings.ToLower(c.Camera.Type)
	if c.Mock {
		typ = "sim"
	}
	switch typ {
	case "", "sim":
		cam := camsim.New(c.Camera.Size, c.Camera.Cycles, r.Axis.Position)
		cam.BestFocus = c.Camera.BestFocus
		if c.Camera.SigmaPerUnit > 0 {
			cam.SigmaPerUnit = c.Camera.SigmaPerUnit
		}
		cam.Noise = c.Camera.Noise
		r.Cam = cam
	case "stack":
		s, err := stack.Open(c.Camera.Dir)
		if err != nil {
			return fmt.Errorf("rig: opening frame stack: %w", err)
		}
		r.Cam = s
	case "flir", "kinesis":
		return BackendUnavailableError{Tag: typ, Reason: "this build does not carry the vendor SDK"}
	default:
		return BackendUnavailableError{Tag: typ, Reason: "no camera backend registered for this tag"}
	}
	return nil
}

// stem falls back to def when s is empty.
func stem(s, def string) string {
	if s == "" {
		s = def
	}
	return generichttp.SubMuxSanitize(s)
}

// BuildMux opens the rig and returns a router with every node mounted
// under its endpoint stem.  The router serves a special route,
// /endpoints, which returns a map of stems to their routes as JSON.
// The focus monitor, when enabled, is started before this returns.
func BuildMux(c Config) (chi.Router, error) {
	r, err := Open(c)
	if err != nil {
		return nil, err
	}
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	mount := func(stem string, httper generichttp.HTTPer, mw ...func(http.Handler) http.Handler) {
		sub := chi.NewRouter()
		sub.Use(mw...)
		httper.RT().Bind(sub)
		supergraph[stem] = httper.RT().Endpoints()
		root.Mount(stem, sub)
	}

	// stage node: limits in front, then the lock
	stageHTTP := motion.NewHTTPMotionController(r.Stage)
	if rc, ok := r.Stage.(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(stageHTTP.RT(), rc)
	}
	limiter := motion.LimitMiddleware{Limits: c.Stage.Limits, Mov: r.Stage}
	limiter.Inject(stageHTTP)
	stageLock := locker.New()
	locker.Inject(stageHTTP, stageLock)
	mount(stem(c.Stage.Endpoint, "stage"), stageHTTP, limiter.Check, stageLock.Check)

	// camera node, with the recorder surface when one is configured
	camHTTP := camhttp.NewHTTPCamera(r.Cam, r.Rec)
	if r.Rec != nil {
		imgrec.NewHTTPWrapper(r.Rec).Inject(camHTTP)
	}
	camLock := locker.New()
	locker.Inject(camHTTP, camLock)
	mount(stem(c.Camera.Endpoint, "camera"), camHTTP, camLock.Check)

	// bench node: measurements over the same axis and camera
	b := bench.Bench{Axis: r.Axis, Cam: r.Cam}
	if c.Bench.Settle > 0 {
		b.Settle = stage.Settle(time.Duration(c.Bench.Settle * float64(time.Second)))
	}
	benchHTTP := bench.NewHTTPBench(b)
	benchLock := locker.New()
	locker.Inject(benchHTTP, benchLock)
	mount(stem(c.Bench.Endpoint, "bench"), benchHTTP, benchLock.Check)

	if r.Mon != nil {
		mount(stem(c.Monitor.Endpoint, "focus"), r.Mon)
		r.Mon.Start()
	}

	root.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root, nil
}
