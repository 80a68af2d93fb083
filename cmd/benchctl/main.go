package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/opticslab/starbench/autofocus"
	"github.com/opticslab/starbench/camera/stack"
	"github.com/opticslab/starbench/floatimg"
	"github.com/opticslab/starbench/mtf"
	"github.com/opticslab/starbench/rig"
	"github.com/opticslab/starbench/workflow"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is shared with benchsrv; both describe the same rig
	ConfigFileName = "benchsrv.yml"
)

func loadconfig(path string) rig.Config {
	k := koanf.New(".")
	k.Load(structs.Provider(rig.Config{Addr: ":8000"}, "koanf"), nil)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	c := rig.Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func openRig(cfgPath string) *rig.Rig {
	r, err := rig.Open(loadconfig(cfgPath))
	if err != nil {
		log.Fatal(err)
	}
	return r
}

func spinner(suffix, msg string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[59],
		Suffix:            " " + suffix,
		SuffixAutoColon:   true,
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	s.Start()
	return s
}

func stopSpinner(s *yacspin.Spinner, err error) {
	if err != nil {
		s.StopFail()
		return
	}
	s.Stop()
}

// frameOf reads a frame from the path when one is given, otherwise it
// grabs one from the configured rig's camera.
func frameOf(cfgPath, in string) floatimg.Gray {
	if in != "" {
		img, err := imaging.Open(in)
		if err != nil {
			log.Fatal(err)
		}
		return floatimg.FromImage(img)
	}
	img, err := openRig(cfgPath).Cam.Grab()
	if err != nil {
		log.Fatal(err)
	}
	return floatimg.FromImage(img)
}

func printCSV(header []string, cols ...[]float64) {
	cw := csv.NewWriter(os.Stdout)
	cw.Write(header)
	row := make([]string, len(cols))
	for i := 0; i < len(cols[0]); i++ {
		for j, col := range cols {
			row[j] = strconv.FormatFloat(col[i], 'g', -1, 64)
		}
		cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Fatal(err)
	}
}

func printReport(rep workflow.Report) {
	fmt.Printf("best focus %v, metric %v, %d samples\n",
		rep.AF.BestPos, rep.AF.BestMetric, len(rep.AF.Positions))
	fmt.Printf("artifacts in %s\n", rep.Dir)
}

func cmdAF(args []string) {
	fs := flag.NewFlagSet("af", flag.ExitOnError)
	cfg := fs.String("config", ConfigFileName, "rig config file")
	start := fs.Float64("start", -1, "scan start position")
	stop := fs.Float64("stop", 1, "scan stop position")
	step := fs.Float64("step", 0.1, "scan step")
	out := fs.String("out", "af-run", "artifact directory")
	fs.Parse(args)

	r := openRig(*cfg)
	spec := autofocus.ScanSpec{Start: *start, Stop: *stop, Step: *step}
	s := spinner("autofocus", fmt.Sprintf("sweeping %v to %v", spec.Start, spec.Stop))
	rep, err := workflow.FocusAndMTFLive(r, spec, *out)
	stopSpinner(s, err)
	if err != nil {
		log.Fatal(err)
	}
	printReport(rep)
}

func cmdAFStack(args []string) {
	fs := flag.NewFlagSet("afstack", flag.ExitOnError)
	dir := fs.String("dir", "", "directory of recorded frames (required)")
	zstart := fs.Float64("zstart", 0, "position of the first frame")
	zstop := fs.Float64("zstop", 1, "position of the last frame")
	out := fs.String("out", "af-run", "artifact directory")
	fs.Parse(args)
	if *dir == "" {
		log.Fatal("afstack requires -dir")
	}

	frames, err := stack.Open(*dir)
	if err != nil {
		log.Fatal(err)
	}
	s := spinner("autofocus", fmt.Sprintf("scoring %d frames", frames.Len()))
	rep, err := workflow.FocusAndMTF(frames, *zstart, *zstop, *out)
	stopSpinner(s, err)
	if err != nil {
		log.Fatal(err)
	}
	printReport(rep)
}

func cmdMTF(args []string) {
	fs := flag.NewFlagSet("mtf", flag.ExitOnError)
	cfg := fs.String("config", ConfigFileName, "rig config file")
	in := fs.String("in", "", "frame to analyze; empty grabs one from the rig camera")
	radii := fs.Int("radii", 0, "radii in the sweep, 0 for the default")
	angles := fs.Int("angles", 0, "circular samples per radius, 0 for the default")
	fs.Parse(args)

	curve, err := mtf.Estimate(frameOf(*cfg, *in), mtf.Params{NumRadii: *radii, NumAngles: *angles})
	if err != nil {
		log.Fatal(err)
	}
	printCSV([]string{"freq", "mod"}, curve.Freq, curve.Mod)
}

func cmdSpectrum(args []string) {
	fs := flag.NewFlagSet("spectrum", flag.ExitOnError)
	cfg := fs.String("config", ConfigFileName, "rig config file")
	in := fs.String("in", "", "frame to analyze; empty grabs one from the rig camera")
	radius := fs.Float64("radius", 0, "sampling radius in pixels, 0 for the default ring")
	angles := fs.Int("angles", 0, "circular samples, 0 for the default")
	fs.Parse(args)

	freq, mag, err := mtf.Spectrum(frameOf(*cfg, *in), mtf.SpectrumParams{Radius: *radius, NumAngles: *angles})
	if err != nil {
		log.Fatal(err)
	}
	printCSV([]string{"freq", "mag"}, freq, mag)
}

func cmdSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	cfg := fs.String("config", ConfigFileName, "rig config file")
	start := fs.Float64("start", -1, "scan start position")
	stop := fs.Float64("stop", 1, "scan stop position")
	step := fs.Float64("step", 0.1, "scan step")
	out := fs.String("out", "sweep", "recording directory")
	fps := fs.Float64("fps", 0, "frame rate cap, 0 for unlimited")
	fs.Parse(args)

	r := openRig(*cfg)
	spec := autofocus.ScanSpec{Start: *start, Stop: *stop, Step: *step}
	s := spinner("sweep", fmt.Sprintf("capturing %v to %v", spec.Start, spec.Stop))
	man, err := workflow.CaptureSweep(r, spec, *out, *fps)
	stopSpinner(s, err)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%d frames in %s\n", len(man.Frames), man.Dir)
}

func cmdPlan(args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	start := fs.Float64("start", -1, "scan start position")
	stop := fs.Float64("stop", 1, "scan stop position")
	step := fs.Float64("step", 0.1, "scan step")
	fs.Parse(args)

	man, err := workflow.Plan(autofocus.ScanSpec{Start: *start, Stop: *stop, Step: *step})
	if err != nil {
		log.Fatal(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(man); err != nil {
		log.Fatal(err)
	}
}

func cmdMkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(rig.Config{Addr: ":8000"})
	if err != nil {
		log.Fatal(err)
	}
}

func root() {
	str := `benchctl drives an optical bench from the command line: autofocus
sweeps, MTF estimation, and sweep capture, live against configured
hardware or offline against recorded frames.

Usage:
	benchctl <command> [flags]

Commands:
	af        live autofocus sweep, then MTF at best focus
	afstack   autofocus over a directory of recorded frames
	mtf       MTF curve of a single frame
	spectrum  ring spectrum diagnostic of a single frame
	sweep     capture a focus sweep to disk
	plan      print the frames a sweep would capture
	mkconf
	version

Run benchctl <command> -h for the flags of each command.`
	fmt.Println(str)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	rest := args[2:]
	switch cmd {
	case "af":
		cmdAF(rest)
	case "afstack":
		cmdAFStack(rest)
	case "mtf":
		cmdMTF(rest)
	case "spectrum":
		cmdSpectrum(rest)
	case "sweep":
		cmdSweep(rest)
	case "plan":
		cmdPlan(rest)
	case "mkconf":
		cmdMkconf()
	case "version":
		fmt.Printf("benchctl version %v\n", Version)
	default:
		log.Fatal("unknown command")
	}
}
