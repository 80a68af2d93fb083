package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/opticslab/starbench/rig"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "benchsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(rig.Config{
		Addr: ":8000"}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `benchsrv exposes an optical bench over HTTP: a focus stage, a camera
imaging a Siemens star target, and the measurement routines coupling
them, autofocus sweeps, MTF estimation and a focus drift monitor.
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	benchsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `benchsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration the server runs a fully simulated bench: a sim
stage and a sim camera whose star blurs with distance from best focus.

Stage types, case insensitive:
- Physik Instrumente
	> GCS2 controllers over TCP or serial "gcs", "pi"
	> GCS2 controllers over USB "gcs-usb"
- Modbus RTU
	> single axis register mapped drives "rtu", "modbus"
- Simulated
	> "sim", or leave the type empty

Camera types:
- Simulated star camera "sim", or leave the type empty
- Directory of previously captured frames "stack"

The stage serves under stage.endpoint (default /stage), the camera under
camera.endpoint (default /camera), measurements under bench.endpoint
(default /bench) and the drift monitor, when monitor.enabled is true,
under monitor.endpoint (default /focus).  GET /endpoints lists every
route on the server.

Software travel limits live under stage.limits, keyed by axis name with
min and max fields.  Every node carries a lock at <stem>/lock; a locked
node sheds traffic with HTTP 423 until unlocked.

Set record.root to save every FITS frame served; the recorder can be
toggled at runtime via the camera node's /autowrite routes.`
	fmt.Println(str)
}

func mkconf() {
	c := rig.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := rig.Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("benchsrv version %v\n", Version)
}

func run() {
	c := rig.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux, err := rig.BuildMux(c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
