// Command mkstack renders a synthetic focus stack: a Siemens star
// blurred more and more toward both ends of the stack, sharpest in the
// middle.  The frames are named like a capture sweep, so they feed
// directly into benchctl afstack or a stack camera.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/opticslab/starbench/mathx"
	"github.com/opticslab/starbench/siemens"
	"github.com/opticslab/starbench/workflow"
)

func main() {
	frames := flag.Int("frames", 9, "number of frames")
	size := flag.Int("size", 256, "frame side length in pixels")
	cycles := flag.Int("cycles", 32, "spoke pairs on the star")
	sigmaMax := flag.Float64("sigma", 6.0, "blur sigma at the stack ends, pixels")
	zstart := flag.Float64("zstart", -1, "position of the first frame")
	zstop := flag.Float64("zstop", 1, "position of the last frame")
	out := flag.String("out", "stack", "output directory")
	flag.Parse()

	if *frames < 2 {
		log.Fatal("need at least 2 frames")
	}
	if err := os.MkdirAll(*out, 0777); err != nil {
		log.Fatal(err)
	}
	star := siemens.Render(*size, *cycles)
	zs := mathx.Linspace(*zstart, *zstop, *frames)
	center := float64(*frames-1) / 2
	for i, z := range zs {
		sigma := math.Abs(float64(i)-center) / center * *sigmaMax
		name := workflow.FrameName(z, i) + ".png"
		if err := imaging.Save(imaging.Blur(star, sigma), filepath.Join(*out, name)); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Printf("%d frames in %s\n", *frames, *out)
}
