// Command asicamtest exercises the capture pipeline end to end against
// the simulated camera and reports what ZWO hardware is on the USB bus.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/sunipkm/asicam-v2/asi"
	"github.com/sunipkm/asicam-v2/camera"
	"github.com/sunipkm/asicam-v2/sim"

	"github.com/theckman/yacspin"
)

func main() {
	var (
		texp    = flag.Duration("exposure", 500*time.Millisecond, "exposure time")
		gain    = flag.Int64("gain", 100, "raw gain")
		bin     = flag.Int("bin", 1, "bin factor")
		seed    = flag.Int64("seed", 1, "star field seed")
		outdir  = flag.String("out", "./fits", "directory to write the frame to")
		skipUSB = flag.Bool("no-usb", false, "skip the USB bus scan")
	)
	flag.Parse()

	if !*skipUSB {
		cams, err := asi.ListCameras()
		if err != nil {
			log.Printf("usb scan: %v", err)
		}
		if len(cams) == 0 {
			fmt.Println("no ZWO cameras on the USB bus, using simulator")
		}
		for _, c := range cams {
			fmt.Println("found", c)
		}
	}

	cam := sim.New("asicam-test", *seed)
	sess, err := camera.NewSession(cam, nil)
	if err != nil {
		log.Fatal(err)
	}
	if err := sess.SetExposure(*texp); err != nil {
		log.Fatal(err)
	}
	if err := sess.SetGainRaw(*gain); err != nil {
		log.Fatal(err)
	}
	if *bin > 1 {
		if err := sess.SetBinningAndROI(*bin, *bin, 0, 0, 0, 0); err != nil {
			log.Fatal(err)
		}
	}

	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " exposing",
		SuffixAutoColon: true,
		Message:         texp.String(),
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	img := sess.StartCapture(true, nil)
	spinner.Stop()
	if !img.HasData() {
		log.Fatalf("capture failed: %s", sess.Status())
	}

	st := img.Stats()
	fmt.Printf("%dx%d frame, min %d max %d mean %.1f stddev %.1f\n",
		img.Width(), img.Height(), st.Min, st.Max, st.Mean, st.StdDev)

	path, err := img.WriteFITS(false, *outdir, "asicam-test")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("wrote", path)
}
