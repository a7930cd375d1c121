package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sunipkm/asicam-v2/camera"
	"github.com/sunipkm/asicam-v2/generichttp"
	httpcamera "github.com/sunipkm/asicam-v2/generichttp/camera"
	"github.com/sunipkm/asicam-v2/imgdata"
	"github.com/sunipkm/asicam-v2/imgrec"
	"github.com/sunipkm/asicam-v2/server"
	"github.com/sunipkm/asicam-v2/sim"
	"github.com/sunipkm/asicam-v2/util"

	"github.com/cenkalti/backoff"
	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/maruel/interrupt"
	"golang.org/x/time/rate"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "2"

	// ConfigFileName is what it sounds like
	ConfigFileName = "asicam-http.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// SyncOnWrite flushes each file before moving on
	SyncOnWrite bool `yaml:"SyncOnWrite"`

	// Enabled turns automatic recording on
	Enabled bool `yaml:"Enabled"`
}

type loop struct {
	// Enabled runs the background capture loop
	Enabled bool `yaml:"Enabled"`

	// CadenceSec is the seconds between capture starts
	CadenceSec float64 `yaml:"CadenceSec"`

	// AutoExposure adjusts exposure and binning between frames
	AutoExposure bool `yaml:"AutoExposure"`

	// PercentilePixel is the brightness percentile steered to target
	PercentilePixel float64 `yaml:"PercentilePixel"`

	// PixelTarget is the desired value of the percentile pixel
	PixelTarget int `yaml:"PixelTarget"`

	// MaxExposureSec caps the computed exposure
	MaxExposureSec float64 `yaml:"MaxExposureSec"`

	// MaxBin caps the computed bin factor
	MaxBin int `yaml:"MaxBin"`

	// PixelExclusion is the count of brightest pixels ignored as hot
	PixelExclusion int `yaml:"PixelExclusion"`

	// TargetUncertainty is the deadband around PixelTarget
	TargetUncertainty int `yaml:"TargetUncertainty"`
}

type config struct {
	Addr            string   `yaml:"Addr"`
	Root            string   `yaml:"Root"`
	CameraName      string   `yaml:"CameraName"`
	Seed            int64    `yaml:"Seed"`
	InitialExposure string   `yaml:"InitialExposure"`
	Gain            int64    `yaml:"Gain"`
	Recorder        recorder `yaml:"Recorder"`
	Loop            loop     `yaml:"Loop"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:            ":8000",
		Root:            "/",
		CameraName:      "asicam-sim",
		Seed:            1,
		InitialExposure: "100ms",
		Gain:            100,
		Recorder:        recorder{Root: "./fits", Prefix: "asicam"},
		Loop: loop{
			CadenceSec:        10,
			AutoExposure:      true,
			PercentilePixel:   80,
			PixelTarget:       40000,
			MaxExposureSec:    10,
			MaxBin:            4,
			PixelExclusion:    100,
			TargetUncertainty: 5000,
		}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `asicam-http exposes control of astronomy cameras over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	asicam-http <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `asicam-http is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

With Loop.Enabled, the server captures a frame every CadenceSec seconds in the
background in addition to serving on-demand captures over HTTP.  With
Loop.AutoExposure, each background frame steers the exposure time and bin factor
so that the PercentilePixel brightest percentile sits at PixelTarget counts.

With Recorder.Enabled, every frame is written as FITS under Recorder.Root in
daily subfolders.  Existing files are never overwritten; colliding names get a
numeric suffix.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
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
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("asicam-http version %v\n", Version)
}

// captureOnce drives one blocking capture, retrying transient failures
// with exponential backoff.
func captureOnce(sess *camera.Session) (*imgdata.Buffer, error) {
	var img *imgdata.Buffer
	op := func() error {
		if interrupt.IsSet() {
			return backoff.Permanent(fmt.Errorf("interrupted"))
		}
		img = sess.StartCapture(true, nil)
		if !img.HasData() {
			return fmt.Errorf("capture failed: %s", sess.Status())
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	return img, err
}

// steerExposure recomputes the optimum exposure and bin factor from the
// last frame and applies them for the next one.
func steerExposure(sess *camera.Session, img *imgdata.Buffer, cfg loop) {
	oec := imgdata.OptimumExposureConfig{
		PercentilePixel:        cfg.PercentilePixel,
		PixelTarget:            cfg.PixelTarget,
		MaxAllowedExposure:     cfg.MaxExposureSec,
		MaxAllowedBin:          cfg.MaxBin,
		NumPixelExclusion:      cfg.PixelExclusion,
		PixelTargetUncertainty: cfg.TargetUncertainty,
	}
	texp, bin := img.FindOptimumExposure(oec)
	roi := sess.GetROI()
	if bin != roi.BinX || bin != roi.BinY {
		err := sess.SetBinningAndROI(bin, bin, roi.XMin, roi.XMax, roi.YMin, roi.YMax)
		if err != nil {
			log.Printf("auto-exposure: bin change to %d rejected: %v", bin, err)
		}
	}
	if err := sess.SetExposure(util.SecsToDuration(texp)); err != nil {
		log.Printf("auto-exposure: exposure change to %.3fs rejected: %v", texp, err)
	}
}

// captureLoop captures frames at a fixed cadence until interrupted,
// recording and auto-exposing per the config.
func captureLoop(sess *camera.Session, rec *imgrec.Recorder, cfg loop) {
	limiter := rate.NewLimiter(rate.Every(util.SecsToDuration(cfg.CadenceSec)), 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-interrupt.Channel
		cancel()
		sess.CancelCapture()
	}()
	for !interrupt.IsSet() {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		img, err := captureOnce(sess)
		if err != nil {
			log.Printf("capture loop: giving up on frame: %v", err)
			continue
		}
		if rec != nil && rec.Enabled {
			path, err := rec.Save(img)
			if err != nil {
				log.Printf("capture loop: failed to record frame: %v", err)
			} else {
				log.Printf("capture loop: wrote %s", path)
			}
		}
		if cfg.AutoExposure {
			steerExposure(sess, img, cfg)
		}
	}
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)

	cam := sim.New(cfg.CameraName, cfg.Seed)
	sess, err := camera.NewSession(cam, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		log.Fatal(err)
	}
	texp, err := time.ParseDuration(cfg.InitialExposure)
	if err != nil {
		log.Fatal(err)
	}
	if err := sess.SetExposure(texp); err != nil {
		log.Fatal(err)
	}
	if err := sess.SetGainRaw(cfg.Gain); err != nil {
		log.Fatal(err)
	}

	args := cfg.Recorder
	rec := &imgrec.Recorder{Root: args.Root, Prefix: args.Prefix, SyncOnWrite: args.SyncOnWrite, Enabled: args.Enabled}
	w := httpcamera.NewHTTPCamera(sess, rec)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	rootR := chi.NewRouter()
	rootR.Mount(hndlrS, server.BuildMux(w.RouteTable))

	interrupt.HandleCtrlC()
	if cfg.Loop.Enabled {
		go captureLoop(sess, rec, cfg.Loop)
	}

	addr := cfg.Addr + cfg.Root
	log.Println("now listening for requests at ", addr)
	srv := &http.Server{Addr: cfg.Addr, Handler: rootR}
	go func() {
		<-interrupt.Channel
		srv.Close()
	}()
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
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
