package camera

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunipkm/asicam-v2/imgdata"
)

// InvalidTemperature is reported when the sensor temperature cannot be read.
const InvalidTemperature = -273.0

var (
	// ErrNotInitialized is returned for operations on a session whose
	// driver never completed initialization
	ErrNotInitialized = errors.New("camera: session not initialized")

	// ErrCapturing is returned when a configuration change is rejected
	// because a capture is in progress
	ErrCapturing = errors.New("camera: capture in progress")

	// ErrBinMismatch is returned when the requested bin factors differ
	ErrBinMismatch = errors.New("camera: bin factors must be equal")
)

// ErrUnsupportedBin is returned when the requested bin factor is not in
// the sensor's supported set.
type ErrUnsupportedBin struct {
	// Bin is the rejected factor
	Bin int
}

func (e ErrUnsupportedBin) Error() string {
	return fmt.Sprintf("camera: bin factor %d not supported by sensor", e.Bin)
}

// Session drives exposures against a Driver.  It owns the capture state
// machine, serializes configuration changes against in-flight captures,
// and retains the last downloaded frame as a shared immutable snapshot.
//
// Exactly one capture worker may be active at a time; the capturing flag
// is checked (and claimed) before launch and capLock is held for the full
// arm to download sequence.
type Session struct {
	drv Driver
	log *log.Logger

	// capLock is held for the full arm->download sequence; it also
	// serializes ROI/binning/exposure changes against an in-flight capture
	capLock sync.Mutex

	// roiMu guards the stored ROI fields, which are always multiples of
	// the active bin factor
	roiMu     sync.Mutex
	roiLeft   int
	roiRight  int
	roiTop    int
	roiBottom int
	binX      int
	binY      int

	// exposureNs and capturing cross goroutines; atomics only
	exposureNs atomic.Int64
	capturing  atomic.Bool
	darkFrame  atomic.Bool

	initialized bool

	statusMu sync.Mutex
	status   string

	lastMu sync.Mutex
	last   *imgdata.Buffer
}

// NewSession initializes a capture session: full-frame ROI at bin 1 and a
// 1 ms starting exposure.  lg receives one line per state transition; nil
// discards them.
func NewSession(drv Driver, lg *log.Logger) (*Session, error) {
	if lg == nil {
		lg = log.New(io.Discard, "", 0)
	}
	s := &Session{drv: drv, log: lg}
	s.status = "Camera not initialized"
	w := drv.SensorWidth()
	h := drv.SensorHeight()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("camera: invalid sensor geometry %dx%d", w, h)
	}
	if err := drv.SetExposure(time.Millisecond); err != nil {
		return nil, fmt.Errorf("camera: setting initial exposure: %w", err)
	}
	if err := drv.SetROIFormat(w, h, 1); err != nil {
		return nil, fmt.Errorf("camera: setting full-frame ROI: %w", err)
	}
	if err := drv.SetStartPos(0, 0); err != nil {
		return nil, fmt.Errorf("camera: setting ROI origin: %w", err)
	}
	s.exposureNs.Store(int64(time.Millisecond))
	s.roiLeft = 0
	s.roiTop = 0
	s.roiRight = w
	s.roiBottom = h
	s.binX = 1
	s.binY = 1
	s.initialized = true
	s.setStatus("Camera initialized")
	return s, nil
}

// setStatus records a state transition for observability.
func (s *Session) setStatus(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.statusMu.Lock()
	s.status = msg
	s.statusMu.Unlock()
	s.log.Printf("%s: %s", s.drv.Name(), msg)
}

// Status returns the current human-readable session status.
func (s *Session) Status() string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Name returns the connected camera's name.
func (s *Session) Name() string { return s.drv.Name() }

// Initialized reports whether the session completed initialization.
func (s *Session) Initialized() bool { return s.initialized }

// IsCapturing reports whether a capture worker is active.
func (s *Session) IsCapturing() bool { return s.capturing.Load() }

// Driver exposes the underlying hardware interface, for capability
// type-assertions (ThermalManager, ShutterController).
func (s *Session) Driver() Driver { return s.drv }

// GetExposure returns the currently programmed exposure time.
func (s *Session) GetExposure() time.Duration {
	return time.Duration(s.exposureNs.Load())
}

// SetExposure programs the integration time for subsequent captures.  It
// blocks while a capture is in flight; the exposure of the in-flight
// frame is unaffected.
func (s *Session) SetExposure(d time.Duration) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	min, max := s.drv.ExposureLimits()
	if d < min || d > max {
		return fmt.Errorf("camera: exposure %v outside supported range [%v, %v]", d, min, max)
	}
	s.capLock.Lock()
	defer s.capLock.Unlock()
	if err := s.drv.SetExposure(d); err != nil {
		s.setStatus("Failed to set exposure: %v", err)
		return err
	}
	s.exposureNs.Store(int64(d))
	s.setStatus("Set exposure to %v", d)
	return nil
}

// SetGainRaw programs the raw gain value for subsequent captures.
func (s *Session) SetGainRaw(gain int64) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	min, max := s.drv.GainLimits()
	if gain < min || gain > max {
		return fmt.Errorf("camera: gain %d outside supported range [%d, %d]", gain, min, max)
	}
	s.capLock.Lock()
	defer s.capLock.Unlock()
	return s.drv.SetGainRaw(gain)
}

// SetShutterOpen opens or closes the shutter.  Cameras without a
// mechanical shutter emulate a closed shutter by taking dark frames.
func (s *Session) SetShutterOpen(open bool) error {
	if sc, ok := s.drv.(ShutterController); ok {
		return sc.SetShutterOpen(open)
	}
	s.darkFrame.Store(!open)
	return nil
}

// GetROI returns a snapshot of the active readout window.  The stored
// boundaries reflect exactly what hardware applied, renormalized to
// multiples of the bin factor.
func (s *Session) GetROI() ROI {
	s.roiMu.Lock()
	defer s.roiMu.Unlock()
	return ROI{
		XMin: s.roiLeft, XMax: s.roiRight,
		YMin: s.roiTop, YMax: s.roiBottom,
		BinX: s.binX, BinY: s.binY,
	}
}

// LastImage returns the most recently completed frame, or nil if none has
// completed yet.  The returned buffer is a shared snapshot: readers see
// either the previous completed frame or the new one, never a partially
// constructed one.
func (s *Session) LastImage() *imgdata.Buffer {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

// StartCapture drives one exposure.  If a capture is already in progress
// or the session is uninitialized it returns an empty buffer immediately
// without starting a second worker.
//
// With blocking true the full exposure and download runs on a worker which
// is joined immediately: the calling goroutine is blocked for the whole
// duration and receives the finished frame.  With blocking false the
// worker is detached and cb (if non-nil) receives the frame and the
// active ROI once download completes; the empty return is immediate.
func (s *Session) StartCapture(blocking bool, cb CaptureCallback) *imgdata.Buffer {
	empty := &imgdata.Buffer{}
	if !s.initialized {
		s.setStatus("Camera not initialized")
		return empty
	}
	if !s.capturing.CompareAndSwap(false, true) {
		s.setStatus("Already capturing")
		return empty
	}
	if blocking {
		done := make(chan *imgdata.Buffer, 1)
		go func() { done <- s.captureWorker(nil) }()
		img := <-done
		if img == nil {
			return empty
		}
		return img
	}
	go s.captureWorker(cb)
	return empty
}

// CancelCapture requests cancellation of an in-flight exposure.  It is
// cooperative: the capture worker still runs its completion handling and
// reports the capture as failed.
func (s *Session) CancelCapture() {
	if !s.capturing.Load() {
		return
	}
	if err := s.drv.AbortExposure(); err != nil {
		s.log.Printf("%s: abort exposure: %v", s.drv.Name(), err)
	}
}

// pollInterval returns the completion-polling period for an exposure,
// tiered so short exposures are detected promptly and long ones do not
// burn CPU.
func pollInterval(texp time.Duration) time.Duration {
	switch {
	case texp < time.Millisecond:
		return time.Millisecond
	case texp < time.Second:
		return 100 * time.Millisecond
	default:
		return time.Second
	}
}

// captureWorker runs the arm -> poll -> download sequence.  The capturing
// flag has been claimed by the caller; the worker owns releasing it.
func (s *Session) captureWorker(cb CaptureCallback) *imgdata.Buffer {
	s.capLock.Lock()
	defer s.capLock.Unlock()
	defer s.capturing.Store(false)

	st, err := s.drv.ExposureStatus()
	if err != nil {
		s.setStatus("Failed to get exposure status: %v", err)
		return nil
	}
	if st == ExpWorking {
		s.setStatus("Exposure already in progress")
		return nil
	}
	if st == ExpFailed {
		s.setStatus("Last exposure attempt failed, restarting exposure")
	}

	texp := time.Duration(s.exposureNs.Load())
	start := uint64(time.Now().UnixMilli())
	if err := s.drv.StartExposure(s.darkFrame.Load()); err != nil {
		s.setStatus("Failed to start exposure: %v", err)
		return nil
	}
	s.setStatus("Exposure started, waiting for %v", texp)

	tick := pollInterval(texp)
	for {
		st, err = s.drv.ExposureStatus()
		if err != nil || st != ExpWorking {
			break
		}
		time.Sleep(tick)
	}
	if err != nil {
		s.setStatus("Failed to get exposure status: %v", err)
		return nil
	}
	switch st {
	case ExpFailed:
		s.setStatus("Exposure failed")
		return nil
	case ExpIdle:
		s.setStatus("Exposure was successful but no data is available")
		return nil
	case ExpSuccess:
		// fall through to download
	default:
		s.setStatus("Unknown exposure status %v", st)
		return nil
	}

	s.setStatus("Exposure successful, downloading image")
	raw := make([]uint16, s.drv.SensorWidth()*s.drv.SensorHeight())
	if err := s.drv.Download(raw); err != nil {
		s.setStatus("Failed to download image: %v", err)
		return nil
	}

	s.roiMu.Lock()
	iwid := (s.roiRight - s.roiLeft) / s.binX
	ihei := (s.roiBottom - s.roiTop) / s.binY
	meta := imgdata.Metadata{
		ExposureTime: texp.Seconds(),
		BinX:         s.binX,
		BinY:         s.binY,
		ImgLeft:      s.roiLeft / s.binX,
		ImgTop:       s.roiTop / s.binY,
		Timestamp:    start,
		CameraName:   s.drv.Name(),
	}
	s.roiMu.Unlock()

	// temperature is read live at download time; everything else was
	// snapshotted at exposure start
	if t, err := s.drv.Temperature(); err == nil {
		meta.Temperature = t
	} else {
		meta.Temperature = InvalidTemperature
	}
	if g, err := s.drv.GainRaw(); err == nil {
		meta.Gain = g
	}
	if o, err := s.drv.Offset(); err == nil {
		meta.Offset = o
	}
	gmin, gmax := s.drv.GainLimits()
	meta.MinGain = int(gmin)
	meta.MaxGain = int(gmax)

	img := imgdata.New(iwid, ihei, raw[:iwid*ihei], meta, false)
	s.lastMu.Lock()
	s.last = img
	s.lastMu.Unlock()
	s.setStatus("Image downloaded")
	if cb != nil {
		cb(img, s.GetROI())
	}
	return img
}

// SetBinningAndROI reconfigures the readout window and bin factor.  The
// bounds are in unbinned sensor coordinates; zero or negative maxima span
// to the sensor edge.  The change is rejected while a capture is in
// progress and on invalid dimensions.  On partial hardware failure the
// previous configuration is restored so the stored state never disagrees
// with the hardware.
func (s *Session) SetBinningAndROI(binX, binY, xmin, xmax, ymin, ymax int) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if binX != binY {
		return ErrBinMismatch
	}
	supported := false
	for _, b := range s.drv.SupportedBins() {
		if b == binX {
			supported = true
			break
		}
	}
	if !supported {
		return ErrUnsupportedBin{Bin: binX}
	}
	if s.capturing.Load() {
		return ErrCapturing
	}
	if !s.capLock.TryLock() {
		return ErrCapturing
	}
	defer s.capLock.Unlock()

	if xmax <= 0 {
		xmax = s.drv.SensorWidth()
	}
	if ymax <= 0 {
		ymax = s.drv.SensorHeight()
	}

	bxmin := xmin / binX
	bxmax := xmax / binX
	bymin := ymin / binY
	bymax := ymax / binY
	wid := bxmax - bxmin
	hei := bymax - bymin
	if wid <= 0 || hei <= 0 {
		return fmt.Errorf("camera: empty ROI %dx%d after binning", wid, hei)
	}

	oldW, oldH, oldBin, err := s.drv.ROIFormat()
	if err != nil {
		return fmt.Errorf("camera: reading current ROI format: %w", err)
	}
	if err := s.drv.SetROIFormat(wid, hei, binX); err != nil {
		return fmt.Errorf("camera: setting ROI format: %w", err)
	}
	if err := s.drv.SetStartPos(bxmin, bymin); err != nil {
		if rerr := s.drv.SetROIFormat(oldW, oldH, oldBin); rerr != nil {
			return fmt.Errorf("camera: setting ROI origin failed (%v) and restore failed: %w", err, rerr)
		}
		return fmt.Errorf("camera: setting ROI origin: %w", err)
	}

	// store exactly what hardware applied: boundaries renormalized to
	// multiples of the bin factor
	s.roiMu.Lock()
	s.roiLeft = bxmin * binX
	s.roiRight = (bxmin + wid) * binX
	s.roiTop = bymin * binY
	s.roiBottom = (bymin + hei) * binY
	s.binX = binX
	s.binY = binY
	s.roiMu.Unlock()
	s.setStatus("ROI set to (%d, %d)-(%d, %d) bin %d", bxmin*binX, bymin*binY, (bxmin+wid)*binX, (bymin+hei)*binY, binX)
	return nil
}
