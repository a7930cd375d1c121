/*Package sim provides a software camera that implements camera.Driver
without hardware attached.

The simulated sensor renders a deterministic star field plus a sky
background whose counts scale linearly with exposure time and gain, so the
percentile auto-exposure loop behaves the way it does on a real sky.  It
is used for development and in tests.
*/
package sim

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sunipkm/asicam-v2/camera"
)

// ErrNotExposing is returned by Download when no successful exposure is
// pending.
var ErrNotExposing = errors.New("sim: no exposure data available")

const (
	defaultWidth  = 1936
	defaultHeight = 1096

	// counts per second per gain step for the sky background
	skyRate = 400.0
)

type star struct {
	x, y int
	// flux is counts per second at unity gain
	flux float64
}

// Camera is a synthetic camera.Driver.  The zero value is not usable; use
// New.
type Camera struct {
	mu sync.Mutex

	name   string
	width  int
	height int

	exposure time.Duration
	gain     int64
	offset   int64

	roiW, roiH, bin int
	startX, startY  int

	expStart time.Time
	state    camera.ExpStatus
	aborted  bool
	dark     bool

	stars []star

	cooling  bool
	setpoint float64
}

// New creates a simulated camera with the given name and a deterministic
// star field derived from seed.
func New(name string, seed int64) *Camera {
	c := &Camera{
		name:     name,
		width:    defaultWidth,
		height:   defaultHeight,
		exposure: time.Millisecond,
		gain:     100,
		offset:   10,
		roiW:     defaultWidth,
		roiH:     defaultHeight,
		bin:      1,
		state:    camera.ExpIdle,
		setpoint: -10,
	}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < 250; i++ {
		c.stars = append(c.stars, star{
			x:    rng.Intn(c.width),
			y:    rng.Intn(c.height),
			flux: 1000 + rng.Float64()*200000,
		})
	}
	return c
}

// Name implements camera.Driver.
func (c *Camera) Name() string { return c.name }

// SensorWidth implements camera.Driver.
func (c *Camera) SensorWidth() int { return c.width }

// SensorHeight implements camera.Driver.
func (c *Camera) SensorHeight() int { return c.height }

// PixelSize implements camera.Driver.  The value matches a typical CMOS
// astronomy sensor.
func (c *Camera) PixelSize() float64 { return 5.86 }

// SupportedBins implements camera.Driver.
func (c *Camera) SupportedBins() []int { return []int{1, 2, 4} }

// StartExposure implements camera.Driver.
func (c *Camera) StartExposure(dark bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == camera.ExpWorking {
		return errors.New("sim: exposure already in progress")
	}
	c.expStart = time.Now()
	c.state = camera.ExpWorking
	c.aborted = false
	c.dark = dark
	return nil
}

// ExposureStatus implements camera.Driver.  The exposure completes once
// wall-clock time has covered the programmed integration time; an aborted
// exposure reports failure.
func (c *Camera) ExposureStatus() (camera.ExpStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == camera.ExpWorking {
		if c.aborted {
			c.state = camera.ExpFailed
		} else if time.Since(c.expStart) >= c.exposure {
			c.state = camera.ExpSuccess
		}
	}
	return c.state, nil
}

// AbortExposure implements camera.Driver.
func (c *Camera) AbortExposure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == camera.ExpWorking {
		c.aborted = true
	}
	return nil
}

// Download implements camera.Driver, rendering the scene into buf.
func (c *Camera) Download(buf []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != camera.ExpSuccess {
		return ErrNotExposing
	}
	c.state = camera.ExpIdle
	c.render(buf)
	return nil
}

// render draws the ROI into buf at the current bin factor.  Counts are
// reproducible for a given configuration: noise comes from a generator
// seeded by the exposure start time truncated to seconds.
func (c *Camera) render(buf []uint16) {
	secs := c.exposure.Seconds()
	g := float64(c.gain) / 100
	rng := rand.New(rand.NewSource(c.expStart.Unix()))
	sky := 0.0
	if !c.dark {
		sky = skyRate * secs * g
	}
	n := c.roiW * c.roiH
	if n > len(buf) {
		n = len(buf)
	}
	for i := 0; i < n; i++ {
		v := float64(c.offset) + sky + rng.Float64()*10
		buf[i] = clamp16(v)
	}
	if c.dark {
		return
	}
	// stars land on binned coordinates relative to the ROI origin
	for _, st := range c.stars {
		bx := st.x/c.bin - c.startX
		by := st.y/c.bin - c.startY
		if bx < 0 || bx >= c.roiW || by < 0 || by >= c.roiH {
			continue
		}
		idx := by*c.roiW + bx
		if idx >= n {
			continue
		}
		// binning trades 4x area for 4x signal at 2x linear bin
		flux := st.flux * secs * g * float64(c.bin*c.bin)
		buf[idx] = clamp16(float64(buf[idx]) + flux)
	}
}

func clamp16(v float64) uint16 {
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	if v < 0 {
		return 0
	}
	return uint16(v)
}

// SetExposure implements camera.Driver.
func (c *Camera) SetExposure(d time.Duration) error {
	min, max := c.ExposureLimits()
	if d < min || d > max {
		return errors.New("sim: exposure out of range")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposure = d
	return nil
}

// ExposureLimits implements camera.Driver.
func (c *Camera) ExposureLimits() (time.Duration, time.Duration) {
	return 32 * time.Microsecond, 200 * time.Second
}

// SetGainRaw implements camera.Driver.
func (c *Camera) SetGainRaw(gain int64) error {
	min, max := c.GainLimits()
	if gain < min || gain > max {
		return errors.New("sim: gain out of range")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = gain
	return nil
}

// GainRaw implements camera.Driver.
func (c *Camera) GainRaw() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain, nil
}

// GainLimits implements camera.Driver.
func (c *Camera) GainLimits() (int64, int64) { return 0, 510 }

// SetOffset implements camera.Driver.
func (c *Camera) SetOffset(offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = offset
	return nil
}

// Offset implements camera.Driver.
func (c *Camera) Offset() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, nil
}

// Temperature implements camera.Driver.  The sensor sits a little above
// the cooler setpoint when cooling, else at ambient.
func (c *Camera) Temperature() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooling {
		return c.setpoint + 0.4, nil
	}
	return 21.5, nil
}

// SetROIFormat implements camera.Driver.
func (c *Camera) SetROIFormat(width, height, bin int) error {
	if width <= 0 || height <= 0 {
		return errors.New("sim: invalid ROI dimensions")
	}
	ok := false
	for _, b := range c.SupportedBins() {
		if b == bin {
			ok = true
			break
		}
	}
	if !ok {
		return errors.New("sim: unsupported bin")
	}
	if width*bin > c.width || height*bin > c.height {
		return errors.New("sim: ROI exceeds sensor")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roiW = width
	c.roiH = height
	c.bin = bin
	return nil
}

// ROIFormat implements camera.Driver.
func (c *Camera) ROIFormat() (int, int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roiW, c.roiH, c.bin, nil
}

// SetStartPos implements camera.Driver.
func (c *Camera) SetStartPos(x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if x < 0 || y < 0 || (x+c.roiW)*c.bin > c.width || (y+c.roiH)*c.bin > c.height {
		return errors.New("sim: ROI origin out of bounds")
	}
	c.startX = x
	c.startY = y
	return nil
}

// GetCooling implements camera.ThermalManager.
func (c *Camera) GetCooling() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooling, nil
}

// SetCooling implements camera.ThermalManager.
func (c *Camera) SetCooling(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooling = on
	return nil
}

// GetTempSetpoint implements camera.ThermalManager.
func (c *Camera) GetTempSetpoint() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint, nil
}

// SetTempSetpoint implements camera.ThermalManager.
func (c *Camera) SetTempSetpoint(t float64) error {
	if t < -80 {
		return errors.New("sim: setpoint below cooler range")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = t
	return nil
}

// GetCoolerPower implements camera.ThermalManager.
func (c *Camera) GetCoolerPower() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooling {
		return 73, nil
	}
	return 0, nil
}
