/*Package camera describes a standard capability interface for scientific
cameras and a capture session that drives one exposure against it.

The Driver type contains the operations the capture loop needs; vendor SDK
bindings implement it below this boundary, translating their own error
codes and status encodings.  The Session type layered on top owns the
exposure state machine, region-of-interest bookkeeping and the shared
"last image" handle.
*/
package camera

import (
	"time"

	"github.com/sunipkm/asicam-v2/imgdata"
)

// ExpStatus enumerates the completion status of an in-flight exposure.
type ExpStatus int

const (
	// ExpIdle means no exposure data is available
	ExpIdle ExpStatus = iota

	// ExpWorking means the exposure is still integrating
	ExpWorking

	// ExpSuccess means the exposure finished and data awaits download
	ExpSuccess

	// ExpFailed means the exposure failed
	ExpFailed
)

func (s ExpStatus) String() string {
	switch s {
	case ExpIdle:
		return "idle"
	case ExpWorking:
		return "working"
	case ExpSuccess:
		return "success"
	case ExpFailed:
		return "failed"
	}
	return "unknown"
}

// ROI describes the active readout window in unbinned sensor coordinates
// plus the bin factors applied to it.
type ROI struct {
	// XMin is the left boundary (inclusive)
	XMin int `json:"xmin"`

	// XMax is the right boundary (exclusive)
	XMax int `json:"xmax"`

	// YMin is the top boundary (inclusive)
	YMin int `json:"ymin"`

	// YMax is the bottom boundary (exclusive)
	YMax int `json:"ymax"`

	// BinX is the horizontal bin factor
	BinX int `json:"binx"`

	// BinY is the vertical bin factor
	BinY int `json:"biny"`
}

// CaptureCallback receives the finished frame and a snapshot of the active
// ROI once a non-blocking capture downloads.  It is invoked exactly once
// per completed capture and never for one that failed before success.
type CaptureCallback func(img *imgdata.Buffer, roi ROI)

// Driver is the minimal hardware capability surface the capture session
// requires.  Implementations translate vendor error codes into errors and
// the vendor's exposure status encoding into ExpStatus.
type Driver interface {
	// Name returns the camera's identifying name
	Name() string

	// SensorWidth returns the full sensor width in unbinned pixels
	SensorWidth() int

	// SensorHeight returns the full sensor height in unbinned pixels
	SensorHeight() int

	// PixelSize returns the pixel pitch in microns
	PixelSize() float64

	// SupportedBins lists the bin factors the sensor can apply
	SupportedBins() []int

	// StartExposure arms the sensor and begins integrating for the
	// currently programmed exposure time.  dark keeps the shutter closed
	// on cameras that have one.
	StartExposure(dark bool) error

	// ExposureStatus polls the completion status of the exposure
	ExposureStatus() (ExpStatus, error)

	// AbortExposure requests cancellation of an in-flight exposure
	AbortExposure() error

	// Download pulls the raw pixel data into buf after a successful
	// exposure.  buf must hold at least the active ROI's pixel count.
	Download(buf []uint16) error

	// SetExposure programs the integration time
	SetExposure(d time.Duration) error

	// ExposureLimits returns the programmable exposure range
	ExposureLimits() (min, max time.Duration)

	// SetGainRaw programs the raw gain value
	SetGainRaw(gain int64) error

	// GainRaw reads back the raw gain value
	GainRaw() (int64, error)

	// GainLimits returns the raw gain range
	GainLimits() (min, max int64)

	// SetOffset programs the pixel voltage offset
	SetOffset(offset int64) error

	// Offset reads back the pixel voltage offset
	Offset() (int64, error)

	// Temperature reads the sensor temperature in Celcius
	Temperature() (float64, error)

	// SetROIFormat programs the readout window size (binned pixels) and
	// bin factor
	SetROIFormat(width, height, bin int) error

	// ROIFormat reads back the programmed window size and bin factor
	ROIFormat() (width, height, bin int, err error)

	// SetStartPos programs the window origin in binned coordinates
	SetStartPos(x, y int) error
}

// ThermalManager describes a camera which can manage its thermal
// performance.  Not all drivers implement it; callers type-assert.
type ThermalManager interface {
	// GetCooling queries if sensor cooling is currently active
	GetCooling() (bool, error)

	// SetCooling turns sensor cooling on or off
	SetCooling(bool) error

	// GetTempSetpoint gets the cooler target in Celcius
	GetTempSetpoint() (float64, error)

	// SetTempSetpoint sets the cooler target in Celcius
	SetTempSetpoint(float64) error

	// GetCoolerPower gets the cooler drive level in percent
	GetCoolerPower() (float64, error)
}

// ShutterController describes a camera with a mechanical shutter.
type ShutterController interface {
	// SetShutterOpen opens or closes the shutter; closed shutters produce
	// dark frames
	SetShutterOpen(bool) error

	// GetShutterOpen queries the shutter state
	GetShutterOpen() (bool, error)
}
