/*Package imgdata provides a thread-safe container for 16-bit raw camera
frames and the processing operations used by an unattended capture loop:
software binning, frame stacking, statistics, percentile-driven exposure
optimization, JPEG preview generation and FITS serialization.

A Buffer owns its pixel array exclusively.  Copies are deep copies of the
pixel data; metadata copies by value.  All mutation is serialized by an
internal lock because capture, stacking and serialization may run from
different goroutines.
*/
package imgdata

import (
	"errors"
	"math"
	"sync"
	"time"
	"unsafe"
)

// saturation is the full-well value of a 16-bit sample.
const saturation = 0xFFFF

// ErrNoData is returned by operations that need a frame when the buffer is
// empty.
var ErrNoData = errors.New("imgdata: buffer holds no frame")

// Metadata holds the acquisition parameters attached to a frame.
type Metadata struct {
	// ExposureTime is the integration time in seconds
	ExposureTime float64

	// BinX is the horizontal binning factor
	BinX int

	// BinY is the vertical binning factor
	BinY int

	// ImgLeft is the left offset of the frame in binned coordinates
	ImgLeft int

	// ImgTop is the top offset of the frame in binned coordinates
	ImgTop int

	// Temperature is the sensor temperature in Celcius at capture
	Temperature float64

	// Timestamp is milliseconds since the Unix epoch at exposure start
	Timestamp uint64

	// CameraName identifies the camera the frame came from
	CameraName string

	// Gain is the raw gain value programmed at capture
	Gain int64

	// Offset is the raw pixel voltage offset programmed at capture
	Offset int64

	// MinGain is the lower bound of the camera's raw gain range
	MinGain int

	// MaxGain is the upper bound of the camera's raw gain range
	MaxGain int

	// Extended is an open-ended set of additional key/value attributes,
	// each of which becomes a header record on serialization
	Extended map[string]string
}

// AddExtendedAttribute stores an additional key/value attribute.
func (m *Metadata) AddExtendedAttribute(key, value string) {
	if m.Extended == nil {
		m.Extended = make(map[string]string)
	}
	m.Extended[key] = value
}

// copyMeta returns a value copy with its own Extended map.
func copyMeta(m Metadata) Metadata {
	out := m
	if m.Extended != nil {
		out.Extended = make(map[string]string, len(m.Extended))
		for k, v := range m.Extended {
			out.Extended[k] = v
		}
	}
	return out
}

// Stats holds single-frame pixel statistics.
type Stats struct {
	// Min is the minimum pixel count
	Min int

	// Max is the maximum pixel count
	Max int

	// Mean is the mean pixel count
	Mean float64

	// StdDev is the sample standard deviation of the pixel counts
	StdDev float64
}

// Buffer is a 16-bit raw image frame with attached metadata.
// The zero value is an empty frame with no data.
type Buffer struct {
	mu sync.Mutex

	width  int
	height int
	data   []uint16
	meta   Metadata

	// preview scratch state, see preview.go
	jpegData    []byte
	convertJPEG bool
	jpegQuality int
	pixelMin    int
	pixelMax    int
	autoscale   bool
}

// New constructs a Buffer of the given dimensions.  If raw is nil the frame
// is all zeros, otherwise the first width*height samples of raw are copied
// in.  If is8bit, each input sample is treated as an 8-bit value and shifted
// into the top byte of the 16-bit range to normalize dynamic range across
// sensor bit depths.  A zero metadata timestamp is replaced with the current
// time.
//
// Invalid dimensions yield an empty buffer with HasData() == false rather
// than an error; the constructor sits on the hot capture path and the
// policy there is degrade, don't fail.
func New(width, height int, raw []uint16, meta Metadata, is8bit bool) *Buffer {
	b := &Buffer{jpegQuality: 100, pixelMin: -1, pixelMax: -1, autoscale: true}
	if width <= 0 || height <= 0 {
		return b
	}
	n := width * height
	if raw != nil && len(raw) < n {
		return b
	}
	b.data = make([]uint16, n)
	if raw != nil {
		if is8bit {
			for i := 0; i < n; i++ {
				v := raw[i] << 8
				if v >= 0xFF00 {
					v = saturation
				}
				b.data[i] = v
			}
		} else {
			copy(b.data, raw[:n])
		}
	}
	b.width = width
	b.height = height
	b.meta = copyMeta(meta)
	if b.meta.Timestamp == 0 {
		b.meta.Timestamp = uint64(time.Now().UnixMilli())
	}
	return b
}

// HasData reports whether the buffer holds a frame.
func (b *Buffer) HasData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data != nil
}

// Width returns the frame width in (binned) pixels.
func (b *Buffer) Width() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width
}

// Height returns the frame height in (binned) pixels.
func (b *Buffer) Height() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height
}

// Metadata returns a value copy of the frame metadata.
func (b *Buffer) Metadata() Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyMeta(b.meta)
}

// SetMetadata replaces the frame metadata.  A zero timestamp is replaced
// with the current time.
func (b *Buffer) SetMetadata(meta Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta = copyMeta(meta)
	if b.meta.Timestamp == 0 {
		b.meta.Timestamp = uint64(time.Now().UnixMilli())
	}
}

// SetExtendedAttribute adds one extended metadata key/value pair.
func (b *Buffer) SetExtendedAttribute(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta.AddExtendedAttribute(key, value)
}

// Exposure returns the integration time in seconds.
func (b *Buffer) Exposure() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.ExposureTime
}

// Data returns the underlying pixel slice, strided by the frame width.
//
// may have undefined behavior if a writer mutates the buffer while you read
func (b *Buffer) Data() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Clear discards the pixel array and preview scratch buffer, returning the
// buffer to the empty state.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
}

func (b *Buffer) clearLocked() {
	b.data = nil
	b.width = 0
	b.height = 0
	b.meta.ImgLeft = 0
	b.meta.ImgTop = 0
	b.jpegData = nil
}

// Copy returns a deep copy of the buffer.  The pixel array and preview
// settings are duplicated; the cached preview encoding is not.
func (b *Buffer) Copy() *Buffer {
	out := &Buffer{}
	out.assign(b)
	return out
}

// Assign replaces the contents of b with a deep copy of rhs.
// Assigning a buffer to itself is a no-op.
func (b *Buffer) Assign(rhs *Buffer) {
	if b == rhs {
		return
	}
	b.Clear()
	b.assign(rhs)
}

// assign locks both buffers in address order so that two goroutines
// assigning in opposite directions cannot deadlock.
func (b *Buffer) assign(rhs *Buffer) {
	first, second := b, rhs
	if lockOrder(rhs, b) {
		first, second = rhs, b
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	b.jpegData = nil
	b.convertJPEG = false
	b.jpegQuality = rhs.jpegQuality
	b.pixelMin = rhs.pixelMin
	b.pixelMax = rhs.pixelMax
	b.autoscale = rhs.autoscale
	if rhs.data == nil || rhs.width == 0 || rhs.height == 0 {
		b.data = nil
		b.width = 0
		b.height = 0
		return
	}
	b.data = make([]uint16, len(rhs.data))
	copy(b.data, rhs.data)
	b.width = rhs.width
	b.height = rhs.height
	b.meta = copyMeta(rhs.meta)
}

// Stats computes min/max/mean in a single pass followed by a second pass
// for the sample standard deviation (divisor N-1).  An empty buffer
// returns all-zero stats.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return Stats{}
	}
	var (
		min  = saturation
		max  = 0
		mean float64
		n    = len(b.data)
	)
	div := float64(n)
	for _, v := range b.data {
		iv := int(v)
		if iv < min {
			min = iv
		}
		if iv > max {
			max = iv
		}
		mean += float64(iv) / div
	}
	var varianceSum float64
	for _, v := range b.data {
		d := float64(v) - mean
		varianceSum += d * d
	}
	var stddev float64
	if n > 1 {
		stddev = math.Sqrt(varianceSum / float64(n-1))
	}
	return Stats{Min: min, Max: max, Mean: mean, StdDev: stddev}
}

// Add stacks rhs onto b pixel-wise, saturating at 0xFFFF, and sums the
// cumulative exposure time.  If b is empty it becomes a copy of rhs.
// Mismatched dimensions are a no-op.
func (b *Buffer) Add(rhs *Buffer) {
	if rhs == nil || !rhs.HasData() {
		return
	}
	if !b.HasData() {
		b.Assign(rhs)
		return
	}
	first, second := b, rhs
	if lockOrder(rhs, b) {
		first, second = rhs, b
	}
	first.mu.Lock()
	second.mu.Lock()
	if rhs.width != b.width || rhs.height != b.height {
		second.mu.Unlock()
		first.mu.Unlock()
		return
	}
	for i := range b.data {
		sum := uint32(b.data[i]) + uint32(rhs.data[i])
		if sum > saturation {
			sum = saturation
		}
		b.data[i] = uint16(sum)
	}
	b.meta.ExposureTime += rhs.meta.ExposureTime
	second.mu.Unlock()
	first.mu.Unlock()
	b.refreshPreview()
}

// ApplyBinning re-bins the frame in software, replacing each binX x binY
// block of source pixels with their saturating sum.  Logical resolution
// drops by the bin factors.  (1,1) is a no-op.
func (b *Buffer) ApplyBinning(binX, binY int) {
	b.mu.Lock()
	if b.data == nil || binX < 1 || binY < 1 || (binX == 1 && binY == 1) {
		b.mu.Unlock()
		return
	}
	newW := b.width / binX
	newH := b.height / binY
	srcW := newW * binX
	srcH := newH * binY
	out := make([]uint16, newW*newH)
	for row := 0; row < srcH; row++ {
		src := b.data[row*b.width:]
		for col := 0; col < srcW; col++ {
			t := (row/binY)*newW + col/binX
			sum := uint32(out[t]) + uint32(src[col])
			if sum > saturation {
				sum = saturation
			}
			out[t] = uint16(sum)
		}
	}
	b.data = out
	b.width = newW
	b.height = newH
	b.mu.Unlock()
	b.refreshPreview()
}

// FlipHorizontal reverses each row in place.
func (b *Buffer) FlipHorizontal() {
	b.mu.Lock()
	for row := 0; row < b.height; row++ {
		r := b.data[row*b.width : (row+1)*b.width]
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
	}
	b.mu.Unlock()
	b.refreshPreview()
}

// lockOrder reports whether a must be locked before b to preserve the
// global ordering.  Ordering by address is stable for the lifetime of
// both buffers.
func lockOrder(a, b *Buffer) bool {
	return uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b))
}
