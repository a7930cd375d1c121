package imgdata

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// EnablePreview turns on preview generation.  Once enabled, the preview is
// re-encoded whenever the pixel data mutates (stacking, binning, flipping)
// so it is always consistent with the current frame.
func (b *Buffer) EnablePreview(enable bool) {
	b.mu.Lock()
	b.convertJPEG = enable
	b.mu.Unlock()
	if enable {
		b.refreshPreview()
	}
}

// SetPreviewQuality sets the JPEG compression quality, clamped to 10-100.
func (b *Buffer) SetPreviewQuality(quality int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if quality < 10 {
		quality = 10
	}
	if quality > 100 {
		quality = 100
	}
	b.jpegQuality = quality
}

// SetPreviewScaling fixes the preview brightness range.  Pass -1 for either
// bound to use the default (0 dark, 0xFFFF bright).  Fixed scaling disables
// autoscale.
func (b *Buffer) SetPreviewScaling(min, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pixelMin = min
	b.pixelMax = max
	b.autoscale = false
}

// SetPreviewAutoscale derives the preview brightness range from the frame's
// actual min/max instead of fixed bounds.
func (b *Buffer) SetPreviewAutoscale(autoscale bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoscale = autoscale
}

// Preview returns the compressed preview image for the current frame,
// encoding it first if no cached encoding exists.  Saturated pixels
// (0xFFFF) render pure red, pixels above the scaling maximum render
// orange, and the remainder are linearly rescaled to gray.
func (b *Buffer) Preview() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convertJPEG = true
	if b.jpegData == nil {
		if err := b.encodePreviewLocked(); err != nil {
			return nil, err
		}
	}
	return b.jpegData, nil
}

// refreshPreview re-encodes the cached preview if preview mode is enabled.
// Encoding failures drop the stale cache; the next Preview call surfaces
// the error.
func (b *Buffer) refreshPreview() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.convertJPEG || b.data == nil {
		return
	}
	if err := b.encodePreviewLocked(); err != nil {
		b.jpegData = nil
	}
}

func (b *Buffer) encodePreviewLocked() error {
	if b.data == nil {
		return ErrNoData
	}
	var min, max int
	if b.autoscale {
		min, max = dataRange(b.data)
	} else {
		min = b.pixelMin
		if min < 0 {
			min = 0
		} else if min > saturation {
			min = saturation
		}
		max = b.pixelMax
		if max < 0 || max > saturation {
			max = saturation
		}
	}
	scale := 0.0
	if max > min {
		scale = 255.0 / float64(max-min)
	}
	im := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	for i, v := range b.data {
		var c color.RGBA
		switch {
		case v == saturation:
			c = color.RGBA{R: 0xFF, A: 0xFF}
		case int(v) > max:
			c = color.RGBA{R: 0xFF, G: 0xA5, A: 0xFF}
		default:
			g := uint8(float64(int(v)-min) * scale)
			c = color.RGBA{R: g, G: g, B: g, A: 0xFF}
		}
		im.SetRGBA(i%b.width, i/b.width, c)
	}
	buf := bytes.Buffer{}
	err := jpeg.Encode(&buf, im, &jpeg.Options{Quality: b.jpegQuality})
	if err != nil {
		return err
	}
	b.jpegData = buf.Bytes()
	return nil
}

// dataRange returns the min and max sample values in one pass.
func dataRange(data []uint16) (int, int) {
	min, max := saturation, 0
	for _, v := range data {
		iv := int(v)
		if iv < min {
			min = iv
		}
		if iv > max {
			max = iv
		}
	}
	return min, max
}
