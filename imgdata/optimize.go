package imgdata

import (
	"math"
	"sort"

	"github.com/sunipkm/asicam-v2/util"
)

// OptimumExposureConfig holds the tuning parameters for the percentile
// based auto-exposure calculation.
type OptimumExposureConfig struct {
	// PercentilePixel is the percentile (0-100) whose sample value proxies
	// for peak signal
	PercentilePixel float64

	// PixelTarget is the desired value of the percentile sample
	PixelTarget int

	// MaxAllowedExposure is the exposure ceiling in seconds
	MaxAllowedExposure float64

	// MaxAllowedBin is the bin ceiling; values < 1 disable bin adjustment
	MaxAllowedBin int

	// NumPixelExclusion is the number of extreme samples guaranteed to be
	// excluded from the percentile estimate, shielding it from hot pixels
	NumPixelExclusion int

	// PixelTargetUncertainty is the tolerance band around PixelTarget
	// within which the current exposure is considered optimal
	PixelTargetUncertainty int
}

// DefaultOptimumExposureConfig matches the long-standing operational
// defaults for airglow imaging.
var DefaultOptimumExposureConfig = OptimumExposureConfig{
	PercentilePixel:        80,
	PixelTarget:            40000,
	MaxAllowedExposure:     10,
	MaxAllowedBin:          4,
	NumPixelExclusion:      100,
	PixelTargetUncertainty: 5000,
}

// FindOptimumExposure computes the next exposure time and bin factor from
// this frame's measured percentile pixel value, assuming signal scales
// linearly with exposure (reciprocity).  When the projected exposure
// exceeds the ceiling, binning doubles (quartering the exposure) until it
// fits or the bin ceiling is reached; when it is comfortably below the
// ceiling, binning halves (quadrupling the exposure) down to 2x2 or below.
// The result is always usable: exposure is clamped to [0, ceiling] and
// rounded to the nearest millisecond, bin to [1, ceiling].
//
// A measured value near zero is treated as "increase exposure", clamped at
// the ceiling, rather than dividing toward infinity.
func (b *Buffer) FindOptimumExposure(cfg OptimumExposureConfig) (float64, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	exposure := b.meta.ExposureTime
	targetExposure := exposure
	bin := b.meta.BinX
	changeBin := cfg.MaxAllowedBin >= 1 && b.meta.BinX == b.meta.BinY
	if b.data == nil {
		return clampResult(targetExposure, bin, cfg)
	}

	n := len(b.data)
	picdata := make([]uint16, n)
	copy(picdata, b.data)
	sort.Slice(picdata, func(i, j int) bool { return picdata[i] < picdata[j] })

	// determine the sort direction empirically so either ordering
	// convention from the sort step is tolerated
	ascending := picdata[0] < picdata[n-1]
	var coord int
	if cfg.PercentilePixel > 99.99 {
		coord = n - 1
	} else {
		coord = int(math.Floor(cfg.PercentilePixel * float64(n-1) * 0.01))
	}
	if n-1-coord < cfg.NumPixelExclusion {
		coord = n - 1 - cfg.NumPixelExclusion
	}
	if coord < 0 {
		coord = 0
	}
	var val float64
	if ascending {
		val = float64(picdata[coord])
	} else {
		if coord == 0 {
			coord = 1
		}
		val = float64(picdata[n-coord])
	}

	if math.Abs(float64(cfg.PixelTarget)-val) < float64(cfg.PixelTargetUncertainty) {
		return clampResult(targetExposure, bin, cfg)
	}

	if val < 1 {
		// reciprocity diverges near zero signal; just ask for more light
		targetExposure = cfg.MaxAllowedExposure
	} else {
		targetExposure = float64(cfg.PixelTarget) * exposure / val
	}

	if changeBin {
		if targetExposure < cfg.MaxAllowedExposure {
			for targetExposure < cfg.MaxAllowedExposure && bin > 2 {
				// one halving of bin costs 4x the exposure
				targetExposure *= 4
				bin /= 2
			}
		} else {
			for targetExposure > cfg.MaxAllowedExposure && bin*2 <= cfg.MaxAllowedBin {
				targetExposure /= 4
				bin *= 2
			}
		}
	}
	return clampResult(targetExposure, bin, cfg)
}

// FindOptimumExposureNoBin computes the next exposure with the bin factor
// fixed at the frame's current value.
func (b *Buffer) FindOptimumExposureNoBin(cfg OptimumExposureConfig) float64 {
	cfg.MaxAllowedBin = -1
	exposure, _ := b.FindOptimumExposure(cfg)
	return exposure
}

func clampResult(exposure float64, bin int, cfg OptimumExposureConfig) (float64, int) {
	exposure = util.Clamp(exposure, 0, cfg.MaxAllowedExposure)
	exposure = util.Round(exposure, 0.001)
	if bin < 1 {
		bin = 1
	}
	if cfg.MaxAllowedBin >= 1 && bin > cfg.MaxAllowedBin {
		bin = cfg.MaxAllowedBin
	}
	return exposure, bin
}
