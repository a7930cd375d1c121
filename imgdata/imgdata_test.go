package imgdata_test

import (
	"math"
	"testing"

	"github.com/sunipkm/asicam-v2/imgdata"
)

func uniformFrame(width, height int, value uint16, texp float64) *imgdata.Buffer {
	raw := make([]uint16, width*height)
	for i := range raw {
		raw[i] = value
	}
	meta := imgdata.Metadata{ExposureTime: texp, BinX: 1, BinY: 1, CameraName: "test"}
	return imgdata.New(width, height, raw, meta, false)
}

func TestNewZeroFill(t *testing.T) {
	b := imgdata.New(4, 4, nil, imgdata.Metadata{}, false)
	if !b.HasData() {
		t.Fatal("expected buffer with data")
	}
	if b.Width() != 4 || b.Height() != 4 {
		t.Errorf("expected 4x4, got %dx%d", b.Width(), b.Height())
	}
	for i, v := range b.Data() {
		if v != 0 {
			t.Fatalf("expected zero fill, got %d at %d", v, i)
		}
	}
}

func TestNewInvalidDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 4}, {4, 0}, {-1, 4}} {
		b := imgdata.New(dims[0], dims[1], nil, imgdata.Metadata{}, false)
		if b.HasData() {
			t.Errorf("expected empty buffer for %dx%d", dims[0], dims[1])
		}
	}
}

func TestNewShortRaw(t *testing.T) {
	b := imgdata.New(4, 4, make([]uint16, 15), imgdata.Metadata{}, false)
	if b.HasData() {
		t.Error("expected empty buffer for undersized raw data")
	}
}

func TestNewEightBitPromotion(t *testing.T) {
	raw := []uint16{0x00, 0x80, 0xFE, 0xFF}
	b := imgdata.New(4, 1, raw, imgdata.Metadata{}, true)
	expected := []uint16{0x0000, 0x8000, 0xFE00, 0xFFFF}
	data := b.Data()
	for i, want := range expected {
		if data[i] != want {
			t.Errorf("pixel %d: expected %#04x got %#04x", i, want, data[i])
		}
	}
}

func TestNewTimestampDefaulted(t *testing.T) {
	b := imgdata.New(2, 2, nil, imgdata.Metadata{}, false)
	if b.Metadata().Timestamp == 0 {
		t.Error("expected zero timestamp to be replaced with current time")
	}
}

func TestStatsConstantFrame(t *testing.T) {
	b := uniformFrame(8, 8, 100, 1)
	st := b.Stats()
	if st.Min != 100 || st.Max != 100 {
		t.Errorf("expected min=max=100, got min %d max %d", st.Min, st.Max)
	}
	if math.Abs(st.Mean-100) > 1e-9 {
		t.Errorf("expected mean 100, got %f", st.Mean)
	}
	if st.StdDev != 0 {
		t.Errorf("expected zero stddev, got %f", st.StdDev)
	}
}

func TestStatsKnownValues(t *testing.T) {
	b := imgdata.New(2, 2, []uint16{1, 2, 3, 4}, imgdata.Metadata{}, false)
	st := b.Stats()
	if st.Min != 1 || st.Max != 4 {
		t.Errorf("expected min 1 max 4, got min %d max %d", st.Min, st.Max)
	}
	if math.Abs(st.Mean-2.5) > 1e-9 {
		t.Errorf("expected mean 2.5, got %f", st.Mean)
	}
	// sample stddev with divisor N-1
	expected := math.Sqrt(5.0 / 3.0)
	if math.Abs(st.StdDev-expected) > 1e-9 {
		t.Errorf("expected stddev %f, got %f", expected, st.StdDev)
	}
}

func TestStatsEmpty(t *testing.T) {
	b := &imgdata.Buffer{}
	st := b.Stats()
	if st.Min != 0 || st.Max != 0 || st.Mean != 0 || st.StdDev != 0 {
		t.Errorf("expected zero stats for empty buffer, got %+v", st)
	}
}

func TestAddSaturates(t *testing.T) {
	a := uniformFrame(4, 4, 0xFFF0, 1.5)
	b := uniformFrame(4, 4, 0x0020, 0.5)
	a.Add(b)
	for i, v := range a.Data() {
		if v != 0xFFFF {
			t.Fatalf("expected saturation at %d, got %#04x", i, v)
		}
	}
	if math.Abs(a.Exposure()-2.0) > 1e-9 {
		t.Errorf("expected summed exposure 2.0, got %f", a.Exposure())
	}
}

func TestAddIntoEmpty(t *testing.T) {
	a := &imgdata.Buffer{}
	b := uniformFrame(4, 4, 7, 0.25)
	a.Add(b)
	if !a.HasData() {
		t.Fatal("expected empty buffer to take on rhs contents")
	}
	if a.Data()[0] != 7 {
		t.Errorf("expected 7, got %d", a.Data()[0])
	}
	if math.Abs(a.Exposure()-0.25) > 1e-9 {
		t.Errorf("expected exposure 0.25, got %f", a.Exposure())
	}
}

func TestAddDimensionMismatch(t *testing.T) {
	a := uniformFrame(4, 4, 10, 1)
	b := uniformFrame(2, 2, 10, 1)
	a.Add(b)
	if a.Data()[0] != 10 {
		t.Errorf("expected mismatched add to be a no-op, got %d", a.Data()[0])
	}
	if math.Abs(a.Exposure()-1.0) > 1e-9 {
		t.Errorf("expected exposure unchanged, got %f", a.Exposure())
	}
}

func TestApplyBinningSums(t *testing.T) {
	b := uniformFrame(4, 4, 1, 1)
	b.ApplyBinning(2, 2)
	if b.Width() != 2 || b.Height() != 2 {
		t.Fatalf("expected 2x2 after binning, got %dx%d", b.Width(), b.Height())
	}
	for i, v := range b.Data() {
		if v != 4 {
			t.Errorf("expected block sum 4 at %d, got %d", i, v)
		}
	}
}

func TestApplyBinningSaturates(t *testing.T) {
	b := uniformFrame(4, 4, 0x7FFF, 1)
	b.ApplyBinning(2, 2)
	for i, v := range b.Data() {
		if v != 0xFFFF {
			t.Errorf("expected saturated block sum at %d, got %#04x", i, v)
		}
	}
}

func TestApplyBinningUnityNoop(t *testing.T) {
	b := imgdata.New(3, 3, []uint16{1, 2, 3, 4, 5, 6, 7, 8, 9}, imgdata.Metadata{}, false)
	b.ApplyBinning(1, 1)
	if b.Width() != 3 || b.Height() != 3 {
		t.Errorf("expected unchanged dimensions, got %dx%d", b.Width(), b.Height())
	}
	if b.Data()[4] != 5 {
		t.Errorf("expected unchanged data, got %d", b.Data()[4])
	}
}

func TestApplyBinningTruncatesRagged(t *testing.T) {
	// 5x5 with 2x2 binning drops the ragged right column and bottom row
	b := uniformFrame(5, 5, 1, 1)
	b.ApplyBinning(2, 2)
	if b.Width() != 2 || b.Height() != 2 {
		t.Fatalf("expected 2x2, got %dx%d", b.Width(), b.Height())
	}
	for i, v := range b.Data() {
		if v != 4 {
			t.Errorf("expected 4 at %d, got %d", i, v)
		}
	}
}

func TestFlipHorizontal(t *testing.T) {
	b := imgdata.New(3, 2, []uint16{1, 2, 3, 4, 5, 6}, imgdata.Metadata{}, false)
	b.FlipHorizontal()
	expected := []uint16{3, 2, 1, 6, 5, 4}
	data := b.Data()
	for i, want := range expected {
		if data[i] != want {
			t.Errorf("pixel %d: expected %d got %d", i, want, data[i])
		}
	}
}

func TestCopyIsDeep(t *testing.T) {
	a := uniformFrame(2, 2, 5, 1)
	b := a.Copy()
	a.Data()[0] = 99
	if b.Data()[0] != 5 {
		t.Errorf("expected copy to be independent, got %d", b.Data()[0])
	}
	if b.Metadata().CameraName != "test" {
		t.Errorf("expected metadata to carry over, got %q", b.Metadata().CameraName)
	}
}

func TestAssignSelfNoop(t *testing.T) {
	a := uniformFrame(2, 2, 5, 1)
	a.Assign(a)
	if !a.HasData() || a.Data()[0] != 5 {
		t.Error("expected self-assign to leave buffer intact")
	}
}

func TestClear(t *testing.T) {
	b := uniformFrame(2, 2, 5, 1)
	b.Clear()
	if b.HasData() {
		t.Error("expected no data after Clear")
	}
	if b.Width() != 0 || b.Height() != 0 {
		t.Errorf("expected zero dimensions, got %dx%d", b.Width(), b.Height())
	}
}
