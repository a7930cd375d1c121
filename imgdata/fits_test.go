package imgdata_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/sunipkm/asicam-v2/imgdata"
)

func fitsFrame() *imgdata.Buffer {
	raw := make([]uint16, 8*8)
	for i := range raw {
		raw[i] = uint16(i * 1000)
	}
	meta := imgdata.Metadata{
		ExposureTime: 0.5,
		BinX:         2,
		BinY:         2,
		ImgLeft:      4,
		ImgTop:       8,
		Temperature:  -12.5,
		Timestamp:    1700000000000,
		CameraName:   "testcam",
		Gain:         120,
		Offset:       10,
		MinGain:      0,
		MaxGain:      510,
	}
	return imgdata.New(8, 8, raw, meta, false)
}

func TestWriteFITSRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := fitsFrame()
	b.SetExtendedAttribute("OBSERVER", "tester")
	path, err := b.WriteFITS(false, dir, "roundtrip")
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		t.Fatalf("written file does not parse as FITS: %v", err)
	}
	defer fits.Close()
	hdu := fits.HDU(0)
	img, ok := hdu.(fitsio.Image)
	if !ok {
		t.Fatal("primary HDU is not an image")
	}
	hdr := img.Header()
	if c := hdr.Get("CAMERA"); c == nil || c.Value != "testcam" {
		t.Errorf("expected CAMERA testcam, got %v", c)
	}
	if c := hdr.Get("EXPOSURE_US"); c == nil || c.Value != 500000 {
		t.Errorf("expected EXPOSURE_US 500000, got %v", c)
	}
	if c := hdr.Get("BINX"); c == nil || c.Value != 2 {
		t.Errorf("expected BINX 2, got %v", c)
	}
	if c := hdr.Get("OBSERVER"); c == nil || c.Value != "tester" {
		t.Errorf("expected OBSERVER tester, got %v", c)
	}
	if c := hdr.Get("DATACRC"); c == nil {
		t.Error("expected a DATACRC record")
	}
	data := make([]int16, 64)
	if err := img.Read(&data); err != nil {
		t.Fatalf("reading image data: %v", err)
	}
	// stored offset by 32768 per the unsigned 16-bit convention
	for i := 0; i < 64; i++ {
		restored := uint16(int32(data[i]) + 32768)
		if restored != uint16(i*1000) {
			t.Fatalf("pixel %d: expected %d, restored %d", i, uint16(i*1000), restored)
		}
	}
}

func TestWriteFITSCollisionSuffix(t *testing.T) {
	dir := t.TempDir()
	b := fitsFrame()
	first, err := b.WriteFITS(false, dir, "collide")
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.WriteFITS(false, dir, "collide")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("expected distinct paths, both were %s", first)
	}
	if !strings.HasSuffix(second, "_1.fits") {
		t.Errorf("expected _1 suffix on second write, got %s", second)
	}
	if _, err := os.Stat(first); err != nil {
		t.Errorf("first file should still exist: %v", err)
	}
}

func TestWriteFITSDirIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	b := fitsFrame()
	if _, err := b.WriteFITS(false, blocker, "x"); err == nil {
		t.Error("expected an error when the directory path is a plain file")
	}
}

func TestWriteFITSEmptyBuffer(t *testing.T) {
	b := &imgdata.Buffer{}
	if _, err := b.WriteFITS(false, t.TempDir(), "x"); err != imgdata.ErrNoData {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestWriteFITSNamePattern(t *testing.T) {
	dir := t.TempDir()
	b := fitsFrame()

	// no pattern: program name plus timestamp
	path, err := b.WriteFITS(false, dir, "")
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, imgdata.ProgramName+"_1700000000000") {
		t.Errorf("expected default name with timestamp, got %s", base)
	}

	// pattern without marker: timestamp appended
	path, err = b.WriteFITS(false, dir, "myprefix")
	if err != nil {
		t.Fatal(err)
	}
	base = filepath.Base(path)
	if !strings.HasPrefix(base, "myprefix_1700000000000") {
		t.Errorf("expected prefixed name with timestamp, got %s", base)
	}

	// pattern with marker: used verbatim
	path, err = b.WriteFITS(false, dir, "explicit%d")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "explicit%d.fits" {
		t.Errorf("expected verbatim pattern, got %s", filepath.Base(path))
	}
}
