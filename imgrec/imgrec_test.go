package imgrec_test

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sunipkm/asicam-v2/imgdata"
	"github.com/sunipkm/asicam-v2/imgrec"
)

func TestSaveUsesDailyFolder(t *testing.T) {
	root := t.TempDir()
	rec := &imgrec.Recorder{Root: root, Prefix: "rec", Enabled: true}
	ts := uint64(1700000000000)
	meta := imgdata.Metadata{Timestamp: ts, CameraName: "test"}
	img := imgdata.New(4, 4, make([]uint16, 16), meta, false)

	path, err := rec.Save(img)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	day := time.UnixMilli(int64(ts))
	expected := fmt.Sprintf("%04d-%02d-%02d", day.Year(), int(day.Month()), day.Day())
	if filepath.Base(filepath.Dir(path)) != expected {
		t.Errorf("expected daily folder %s, got %s", expected, path)
	}
	if !strings.HasPrefix(filepath.Base(path), "rec_") {
		t.Errorf("expected prefix in filename, got %s", filepath.Base(path))
	}
}

func TestSaveNeverOverwrites(t *testing.T) {
	root := t.TempDir()
	rec := &imgrec.Recorder{Root: root, Prefix: "rec", Enabled: true}
	meta := imgdata.Metadata{Timestamp: 1700000000000}
	img := imgdata.New(4, 4, make([]uint16, 16), meta, false)

	first, err := rec.Save(img)
	if err != nil {
		t.Fatal(err)
	}
	second, err := rec.Save(img)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Errorf("expected distinct paths for colliding saves, both %s", first)
	}
}
