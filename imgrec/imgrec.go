// Package imgrec contains a frame recorder used to automatically save
// frames to disk in daily subfolders.
package imgrec

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sunipkm/asicam-v2/imgdata"
)

// Recorder saves frames under Root in yyyy-mm-dd subfolders with a fixed
// filename prefix.  Collision handling is delegated to the FITS writer,
// which suffixes rather than overwrites.
type Recorder struct {
	mu sync.Mutex

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames; the capture timestamp is
	// appended by the writer
	Prefix string

	// SyncOnWrite flushes each file to stable storage before returning
	SyncOnWrite bool

	// Enabled is a flag unused by this struct that allows consumers to
	// disable its use in their code
	Enabled bool
}

// folder returns the daily subfolder for the given time.
func (r *Recorder) folder(now time.Time) string {
	y, m, d := now.Year(), now.Month(), now.Day()
	return filepath.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", y, int(m), d))
}

// Save writes one frame into today's subfolder and returns the path
// written.  The folder is keyed on the frame's capture timestamp so a
// capture spanning midnight lands with its exposure start date.
func (r *Recorder) Save(img *imgdata.Buffer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := time.UnixMilli(int64(img.Metadata().Timestamp))
	return img.WriteFITS(r.SyncOnWrite, r.folder(ts), r.Prefix)
}
