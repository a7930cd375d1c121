package imgdata

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/astrogo/fitsio"
	"github.com/snksoft/crc"
)

// ProgramName is stamped into the PROGRAM header record of every file.
// Override at build time via ldflags if desired.
var ProgramName = "asicam"

// crcTable computes the XMODEM CRC stamped into the DATACRC record for
// end-to-end frame integrity checks.
var crcTable = crc.NewTable(crc.XMODEM)

// WriteFITS serializes the frame and its full metadata to a FITS file
// under dirPrefix, returning the path written.
//
// The directory is created if absent; if dirPrefix exists but is a plain
// file, the write fails.  The filename comes from namePattern: an empty
// pattern yields "<ProgramName>_<timestamp>", a pattern without a '%'
// marker gets "_<timestamp>" appended, and a pattern containing '%' is
// assumed to be fully substituted already and is used verbatim.  If the
// computed name exists, an incrementing numeric suffix is appended until a
// free name is found; an existing file is never overwritten.
//
// If syncOnWrite, the file is flushed to stable storage before returning,
// for durability ahead of a process restart.
func (b *Buffer) WriteFITS(syncOnWrite bool, dirPrefix, namePattern string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return "", ErrNoData
	}
	if dirPrefix == "" {
		dirPrefix = filepath.Join(".", "fits")
	}
	if st, err := os.Stat(dirPrefix); err == nil && !st.IsDir() {
		return "", fmt.Errorf("imgdata: directory %s is a file", dirPrefix)
	}
	if err := os.MkdirAll(dirPrefix, 0764); err != nil {
		return "", err
	}

	var fname string
	switch {
	case namePattern == "":
		fname = fmt.Sprintf("%s_%d", ProgramName, b.meta.Timestamp)
	case !containsMarker(namePattern):
		fname = fmt.Sprintf("%s_%d", namePattern, b.meta.Timestamp)
	default:
		fname = namePattern
	}

	base := filepath.Join(dirPrefix, fname)
	full := base + ".fits"
	for ctr := 1; ; ctr++ {
		if _, err := os.Stat(full); os.IsNotExist(err) {
			break
		}
		full = fmt.Sprintf("%s_%d.fits", base, ctr)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := writeFits(f, b.headerCards(), b.data, b.width, b.height); err != nil {
		os.Remove(full)
		return "", err
	}
	if syncOnWrite {
		if err := f.Sync(); err != nil {
			return full, err
		}
	}
	return full, nil
}

// EncodeFITS streams the frame and its metadata to w as a FITS file.
func (b *Buffer) EncodeFITS(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return ErrNoData
	}
	return writeFits(w, b.headerCards(), b.data, b.width, b.height)
}

// containsMarker reports whether the pattern carries a substitution marker.
func containsMarker(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '%' {
			return true
		}
	}
	return false
}

// headerCards assembles the typed header records for the frame, one per
// metadata field plus one per extended attribute.
func (b *Buffer) headerCards() []fitsio.Card {
	m := b.meta
	cards := []fitsio.Card{
		{Name: "PROGRAM", Value: ProgramName, Comment: "acquisition program"},
		{Name: "CAMERA", Value: m.CameraName, Comment: "camera name"},
		{Name: "TIMESTAMP", Value: int(m.Timestamp), Comment: "ms since epoch at exposure start"},
		{Name: "CCDTEMP", Value: m.Temperature, Comment: "sensor temperature, C"},
		{Name: "EXPOSURE_US", Value: int(m.ExposureTime * 1e6), Comment: "exposure, microseconds"},
		{Name: "ORIGIN_X", Value: m.ImgLeft, Comment: "unbinned left offset / bin"},
		{Name: "ORIGIN_Y", Value: m.ImgTop, Comment: "unbinned top offset / bin"},
		{Name: "BINX", Value: m.BinX, Comment: "horizontal bin factor"},
		{Name: "BINY", Value: m.BinY, Comment: "vertical bin factor"},
		{Name: "GAIN", Value: int(m.Gain), Comment: "raw gain"},
		{Name: "OFFSET", Value: int(m.Offset), Comment: "raw pixel offset"},
		{Name: "GAIN_MIN", Value: m.MinGain, Comment: "gain range lower bound"},
		{Name: "GAIN_MAX", Value: m.MaxGain, Comment: "gain range upper bound"},
		{Name: "DATACRC", Value: int(b.dataCRC()), Comment: "XMODEM CRC of pixel data"},
	}
	keys := make([]string, 0, len(m.Extended))
	for k := range m.Extended {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cards = append(cards, fitsio.Card{Name: k, Value: m.Extended[k]})
	}
	return cards
}

// dataCRC computes the frame integrity checksum over the pixel samples in
// little-endian byte order.
func (b *Buffer) dataCRC() uint64 {
	raw := make([]byte, 2*len(b.data))
	for i, v := range b.data {
		raw[2*i] = byte(v)
		raw[2*i+1] = byte(v >> 8)
	}
	return crcTable.CalculateCRC(raw)
}

// writeFits streams a fits file to w
func writeFits(w io.Writer, metadata []fitsio.Card, buffer []uint16, width, height int) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	// FITS has no unsigned 16-bit type; store offset by 32768 per the
	// usual USHORT convention
	bufOut := make([]int16, len(buffer))
	for idx := 0; idx < len(buffer); idx++ {
		bufOut[idx] = int16(buffer[idx] - 32768)
	}
	err = im.Write(bufOut)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
