// Package camera provides an HTTP interface to a capture session
package camera

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/sunipkm/asicam-v2/camera"
	"github.com/sunipkm/asicam-v2/generichttp"
	"github.com/sunipkm/asicam-v2/imgdata"
	"github.com/sunipkm/asicam-v2/imgrec"
	"github.com/sunipkm/asicam-v2/server"
	"github.com/sunipkm/asicam-v2/util"
	"goji.io/pat"
)

// HTTPCamera adapts a capture session to HTTP.  Thermal routes are only
// registered when the underlying driver implements camera.ThermalManager.
type HTTPCamera struct {
	sess *Wrapper

	// RouteTable maps goji patterns to http handlers
	RouteTable server.RouteTable
}

// Wrapper bundles the session with an optional frame recorder.
type Wrapper struct {
	*camera.Session

	// Rec, if non-nil and enabled, persists every frame served over HTTP
	Rec *imgrec.Recorder
}

// NewHTTPCamera builds the route table for a capture session.
func NewHTTPCamera(s *camera.Session, rec *imgrec.Recorder) HTTPCamera {
	w := &Wrapper{Session: s, Rec: rec}
	h := HTTPCamera{sess: w}
	rt := server.RouteTable{
		pat.Get("/exposure-time"):  h.GetExposureTime,
		pat.Post("/exposure-time"): h.SetExposureTime,
		pat.Get("/status"):         h.GetStatus,
		pat.Get("/stats"):          h.GetStats,
		pat.Get("/frame"):          h.GetFrame,
		pat.Get("/frame-last"):     h.GetLastFrame,
		pat.Post("/capture"):       h.Capture,
		pat.Post("/cancel"):        h.Cancel,
		pat.Get("/roi"):            h.GetROI,
		pat.Post("/roi"):           h.SetROI,
		pat.Get("/gain"):           h.GetGain,
		pat.Post("/gain"):          h.SetGain,
		pat.Get("/temperature"):    h.GetTemperature,
		pat.Post("/shutter"):       h.SetShutter,
	}
	if tm, ok := s.Driver().(camera.ThermalManager); ok {
		rt[pat.Get("/cooling")] = generichttp.GetBool(tm.GetCooling)
		rt[pat.Post("/cooling")] = generichttp.SetBool(tm.SetCooling)
		rt[pat.Get("/temperature-setpoint")] = generichttp.GetFloat(tm.GetTempSetpoint)
		rt[pat.Post("/temperature-setpoint")] = generichttp.SetFloat(tm.SetTempSetpoint)
		rt[pat.Get("/cooler-power")] = generichttp.GetFloat(tm.GetCoolerPower)
	}
	h.RouteTable = rt
	return h
}

// parseExposure extracts an exposure time from a query parameter or a
// json body with key f64 holding seconds.  A bare number in the query is
// treated as seconds.
func parseExposure(r *http.Request) (time.Duration, error) {
	q := r.URL.Query()
	texp := q.Get("exposureTime")
	if texp == "" {
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			return 0, err
		}
		return util.SecsToDuration(f.F64), nil
	}
	if util.AllElementsNumbers(texp) {
		texp = texp + "s"
	}
	return time.ParseDuration(texp)
}

// SetExposureTime sets the exposure time on a POST request.
// It can be provided either as a query parameter exposureTime, formatted
// in a way that is parseable by golang/time.ParseDuration, or a json
// payload with key f64, holding the exposure time in seconds.
func (h HTTPCamera) SetExposureTime(w http.ResponseWriter, r *http.Request) {
	d, err := parseExposure(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sess.SetExposure(d); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetExposureTime gets the exposure time in seconds on a GET request.
func (h HTTPCamera) GetExposureTime(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, generichttp.FloatT{F64: h.sess.GetExposure().Seconds()})
}

// GetStatus reports the session's last status line and whether a capture
// is in flight.
func (h HTTPCamera) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := struct {
		Camera    string `json:"camera"`
		Status    string `json:"status"`
		Capturing bool   `json:"capturing"`
	}{
		Camera:    h.sess.Name(),
		Status:    h.sess.Status(),
		Capturing: h.sess.IsCapturing(),
	}
	generichttp.RespondJSON(w, s)
}

// GetStats computes pixel statistics over the last completed frame.
func (h HTTPCamera) GetStats(w http.ResponseWriter, r *http.Request) {
	img := h.sess.LastImage()
	if img == nil || !img.HasData() {
		http.Error(w, "no frame captured yet", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, img.Stats())
}

// GetFrame takes a picture and returns it on a GET request.
//
// The image format may be specified in a query parameter; defaults to jpg.
// jpg serves the 8-bit preview with saturation markers, png an unscaled
// 8-bit rendering, and fits the full 16-bit frame with header metadata.
//
// The exposure time may be specified as a query parameter in any
// time-looking format, such as "25ms" or "10us"; a bare number is taken
// as seconds.  If absent, the programmed value is used.
func (h HTTPCamera) GetFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("exposureTime") != "" {
		d, err := parseExposure(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.sess.SetExposure(d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	img := h.sess.StartCapture(true, nil)
	if img == nil || !img.HasData() {
		http.Error(w, h.sess.Status(), http.StatusInternalServerError)
		return
	}
	if h.sess.Rec != nil && h.sess.Rec.Enabled {
		if _, err := h.sess.Rec.Save(img); err != nil {
			log.Printf("%s: failed to record frame: %v", h.sess.Name(), err)
		}
	}
	h.serveFrame(w, img, q.Get("fmt"))
}

// serveFrame encodes img in the requested format and writes it to w.
func (h HTTPCamera) serveFrame(w http.ResponseWriter, img *imgdata.Buffer, format string) {
	if format == "" {
		format = "jpg"
	}
	switch format {
	case "jpg":
		jp, err := img.Preview()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		w.Write(jp)
	case "png":
		data := img.Data()
		buf := make([]byte, len(data))
		for idx := 0; idx < len(data); idx++ {
			buf[idx] = byte(data[idx] / 256) // scale 16 to 8 bits
		}
		im := &image.Gray{Pix: buf, Stride: img.Width(), Rect: image.Rect(0, 0, img.Width(), img.Height())}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		png.Encode(w, im)
	case "fits":
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%d.fits", h.sess.Name(), img.Metadata().Timestamp))
		w.WriteHeader(http.StatusOK)
		if err := img.EncodeFITS(w); err != nil {
			log.Printf("%s: failed to stream fits: %v", h.sess.Name(), err)
		}
	default:
		http.Error(w, "unsupported format "+format, http.StatusBadRequest)
	}
}

// GetLastFrame serves the most recently completed frame without
// triggering a new capture.  Formats as for GetFrame.
func (h HTTPCamera) GetLastFrame(w http.ResponseWriter, r *http.Request) {
	img := h.sess.LastImage()
	if img == nil || !img.HasData() {
		http.Error(w, "no frame captured yet", http.StatusNotFound)
		return
	}
	h.serveFrame(w, img, r.URL.Query().Get("fmt"))
}

// Capture triggers a non-blocking capture on a POST request.  The frame
// is recorded via the recorder, if one is configured; retrieve it via
// /frame-last or /stats.
func (h HTTPCamera) Capture(w http.ResponseWriter, r *http.Request) {
	if h.sess.IsCapturing() {
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	var cb camera.CaptureCallback
	if h.sess.Rec != nil && h.sess.Rec.Enabled {
		cb = func(img *imgdata.Buffer, roi camera.ROI) {
			if _, err := h.sess.Rec.Save(img); err != nil {
				log.Printf("%s: failed to record frame: %v", h.sess.Name(), err)
			}
		}
	}
	h.sess.StartCapture(false, cb)
	w.WriteHeader(http.StatusAccepted)
}

// Cancel requests cancellation of an in-flight capture on a POST request.
// Cancellation is advisory; the worker may still complete the frame.
func (h HTTPCamera) Cancel(w http.ResponseWriter, r *http.Request) {
	h.sess.CancelCapture()
	w.WriteHeader(http.StatusOK)
}

// GetROI returns the active readout window and bin factors.
func (h HTTPCamera) GetROI(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.sess.GetROI())
}

// SetROI reconfigures the readout window and bin factors from a json
// camera.ROI payload.  Zero maxima select the sensor edge.
func (h HTTPCamera) SetROI(w http.ResponseWriter, r *http.Request) {
	roi := camera.ROI{}
	err := json.NewDecoder(r.Body).Decode(&roi)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.sess.SetBinningAndROI(roi.BinX, roi.BinY, roi.XMin, roi.XMax, roi.YMin, roi.YMax)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, h.sess.GetROI())
}

// GetGain reads back the raw gain value.
func (h HTTPCamera) GetGain(w http.ResponseWriter, r *http.Request) {
	generichttp.GetInt(h.sess.Driver().GainRaw)(w, r)
}

// SetGain programs the raw gain value from a json {"int": value} payload.
func (h HTTPCamera) SetGain(w http.ResponseWriter, r *http.Request) {
	generichttp.SetInt(h.sess.SetGainRaw)(w, r)
}

// GetTemperature reads the sensor temperature in Celcius.
func (h HTTPCamera) GetTemperature(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(h.sess.Driver().Temperature)(w, r)
}

// SetShutter opens or closes the shutter from a json {"bool": open}
// payload.  Cameras without a mechanical shutter emulate closed by taking
// dark frames.
func (h HTTPCamera) SetShutter(w http.ResponseWriter, r *http.Request) {
	generichttp.SetBool(h.sess.SetShutterOpen)(w, r)
}
