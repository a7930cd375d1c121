package sim_test

import (
	"testing"
	"time"

	"github.com/sunipkm/asicam-v2/camera"
	"github.com/sunipkm/asicam-v2/sim"
)

var (
	_ camera.Driver         = (*sim.Camera)(nil)
	_ camera.ThermalManager = (*sim.Camera)(nil)
)

func waitSuccess(t *testing.T, c *sim.Camera) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := c.ExposureStatus()
		if err != nil {
			t.Fatal(err)
		}
		if st != camera.ExpWorking {
			if st != camera.ExpSuccess {
				t.Fatalf("expected success, got %v", st)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("exposure never completed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEndToEndCapture(t *testing.T) {
	cam := sim.New("simtest", 42)
	sess, err := camera.NewSession(cam, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.SetExposure(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	img := sess.StartCapture(true, nil)
	if !img.HasData() {
		t.Fatalf("capture failed: %s", sess.Status())
	}
	if img.Width() != cam.SensorWidth() || img.Height() != cam.SensorHeight() {
		t.Errorf("expected full frame %dx%d, got %dx%d",
			cam.SensorWidth(), cam.SensorHeight(), img.Width(), img.Height())
	}
	st := img.Stats()
	if st.Max <= st.Min {
		t.Errorf("expected stars above the background, stats %+v", st)
	}
}

func TestBinnedCapture(t *testing.T) {
	cam := sim.New("simtest", 42)
	sess, err := camera.NewSession(cam, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.SetExposure(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetBinningAndROI(2, 2, 0, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	img := sess.StartCapture(true, nil)
	if !img.HasData() {
		t.Fatalf("capture failed: %s", sess.Status())
	}
	if img.Width() != cam.SensorWidth()/2 || img.Height() != cam.SensorHeight()/2 {
		t.Errorf("expected half-resolution frame, got %dx%d", img.Width(), img.Height())
	}
	if img.Metadata().BinX != 2 {
		t.Errorf("expected bin 2 in metadata, got %d", img.Metadata().BinX)
	}
}

func TestDarkFrameHasNoStars(t *testing.T) {
	cam := sim.New("simtest", 42)
	sess, err := camera.NewSession(cam, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.SetExposure(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	// no mechanical shutter; closing it makes subsequent frames dark
	if err := sess.SetShutterOpen(false); err != nil {
		t.Fatal(err)
	}
	img := sess.StartCapture(true, nil)
	if !img.HasData() {
		t.Fatalf("capture failed: %s", sess.Status())
	}
	st := img.Stats()
	if st.Max > 100 {
		t.Errorf("expected only offset and read noise in a dark frame, max %d", st.Max)
	}
}

func TestAbortReportsFailure(t *testing.T) {
	cam := sim.New("simtest", 1)
	if err := cam.SetExposure(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := cam.StartExposure(false); err != nil {
		t.Fatal(err)
	}
	if err := cam.AbortExposure(); err != nil {
		t.Fatal(err)
	}
	st, err := cam.ExposureStatus()
	if err != nil {
		t.Fatal(err)
	}
	if st != camera.ExpFailed {
		t.Errorf("expected failed status after abort, got %v", st)
	}
	buf := make([]uint16, cam.SensorWidth()*cam.SensorHeight())
	if err := cam.Download(buf); err == nil {
		t.Error("expected download to fail after abort")
	}
}

func TestDownloadRequiresSuccess(t *testing.T) {
	cam := sim.New("simtest", 1)
	buf := make([]uint16, cam.SensorWidth()*cam.SensorHeight())
	if err := cam.Download(buf); err == nil {
		t.Error("expected download with no exposure to fail")
	}
}

func TestSignalScalesWithExposure(t *testing.T) {
	cam := sim.New("simtest", 7)
	if err := cam.SetGainRaw(510); err != nil {
		t.Fatal(err)
	}
	buf := make([]uint16, cam.SensorWidth()*cam.SensorHeight())

	mean := func(texp time.Duration) float64 {
		if err := cam.SetExposure(texp); err != nil {
			t.Fatal(err)
		}
		if err := cam.StartExposure(false); err != nil {
			t.Fatal(err)
		}
		waitSuccess(t, cam)
		if err := cam.Download(buf); err != nil {
			t.Fatal(err)
		}
		var sum float64
		for _, v := range buf {
			sum += float64(v)
		}
		return sum / float64(len(buf))
	}

	short := mean(10 * time.Millisecond)
	long := mean(100 * time.Millisecond)
	if long <= short {
		t.Errorf("expected counts to grow with exposure, got %f then %f", short, long)
	}
}

func TestThermalControl(t *testing.T) {
	cam := sim.New("simtest", 1)
	temp, err := cam.Temperature()
	if err != nil {
		t.Fatal(err)
	}
	if temp != 21.5 {
		t.Errorf("expected ambient temperature uncooled, got %f", temp)
	}
	if err := cam.SetTempSetpoint(-15); err != nil {
		t.Fatal(err)
	}
	if err := cam.SetCooling(true); err != nil {
		t.Fatal(err)
	}
	temp, err = cam.Temperature()
	if err != nil {
		t.Fatal(err)
	}
	if temp < -15 || temp > -14 {
		t.Errorf("expected temperature near setpoint while cooling, got %f", temp)
	}
	power, err := cam.GetCoolerPower()
	if err != nil {
		t.Fatal(err)
	}
	if power != 73 {
		t.Errorf("expected nonzero cooler power, got %f", power)
	}
	if err := cam.SetTempSetpoint(-100); err == nil {
		t.Error("expected out-of-range setpoint to be rejected")
	}
}
