package device

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/fluidrig/internal/eventlog"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type stubInterlock struct {
	active bool
}

func (s *stubInterlock) Active() bool { return s.active }

func testDevices() []models.Device {
	return []models.Device{
		{ID: 1, Kind: models.DeviceKindPump, Label: "Protein A", FlowRate: 50, Duration: 10, PhaseGating: true},
		{ID: 2, Kind: models.DeviceKindPump, Label: "Protein B", FlowRate: 30, Duration: 15, PhaseGating: true},
		{ID: 3, Kind: models.DeviceKindPump, Label: "Buffer", FlowRate: 40, Duration: 20},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *eventlog.Log) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 15, 14, 29, 0, 0, time.UTC)}
	log := eventlog.New(50, eventlog.WithClock(clock.Now))
	valves := []models.Valve{{ID: 1, Description: "To chip inlet A", Open: true}, {ID: 2, Description: "To chip inlet B"}}
	r, err := NewRegistry(testDevices(), valves, log, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r, clock, log
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name    string
		devices []models.Device
		valves  []models.Valve
		opts    []Option
	}{
		{"duplicate device", []models.Device{{ID: 1, Duration: 10}, {ID: 1, Duration: 10}}, nil, nil},
		{"unknown kind", []models.Device{{ID: 1, Kind: "valve", Duration: 10}}, nil, nil},
		{"flow out of range", []models.Device{{ID: 1, FlowRate: 1001, Duration: 10}}, nil, nil},
		{"duration out of range", []models.Device{{ID: 1, Duration: 0}}, nil, nil},
		{"duplicate valve", nil, []models.Valve{{ID: 1}, {ID: 1}}, nil},
		{"non-positive time scale", nil, nil, []Option{WithTimeScale(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.devices, tt.valves, nil, tt.opts...)
			if !errors.Is(err, rigerr.ErrValidation) {
				t.Errorf("NewRegistry error = %v, want validation error", err)
			}
		})
	}
}

func TestStart(t *testing.T) {
	r, clock, log := newTestRegistry(t)

	d, err := r.Start(1)
	if err != nil {
		t.Fatalf("Start(1) failed: %v", err)
	}
	if !d.Running {
		t.Error("device not running after Start")
	}
	if d.StartedAt == nil || !d.StartedAt.Equal(clock.Now()) {
		t.Errorf("StartedAt = %v, want %v", d.StartedAt, clock.Now())
	}
	if d.EffectiveDuration != 2*time.Second {
		t.Errorf("EffectiveDuration = %v, want 2s", d.EffectiveDuration)
	}

	lines := log.Lines(1)
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "Pump 1 started: 50μL/min, 10 seconds") {
		t.Errorf("log = %v", lines)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	r, _, log := newTestRegistry(t)
	if _, err := r.Start(1); err != nil {
		t.Fatalf("Start(1) failed: %v", err)
	}
	before := log.Len()

	_, err := r.Start(1)
	if !errors.Is(err, rigerr.ErrInvalidState) {
		t.Errorf("second Start error = %v, want invalid state", err)
	}
	if log.Len() != before {
		t.Error("rejected start must not log")
	}
}

func TestStart_Interlocked(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	lock := &stubInterlock{active: true}
	r.SetInterlock(lock)

	if _, err := r.Start(2); !errors.Is(err, rigerr.ErrInvalidState) {
		t.Errorf("Start during emergency error = %v, want invalid state", err)
	}
	d, _ := r.Get(2)
	if d.Running {
		t.Error("device started despite interlock")
	}

	lock.active = false
	if _, err := r.Start(2); err != nil {
		t.Errorf("Start after interlock release failed: %v", err)
	}
}

func TestStart_UnknownDevice(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := r.Start(9); !errors.Is(err, rigerr.ErrValidation) {
		t.Errorf("Start(9) error = %v, want validation error", err)
	}
}

func TestStop(t *testing.T) {
	r, _, log := newTestRegistry(t)
	r.Start(1)

	d, stopped, err := r.Stop(1)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !stopped || d.Running {
		t.Errorf("Stop: stopped=%v running=%v", stopped, d.Running)
	}
	if d.Completed {
		t.Error("manual stop must never latch completion")
	}
	if got := log.Tail(1)[0].Message; got != "Pump 1 manually stopped" {
		t.Errorf("log = %q", got)
	}

	// Idempotent
	before := log.Len()
	_, stopped, err = r.Stop(1)
	if err != nil || stopped {
		t.Errorf("second Stop: stopped=%v err=%v", stopped, err)
	}
	if log.Len() != before {
		t.Error("idle stop must not log")
	}
}

func TestSetParameters(t *testing.T) {
	tests := []struct {
		name     string
		flow     float64
		duration float64
		wantErr  error
	}{
		{"valid", 120, 30, nil},
		{"bounds inclusive low", 0, 1, nil},
		{"bounds inclusive high", 1000, 3600, nil},
		{"negative flow", -1, 30, rigerr.ErrValidation},
		{"flow too high", 1000.5, 30, rigerr.ErrValidation},
		{"duration too short", 50, 0.5, rigerr.ErrValidation},
		{"duration too long", 50, 3601, rigerr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRegistry(t)
			d, err := r.SetParameters(3, tt.flow, tt.duration)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				unchanged, _ := r.Get(3)
				if unchanged.FlowRate != 40 || unchanged.Duration != 20 {
					t.Errorf("rejected update mutated device: %+v", unchanged)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetParameters failed: %v", err)
			}
			if d.FlowRate != tt.flow || d.Duration != tt.duration {
				t.Errorf("device = %+v", d)
			}
		})
	}
}

func TestSetParameters_WhileRunning(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.Start(3)
	if _, err := r.SetParameters(3, 10, 10); !errors.Is(err, rigerr.ErrInvalidState) {
		t.Errorf("error = %v, want invalid state", err)
	}
}

func TestComplete(t *testing.T) {
	r, clock, log := newTestRegistry(t)
	r.Start(1)
	r.Start(3)
	clock.Advance(5 * time.Second)

	d, ok := r.Complete(1, clock.Now())
	if !ok || d.Running || !d.Completed {
		t.Errorf("Complete(1) = %+v, %v", d, ok)
	}
	if got := log.Tail(1)[0].Message; got != "Pump 1 stopped" {
		t.Errorf("log = %q", got)
	}

	// Non-gating devices never latch.
	d, ok = r.Complete(3, clock.Now())
	if !ok || d.Completed {
		t.Errorf("Complete(3) = %+v, %v", d, ok)
	}

	// Second completion is a no-op.
	if _, ok := r.Complete(1, clock.Now()); ok {
		t.Error("second Complete returned ok")
	}
	if r.CompletedGating() != 1 {
		t.Errorf("CompletedGating() = %d, want 1", r.CompletedGating())
	}
}

func TestHaltAllAndResetLatches(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	r.Start(1)
	r.Complete(1, clock.Now())
	r.Start(2)
	r.Start(3)

	halted := r.HaltAll()
	if len(halted) != 2 || halted[0] != 2 || halted[1] != 3 {
		t.Errorf("HaltAll() = %v, want [2 3]", halted)
	}
	if len(r.Running()) != 0 {
		t.Error("devices still running after HaltAll")
	}
	d2, _ := r.Get(2)
	if d2.Completed {
		t.Error("halt latched completion")
	}

	r.ResetLatches()
	if r.CompletedGating() != 0 {
		t.Errorf("CompletedGating() after reset = %d", r.CompletedGating())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.Start(1)

	d, _ := r.Get(1)
	*d.StartedAt = d.StartedAt.Add(time.Hour)
	d.Running = false

	again, _ := r.Get(1)
	if !again.Running {
		t.Error("mutating a copy changed registry state")
	}
	if again.StartedAt.Equal(*d.StartedAt) {
		t.Error("StartedAt pointer shared with caller")
	}
}

func TestToggleValve(t *testing.T) {
	r, _, log := newTestRegistry(t)

	v, err := r.ToggleValve(2)
	if err != nil || !v.Open {
		t.Fatalf("ToggleValve(2) = %+v, %v", v, err)
	}
	if got := log.Tail(1)[0].Message; got != "Valve 2 opened" {
		t.Errorf("log = %q", got)
	}

	v, _ = r.ToggleValve(2)
	if v.Open {
		t.Error("second toggle left valve open")
	}
	if got := log.Tail(1)[0].Message; got != "Valve 2 closed" {
		t.Errorf("log = %q", got)
	}

	if _, err := r.ToggleValve(7); !errors.Is(err, rigerr.ErrValidation) {
		t.Errorf("ToggleValve(7) error = %v", err)
	}

	valves := r.Valves()
	if len(valves) != 2 || valves[0].ID != 1 {
		t.Errorf("Valves() = %+v", valves)
	}
}

func detectorDevices() []models.Device {
	return []models.Device{
		{ID: 4, Kind: models.DeviceKindDetector, Label: "Spectrometer", Duration: 10,
			Spectra: &models.Spectra{StartNM: 400, EndNM: 700, Mode: models.SpectraAbsorbance, Interval: 5}},
		{ID: 5, Kind: models.DeviceKindDetector, Label: "Camera", Duration: 2,
			Camera: &models.Camera{ExposureMS: 50, Magnification: "20x", Captured: true}},
		{ID: 6, Kind: models.DeviceKindDetector, Label: "Probe", Duration: 3},
	}
}

func newDetectorRegistry(t *testing.T) (*Registry, *eventlog.Log, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 15, 10, 0, 0, 0, time.UTC)}
	log := eventlog.New(20, eventlog.WithClock(clock.Now))
	r, err := NewRegistry(detectorDevices(), nil, log, WithClock(clock.Now), WithTimeScale(1))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r, log, clock
}

func TestDetectorStartLog(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{4, "Detector 4 started: Spectrometer, 400-700nm, absorbance mode, 10 seconds"},
		{5, "Detector 5 started: Camera, 20x, 50ms exposure, 2 seconds"},
		{6, "Detector 6 started: Probe, 3 seconds"},
	}
	for _, tt := range tests {
		r, log, _ := newDetectorRegistry(t)
		d, err := r.Start(tt.id)
		if err != nil {
			t.Fatalf("Start(%d) failed: %v", tt.id, err)
		}
		if d.EffectiveDuration != time.Duration(d.Duration)*time.Second {
			t.Errorf("device %d EffectiveDuration = %v", tt.id, d.EffectiveDuration)
		}
		if got := log.Tail(1)[0].Message; got != tt.want {
			t.Errorf("device %d log = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestCameraCapture(t *testing.T) {
	r, log, clock := newDetectorRegistry(t)

	d, _ := r.Get(5)
	if d.Camera.Captured {
		t.Error("configured captured flag survived NewRegistry")
	}

	if _, err := r.Start(5); err != nil {
		t.Fatalf("Start(5) failed: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, ok := r.Complete(5, clock.Now()); !ok {
		t.Fatal("Complete(5) reported no change")
	}
	d, _ = r.Get(5)
	if !d.Camera.Captured || d.Completed {
		t.Errorf("after capture: captured %v, completed %v", d.Camera.Captured, d.Completed)
	}
	if got := log.Tail(1)[0].Message; got != "Detector 5 image captured" {
		t.Errorf("log = %q", got)
	}

	// A new run clears the previous capture.
	if _, err := r.Start(5); err != nil {
		t.Fatalf("second Start(5) failed: %v", err)
	}
	if d, _ = r.Get(5); d.Camera.Captured {
		t.Error("captured flag kept across a new run")
	}
}

func TestSetSpectra(t *testing.T) {
	r, log, _ := newDetectorRegistry(t)
	fluor := models.Spectra{StartNM: 450, EndNM: 600, Mode: models.SpectraFluorescence, Interval: 10}

	d, err := r.SetSpectra(4, fluor)
	if err != nil {
		t.Fatalf("SetSpectra failed: %v", err)
	}
	if *d.Spectra != fluor {
		t.Errorf("Spectra = %+v", *d.Spectra)
	}
	if got := log.Tail(1)[0].Message; got != "Detector 4 spectra set: 450-600nm, fluorescence mode, every 10 s" {
		t.Errorf("log = %q", got)
	}

	tests := []struct {
		name    string
		id      int
		sp      models.Spectra
		wantErr error
	}{
		{"below range", 4, models.Spectra{StartNM: 200, EndNM: 700, Mode: models.SpectraAbsorbance, Interval: 5}, rigerr.ErrValidation},
		{"reversed", 4, models.Spectra{StartNM: 700, EndNM: 400, Mode: models.SpectraAbsorbance, Interval: 5}, rigerr.ErrValidation},
		{"bad mode", 4, models.Spectra{StartNM: 400, EndNM: 700, Mode: "raman", Interval: 5}, rigerr.ErrValidation},
		{"bad interval", 4, models.Spectra{StartNM: 400, EndNM: 700, Mode: models.SpectraAbsorbance, Interval: 0}, rigerr.ErrValidation},
		{"camera device", 5, fluor, rigerr.ErrValidation},
		{"unknown device", 9, fluor, rigerr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.SetSpectra(tt.id, tt.sp); !errors.Is(err, tt.wantErr) {
				t.Errorf("SetSpectra error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := r.Start(4); err != nil {
		t.Fatalf("Start(4) failed: %v", err)
	}
	if _, err := r.SetSpectra(4, fluor); !errors.Is(err, rigerr.ErrInvalidState) {
		t.Errorf("SetSpectra while running error = %v", err)
	}
}

func TestSetCamera(t *testing.T) {
	r, _, _ := newDetectorRegistry(t)

	d, err := r.SetCamera(5, models.Camera{ExposureMS: 200, Magnification: "40x"})
	if err != nil {
		t.Fatalf("SetCamera failed: %v", err)
	}
	if d.Camera.ExposureMS != 200 || d.Camera.Magnification != "40x" {
		t.Errorf("Camera = %+v", *d.Camera)
	}

	for _, c := range []models.Camera{{ExposureMS: 0, Magnification: "20x"}, {ExposureMS: 50, Magnification: "100x"}} {
		if _, err := r.SetCamera(5, c); !errors.Is(err, rigerr.ErrValidation) {
			t.Errorf("SetCamera(%+v) error = %v", c, err)
		}
	}
	if _, err := r.SetCamera(4, models.Camera{ExposureMS: 50, Magnification: "20x"}); !errors.Is(err, rigerr.ErrValidation) {
		t.Errorf("SetCamera on spectrometer error = %v", err)
	}
}

func TestGet_CopiesAcquisition(t *testing.T) {
	r, _, _ := newDetectorRegistry(t)

	d, _ := r.Get(4)
	d.Spectra.StartNM = 999
	if again, _ := r.Get(4); again.Spectra.StartNM != 400 {
		t.Errorf("registry state changed through a copy: %d", again.Spectra.StartNM)
	}
}

func TestValidateAcquisition(t *testing.T) {
	sp := &models.Spectra{StartNM: 400, EndNM: 700, Mode: models.SpectraAbsorbance, Interval: 5}
	cam := &models.Camera{ExposureMS: 50, Magnification: "20x"}

	tests := []struct {
		name    string
		dev     models.Device
		wantErr bool
	}{
		{"plain pump", models.Device{ID: 1, Kind: models.DeviceKindPump}, false},
		{"spectrometer", models.Device{ID: 4, Kind: models.DeviceKindDetector, Spectra: sp}, false},
		{"camera", models.Device{ID: 5, Kind: models.DeviceKindDetector, Camera: cam}, false},
		{"pump with camera", models.Device{ID: 1, Kind: models.DeviceKindPump, Camera: cam}, true},
		{"both settings", models.Device{ID: 4, Kind: models.DeviceKindDetector, Spectra: sp, Camera: cam}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAcquisition(tt.dev)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAcquisition() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
