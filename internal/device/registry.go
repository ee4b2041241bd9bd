// Package device holds the configuration and live state of every
// controllable unit on the rig: pumps, detectors and valves.
//
// The registry is the only owner of device state. Operators mutate it
// through Start, Stop and SetParameters; the completion engine is the only
// caller allowed to move a device from running to stopped through elapsed
// time (Complete).
package device

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/eventlog"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// Interlock reports whether device starts are currently forbidden.
// The emergency override implements it.
type Interlock interface {
	Active() bool
}

// Registry implements the device registry. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	devices    map[int]*models.Device
	order      []int
	valves     map[int]*models.Valve
	valveOrder []int
	timeScale  float64
	log        *eventlog.Log
	interlock  Interlock
	nowFunc    func() time.Time // injectable clock for testing
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.nowFunc = now }
}

// WithTimeScale sets the multiplier applied to configured durations.
func WithTimeScale(scale float64) Option {
	return func(r *Registry) { r.timeScale = scale }
}

// WithInterlock sets the start interlock.
func WithInterlock(i Interlock) Option {
	return func(r *Registry) { r.interlock = i }
}

// NewRegistry creates a registry from device and valve configurations.
// Device IDs and valve IDs must each be unique and every device must pass
// the same range checks SetParameters applies.
func NewRegistry(devices []models.Device, valves []models.Valve, log *eventlog.Log, opts ...Option) (*Registry, error) {
	r := &Registry{
		devices:   make(map[int]*models.Device, len(devices)),
		valves:    make(map[int]*models.Valve, len(valves)),
		timeScale: constants.DefaultTimeScale,
		log:       log,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeScale <= 0 {
		return nil, rigerr.Validation("time scale must be positive, got %g", r.timeScale)
	}
	if r.log == nil {
		r.log = eventlog.New(constants.LogCapacity, eventlog.WithClock(r.nowFunc))
	}

	for _, d := range devices {
		if _, dup := r.devices[d.ID]; dup {
			return nil, rigerr.Validation("duplicate device id %d", d.ID)
		}
		if d.Kind == "" {
			d.Kind = models.DeviceKindPump
		}
		if !d.Kind.Valid() {
			return nil, rigerr.Validation("device %d: unknown kind %q", d.ID, d.Kind)
		}
		if err := ValidateParameters(d.FlowRate, d.Duration); err != nil {
			return nil, fmt.Errorf("device %d: %w", d.ID, err)
		}
		if err := ValidateAcquisition(d); err != nil {
			return nil, fmt.Errorf("device %d: %w", d.ID, err)
		}
		dev := copyDevice(&d)
		if dev.Camera != nil {
			dev.Camera.Captured = false
		}
		dev.Running = false
		dev.Completed = false
		dev.StartedAt = nil
		dev.EffectiveDuration = 0
		r.devices[d.ID] = &dev
		r.order = append(r.order, d.ID)
	}
	sort.Ints(r.order)

	for _, v := range valves {
		if _, dup := r.valves[v.ID]; dup {
			return nil, rigerr.Validation("duplicate valve id %d", v.ID)
		}
		valve := v
		r.valves[v.ID] = &valve
		r.valveOrder = append(r.valveOrder, v.ID)
	}
	sort.Ints(r.valveOrder)

	return r, nil
}

// SetInterlock replaces the start interlock. The override is usually
// constructed after the registry, so it is attached here.
func (r *Registry) SetInterlock(i Interlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interlock = i
}

// TimeScale returns the duration multiplier.
func (r *Registry) TimeScale() float64 {
	return r.timeScale
}

// ValidateParameters checks flow rate and duration against the accepted
// ranges.
func ValidateParameters(flowRate, duration float64) error {
	if flowRate < constants.MinFlowRate || flowRate > constants.MaxFlowRate {
		return rigerr.Validation("flow rate %g μL/min out of range [%g, %g]",
			flowRate, constants.MinFlowRate, constants.MaxFlowRate)
	}
	if duration < constants.MinDuration || duration > constants.MaxDuration {
		return rigerr.Validation("duration %g s out of range [%g, %g]",
			duration, constants.MinDuration, constants.MaxDuration)
	}
	return nil
}

// ValidateAcquisition checks a device's detector settings. Pumps carry
// none and a detector carries at most one kind.
func ValidateAcquisition(d models.Device) error {
	if d.Spectra == nil && d.Camera == nil {
		return nil
	}
	if d.Kind != models.DeviceKindDetector {
		return rigerr.Validation("%s has acquisition settings but is not a detector", d.Name())
	}
	if d.Spectra != nil && d.Camera != nil {
		return rigerr.Validation("%s has both spectra and camera settings", d.Name())
	}
	if d.Spectra != nil {
		return ValidateSpectra(*d.Spectra)
	}
	return ValidateCamera(*d.Camera)
}

// ValidateSpectra checks wavelength range, mode and scan interval.
func ValidateSpectra(sp models.Spectra) error {
	if sp.StartNM < constants.MinWavelength || sp.EndNM > constants.MaxWavelength {
		return rigerr.Validation("wavelength range %d-%dnm out of range [%d, %d]",
			sp.StartNM, sp.EndNM, constants.MinWavelength, constants.MaxWavelength)
	}
	if sp.StartNM >= sp.EndNM {
		return rigerr.Validation("start wavelength %dnm must be below end wavelength %dnm", sp.StartNM, sp.EndNM)
	}
	if !sp.Mode.Valid() {
		return rigerr.Validation("unknown spectra mode %q", sp.Mode)
	}
	if sp.Interval < constants.MinSpectraInterval || sp.Interval > constants.MaxSpectraInterval {
		return rigerr.Validation("scan interval %d s out of range [%d, %d]",
			sp.Interval, constants.MinSpectraInterval, constants.MaxSpectraInterval)
	}
	return nil
}

// ValidateCamera checks exposure and magnification.
func ValidateCamera(c models.Camera) error {
	if c.ExposureMS < constants.MinExposure || c.ExposureMS > constants.MaxExposure {
		return rigerr.Validation("exposure %d ms out of range [%d, %d]",
			c.ExposureMS, constants.MinExposure, constants.MaxExposure)
	}
	for _, m := range constants.Magnifications {
		if c.Magnification == m {
			return nil
		}
	}
	return rigerr.Validation("unsupported magnification %q (valid: %s)",
		c.Magnification, strings.Join(constants.Magnifications, ", "))
}

// Start begins a timed run of the device. It fails with an invalid state
// error if the device is already running or the interlock is engaged.
func (r *Registry) Start(id int) (models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(id)
	if err != nil {
		return models.Device{}, err
	}
	if r.interlock != nil && r.interlock.Active() {
		return models.Device{}, rigerr.InvalidState("%s cannot start: emergency stop is active", d.Name())
	}
	if d.Running {
		return models.Device{}, rigerr.InvalidState("%s is already running", d.Name())
	}

	now := r.nowFunc()
	d.Running = true
	d.StartedAt = &now
	d.EffectiveDuration = r.effective(d.Duration)

	switch {
	case d.Kind == models.DeviceKindPump:
		r.log.AddAt(now, fmt.Sprintf("%s started: %gμL/min, %g seconds", d.Name(), d.FlowRate, d.Duration))
	case d.Spectra != nil:
		r.log.AddAt(now, fmt.Sprintf("%s started: %s, %s, %g seconds", d.Name(), d.Label, d.Spectra.Summary(), d.Duration))
	case d.Camera != nil:
		d.Camera.Captured = false
		r.log.AddAt(now, fmt.Sprintf("%s started: %s, %s, %g seconds", d.Name(), d.Label, d.Camera.Summary(), d.Duration))
	default:
		r.log.AddAt(now, fmt.Sprintf("%s started: %s, %g seconds", d.Name(), d.Label, d.Duration))
	}
	return copyDevice(d), nil
}

// Stop halts a running device without latching completion. Stopping an
// idle device is a successful no-op; stopped reports whether anything
// changed.
func (r *Registry) Stop(id int) (dev models.Device, stopped bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(id)
	if err != nil {
		return models.Device{}, false, err
	}
	if !d.Running {
		return copyDevice(d), false, nil
	}

	d.Running = false
	d.StartedAt = nil
	r.log.AddAt(r.nowFunc(), d.Name()+" manually stopped")
	return copyDevice(d), true, nil
}

// SetParameters updates flow rate and duration of an idle device.
func (r *Registry) SetParameters(id int, flowRate, duration float64) (models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(id)
	if err != nil {
		return models.Device{}, err
	}
	if d.Running {
		return models.Device{}, rigerr.InvalidState("%s parameters cannot change while running", d.Name())
	}
	if err := ValidateParameters(flowRate, duration); err != nil {
		return models.Device{}, err
	}

	d.FlowRate = flowRate
	d.Duration = duration
	r.log.AddAt(r.nowFunc(), fmt.Sprintf("%s parameters set: %gμL/min, %g seconds", d.Name(), flowRate, duration))
	return copyDevice(d), nil
}

// SetSpectra replaces the acquisition settings of an idle spectrometer.
func (r *Registry) SetSpectra(id int, sp models.Spectra) (models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(id)
	if err != nil {
		return models.Device{}, err
	}
	if d.Spectra == nil {
		return models.Device{}, rigerr.Validation("%s has no spectra settings", d.Name())
	}
	if d.Running {
		return models.Device{}, rigerr.InvalidState("%s settings cannot change while running", d.Name())
	}
	if err := ValidateSpectra(sp); err != nil {
		return models.Device{}, err
	}

	*d.Spectra = sp
	r.log.AddAt(r.nowFunc(), fmt.Sprintf("%s spectra set: %s, every %d s", d.Name(), sp.Summary(), sp.Interval))
	return copyDevice(d), nil
}

// SetCamera replaces the acquisition settings of an idle camera. The
// captured flag is kept.
func (r *Registry) SetCamera(id int, c models.Camera) (models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(id)
	if err != nil {
		return models.Device{}, err
	}
	if d.Camera == nil {
		return models.Device{}, rigerr.Validation("%s has no camera settings", d.Name())
	}
	if d.Running {
		return models.Device{}, rigerr.InvalidState("%s settings cannot change while running", d.Name())
	}
	if err := ValidateCamera(c); err != nil {
		return models.Device{}, err
	}

	c.Captured = d.Camera.Captured
	*d.Camera = c
	r.log.AddAt(r.nowFunc(), fmt.Sprintf("%s camera set: %s", d.Name(), c.Summary()))
	return copyDevice(d), nil
}

// Complete stops a running device whose run time has elapsed and latches
// Completed if it gates a phase. It returns false if the device was not
// running, which keeps repeated completion checks idempotent.
func (r *Registry) Complete(id int, at time.Time) (models.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok || !d.Running {
		return models.Device{}, false
	}

	d.Running = false
	d.StartedAt = nil
	if d.PhaseGating {
		d.Completed = true
	}
	r.log.AddAt(at, d.Name()+" stopped")
	if d.Camera != nil {
		d.Camera.Captured = true
		r.log.AddAt(at, d.Name()+" image captured")
	}
	return copyDevice(d), true
}

// HaltAll stops every running device without latching completion and
// returns the IDs that were halted.
func (r *Registry) HaltAll() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var halted []int
	for _, id := range r.order {
		d := r.devices[id]
		if d.Running {
			d.Running = false
			d.StartedAt = nil
			halted = append(halted, id)
		}
	}
	return halted
}

// ResetLatches clears every Completed latch.
func (r *Registry) ResetLatches() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		d.Completed = false
	}
}

// CompletedGating returns the number of phase-gating devices whose latch
// is set.
func (r *Registry) CompletedGating() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, d := range r.devices {
		if d.PhaseGating && d.Completed {
			n++
		}
	}
	return n
}

// IsCompleted reports whether a device's completion latch is set. Unknown
// devices are never completed.
func (r *Registry) IsCompleted(id int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	return ok && d.Completed
}

// Running returns copies of all running devices in ID order.
func (r *Registry) Running() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Device
	for _, id := range r.order {
		if d := r.devices[id]; d.Running {
			out = append(out, copyDevice(d))
		}
	}
	return out
}

// Get returns a copy of one device.
func (r *Registry) Get(id int) (models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, err := r.lookup(id)
	if err != nil {
		return models.Device{}, err
	}
	return copyDevice(d), nil
}

// List returns copies of all devices in ID order.
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copyDevice(r.devices[id]))
	}
	return out
}

// ToggleValve flips a valve between open and closed.
func (r *Registry) ToggleValve(id int) (models.Valve, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.valves[id]
	if !ok {
		return models.Valve{}, rigerr.Validation("unknown valve %d", id)
	}
	v.Open = !v.Open
	if v.Open {
		r.log.AddAt(r.nowFunc(), fmt.Sprintf("Valve %d opened", id))
	} else {
		r.log.AddAt(r.nowFunc(), fmt.Sprintf("Valve %d closed", id))
	}
	return *v, nil
}

// Valves returns copies of all valves in ID order.
func (r *Registry) Valves() []models.Valve {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Valve, 0, len(r.valveOrder))
	for _, id := range r.valveOrder {
		out = append(out, *r.valves[id])
	}
	return out
}

func (r *Registry) lookup(id int) (*models.Device, error) {
	d, ok := r.devices[id]
	if !ok {
		return nil, rigerr.Validation("unknown device %d", id)
	}
	return d, nil
}

func (r *Registry) effective(seconds float64) time.Duration {
	return time.Duration(seconds * r.timeScale * float64(time.Second))
}

func copyDevice(d *models.Device) models.Device {
	c := *d
	if d.StartedAt != nil {
		t := *d.StartedAt
		c.StartedAt = &t
	}
	if d.Spectra != nil {
		sp := *d.Spectra
		c.Spectra = &sp
	}
	if d.Camera != nil {
		cam := *d.Camera
		c.Camera = &cam
	}
	return c
}
