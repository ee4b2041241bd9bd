// Package rig is the application state object. A Rig owns the device
// registry, completion engine, phase controller, emergency override and
// affinity analyzer of one simulated instrument, and serializes every
// command, query and tick behind a single mutex.
package rig

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/fluidrig/internal/affinity"
	"github.com/nvandessel/fluidrig/internal/completion"
	"github.com/nvandessel/fluidrig/internal/config"
	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/device"
	"github.com/nvandessel/fluidrig/internal/emergency"
	"github.com/nvandessel/fluidrig/internal/eventlog"
	"github.com/nvandessel/fluidrig/internal/logging"
	"github.com/nvandessel/fluidrig/internal/metrics"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/phase"
	"github.com/nvandessel/fluidrig/internal/rigerr"
	"github.com/nvandessel/fluidrig/internal/store"
)

// Result is the outcome of a command, ready for display.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Rig is one simulated instrument and its analysis pipeline.
type Rig struct {
	mu sync.Mutex

	runID      string
	procedure  string
	log        *eventlog.Log
	registry   *device.Registry
	engine     *completion.Engine
	controller *phase.Controller
	override   *emergency.Override
	analyzer   *affinity.Analyzer
	data       store.Dataset

	notice     models.Notice
	lastKD     *models.KDResult
	lastUpdate time.Time

	nowFunc func() time.Time
	logger  *slog.Logger
	metrics metrics.Recorder
	tracer  *logging.TraceLogger
	fitter  affinity.Fitter
}

// Option configures a Rig.
type Option func(*Rig)

// WithClock overrides the clock used by every component.
func WithClock(now func() time.Time) Option {
	return func(r *Rig) { r.nowFunc = now }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Rig) { r.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Rig) { r.metrics = m }
}

// WithTracer sets the transition trace logger. A nil tracer disables
// tracing.
func WithTracer(t *logging.TraceLogger) Option {
	return func(r *Rig) { r.tracer = t }
}

// WithDataset sets the measurement data set. The default is an in-memory
// data set.
func WithDataset(d store.Dataset) Option {
	return func(r *Rig) { r.data = d }
}

// WithFitter replaces the affinity curve fitter.
func WithFitter(f affinity.Fitter) Option {
	return func(r *Rig) { r.fitter = f }
}

// New builds a rig from configuration. The event log starts with the
// startup and procedure entries.
func New(cfg config.RigConfig, opts ...Option) (*Rig, error) {
	r := &Rig{
		runID:     uuid.NewString(),
		procedure: cfg.Procedure,
		nowFunc:   time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.data == nil {
		r.data = store.NewMemoryDataset()
	}

	scale := cfg.TimeScale
	if scale == 0 {
		scale = constants.DefaultTimeScale
	}

	r.log = eventlog.New(constants.LogCapacity,
		eventlog.WithClock(r.nowFunc),
		eventlog.WithObserver(func(e eventlog.Entry) {
			r.logger.Debug("event", "message", e.Message)
		}),
	)

	reg, err := device.NewRegistry(cfg.Devices, cfg.Valves, r.log,
		device.WithClock(r.nowFunc),
		device.WithTimeScale(scale),
	)
	if err != nil {
		return nil, fmt.Errorf("building device registry: %w", err)
	}
	ctrl, err := phase.NewController(cfg.Procedure, cfg.Phases, r.log)
	if err != nil {
		return nil, fmt.Errorf("building phase controller: %w", err)
	}
	gated := make(map[int]bool, ctrl.DeviceGated())
	for _, p := range cfg.Phases[:ctrl.DeviceGated()] {
		d, err := reg.Get(p.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", p.Number, err)
		}
		if !d.PhaseGating {
			return nil, fmt.Errorf("phase %d: device %d is not phase gating", p.Number, p.DeviceID)
		}
		gated[p.DeviceID] = true
	}
	for _, d := range reg.List() {
		if d.PhaseGating && !gated[d.ID] {
			return nil, rigerr.Validation("device %d is phase gating but gates no phase", d.ID)
		}
	}

	analyzerOpts := []affinity.Option{affinity.WithClock(r.nowFunc)}
	if r.fitter != nil {
		analyzerOpts = append(analyzerOpts, affinity.WithFitter(r.fitter))
	}

	r.registry = reg
	r.engine = completion.NewEngine(reg)
	r.controller = ctrl
	r.override = emergency.New(reg, ctrl, r.log)
	r.analyzer = affinity.NewAnalyzer(r.data, analyzerOpts...)

	now := r.nowFunc()
	r.lastUpdate = now
	r.log.AddAt(now, "System startup completed")
	r.log.AddAt(now, "Loaded experiment procedure: "+cfg.Procedure)
	r.logger.Info("rig ready",
		"run_id", r.runID,
		"procedure", cfg.Procedure,
		"devices", len(cfg.Devices),
		"phases", len(cfg.Phases),
		"time_scale", scale)
	r.trace(logging.Transition{Kind: "startup", At: now})

	return r, nil
}

// RunID identifies this rig instance in logs, traces and snapshots.
func (r *Rig) RunID() string {
	return r.runID
}

// Close releases the data set and flushes metrics.
func (r *Rig) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if err := r.data.Close(); err != nil {
		firstErr = fmt.Errorf("closing data set: %w", err)
	}
	if err := r.metrics.Close(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing metrics: %w", err)
	}
	r.tracer.Close()
	return firstErr
}

// now returns the rig clock. Callers hold r.mu.
func (r *Rig) now() time.Time {
	return r.nowFunc()
}

// touch records a state change for the "last update" display.
func (r *Rig) touch(t time.Time) {
	r.lastUpdate = t
}
