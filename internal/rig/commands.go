package rig

import (
	"context"
	"fmt"
	"io"

	"github.com/nvandessel/fluidrig/internal/ingest"
	"github.com/nvandessel/fluidrig/internal/logging"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
	"github.com/nvandessel/fluidrig/internal/sanitize"
)

// StartDevice starts a timed run of one device.
func (r *Rig) StartDevice(ctx context.Context, id int) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.registry.Start(id)
	if err != nil {
		return r.reject(ctx, "start_device", err)
	}
	r.metrics.DeviceStarted(ctx, d.ID, string(d.Kind))
	r.logger.Info("device started", "device", d.Name(), "effective_duration", d.EffectiveDuration)
	r.trace(logging.Transition{Kind: "device_started", DeviceID: d.ID, Detail: d.Name(), At: r.now()})
	return r.ok(d.Name() + " started")
}

// StopDevice stops a device without latching completion. Stopping an idle
// device succeeds and changes nothing.
func (r *Rig) StopDevice(ctx context.Context, id int) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, stopped, err := r.registry.Stop(id)
	if err != nil {
		return r.reject(ctx, "stop_device", err)
	}
	if !stopped {
		return Result{OK: true, Message: d.Name() + " is not running"}, nil
	}
	r.logger.Info("device stopped", "device", d.Name())
	r.trace(logging.Transition{Kind: "device_stopped", DeviceID: d.ID, Detail: d.Name(), At: r.now()})
	return r.ok(d.Name() + " stopped")
}

// SetDeviceParams updates flow rate (μL/min) and duration (seconds) of an
// idle device.
func (r *Rig) SetDeviceParams(ctx context.Context, id int, flowRate, duration float64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.registry.SetParameters(id, flowRate, duration)
	if err != nil {
		return r.reject(ctx, "set_device_params", err)
	}
	return r.ok(fmt.Sprintf("%s set to %gμL/min, %g seconds", d.Name(), d.FlowRate, d.Duration))
}

// SetSpectraParams updates the acquisition settings of an idle
// spectrometer.
func (r *Rig) SetSpectraParams(ctx context.Context, id int, sp models.Spectra) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.registry.SetSpectra(id, sp)
	if err != nil {
		return r.reject(ctx, "set_spectra_params", err)
	}
	return r.ok(fmt.Sprintf("%s set to %s, every %d s", d.Name(), d.Spectra.Summary(), d.Spectra.Interval))
}

// SetCameraParams updates the acquisition settings of an idle camera.
func (r *Rig) SetCameraParams(ctx context.Context, id int, c models.Camera) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.registry.SetCamera(id, c)
	if err != nil {
		return r.reject(ctx, "set_camera_params", err)
	}
	return r.ok(fmt.Sprintf("%s set to %s", d.Name(), d.Camera.Summary()))
}

// ToggleValve flips a valve. Valves are not interlocked by the emergency
// stop.
func (r *Rig) ToggleValve(ctx context.Context, id int) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.registry.ToggleValve(id)
	if err != nil {
		return r.reject(ctx, "toggle_valve", err)
	}
	return r.ok(fmt.Sprintf("Valve %d is now %s", v.ID, v.State()))
}

// BeginExperiment starts the duration-gated part of the procedure once
// every device-gated phase is complete.
func (r *Rig) BeginExperiment(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if err := r.controller.Begin(now, r.registry); err != nil {
		return r.reject(ctx, "begin_experiment", err)
	}
	r.logger.Info("experiment started", "procedure", r.procedure, "phase", r.controller.CurrentPhase())
	r.trace(logging.Transition{Kind: "experiment_started", At: now})
	return r.ok("Experiment procedure started: " + r.procedure)
}

// EmergencyTrigger halts every device and freezes the experiment. It never
// fails; triggering again while active halts again and refreshes the
// notice.
func (r *Rig) EmergencyTrigger(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	halted := r.override.Trigger(now)
	r.notice = r.override.Notice()
	r.metrics.EmergencyTriggered(ctx, len(halted))
	r.logger.Warn("emergency stop", "halted_devices", halted)
	r.trace(logging.Transition{
		Kind:  "emergency_triggered",
		Extra: map[string]any{"halted": halted},
		At:    now,
	})
	r.touch(now)
	return Result{OK: true, Message: r.notice.Text}, nil
}

// EmergencyResolve clears the emergency and rolls the experiment back to
// its initial state.
func (r *Rig) EmergencyResolve(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if err := r.override.Resolve(now); err != nil {
		return r.reject(ctx, "emergency_resolve", err)
	}
	r.notice = r.override.Notice()
	r.logger.Info("emergency resolved")
	r.trace(logging.Transition{Kind: "emergency_resolved", At: now})
	r.touch(now)
	return Result{OK: true, Message: r.notice.Text}, nil
}

// IngestCSV parses a measurement CSV and adds its rows to the data set.
// The whole file is rejected on any error, and a source name already
// ingested is rejected until the data set is cleared.
func (r *Rig) IngestCSV(ctx context.Context, source string, in io.Reader) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	source = sanitize.SourceName(source)
	rows, err := ingest.ParseCSV(in)
	if err != nil {
		return r.reject(ctx, "ingest_csv", fmt.Errorf("%s: %w", displaySource(source), err))
	}

	records := make([]models.AffinityRecord, len(rows))
	for i, row := range rows {
		records[i] = models.AffinityRecord{
			Label:         row.Label,
			Concentration: row.Concentration,
			Value:         row.Affinity,
		}
	}
	stored, err := r.analyzer.Ingest(ctx, source, records)
	if err != nil {
		return r.reject(ctx, "ingest_csv", fmt.Errorf("%s: %w", displaySource(source), err))
	}

	r.metrics.RecordsIngested(ctx, len(stored))
	r.log.AddAt(r.now(), fmt.Sprintf("Uploaded FCS data file: %s, containing %d records", displaySource(source), len(stored)))
	r.logger.Info("measurements ingested", "source", source, "records", len(stored))
	return r.ok(fmt.Sprintf("File uploaded successfully, added %d new records", len(stored)))
}

// IngestKD derives the KD value from a spreadsheet cell block. A zero
// m1m2 is rejected and nothing is logged.
func (r *Rig) IngestKD(ctx context.Context, cells [][]string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	res, err := ingest.ComputeKD(cells, now)
	if err != nil {
		return r.reject(ctx, "ingest_kd", err)
	}
	r.lastKD = &res
	r.log.AddAt(now, fmt.Sprintf("KD value calculated: %.4f", res.KD))
	r.logger.Info("kd calculated", "kd", res.KD, "m1", res.M1, "m2", res.M2, "m1m2", res.M1M2)
	return r.ok(fmt.Sprintf("KD = %.4f", res.KD))
}

// ClearAffinityData removes every measurement and forgets ingested
// sources.
func (r *Rig) ClearAffinityData(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.analyzer.Clear(ctx); err != nil {
		return r.reject(ctx, "clear_affinity_data", err)
	}
	r.log.AddAt(r.now(), "All affinity data cleared")
	return r.ok("All data has been cleared")
}

func (r *Rig) ok(msg string) (Result, error) {
	r.touch(r.now())
	return Result{OK: true, Message: msg}, nil
}

// reject turns a command error into a failed Result. Callers hold r.mu.
func (r *Rig) reject(ctx context.Context, command string, err error) (Result, error) {
	kind := rigerr.Kind(err)
	r.metrics.CommandRejected(ctx, command, kind)
	r.logger.Warn("command rejected", "command", command, "kind", kind, "error", err)
	return Result{OK: false, Message: err.Error()}, err
}

func displaySource(source string) string {
	if source == "" {
		return "upload"
	}
	return source
}
