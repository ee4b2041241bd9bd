// Package metrics records rig activity as OpenTelemetry metrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nvandessel/fluidrig"

// Recorder receives rig events worth counting.
type Recorder interface {
	DeviceStarted(ctx context.Context, deviceID int, kind string)
	DeviceCompleted(ctx context.Context, deviceID int, gating bool, ran time.Duration)
	PhaseCompleted(ctx context.Context, phase int)
	ExperimentFinished(ctx context.Context, took time.Duration)
	EmergencyTriggered(ctx context.Context, halted int)
	RecordsIngested(ctx context.Context, n int)
	CommandRejected(ctx context.Context, command, kind string)
	Close(ctx context.Context) error
}

// Meter implements Recorder on an OpenTelemetry meter.
type Meter struct {
	shutdown func(context.Context) error

	deviceStarts   metric.Int64Counter
	deviceRuns     metric.Float64Histogram
	phases         metric.Int64Counter
	experiments    metric.Int64Counter
	experimentTime metric.Float64Histogram
	emergencies    metric.Int64Counter
	halted         metric.Int64Counter
	records        metric.Int64Counter
	rejections     metric.Int64Counter
}

// New creates instruments on provider. shutdown, if non-nil, is called by
// Close.
func New(provider metric.MeterProvider, shutdown func(context.Context) error) (*Meter, error) {
	meter := provider.Meter(meterName)
	m := &Meter{shutdown: shutdown}

	var err error
	if m.deviceStarts, err = meter.Int64Counter(
		"fluidrig_device_starts_total",
		metric.WithDescription("Device runs started by an operator"),
		metric.WithUnit("{start}"),
	); err != nil {
		return nil, fmt.Errorf("creating device starts counter: %w", err)
	}
	if m.deviceRuns, err = meter.Float64Histogram(
		"fluidrig_device_run_seconds",
		metric.WithDescription("Wall time of device runs that completed on their own"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating device run histogram: %w", err)
	}
	if m.phases, err = meter.Int64Counter(
		"fluidrig_phases_completed_total",
		metric.WithDescription("Duration-gated phases completed"),
		metric.WithUnit("{phase}"),
	); err != nil {
		return nil, fmt.Errorf("creating phases counter: %w", err)
	}
	if m.experiments, err = meter.Int64Counter(
		"fluidrig_experiments_finished_total",
		metric.WithDescription("Experiment procedures run to completion"),
		metric.WithUnit("{experiment}"),
	); err != nil {
		return nil, fmt.Errorf("creating experiments counter: %w", err)
	}
	if m.experimentTime, err = meter.Float64Histogram(
		"fluidrig_experiment_duration_seconds",
		metric.WithDescription("Time from experiment begin to completion"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating experiment duration histogram: %w", err)
	}
	if m.emergencies, err = meter.Int64Counter(
		"fluidrig_emergency_stops_total",
		metric.WithDescription("Emergency stops triggered"),
		metric.WithUnit("{stop}"),
	); err != nil {
		return nil, fmt.Errorf("creating emergency counter: %w", err)
	}
	if m.halted, err = meter.Int64Counter(
		"fluidrig_devices_halted_total",
		metric.WithDescription("Running devices halted by emergency stops"),
		metric.WithUnit("{device}"),
	); err != nil {
		return nil, fmt.Errorf("creating halted counter: %w", err)
	}
	if m.records, err = meter.Int64Counter(
		"fluidrig_affinity_records_total",
		metric.WithDescription("Affinity measurements ingested"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("creating records counter: %w", err)
	}
	if m.rejections, err = meter.Int64Counter(
		"fluidrig_commands_rejected_total",
		metric.WithDescription("Operator commands rejected with an error"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("creating rejections counter: %w", err)
	}

	return m, nil
}

func (m *Meter) DeviceStarted(ctx context.Context, deviceID int, kind string) {
	m.deviceStarts.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("device_id", deviceID),
		attribute.String("kind", kind),
	))
}

func (m *Meter) DeviceCompleted(ctx context.Context, deviceID int, gating bool, ran time.Duration) {
	m.deviceRuns.Record(ctx, ran.Seconds(), metric.WithAttributes(
		attribute.Int("device_id", deviceID),
		attribute.Bool("phase_gating", gating),
	))
}

func (m *Meter) PhaseCompleted(ctx context.Context, phase int) {
	m.phases.Add(ctx, 1, metric.WithAttributes(attribute.Int("phase", phase)))
}

func (m *Meter) ExperimentFinished(ctx context.Context, took time.Duration) {
	m.experiments.Add(ctx, 1)
	m.experimentTime.Record(ctx, took.Seconds())
}

func (m *Meter) EmergencyTriggered(ctx context.Context, halted int) {
	m.emergencies.Add(ctx, 1)
	m.halted.Add(ctx, int64(halted))
}

func (m *Meter) RecordsIngested(ctx context.Context, n int) {
	m.records.Add(ctx, int64(n))
}

func (m *Meter) CommandRejected(ctx context.Context, command, kind string) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("error_kind", kind),
	))
}

// Close flushes and shuts down the underlying provider, if owned.
func (m *Meter) Close(ctx context.Context) error {
	if m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}
