package models

import (
	"strconv"
	"time"
)

// DeviceKind categorizes a controllable unit on the rig
type DeviceKind string

const (
	DeviceKindPump     DeviceKind = "pump"     // Syringe or peristaltic pump, has a flow rate
	DeviceKindDetector DeviceKind = "detector" // Spectrometer, camera, other timed acquisitions
)

// Valid returns true if the kind is a recognized value.
func (k DeviceKind) Valid() bool {
	switch k {
	case DeviceKindPump, DeviceKindDetector:
		return true
	}
	return false
}

// Device is the configuration and live state of one controllable unit.
// Running implies StartedAt is set. Completed is a one-shot latch cleared
// only by an emergency resolve.
type Device struct {
	// Identity
	ID    int        `json:"id" yaml:"id"`
	Kind  DeviceKind `json:"kind" yaml:"kind"`
	Label string     `json:"label" yaml:"label"`

	// Parameters. FlowRate is in μL/min, Duration in configured seconds.
	FlowRate float64 `json:"flow_rate" yaml:"flow_rate"`
	Duration float64 `json:"duration" yaml:"duration"`

	// PhaseGating marks devices whose completion gates an experiment phase.
	PhaseGating bool `json:"phase_gating" yaml:"phase_gating"`

	// Acquisition settings, detectors only. A detector carries at most one.
	Spectra *Spectra `json:"spectra,omitempty" yaml:"spectra,omitempty"`
	Camera  *Camera  `json:"camera,omitempty" yaml:"camera,omitempty"`

	// Live state
	Running           bool          `json:"running" yaml:"-"`
	Completed         bool          `json:"completed" yaml:"-"`
	StartedAt         *time.Time    `json:"started_at,omitempty" yaml:"-"`
	EffectiveDuration time.Duration `json:"effective_duration,omitempty" yaml:"-"`
}

// Name returns the operator-facing name, e.g. "Pump 1".
func (d Device) Name() string {
	switch d.Kind {
	case DeviceKindDetector:
		return "Detector " + strconv.Itoa(d.ID)
	default:
		return "Pump " + strconv.Itoa(d.ID)
	}
}

// Valve is a two-state fluid path switch.
type Valve struct {
	ID          int    `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Open        bool   `json:"open" yaml:"open"`
}

// State returns "open" or "close", matching the operator display.
func (v Valve) State() string {
	if v.Open {
		return "open"
	}
	return "close"
}
