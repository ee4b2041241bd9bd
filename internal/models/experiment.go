package models

import (
	"time"
)

// GatingKind determines what completes a phase
type GatingKind string

const (
	GatingDevice   GatingKind = "device"   // Completes when its device's latch is set
	GatingDuration GatingKind = "duration" // Completes when a fixed time has elapsed
)

// PhaseDescriptor is one ordered step of the experiment procedure. The view
// renders the list; the core never generates markup.
type PhaseDescriptor struct {
	Number int        `json:"number" yaml:"number"`
	Label  string     `json:"label" yaml:"label"`
	Gating GatingKind `json:"gating" yaml:"gating"`

	// DeviceID is the gating device for device-gated phases.
	DeviceID int `json:"device_id,omitempty" yaml:"device_id,omitempty"`

	// Duration is the hold time for duration-gated phases.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Detail is a short static description such as "Incubation | 5min".
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Experiment is the timeline state owned by the phase controller.
// Progress is always derived from CurrentPhase and Finished.
type Experiment struct {
	Procedure       string       `json:"procedure"`
	CurrentPhase    int          `json:"current_phase"`
	TotalPhases     int          `json:"total_phases"`
	Progress        int          `json:"progress"`
	Running         bool         `json:"running"`
	Finished        bool         `json:"finished"`
	Halted          bool         `json:"halted"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	PhaseStartedAt  *time.Time   `json:"phase_started_at,omitempty"`
	CompletedPhases map[int]bool `json:"completed_phases"`

	// Remaining is the time left in the active duration-gated phase.
	// RemainingKnown is false outside duration-gated phases.
	Remaining      time.Duration `json:"remaining"`
	RemainingKnown bool          `json:"remaining_known"`
	RemainingText  string        `json:"remaining_text"`
}

// EmergencyState records whether the emergency override is engaged.
type EmergencyState struct {
	Active      bool       `json:"active"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
}
