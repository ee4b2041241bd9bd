// Package completion detects devices whose timed run has elapsed.
//
// The engine does not run in the background. The scheduler calls Check once
// per tick; device completion is therefore observed on the first tick at or
// after the device's deadline.
package completion

import (
	"time"

	"github.com/nvandessel/fluidrig/internal/device"
	"github.com/nvandessel/fluidrig/internal/models"
)

// Event reports that a device finished its run on its own.
type Event struct {
	DeviceID    int       `json:"device_id"`
	Name        string    `json:"name"`
	PhaseGating bool      `json:"phase_gating"`
	At          time.Time `json:"at"`
}

// Engine compares elapsed wall-clock time against each running device's
// effective duration.
type Engine struct {
	registry *device.Registry
}

// NewEngine creates a completion engine over the registry.
func NewEngine(registry *device.Registry) *Engine {
	return &Engine{registry: registry}
}

// Check stops every running device whose run time has elapsed at now and
// returns one event per device in ID order. Calling Check again with the
// same now returns no events: a device completes exactly once per run.
func (e *Engine) Check(now time.Time) []Event {
	var events []Event
	for _, d := range e.registry.Running() {
		if !Due(d, now) {
			continue
		}
		done, ok := e.registry.Complete(d.ID, now)
		if !ok {
			continue
		}
		events = append(events, Event{
			DeviceID:    done.ID,
			Name:        done.Name(),
			PhaseGating: done.PhaseGating,
			At:          now,
		})
	}
	return events
}

// Due reports whether a running device's effective duration has elapsed.
func Due(d models.Device, now time.Time) bool {
	if !d.Running || d.StartedAt == nil {
		return false
	}
	return now.Sub(*d.StartedAt) >= d.EffectiveDuration
}

// Remaining returns the run time left for a running device, never negative.
func Remaining(d models.Device, now time.Time) time.Duration {
	if !d.Running || d.StartedAt == nil {
		return 0
	}
	left := d.EffectiveDuration - now.Sub(*d.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}
