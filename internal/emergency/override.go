// Package emergency implements the cross-cutting halt-and-rollback control.
//
// Trigger stops every running device without latching completion, engages
// the start interlock and freezes the phase controller. Resolve is a full
// rollback: it clears the interlock, resets the experiment to phase 0 and
// clears every device completion latch.
package emergency

import (
	"time"

	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/device"
	"github.com/nvandessel/fluidrig/internal/eventlog"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/phase"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

const (
	triggeredNotice = "Emergency stop executed, all devices stopped"
	resolvedNotice  = "System returned to normal, experiment can be restarted"
)

// Override owns the emergency state. It implements device.Interlock.
type Override struct {
	registry    *device.Registry
	controller  *phase.Controller
	log         *eventlog.Log
	active      bool
	triggeredAt *time.Time
	notice      models.Notice
}

// New creates an override and attaches it to the registry as its start
// interlock.
func New(registry *device.Registry, controller *phase.Controller, log *eventlog.Log) *Override {
	o := &Override{
		registry:   registry,
		controller: controller,
		log:        log,
	}
	registry.SetInterlock(o)
	return o
}

// Active reports whether the emergency stop is engaged.
func (o *Override) Active() bool {
	return o.active
}

// Trigger halts every device and freezes the experiment. Triggering while
// already active halts again and refreshes the notice. It returns the IDs
// of devices that were running.
func (o *Override) Trigger(now time.Time) []int {
	halted := o.registry.HaltAll()
	o.controller.Halt()

	o.active = true
	t := now
	o.triggeredAt = &t
	o.log.AddAt(now, "System emergency stop executed")
	o.notice = models.Notice{
		Kind:      models.NoticeWarning,
		Text:      triggeredNotice,
		CreatedAt: now,
		TTL:       constants.NoticeTTL,
	}
	return halted
}

// Resolve clears the emergency and rolls the rig back to its initial
// experiment state. It fails if no emergency is active.
func (o *Override) Resolve(now time.Time) error {
	if !o.active {
		return rigerr.InvalidState("no emergency stop is active")
	}

	o.active = false
	o.triggeredAt = nil
	o.controller.Reset()
	o.registry.ResetLatches()
	o.log.AddAt(now, "Emergency situation resolved, system returned to normal state")
	o.notice = models.Notice{
		Kind:      models.NoticeSuccess,
		Text:      resolvedNotice,
		CreatedAt: now,
		TTL:       constants.NoticeTTL,
	}
	return nil
}

// State returns a copy of the emergency state.
func (o *Override) State() models.EmergencyState {
	s := models.EmergencyState{Active: o.active}
	if o.triggeredAt != nil {
		t := *o.triggeredAt
		s.TriggeredAt = &t
	}
	return s
}

// Notice returns the last notice the override produced.
func (o *Override) Notice() models.Notice {
	return o.notice
}
