// Package phase implements the experiment timeline state machine.
//
// An experiment is an ordered list of phases 1..N. The first K phases are
// device-gated: they complete when their device's completion latch is set,
// and the controller follows them with a count ratchet. Phases K+1..N are
// duration-gated: once the operator begins the procedure they complete when
// a fixed hold time has elapsed since the phase started.
//
// The controller has three orthogonal flags on top of the current phase:
// Running (a duration-gated phase is timing), Finished (phase N completed)
// and Halted (the emergency override froze it). While halted every
// transition is a no-op and every derived display value stays as it was at
// the moment of the halt.
package phase

import (
	"fmt"
	"time"

	"github.com/nvandessel/fluidrig/internal/eventlog"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// Prerequisites reports whether the device behind a device-gated phase has
// completed. The device registry implements it.
type Prerequisites interface {
	IsCompleted(deviceID int) bool
}

// TickResult describes what a single Tick changed.
type TickResult struct {
	CompletedPhase int  `json:"completed_phase,omitempty"` // 0 if none
	StartedPhase   int  `json:"started_phase,omitempty"`   // 0 if none
	Finished       bool `json:"finished"`                  // the final phase completed
}

// Controller is the experiment state machine. It is not safe for concurrent
// use; the rig serializes access.
type Controller struct {
	procedure   string
	phases      []models.PhaseDescriptor
	deviceGated int
	log         *eventlog.Log

	current        int
	progress       int
	running        bool
	finished       bool
	halted         bool
	startedAt      *time.Time
	phaseStartedAt *time.Time
	completed      map[int]bool
	remaining      time.Duration
	remainingKnown bool
}

// NewController validates the phase list and returns a controller in the
// initial state (phase 0, progress 0).
func NewController(procedure string, phases []models.PhaseDescriptor, log *eventlog.Log) (*Controller, error) {
	k, err := Validate(phases)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = eventlog.New(0)
	}
	c := &Controller{
		procedure:   procedure,
		phases:      append([]models.PhaseDescriptor(nil), phases...),
		deviceGated: k,
		log:         log,
	}
	c.Reset()
	return c, nil
}

// Validate checks that phases are numbered 1..N in order, that
// device-gated phases form a prefix, and that at least one duration-gated
// phase with a positive duration follows. It returns K, the number of
// device-gated phases.
func Validate(phases []models.PhaseDescriptor) (int, error) {
	if len(phases) == 0 {
		return 0, rigerr.Validation("procedure has no phases")
	}

	k := 0
	seenDuration := false
	devices := make(map[int]bool)
	for i, p := range phases {
		if p.Number != i+1 {
			return 0, rigerr.Validation("phase %d is numbered %d, phases must be numbered 1..N in order", i+1, p.Number)
		}
		switch p.Gating {
		case models.GatingDevice:
			if seenDuration {
				return 0, rigerr.Validation("device-gated phase %d follows a duration-gated phase", p.Number)
			}
			if devices[p.DeviceID] {
				return 0, rigerr.Validation("device %d gates more than one phase", p.DeviceID)
			}
			devices[p.DeviceID] = true
			k++
		case models.GatingDuration:
			if p.Duration <= 0 {
				return 0, rigerr.Validation("duration-gated phase %d needs a positive duration", p.Number)
			}
			seenDuration = true
		default:
			return 0, rigerr.Validation("phase %d has unknown gating %q", p.Number, p.Gating)
		}
	}
	if !seenDuration {
		return 0, rigerr.Validation("procedure needs at least one duration-gated phase")
	}
	return k, nil
}

// Progress maps the current phase to a 0..100 percentage. In the
// device-gated range the current phase equals the number of completed
// phases; in the duration-gated range the current phase is still in
// progress, so one fewer phase is done. A finished experiment is 100.
func Progress(current, total, deviceGated int, finished bool) int {
	if total <= 0 {
		return 0
	}
	if finished {
		return 100
	}
	done := current
	if current > deviceGated {
		done = current - 1
	}
	if done < 0 {
		done = 0
	}
	return 100 * done / total
}

// FormatRemaining renders a remaining duration for display: "--minutes"
// when no duration-gated phase is timing, otherwise "XminYs".
func FormatRemaining(d time.Duration, known bool) string {
	if !known {
		return "--minutes"
	}
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%dmin%ds", secs/60, secs%60)
}

// Ratchet advances the device-gated part of the timeline to count, the
// number of completed gating devices. The phase only ever jumps forward to
// the exact count, capped at K; counts at or below the current phase change
// nothing. It reports whether the phase moved.
func (c *Controller) Ratchet(count int) bool {
	if count > c.deviceGated {
		count = c.deviceGated
	}
	if c.halted || count <= c.current {
		return false
	}
	c.current = count
	for n := 1; n <= count; n++ {
		c.completed[n] = true
	}
	c.recompute()
	return true
}

// Begin starts the duration-gated part of the procedure. Every device-gated
// phase must be complete and the controller must be neither halted,
// running, nor finished.
func (c *Controller) Begin(now time.Time, prereq Prerequisites) error {
	if c.halted {
		return rigerr.InvalidState("experiment cannot begin while emergency stop is active")
	}
	if c.running {
		return rigerr.InvalidState("experiment is already running")
	}
	if c.finished {
		return rigerr.InvalidState("experiment already completed, reset the system to run it again")
	}
	for _, p := range c.phases[:c.deviceGated] {
		if prereq == nil || !prereq.IsCompleted(p.DeviceID) {
			return rigerr.InvalidState("phase %d (%s) is not complete", p.Number, p.Label)
		}
	}

	c.log.AddAt(now, "Starting experiment procedure: "+c.procedure)

	for n := 1; n <= c.deviceGated; n++ {
		c.completed[n] = true
	}
	started := now
	c.startedAt = &started
	c.running = true
	c.enter(c.deviceGated+1, now)
	return nil
}

// Tick advances the active duration-gated phase once its hold time has
// elapsed, or refreshes the remaining time otherwise. At most one phase
// completes per tick. Tick is a no-op unless running and not halted.
func (c *Controller) Tick(now time.Time) TickResult {
	if !c.running || c.halted {
		return TickResult{}
	}

	p := c.phases[c.current-1]
	elapsed := now.Sub(*c.phaseStartedAt)
	if elapsed < p.Duration {
		c.remaining = p.Duration - elapsed
		c.remainingKnown = true
		return TickResult{}
	}

	res := TickResult{CompletedPhase: p.Number}
	c.completed[p.Number] = true
	c.log.AddAt(now, fmt.Sprintf("Phase %d completed: %s", p.Number, p.Label))

	if c.current < len(c.phases) {
		c.enter(c.current+1, now)
		res.StartedPhase = c.current
		return res
	}

	c.running = false
	c.finished = true
	c.remaining = 0
	c.remainingKnown = true
	c.recompute()
	c.log.AddAt(now, "Experiment procedure completed")
	res.Finished = true
	return res
}

// Halt freezes the controller. Display values keep their last values.
func (c *Controller) Halt() {
	c.halted = true
}

// Halted reports whether the controller is frozen.
func (c *Controller) Halted() bool {
	return c.halted
}

// Reset returns the controller to its initial state and clears the halt.
func (c *Controller) Reset() {
	c.current = 0
	c.running = false
	c.finished = false
	c.halted = false
	c.startedAt = nil
	c.phaseStartedAt = nil
	c.completed = make(map[int]bool, len(c.phases))
	for _, p := range c.phases {
		c.completed[p.Number] = false
	}
	c.remaining = 0
	c.remainingKnown = false
	c.recompute()
}

// CurrentPhase returns the current phase number (0 before anything ran).
func (c *Controller) CurrentPhase() int {
	return c.current
}

// DeviceGated returns K, the number of device-gated phases.
func (c *Controller) DeviceGated() int {
	return c.deviceGated
}

// Phases returns a copy of the phase descriptors.
func (c *Controller) Phases() []models.PhaseDescriptor {
	return append([]models.PhaseDescriptor(nil), c.phases...)
}

// Snapshot returns a copy of the experiment state for display.
func (c *Controller) Snapshot() models.Experiment {
	completed := make(map[int]bool, len(c.completed))
	for k, v := range c.completed {
		completed[k] = v
	}
	return models.Experiment{
		Procedure:       c.procedure,
		CurrentPhase:    c.current,
		TotalPhases:     len(c.phases),
		Progress:        c.progress,
		Running:         c.running,
		Finished:        c.finished,
		Halted:          c.halted,
		StartedAt:       copyTime(c.startedAt),
		PhaseStartedAt:  copyTime(c.phaseStartedAt),
		CompletedPhases: completed,
		Remaining:       c.remaining,
		RemainingKnown:  c.remainingKnown,
		RemainingText:   FormatRemaining(c.remaining, c.remainingKnown),
	}
}

func (c *Controller) enter(n int, now time.Time) {
	c.current = n
	started := now
	c.phaseStartedAt = &started
	p := c.phases[n-1]
	c.remaining = p.Duration
	c.remainingKnown = true
	c.recompute()
	c.log.AddAt(now, fmt.Sprintf("Phase %d started: %s", p.Number, p.Label))
}

func (c *Controller) recompute() {
	c.progress = Progress(c.current, len(c.phases), c.deviceGated, c.finished)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
