package rig

import (
	"context"
	"time"

	"github.com/nvandessel/fluidrig/internal/completion"
	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/logging"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/phase"
)

const finishedNotice = "Experiment procedure completed"

// TickReport describes what one tick changed.
type TickReport struct {
	Completed []completion.Event `json:"completed,omitempty"`
	Ratcheted bool               `json:"ratcheted"`
	Phase     phase.TickResult   `json:"phase"`
}

// Changed reports whether the tick changed any state.
func (t TickReport) Changed() bool {
	return len(t.Completed) > 0 || t.Ratcheted || t.Phase.CompletedPhase != 0
}

// Tick runs one refresh: completion detection, then the device-gated
// ratchet, then duration-gated phase progress. A device whose run ends at
// this tick advances the phase in the same tick.
func (r *Rig) Tick(now time.Time) TickReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()
	var rep TickReport

	rep.Completed = r.engine.Check(now)
	for _, ev := range rep.Completed {
		ran := time.Duration(0)
		if d, err := r.registry.Get(ev.DeviceID); err == nil {
			ran = d.EffectiveDuration
		}
		r.metrics.DeviceCompleted(ctx, ev.DeviceID, ev.PhaseGating, ran)
		r.logger.Info("device completed", "device", ev.Name, "phase_gating", ev.PhaseGating)
		r.trace(logging.Transition{Kind: "device_completed", DeviceID: ev.DeviceID, Detail: ev.Name, At: now})
	}

	if r.controller.Ratchet(r.registry.CompletedGating()) {
		rep.Ratcheted = true
		r.logger.Info("phase advanced", "phase", r.controller.CurrentPhase())
		r.trace(logging.Transition{Kind: "phase_ratchet", Phase: r.controller.CurrentPhase(), At: now})
	}

	startedAt := r.controller.Snapshot().StartedAt
	rep.Phase = r.controller.Tick(now)
	if p := rep.Phase.CompletedPhase; p != 0 {
		r.metrics.PhaseCompleted(ctx, p)
		r.logger.Info("phase completed", "phase", p)
		r.trace(logging.Transition{Kind: "phase_completed", Phase: p, At: now})
	}
	if rep.Phase.Finished {
		var took time.Duration
		if startedAt != nil {
			took = now.Sub(*startedAt)
		}
		r.metrics.ExperimentFinished(ctx, took)
		r.notice = models.Notice{
			Kind:      models.NoticeSuccess,
			Text:      finishedNotice,
			CreatedAt: now,
			TTL:       constants.NoticeTTL,
		}
		r.logger.Info("experiment finished", "procedure", r.procedure, "took", took)
		r.trace(logging.Transition{Kind: "experiment_finished", At: now})
	}

	if rep.Changed() {
		r.touch(now)
	} else if r.tracer.Verbose() {
		r.trace(logging.Transition{Kind: "tick", Phase: r.controller.CurrentPhase(), At: now})
	}
	return rep
}

// Run calls Tick every interval until ctx is cancelled.
func (r *Rig) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = constants.DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Debug("ticker started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("ticker stopped")
			return nil
		case <-ticker.C:
			r.Tick(r.nowFunc())
		}
	}
}

// trace records a transition with the run ID and current progress.
// Callers hold r.mu.
func (r *Rig) trace(tr logging.Transition) {
	if r.tracer == nil {
		return
	}
	tr.RunID = r.runID
	if tr.Phase == 0 {
		tr.Phase = r.controller.CurrentPhase()
	}
	tr.Progress = r.controller.Snapshot().Progress
	r.tracer.Record(tr)
}
