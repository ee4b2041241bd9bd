package simulation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nvandessel/fluidrig/internal/config"
	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/rig"
)

// Runner executes scenarios against a fresh rig on a virtual clock.
type Runner struct {
	start   time.Time
	logger  *slog.Logger
	rigOpts []rig.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithStart sets the wall time the virtual clock starts at.
func WithStart(t time.Time) Option {
	return func(r *Runner) { r.start = t }
}

// WithLogger sets the logger handed to the rig and used for step output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithRigOptions adds options for every rig the runner builds. The clock
// option is always set by the runner.
func WithRigOptions(opts ...rig.Option) Option {
	return func(r *Runner) { r.rigOpts = append(r.rigOpts, opts...) }
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		start:  Epoch,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the scenario and returns the collected results. The rig is
// left open in the result; callers close it.
func (r *Runner) Run(ctx context.Context, sc Scenario) (SimulationResult, error) {
	cfg := config.Default().Rig
	if sc.Rig != nil {
		cfg = *sc.Rig
	}
	tick := sc.Tick
	if tick <= 0 {
		tick = cfg.TickInterval
	}
	if tick <= 0 {
		tick = constants.DefaultTickInterval
	}

	steps := sortedSteps(sc.Steps)
	total := sc.Duration
	if total <= 0 {
		if len(steps) > 0 {
			total = steps[len(steps)-1].At
		}
		total += DefaultTail
	}

	clock := NewClock(r.start)
	opts := append([]rig.Option{rig.WithLogger(r.logger)}, r.rigOpts...)
	opts = append(opts, rig.WithClock(clock.Now))
	rg, err := rig.New(cfg, opts...)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	res := SimulationResult{Scenario: sc.Name, Rig: rg}
	next := 0
	for elapsed := time.Duration(0); elapsed <= total; elapsed += tick {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// Steps fire at their own offset, before the tick that covers them.
		for next < len(steps) && steps[next].At <= elapsed {
			st := steps[next]
			clock.Set(st.At)
			out, err := r.apply(ctx, rg, st)
			res.Steps = append(res.Steps, StepResult{Index: next, At: st.At, Step: st, Result: out, Err: err})
			r.logger.Debug("step", "scenario", sc.Name, "at", st.At, "step", st.String(), "ok", out.OK, "message", out.Message)
			next++
		}

		clock.Set(elapsed)
		rep := rg.Tick(clock.Now())
		if rep.Changed() {
			exp := rg.ExperimentState()
			res.Frames = append(res.Frames, Frame{
				At:        elapsed,
				Phase:     exp.CurrentPhase,
				Progress:  exp.Progress,
				Running:   runningIDs(rg.Devices()),
				Finished:  exp.Finished,
				Halted:    exp.Halted,
				Completed: completedIDs(rep.Completed),
			})
			if sc.StopWhenFinished && exp.Finished && next == len(steps) {
				break
			}
		}
	}

	res.Elapsed = clock.Elapsed()
	res.Final, err = rg.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return res, nil
}

func (r *Runner) apply(ctx context.Context, rg *rig.Rig, st Step) (rig.Result, error) {
	switch st.Action {
	case ActionStart:
		return rg.StartDevice(ctx, st.DeviceID)
	case ActionStop:
		return rg.StopDevice(ctx, st.DeviceID)
	case ActionSetParams:
		return rg.SetDeviceParams(ctx, st.DeviceID, st.FlowRate, st.Seconds)
	case ActionToggle:
		return rg.ToggleValve(ctx, st.ValveID)
	case ActionBegin:
		return rg.BeginExperiment(ctx)
	case ActionTrigger:
		return rg.EmergencyTrigger(ctx)
	case ActionResolve:
		return rg.EmergencyResolve(ctx)
	case ActionIngestCSV:
		return rg.IngestCSV(ctx, st.Source, strings.NewReader(st.CSV))
	case ActionIngestKD:
		return rg.IngestKD(ctx, st.Cells)
	case ActionClear:
		return rg.ClearAffinityData(ctx)
	default:
		err := fmt.Errorf("unknown action %q", st.Action)
		return rig.Result{Message: err.Error()}, err
	}
}

// WriteReport prints a human-readable run summary.
func WriteReport(w io.Writer, res SimulationResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario %s (run %s), %s virtual time\n", res.Scenario, res.Final.RunID, res.Elapsed)

	b.WriteString("\nSteps:\n")
	for _, s := range res.Steps {
		status := "ok"
		if s.Err != nil {
			status = "rejected"
		}
		fmt.Fprintf(&b, "  %7s  %-28s %-8s %s\n", fmtOffset(s.At), s.Step.String(), status, s.Result.Message)
	}

	b.WriteString("\nTimeline:\n")
	for _, f := range res.Frames {
		fmt.Fprintf(&b, "  %7s  phase %d  progress %3d%%", fmtOffset(f.At), f.Phase, f.Progress)
		if len(f.Completed) > 0 {
			fmt.Fprintf(&b, "  completed %v", f.Completed)
		}
		if f.Finished {
			b.WriteString("  finished")
		}
		b.WriteString("\n")
	}

	b.WriteString("\nEvent log (newest first):\n")
	for _, line := range res.Final.Log {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	if res.Final.LastKD != nil {
		fmt.Fprintf(&b, "\nKD: %.4f\n", res.Final.LastKD.KD)
	}
	fmt.Fprintf(&b, "Records: %d\n", res.Final.Records)

	_, err := io.WriteString(w, b.String())
	return err
}

func fmtOffset(d time.Duration) string {
	return fmt.Sprintf("+%.1fs", d.Seconds())
}
