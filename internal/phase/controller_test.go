package phase

import (
	"errors"
	"testing"
	"time"

	"github.com/nvandessel/fluidrig/internal/eventlog"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

type latches map[int]bool

func (l latches) IsCompleted(id int) bool { return l[id] }

var t0 = time.Date(2026, 5, 15, 14, 30, 0, 0, time.UTC)

func defaultPhases() []models.PhaseDescriptor {
	return []models.PhaseDescriptor{
		{Number: 1, Label: "Inject protein A", Gating: models.GatingDevice, DeviceID: 1},
		{Number: 2, Label: "Inject protein B", Gating: models.GatingDevice, DeviceID: 2},
		{Number: 3, Label: "Incubation", Gating: models.GatingDuration, Duration: 10 * time.Second},
		{Number: 4, Label: "FCS data collection", Gating: models.GatingDuration, Duration: 10 * time.Second},
		{Number: 5, Label: "Affinity analysis", Gating: models.GatingDuration, Duration: time.Second},
	}
}

func newController(t *testing.T) (*Controller, *eventlog.Log) {
	t.Helper()
	log := eventlog.New(50)
	c, err := NewController("Protein reaction detection", defaultPhases(), log)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c, log
}

func TestValidate(t *testing.T) {
	dur := func(n int) models.PhaseDescriptor {
		return models.PhaseDescriptor{Number: n, Gating: models.GatingDuration, Duration: time.Second}
	}
	dev := func(n, id int) models.PhaseDescriptor {
		return models.PhaseDescriptor{Number: n, Gating: models.GatingDevice, DeviceID: id}
	}

	tests := []struct {
		name    string
		phases  []models.PhaseDescriptor
		wantK   int
		wantErr bool
	}{
		{"default procedure", defaultPhases(), 2, false},
		{"duration only", []models.PhaseDescriptor{dur(1), dur(2)}, 0, false},
		{"empty", nil, 0, true},
		{"misnumbered", []models.PhaseDescriptor{dev(1, 1), dur(3)}, 0, true},
		{"device after duration", []models.PhaseDescriptor{dur(1), dev(2, 1)}, 0, true},
		{"shared device", []models.PhaseDescriptor{dev(1, 1), dev(2, 1), dur(3)}, 0, true},
		{"no duration phase", []models.PhaseDescriptor{dev(1, 1)}, 0, true},
		{"zero duration", []models.PhaseDescriptor{{Number: 1, Gating: models.GatingDuration}}, 0, true},
		{"unknown gating", []models.PhaseDescriptor{{Number: 1, Gating: "manual"}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := Validate(tt.phases)
			if tt.wantErr {
				if !errors.Is(err, rigerr.ErrValidation) {
					t.Errorf("Validate error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if k != tt.wantK {
				t.Errorf("K = %d, want %d", k, tt.wantK)
			}
		})
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		finished bool
		want     int
	}{
		{"not started", 0, false, 0},
		{"one pump done", 1, false, 20},
		{"both pumps done", 2, false, 40},
		{"incubation running", 3, false, 40},
		{"collection running", 4, false, 60},
		{"analysis running", 5, false, 80},
		{"finished", 5, true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Progress(tt.current, 5, 2, tt.finished)
			if got != tt.want {
				t.Errorf("Progress(%d) = %d, want %d", tt.current, got, tt.want)
			}
			// Pure function: re-invoking with the same phase yields the same value.
			if again := Progress(tt.current, 5, 2, tt.finished); again != got {
				t.Errorf("Progress not idempotent: %d then %d", got, again)
			}
		})
	}

	if Progress(3, 0, 0, false) != 0 {
		t.Error("zero total phases must yield 0")
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d     time.Duration
		known bool
		want  string
	}{
		{0, false, "--minutes"},
		{9*time.Second + 400*time.Millisecond, true, "0min9s"},
		{75 * time.Second, true, "1min15s"},
		{-time.Second, true, "0min0s"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.d, tt.known); got != tt.want {
			t.Errorf("FormatRemaining(%v, %v) = %q, want %q", tt.d, tt.known, got, tt.want)
		}
	}
}

func TestRatchet_JumpsToCount(t *testing.T) {
	c, _ := newController(t)

	if !c.Ratchet(2) {
		t.Fatal("Ratchet(2) reported no change")
	}
	snap := c.Snapshot()
	if snap.CurrentPhase != 2 {
		t.Errorf("CurrentPhase = %d, want 2", snap.CurrentPhase)
	}
	if !snap.CompletedPhases[1] || !snap.CompletedPhases[2] {
		t.Errorf("CompletedPhases = %v", snap.CompletedPhases)
	}
	if snap.Progress != 40 {
		t.Errorf("Progress = %d, want 40", snap.Progress)
	}
}

func TestRatchet_Monotonic(t *testing.T) {
	c, _ := newController(t)
	c.Ratchet(1)

	if c.Ratchet(1) {
		t.Error("equal count changed phase")
	}
	if c.Ratchet(0) {
		t.Error("lower count changed phase")
	}
	if c.CurrentPhase() != 1 {
		t.Errorf("CurrentPhase = %d, want 1", c.CurrentPhase())
	}
}

func TestRatchet_CapsAtDeviceGatedRange(t *testing.T) {
	c, _ := newController(t)

	if !c.Ratchet(4) {
		t.Fatal("Ratchet(4) reported no change")
	}
	snap := c.Snapshot()
	if snap.CurrentPhase != 2 || !snap.CompletedPhases[2] || snap.CompletedPhases[3] {
		t.Errorf("after Ratchet(4): phase %d, completed %v", snap.CurrentPhase, snap.CompletedPhases)
	}
	if snap.Running || snap.Progress != 40 {
		t.Errorf("after Ratchet(4): running %v, progress %d", snap.Running, snap.Progress)
	}
	if c.Ratchet(5) {
		t.Error("count beyond device-gated range moved a full ratchet")
	}
}

func TestRatchet_IgnoredWhileHalted(t *testing.T) {
	c, _ := newController(t)
	c.Halt()
	if c.Ratchet(2) {
		t.Error("ratchet moved while halted")
	}
}

func TestBegin_RequiresPrerequisites(t *testing.T) {
	c, log := newController(t)
	before := log.Len()

	err := c.Begin(t0, latches{1: true})
	if !errors.Is(err, rigerr.ErrInvalidState) {
		t.Fatalf("Begin error = %v, want invalid state", err)
	}
	if c.Snapshot().Running || log.Len() != before {
		t.Error("rejected Begin mutated state")
	}
}

func TestBegin(t *testing.T) {
	c, log := newController(t)
	c.Ratchet(2)

	if err := c.Begin(t0, latches{1: true, 2: true}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	snap := c.Snapshot()
	if snap.CurrentPhase != 3 || !snap.Running || snap.Progress != 40 {
		t.Errorf("after Begin: %+v", snap)
	}
	if snap.PhaseStartedAt == nil || !snap.PhaseStartedAt.Equal(t0) {
		t.Errorf("PhaseStartedAt = %v", snap.PhaseStartedAt)
	}
	if snap.RemainingText != "0min10s" {
		t.Errorf("RemainingText = %q", snap.RemainingText)
	}

	lines := log.Tail(2)
	if lines[1].Message != "Starting experiment procedure: Protein reaction detection" {
		t.Errorf("log = %+v", lines)
	}
	if lines[0].Message != "Phase 3 started: Incubation" {
		t.Errorf("log = %+v", lines)
	}

	if err := c.Begin(t0, latches{1: true, 2: true}); !errors.Is(err, rigerr.ErrInvalidState) {
		t.Errorf("second Begin error = %v, want invalid state", err)
	}
}

func TestBegin_WhileHalted(t *testing.T) {
	c, _ := newController(t)
	c.Halt()
	if err := c.Begin(t0, latches{1: true, 2: true}); !errors.Is(err, rigerr.ErrInvalidState) {
		t.Errorf("Begin while halted error = %v", err)
	}
}

func TestTick_NoopUnlessRunning(t *testing.T) {
	c, _ := newController(t)
	before := c.Snapshot()
	if res := c.Tick(t0.Add(time.Hour)); res != (TickResult{}) {
		t.Errorf("Tick on idle controller = %+v", res)
	}
	if c.Snapshot().CurrentPhase != before.CurrentPhase {
		t.Error("idle Tick changed phase")
	}
}

func TestTick_FullTimeline(t *testing.T) {
	c, log := newController(t)
	c.Ratchet(2)
	if err := c.Begin(t0, latches{1: true, 2: true}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// Remaining time counts down and never goes negative.
	c.Tick(t0.Add(4 * time.Second))
	if got := c.Snapshot().Remaining; got != 6*time.Second {
		t.Errorf("Remaining at 4s = %v, want 6s", got)
	}

	// Phase 3 completes at 10 s.
	res := c.Tick(t0.Add(10 * time.Second))
	if res.CompletedPhase != 3 || res.StartedPhase != 4 || res.Finished {
		t.Fatalf("Tick at 10s = %+v", res)
	}
	snap := c.Snapshot()
	if snap.CurrentPhase != 4 || snap.Progress != 60 || !snap.CompletedPhases[3] {
		t.Errorf("after phase 3: %+v", snap)
	}

	// Phase 4 timing restarts from its own start time.
	if res := c.Tick(t0.Add(19 * time.Second)); res.CompletedPhase != 0 {
		t.Errorf("phase 4 completed early: %+v", res)
	}
	res = c.Tick(t0.Add(20 * time.Second))
	if res.CompletedPhase != 4 || res.StartedPhase != 5 {
		t.Fatalf("Tick at 20s = %+v", res)
	}
	if c.Snapshot().Progress != 80 {
		t.Errorf("Progress = %d, want 80", c.Snapshot().Progress)
	}

	res = c.Tick(t0.Add(21 * time.Second))
	if !res.Finished || res.CompletedPhase != 5 {
		t.Fatalf("Tick at 21s = %+v", res)
	}
	snap = c.Snapshot()
	if snap.Running || !snap.Finished || snap.Progress != 100 || snap.Remaining != 0 {
		t.Errorf("final state: %+v", snap)
	}
	if got := log.Tail(1)[0].Message; got != "Experiment procedure completed" {
		t.Errorf("last log = %q", got)
	}

	// Extra ticks change nothing.
	for i := 0; i < 3; i++ {
		if res := c.Tick(t0.Add(time.Hour)); res != (TickResult{}) {
			t.Errorf("Tick after finish = %+v", res)
		}
	}
	if c.CurrentPhase() != 5 {
		t.Errorf("CurrentPhase after extra ticks = %d", c.CurrentPhase())
	}

	if err := c.Begin(t0.Add(time.Hour), latches{1: true, 2: true}); !errors.Is(err, rigerr.ErrInvalidState) {
		t.Errorf("Begin after finish error = %v", err)
	}
}

func TestTick_OnePhasePerTick(t *testing.T) {
	c, _ := newController(t)
	c.Ratchet(2)
	c.Begin(t0, latches{1: true, 2: true})

	// Far past every phase deadline: only the current phase completes.
	res := c.Tick(t0.Add(time.Hour))
	if res.CompletedPhase != 3 || c.CurrentPhase() != 4 {
		t.Errorf("Tick = %+v, phase %d", res, c.CurrentPhase())
	}
}

func TestHalt_FreezesDisplay(t *testing.T) {
	c, _ := newController(t)
	c.Ratchet(2)
	c.Begin(t0, latches{1: true, 2: true})
	c.Tick(t0.Add(3 * time.Second))

	c.Halt()
	frozen := c.Snapshot()

	if res := c.Tick(t0.Add(30 * time.Second)); res != (TickResult{}) {
		t.Errorf("Tick while halted = %+v", res)
	}
	after := c.Snapshot()
	if after.CurrentPhase != frozen.CurrentPhase || after.Remaining != frozen.Remaining || after.Progress != frozen.Progress {
		t.Errorf("display changed while halted: before %+v after %+v", frozen, after)
	}
	if !after.Halted {
		t.Error("snapshot does not report halted")
	}
}

func TestReset(t *testing.T) {
	c, _ := newController(t)
	initial := c.Snapshot()

	c.Ratchet(2)
	c.Begin(t0, latches{1: true, 2: true})
	c.Tick(t0.Add(10 * time.Second))
	c.Halt()
	c.Reset()

	got := c.Snapshot()
	if got.CurrentPhase != initial.CurrentPhase || got.Progress != initial.Progress ||
		got.Running || got.Finished || got.Halted || got.RemainingText != "--minutes" {
		t.Errorf("after Reset: %+v", got)
	}
	for n, done := range got.CompletedPhases {
		if done {
			t.Errorf("phase %d still marked complete", n)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c, _ := newController(t)
	snap := c.Snapshot()
	snap.CompletedPhases[1] = true
	if c.Snapshot().CompletedPhases[1] {
		t.Error("mutating snapshot changed controller state")
	}
}
