package simulation

import (
	"testing"
	"time"
)

// AssertNoUnexpectedErrors asserts that every step succeeded or failed as
// the scenario expected.
func AssertNoUnexpectedErrors(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, s := range result.Failed() {
		if s.Err != nil {
			t.Errorf("AssertNoUnexpectedErrors: step %d (%s at %s) failed: %v", s.Index, s.Step, s.At, s.Err)
		} else {
			t.Errorf("AssertNoUnexpectedErrors: step %d (%s at %s) succeeded, expected a rejection", s.Index, s.Step, s.At)
		}
	}
}

// AssertFinished asserts that the experiment finished at 100%.
func AssertFinished(t *testing.T, result SimulationResult) {
	t.Helper()
	exp := result.Final.Experiment
	if !exp.Finished || exp.Progress != 100 {
		t.Errorf("AssertFinished: finished=%v progress=%d phase=%d", exp.Finished, exp.Progress, exp.CurrentPhase)
	}
}

// AssertPhaseAt asserts that the first frame reaching phase is at offset.
func AssertPhaseAt(t *testing.T, result SimulationResult, phase int, at time.Duration) {
	t.Helper()
	f, ok := result.FirstFrame(func(f Frame) bool { return f.Phase >= phase })
	if !ok {
		t.Errorf("AssertPhaseAt: phase %d never reached", phase)
		return
	}
	if f.Phase != phase || f.At != at {
		t.Errorf("AssertPhaseAt: first frame at or past phase %d is phase %d at %s, want phase %d at %s", phase, f.Phase, f.At, phase, at)
	}
}

// AssertDeviceCompletedAt asserts that a device's first completion frame
// is at offset.
func AssertDeviceCompletedAt(t *testing.T, result SimulationResult, deviceID int, at time.Duration) {
	t.Helper()
	f, ok := result.FirstFrame(func(f Frame) bool {
		for _, id := range f.Completed {
			if id == deviceID {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Errorf("AssertDeviceCompletedAt: device %d never completed", deviceID)
		return
	}
	if f.At != at {
		t.Errorf("AssertDeviceCompletedAt: device %d completed at %s, want %s", deviceID, f.At, at)
	}
}

// AssertProgressMonotonic asserts that progress never decreases between
// consecutive frames, except across an emergency reset.
func AssertProgressMonotonic(t *testing.T, result SimulationResult) {
	t.Helper()
	prev := 0
	for _, f := range result.Frames {
		if f.Progress < prev && f.Phase > 0 {
			t.Errorf("AssertProgressMonotonic: progress dropped from %d to %d at %s", prev, f.Progress, f.At)
		}
		prev = f.Progress
	}
}
