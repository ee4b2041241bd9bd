package simulation

import (
	"fmt"
	"sort"
	"time"

	"github.com/nvandessel/fluidrig/internal/completion"
	"github.com/nvandessel/fluidrig/internal/config"
	"github.com/nvandessel/fluidrig/internal/rig"
)

// Action names an operator command a step performs.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionSetParams Action = "set_params"
	ActionToggle    Action = "toggle_valve"
	ActionBegin     Action = "begin"
	ActionTrigger   Action = "emergency_trigger"
	ActionResolve   Action = "emergency_resolve"
	ActionIngestCSV Action = "ingest_csv"
	ActionIngestKD  Action = "ingest_kd"
	ActionClear     Action = "clear"
)

// Scenario defines a complete scripted run.
type Scenario struct {
	Name string

	// Rig overrides the default rig configuration when non-nil.
	Rig *config.RigConfig

	Steps []Step

	// Duration is the total virtual run time. Zero runs until the last step
	// plus DefaultTail.
	Duration time.Duration

	// Tick is the refresh interval. Zero uses the rig's configured tick
	// interval.
	Tick time.Duration

	// StopWhenFinished ends the run at the first tick after the experiment
	// finishes.
	StopWhenFinished bool
}

// DefaultTail is how long a scenario without a Duration keeps ticking after
// its last step.
const DefaultTail = 30 * time.Second

// Step is one operator action at a virtual time offset.
type Step struct {
	At     time.Duration
	Action Action

	DeviceID int     // start, stop, set_params
	ValveID  int     // toggle_valve
	FlowRate float64 // set_params, μL/min
	Seconds  float64 // set_params, configured seconds

	Source string     // ingest_csv
	CSV    string     // ingest_csv body
	Cells  [][]string // ingest_kd

	// ExpectError marks steps the scenario expects the rig to reject.
	ExpectError bool
}

func (s Step) String() string {
	switch s.Action {
	case ActionStart, ActionStop:
		return fmt.Sprintf("%s device %d", s.Action, s.DeviceID)
	case ActionSetParams:
		return fmt.Sprintf("%s device %d %gμL/min %gs", s.Action, s.DeviceID, s.FlowRate, s.Seconds)
	case ActionToggle:
		return fmt.Sprintf("%s %d", s.Action, s.ValveID)
	case ActionIngestCSV:
		return fmt.Sprintf("%s %s", s.Action, s.Source)
	default:
		return string(s.Action)
	}
}

// StepResult captures the outcome of one step.
type StepResult struct {
	Index  int
	At     time.Duration
	Step   Step
	Result rig.Result
	Err    error
}

// Frame is the rig state after a tick that changed something.
type Frame struct {
	At        time.Duration
	Phase     int
	Progress  int
	Running   []int
	Finished  bool
	Halted    bool
	Completed []int // devices that completed at this tick
}

// SimulationResult captures every step, every changing tick and the final
// rig state.
type SimulationResult struct {
	Scenario string
	Steps    []StepResult
	Frames   []Frame
	Final    rig.Snapshot
	Elapsed  time.Duration
	Rig      *rig.Rig
}

// FirstFrame returns the first frame matching pred.
func (r SimulationResult) FirstFrame(pred func(Frame) bool) (Frame, bool) {
	for _, f := range r.Frames {
		if pred(f) {
			return f, true
		}
	}
	return Frame{}, false
}

// Failed returns step results whose error did not match ExpectError.
func (r SimulationResult) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if (s.Err != nil) != s.Step.ExpectError {
			out = append(out, s)
		}
	}
	return out
}

// sortedSteps orders steps by time, keeping the scenario order for steps
// at the same offset.
func sortedSteps(steps []Step) []Step {
	out := append([]Step(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// sampleMeasurements is a small binding data set for three labels.
const sampleMeasurements = `protein,concentration,affinity
Antibody-1,0.5,31.2
Antibody-1,1,48.9
Antibody-1,2,65.1
Antibody-1,4,79.8
Antibody-2,0.5,12.4
Antibody-2,1,22.0
Antibody-2,2,35.7
Antibody-2,4,51.3
Antibody-3,0.5,5.1
Antibody-3,1,9.8
Antibody-3,2,18.2
`

// DemoScenario runs the default procedure end to end: both protein pumps
// are started together, the buffer pump and a detector run alongside, the
// operator begins the timed phases and uploads measurements and a KD cell
// block while they run.
func DemoScenario() Scenario {
	return Scenario{
		Name: "demo",
		Steps: []Step{
			{At: 0, Action: ActionStart, DeviceID: 1},
			{At: 0, Action: ActionStart, DeviceID: 2},
			{At: 500 * time.Millisecond, Action: ActionStart, DeviceID: 3},
			{At: time.Second, Action: ActionToggle, ValveID: 1},
			{At: time.Second, Action: ActionBegin, ExpectError: true},
			{At: 4 * time.Second, Action: ActionBegin},
			{At: 5 * time.Second, Action: ActionStart, DeviceID: 4},
			{At: 6 * time.Second, Action: ActionIngestCSV, Source: "demo.csv", CSV: sampleMeasurements},
			{At: 7 * time.Second, Action: ActionIngestKD, Cells: [][]string{{}, {"", "", "12.5", "9.5", "2.5"}}},
		},
		Duration:         40 * time.Second,
		StopWhenFinished: true,
	}
}

// EmergencyScenario halts a running procedure, shows that commands are
// refused while halted, resolves and runs the procedure again.
func EmergencyScenario() Scenario {
	return Scenario{
		Name: "emergency",
		Steps: []Step{
			{At: 0, Action: ActionStart, DeviceID: 1},
			{At: 0, Action: ActionStart, DeviceID: 2},
			{At: 4 * time.Second, Action: ActionBegin},
			{At: 8 * time.Second, Action: ActionTrigger},
			{At: 9 * time.Second, Action: ActionStart, DeviceID: 1, ExpectError: true},
			{At: 9 * time.Second, Action: ActionToggle, ValveID: 3},
			{At: 12 * time.Second, Action: ActionResolve},
			{At: 12 * time.Second, Action: ActionResolve, ExpectError: true},
			{At: 13 * time.Second, Action: ActionStart, DeviceID: 1},
			{At: 13 * time.Second, Action: ActionStart, DeviceID: 2},
			{At: 17 * time.Second, Action: ActionBegin},
		},
		Duration:         60 * time.Second,
		StopWhenFinished: true,
	}
}

// Scenarios returns the built-in scenarios by name.
func Scenarios() map[string]Scenario {
	return map[string]Scenario{
		"demo":      DemoScenario(),
		"emergency": EmergencyScenario(),
	}
}

// runningIDs lists running devices of a snapshot.
func runningIDs(devices []rig.DeviceStatus) []int {
	var out []int
	for _, d := range devices {
		if d.Running {
			out = append(out, d.ID)
		}
	}
	return out
}

// completedIDs lists the devices of completion events.
func completedIDs(events []completion.Event) []int {
	out := make([]int, len(events))
	for i, ev := range events {
		out[i] = ev.DeviceID
	}
	return out
}
