// Package simulation drives a rig through a scripted scenario against a
// virtual clock.
//
// The runner exercises the real rig (registry, completion engine, phase
// controller, emergency override, analyzer) with no mocks. A scenario is a
// list of timed steps (operator commands and data uploads) plus a total
// run time; the runner advances the clock in fixed tick intervals, applies
// every step that falls due, and ticks the rig, recording a frame whenever
// a tick changes state.
//
// Usage:
//
//	func TestFullProcedure(t *testing.T) {
//	    res, err := simulation.NewRunner().Run(ctx, simulation.Scenario{
//	        Name:  "full-procedure",
//	        Steps: []simulation.Step{
//	            {At: 0, Action: simulation.ActionStart, DeviceID: 1},
//	            {At: 0, Action: simulation.ActionStart, DeviceID: 2},
//	            {At: 4 * time.Second, Action: simulation.ActionBegin},
//	        },
//	        Duration: 30 * time.Second,
//	    })
//	    simulation.AssertFinished(t, res)
//	}
package simulation
