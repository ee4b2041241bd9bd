package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fluidrig/internal/logging"
	"github.com/nvandessel/fluidrig/internal/rig"
	"github.com/nvandessel/fluidrig/internal/simulation"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted scenario against a virtual clock",
		Long: `Run a built-in scenario on a fresh rig with a virtual clock and print the
steps, the phase timeline and the final event log. No wall time passes.

Examples:
  fluidrig simulate
  fluidrig simulate --scenario emergency
  fluidrig simulate --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			name, _ := cmd.Flags().GetString("scenario")
			list, _ := cmd.Flags().GetBool("list")

			scenarios := simulation.Scenarios()
			if list {
				names := make([]string, 0, len(scenarios))
				for n := range scenarios {
					names = append(names, n)
				}
				sort.Strings(names)
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string][]string{"scenarios": names})
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
				return nil
			}

			sc, ok := scenarios[name]
			if !ok {
				return fmt.Errorf("unknown scenario %q (see --list)", name)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			rigCfg := a.cfg.Rig
			sc.Rig = &rigCfg

			tracer := logging.NewTraceLogger(a.cfg.Logging.TraceDir, a.cfg.Logging.Level)
			runner := simulation.NewRunner(
				simulation.WithLogger(a.logger),
				simulation.WithRigOptions(rig.WithTracer(tracer)),
			)
			res, err := runner.Run(cmd.Context(), sc)
			if res.Rig != nil {
				defer res.Rig.Close(context.Background())
			}
			if err != nil {
				return err
			}

			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), toSimulationReport(res)); err != nil {
					return err
				}
			} else if err := simulation.WriteReport(cmd.OutOrStdout(), res); err != nil {
				return err
			}

			if failed := res.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d step(s) did not behave as scripted, first: %s", len(failed), failed[0].Step)
			}
			return nil
		},
	}

	cmd.Flags().String("scenario", "demo", "Scenario to run")
	cmd.Flags().Bool("list", false, "List built-in scenarios")
	return cmd
}

type simulationStep struct {
	At      float64 `json:"at_seconds"`
	Step    string  `json:"step"`
	OK      bool    `json:"ok"`
	Message string  `json:"message"`
}

type simulationFrame struct {
	At        float64 `json:"at_seconds"`
	Phase     int     `json:"phase"`
	Progress  int     `json:"progress"`
	Running   []int   `json:"running,omitempty"`
	Completed []int   `json:"completed,omitempty"`
	Finished  bool    `json:"finished"`
	Halted    bool    `json:"halted"`
}

type simulationReport struct {
	Scenario string            `json:"scenario"`
	Elapsed  float64           `json:"elapsed_seconds"`
	Steps    []simulationStep  `json:"steps"`
	Frames   []simulationFrame `json:"frames"`
	Final    rig.Snapshot      `json:"final"`
}

func toSimulationReport(res simulation.SimulationResult) simulationReport {
	out := simulationReport{
		Scenario: res.Scenario,
		Elapsed:  seconds(res.Elapsed),
		Steps:    make([]simulationStep, len(res.Steps)),
		Frames:   make([]simulationFrame, len(res.Frames)),
		Final:    res.Final,
	}
	for i, s := range res.Steps {
		out.Steps[i] = simulationStep{At: seconds(s.At), Step: s.Step.String(), OK: s.Result.OK, Message: s.Result.Message}
	}
	for i, f := range res.Frames {
		out.Frames[i] = simulationFrame{
			At:        seconds(f.At),
			Phase:     f.Phase,
			Progress:  f.Progress,
			Running:   f.Running,
			Completed: f.Completed,
			Finished:  f.Finished,
			Halted:    f.Halted,
		}
	}
	return out
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
