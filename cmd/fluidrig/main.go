package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fluidrig/internal/config"
	"github.com/nvandessel/fluidrig/internal/logging"
	"github.com/nvandessel/fluidrig/internal/metrics"
	"github.com/nvandessel/fluidrig/internal/rig"
	"github.com/nvandessel/fluidrig/internal/store"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fluidrig",
		Short: "Control plane for a microfluidic lab rig",
		Long: `fluidrig drives a simulated microfluidic rig: timed pumps and detectors,
valves, a phase-gated experiment procedure and an emergency stop. It also
ingests binding measurements and ranks labels by affinity.

Run 'fluidrig serve' for the HTTP API or 'fluidrig mcp-server' to expose the
rig to an agent over MCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.fluidrig/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: error, warn, info, debug, trace (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newServeCmd(),
		newMCPServerCmd(),
		newSimulateCmd(),
		newAnalyzeCmd(),
		newChartCmd(),
		newKDCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "fluidrig version %s\n", version)
			}
		},
	}
}

// app is the configuration and logger every rig-backed command starts
// from.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// loadApp loads and validates configuration, applies the global flags and
// builds the stderr logger.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()),
	}, nil
}

// newRig builds a rig with the configured data set, metrics and tracing.
// Closing the rig releases all three.
func (a *app) newRig(ctx context.Context) (*rig.Rig, error) {
	rec, err := metrics.Open(ctx, metrics.Config{
		Enabled:  a.cfg.Metrics.Enabled,
		Endpoint: a.cfg.Metrics.Endpoint,
		Insecure: a.cfg.Metrics.Insecure,
	}, version)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics: %w", err)
	}

	ds, err := store.Open(a.cfg.Store.Backend)
	if err != nil {
		rec.Close(ctx)
		return nil, fmt.Errorf("failed to open data set: %w", err)
	}

	tracer := logging.NewTraceLogger(a.cfg.Logging.TraceDir, a.cfg.Logging.Level)
	rg, err := rig.New(a.cfg.Rig,
		rig.WithLogger(a.logger),
		rig.WithMetrics(rec),
		rig.WithTracer(tracer),
		rig.WithDataset(ds),
	)
	if err != nil {
		tracer.Close()
		ds.Close()
		rec.Close(ctx)
		return nil, fmt.Errorf("failed to build rig: %w", err)
	}
	return rg, nil
}

// writeJSON writes v indented to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
