package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fluidrig/internal/affinity"
	"github.com/nvandessel/fluidrig/internal/rig"
	"github.com/nvandessel/fluidrig/internal/visualization"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <csv>...",
		Short: "Rank labels by affinity and fit binding curves",
		Long: `Ingest one or more measurement CSVs (protein or label, concentration,
affinity columns) and print the affinity ranking and per-label fits.

Examples:
  fluidrig analyze run1.csv run2.csv
  fluidrig analyze run1.csv --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			rg, err := ingestFiles(cmd, args)
			if err != nil {
				return err
			}
			defer rg.Close(context.Background())

			ranking, err := rg.AffinityRanking(ctx)
			if err != nil {
				return err
			}
			groups, err := rg.AffinityGroups(ctx)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"ranking": ranking,
					"fits":    fitSummaries(groups),
				})
			}
			return writeAnalysis(cmd.OutOrStdout(), ranking, groups)
		},
	}
}

func newChartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart <csv>...",
		Short: "Render the affinity ranking or binding curves as SVG or PNG",
		Long: `Ingest measurement CSVs and render a chart. The format follows the
output extension (.svg or .png).

Examples:
  fluidrig chart run1.csv --out ranking.svg
  fluidrig chart run1.csv --kind curves --out curves.png --open`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			kind, _ := cmd.Flags().GetString("kind")
			open, _ := cmd.Flags().GetBool("open")
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			if kind != "ranking" && kind != "curves" {
				return fmt.Errorf("unknown chart kind %q (valid: ranking, curves)", kind)
			}
			ctx := cmd.Context()

			rg, err := ingestFiles(cmd, args)
			if err != nil {
				return err
			}
			defer rg.Close(context.Background())

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			format := visualization.FormatForPath(out)
			if kind == "curves" {
				var groups []affinity.Group
				if groups, err = rg.AffinityGroups(ctx); err == nil {
					err = visualization.RenderCurves(f, groups, format)
				}
			} else {
				var ranking []affinity.Ranking
				if ranking, err = rg.AffinityRanking(ctx); err == nil {
					err = visualization.RenderRanking(f, ranking, format)
				}
			}
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				os.Remove(out)
				return fmt.Errorf("failed to render chart: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			if open {
				if err := visualization.OpenFile(out); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not open %s: %v\n", out, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("out", "", "Output file (.svg or .png)")
	cmd.Flags().String("kind", "ranking", "Chart kind: ranking or curves")
	cmd.Flags().Bool("open", false, "Open the chart in the default viewer")
	return cmd
}

// ingestFiles builds a rig and ingests every file, stopping at the first
// rejected file.
func ingestFiles(cmd *cobra.Command, paths []string) (*rig.Rig, error) {
	a, err := loadApp(cmd)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	rg, err := a.newRig(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range paths {
		if err := ingestFile(ctx, rg, p); err != nil {
			rg.Close(context.Background())
			return nil, err
		}
	}
	return rg, nil
}

func ingestFile(ctx context.Context, rg *rig.Rig, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := rg.IngestCSV(ctx, filepath.Base(path), f); err != nil {
		return err
	}
	return nil
}

type fitSummary struct {
	Label    string   `json:"label"`
	Points   int      `json:"points"`
	Kd       *float64 `json:"kd,omitempty"`
	Bmax     *float64 `json:"bmax,omitempty"`
	FitError string   `json:"fit_error,omitempty"`
}

func fitSummaries(groups []affinity.Group) []fitSummary {
	out := make([]fitSummary, len(groups))
	for i, g := range groups {
		out[i] = fitSummary{Label: g.Label, Points: len(g.Points), FitError: g.FitError}
		if g.Fit != nil {
			kd, bmax := g.Fit.Kd, g.Fit.Bmax
			out[i].Kd, out[i].Bmax = &kd, &bmax
		}
	}
	return out
}

func writeAnalysis(w io.Writer, ranking []affinity.Ranking, groups []affinity.Group) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tLABEL\tMEAN\tSTDDEV\tN")
	for i, r := range ranking {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%d\n", i+1, r.Label, r.Mean, r.StdDev, r.Count)
	}
	if len(ranking) > 0 {
		fmt.Fprintf(tw, "\nHighest affinity: %s\n", ranking[0].Label)
	}

	fmt.Fprintln(tw, "\nLABEL\tKD\tBMAX\tNOTE")
	for _, s := range fitSummaries(groups) {
		if s.Kd == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t%s\n", s.Label, s.FitError)
			continue
		}
		fmt.Fprintf(tw, "%s\t%.4g\t%.4g\t\n", s.Label, *s.Kd, *s.Bmax)
	}
	return tw.Flush()
}
