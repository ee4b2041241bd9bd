package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fluidrig/internal/ingest"
)

func newKDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kd <file>",
		Short: "Calculate KD from an instrument export",
		Long: `Read cells C2:E2 of an .xlsx (first sheet) or .csv export and print
KD = (C2-E2)*(D2-E2)/E2.

Examples:
  fluidrig kd plate.xlsx
  fluidrig kd plate.csv --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cells, err := ingest.ReadCells(args[0])
			if err != nil {
				return err
			}
			res, err := ingest.ComputeKD(cells, time.Now())
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "m1:   %.4f\nm2:   %.4f\nm1m2: %.4f\nKD:   %.4f\n", res.M1, res.M2, res.M1M2, res.KD)
			return nil
		},
	}
}
