// Package ingest turns instrument exports into values the rig accepts:
// measurement rows from CSV uploads and the KD cell block from a
// spreadsheet.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// Row is one parsed measurement before it is assigned an experiment ID.
type Row struct {
	Label         string
	Concentration float64
	Affinity      float64
}

// Column names recognised in a measurement CSV header. The label column
// may be called either "protein" or "label".
const (
	ColumnProtein       = "protein"
	ColumnLabel         = "label"
	ColumnConcentration = "concentration"
	ColumnAffinity      = "affinity"
)

// ParseCSV reads a measurement CSV. The header must contain a label column
// plus concentration and affinity; extra columns are ignored. Any error
// rejects the whole file.
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, rigerr.Validation("file is empty")
	}
	if err != nil {
		return nil, rigerr.Validation("failed to read header: %v", err)
	}

	cols, err := headerColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, rigerr.Validation("row %d: %v", line, err)
		}
		if blank(rec) {
			continue
		}

		row, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, rigerr.Validation("file has no data rows")
	}
	return rows, nil
}

type columns struct {
	label, concentration, affinity int
}

func headerColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}

	var missing []string
	cols := columns{label: -1, concentration: -1, affinity: -1}
	if i, ok := idx[ColumnProtein]; ok {
		cols.label = i
	} else if i, ok := idx[ColumnLabel]; ok {
		cols.label = i
	} else {
		missing = append(missing, ColumnProtein)
	}
	if i, ok := idx[ColumnConcentration]; ok {
		cols.concentration = i
	} else {
		missing = append(missing, ColumnConcentration)
	}
	if i, ok := idx[ColumnAffinity]; ok {
		cols.affinity = i
	} else {
		missing = append(missing, ColumnAffinity)
	}

	if len(missing) > 0 {
		return cols, rigerr.Validation("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(rec []string, cols columns) (Row, error) {
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	label := field(cols.label)
	if label == "" {
		return Row{}, rigerr.Validation("empty label")
	}
	conc, err := parseNumber(field(cols.concentration))
	if err != nil {
		return Row{}, rigerr.Validation("invalid concentration: %v", err)
	}
	aff, err := parseNumber(field(cols.affinity))
	if err != nil {
		return Row{}, rigerr.Validation("invalid affinity: %v", err)
	}
	return Row{Label: label, Concentration: conc, Affinity: aff}, nil
}

// parseNumber parses a finite float. Empty cells are errors.
func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return v, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
