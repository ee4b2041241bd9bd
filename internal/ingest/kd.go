package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// ComputeKD derives the dissociation constant from the cell block C2:E2 of
// an instrument export. cells is indexed [row][column], zero-based, as
// returned by a spreadsheet reader.
//
//	m1 = C2 - E2, m2 = D2 - E2, m1m2 = E2, kd = m1*m2/m1m2
//
// A zero m1m2 is a division error.
func ComputeKD(cells [][]string, now time.Time) (models.KDResult, error) {
	row := constants.KDRow - 1
	if row >= len(cells) {
		return models.KDResult{}, rigerr.Validation("cell block needs at least %d rows, got %d", constants.KDRow, len(cells))
	}

	vals := make([]float64, 0, constants.KDLastColumn-constants.KDFirstColumn+1)
	for col := constants.KDFirstColumn; col <= constants.KDLastColumn; col++ {
		ref := cellName(col, constants.KDRow)
		if col-1 >= len(cells[row]) {
			return models.KDResult{}, rigerr.Validation("cell %s is missing", ref)
		}
		v, err := parseNumber(strings.TrimSpace(cells[row][col-1]))
		if err != nil {
			return models.KDResult{}, rigerr.Validation("cell %s: %v", ref, err)
		}
		vals = append(vals, v)
	}

	c3, c4, c5 := vals[0], vals[1], vals[2]
	res := models.KDResult{
		M1:           c3 - c5,
		M2:           c4 - c5,
		M1M2:         c5,
		CalculatedAt: now,
	}
	if res.M1M2 == 0 {
		return models.KDResult{}, rigerr.Division("m1m2 (cell %s) is zero", cellName(constants.KDLastColumn, constants.KDRow))
	}
	res.KD = res.M1 * res.M2 / res.M1M2
	return res, nil
}

// ReadCells loads the cell grid of an instrument export. .xlsx files are
// read from their first sheet; .csv files are read as-is.
func ReadCells(path string) ([][]string, error) {
	if !supportedCells(path) {
		return nil, rigerr.Validation("unsupported file type %q", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return DecodeCells(f, path)
}

// DecodeCells reads a cell grid from r. name selects the decoder by its
// extension.
func DecodeCells(r io.Reader, name string) ([][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		return decodeXLSX(r)
	case ".csv":
		return decodeCSVCells(r)
	default:
		return nil, rigerr.Validation("unsupported file type %q", ext)
	}
}

func supportedCells(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	}
	return false
}

func decodeXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, rigerr.Validation("failed to open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, rigerr.Validation("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func decodeCSVCells(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, rigerr.Validation("failed to parse csv: %v", err)
	}
	return rows, nil
}

// cellName renders a 1-based column/row pair as a spreadsheet reference.
func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", row, col)
	}
	return name
}
