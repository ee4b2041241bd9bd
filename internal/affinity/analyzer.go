// Package affinity ingests binding measurements, groups them by label,
// fits a one-site binding curve per group and ranks labels by mean
// affinity.
package affinity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
	"github.com/nvandessel/fluidrig/internal/sanitize"
	"github.com/nvandessel/fluidrig/internal/store"
)

// Group is every record sharing one label, plus its fit when there were
// enough points. FitError is set when a fit was attempted and failed.
type Group struct {
	Label    string                  `json:"label"`
	Points   []Point                 `json:"points"`
	Fit      *FitResult              `json:"fit,omitempty"`
	FitError string                  `json:"fit_error,omitempty"`
	Records  []models.AffinityRecord `json:"-"`
}

// Ranking is the per-label summary used to order labels.
type Ranking struct {
	Label  string  `json:"label"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

// Analyzer owns the measurement data set.
type Analyzer struct {
	data    store.Dataset
	fitter  Fitter
	nowFunc func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFitter replaces the default BindingFitter.
func WithFitter(f Fitter) Option {
	return func(a *Analyzer) { a.fitter = f }
}

// WithClock overrides the clock used for experiment IDs and timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.nowFunc = now }
}

// NewAnalyzer creates an analyzer over data.
func NewAnalyzer(data store.Dataset, opts ...Option) *Analyzer {
	a := &Analyzer{
		data:    data,
		fitter:  BindingFitter{},
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest validates records and appends them to the data set. Each record
// gets the experiment ID EXP<yymmdd><n>, n being its 1-based position in
// the data set, and the ingestion timestamp. If any record is invalid, or
// source was already ingested, nothing is stored.
func (a *Analyzer) Ingest(ctx context.Context, source string, records []models.AffinityRecord) ([]models.AffinityRecord, error) {
	if len(records) == 0 {
		return nil, rigerr.Validation("no records to ingest")
	}
	if source != "" {
		seen, err := a.data.HasSource(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to check source: %w", err)
		}
		if seen {
			return nil, rigerr.InvalidState("%s was already ingested", source)
		}
	}

	count, err := a.data.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	now := a.nowFunc()
	date := now.Format(constants.ExperimentIDDateLayout)
	out := make([]models.AffinityRecord, len(records))
	for i, r := range records {
		r.Label = sanitize.Label(r.Label)
		if err := validateRecord(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		r.ExperimentID = constants.ExperimentIDPrefix + date + strconv.Itoa(count+i+1)
		r.Source = source
		r.Timestamp = now
		out[i] = r
	}

	if err := a.data.Append(ctx, out); err != nil {
		return nil, fmt.Errorf("failed to store records: %w", err)
	}
	return out, nil
}

func validateRecord(r models.AffinityRecord) error {
	if r.Label == "" {
		return rigerr.Validation("label is empty")
	}
	if !finite(r.Concentration) || !finite(r.Value) {
		return rigerr.Validation("%s: values must be finite", r.Label)
	}
	if r.Concentration <= 0 {
		return rigerr.Validation("%s: concentration must be positive, got %g", r.Label, r.Concentration)
	}
	return nil
}

// Records returns every stored record in ingestion order.
func (a *Analyzer) Records(ctx context.Context) ([]models.AffinityRecord, error) {
	return a.data.List(ctx)
}

// Count returns the number of stored records.
func (a *Analyzer) Count(ctx context.Context) (int, error) {
	return a.data.Count(ctx)
}

// Clear removes every record.
func (a *Analyzer) Clear(ctx context.Context) error {
	return a.data.Clear(ctx)
}

// Groups partitions records by label in first-appearance order and fits
// every group with at least constants.MinFitPoints points. A failed fit is
// recorded on its group; the group is still returned.
func (a *Analyzer) Groups(ctx context.Context) ([]Group, error) {
	records, err := a.data.List(ctx)
	if err != nil {
		return nil, err
	}

	groups := partition(records)
	for i := range groups {
		g := &groups[i]
		if len(g.Points) < constants.MinFitPoints {
			continue
		}
		conc := make([]float64, len(g.Points))
		vals := make([]float64, len(g.Points))
		for j, p := range g.Points {
			conc[j], vals[j] = p.Concentration, p.Value
		}
		fit, err := a.fitter.Fit(conc, vals)
		if err != nil {
			g.FitError = err.Error()
			continue
		}
		g.Fit = &fit
	}
	return groups, nil
}

// Rank summarizes each label by mean and population standard deviation
// and orders labels by descending mean. Equal means keep first-appearance
// order.
func (a *Analyzer) Rank(ctx context.Context) ([]Ranking, error) {
	records, err := a.data.List(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(records), nil
}

// Rank orders labels in records by descending mean value.
func Rank(records []models.AffinityRecord) []Ranking {
	groups := partition(records)
	out := make([]Ranking, 0, len(groups))
	for _, g := range groups {
		vals := make([]float64, len(g.Points))
		for i, p := range g.Points {
			vals[i] = p.Value
		}
		out = append(out, Ranking{
			Label:  g.Label,
			Mean:   stat.Mean(vals, nil),
			StdDev: math.Sqrt(stat.PopVariance(vals, nil)),
			Count:  len(vals),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Mean > out[j].Mean
	})
	return out
}

func partition(records []models.AffinityRecord) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, r := range records {
		i, ok := index[r.Label]
		if !ok {
			i = len(groups)
			index[r.Label] = i
			groups = append(groups, Group{Label: r.Label})
		}
		groups[i].Points = append(groups[i].Points, Point{Concentration: r.Concentration, Value: r.Value})
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}
