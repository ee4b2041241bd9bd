package affinity

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// Fitter fits a concentration/response curve.
type Fitter interface {
	Fit(concentrations, values []float64) (FitResult, error)
}

// FitResult holds the fitted one-site binding parameters and the
// concentration range they were fitted over.
type FitResult struct {
	Kd   float64 `json:"kd"`
	Bmax float64 `json:"bmax"`

	MinConcentration float64 `json:"min_concentration"`
	MaxConcentration float64 `json:"max_concentration"`
}

// Point is one (concentration, value) pair.
type Point struct {
	Concentration float64 `json:"concentration"`
	Value         float64 `json:"value"`
}

// Eval returns the model response at concentration c.
func (f FitResult) Eval(c float64) float64 {
	return binding(f.Kd, f.Bmax, c)
}

// Curve samples the fitted model at n evenly spaced concentrations across
// the fitted range. n below 2 yields the two endpoints.
func (f FitResult) Curve(n int) []Point {
	if n < 2 {
		n = 2
	}
	pts := make([]Point, n)
	step := (f.MaxConcentration - f.MinConcentration) / float64(n-1)
	for i := range pts {
		c := f.MinConcentration + float64(i)*step
		pts[i] = Point{Concentration: c, Value: f.Eval(c)}
	}
	return pts
}

// BindingFitter fits Y = Bmax*C/(Kd+C) by least squares with Nelder-Mead.
type BindingFitter struct {
	// InitialKd and InitialBmax seed the search. Zero values use the
	// package defaults.
	InitialKd   float64
	InitialBmax float64

	// MaxEvaluations caps objective evaluations. Zero uses the default.
	MaxEvaluations int
}

// Fit runs the optimizer. Fewer than constants.MinFitPoints points, a
// failed search or non-finite parameters yield a FitFailure.
func (b BindingFitter) Fit(concentrations, values []float64) (FitResult, error) {
	if len(concentrations) != len(values) {
		return FitResult{}, rigerr.Validation("got %d concentrations and %d values", len(concentrations), len(values))
	}
	if len(concentrations) < constants.MinFitPoints {
		return FitResult{}, rigerr.FitFailure("need at least %d points, got %d", constants.MinFitPoints, len(concentrations))
	}

	x0 := []float64{constants.InitialKd, constants.InitialBmax}
	if b.InitialKd != 0 {
		x0[0] = b.InitialKd
	}
	if b.InitialBmax != 0 {
		x0[1] = b.InitialBmax
	}
	evals := b.MaxEvaluations
	if evals <= 0 {
		evals = constants.MaxFitEvaluations
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			var sse float64
			for i, c := range concentrations {
				r := values[i] - binding(x[0], x[1], c)
				sse += r * r
			}
			if math.IsNaN(sse) || math.IsInf(sse, 0) {
				return math.MaxFloat64
			}
			return sse
		},
	}

	result, err := optimize.Minimize(problem, x0, &optimize.Settings{FuncEvaluations: evals}, &optimize.NelderMead{})
	if err != nil {
		return FitResult{}, rigerr.FitFailure("optimizer failed: %v", err)
	}
	if result.Status == optimize.FunctionEvaluationLimit {
		return FitResult{}, rigerr.FitFailure("no convergence after %d evaluations", evals)
	}

	kd, bmax := result.X[0], result.X[1]
	if !finite(kd) || !finite(bmax) {
		return FitResult{}, rigerr.FitFailure("non-finite parameters kd=%g bmax=%g", kd, bmax)
	}

	lo, hi := concentrations[0], concentrations[0]
	for _, c := range concentrations[1:] {
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	return FitResult{Kd: kd, Bmax: bmax, MinConcentration: lo, MaxConcentration: hi}, nil
}

func binding(kd, bmax, c float64) float64 {
	return bmax * c / (kd + c)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
