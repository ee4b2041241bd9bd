package affinity

import (
	"errors"
	"math"
	"testing"

	"github.com/nvandessel/fluidrig/internal/rigerr"
)

func TestBindingFitter_RecoversParameters(t *testing.T) {
	const kd, bmax = 5.0, 50.0
	conc := []float64{0.5, 1, 2, 5, 10, 20, 50, 100}
	vals := make([]float64, len(conc))
	for i, c := range conc {
		vals[i] = bmax * c / (kd + c)
	}

	got, err := BindingFitter{}.Fit(conc, vals)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if math.Abs(got.Kd-kd) > 0.1 {
		t.Errorf("Kd = %g, want ~%g", got.Kd, kd)
	}
	if math.Abs(got.Bmax-bmax) > 0.5 {
		t.Errorf("Bmax = %g, want ~%g", got.Bmax, bmax)
	}
	if got.MinConcentration != 0.5 || got.MaxConcentration != 100 {
		t.Errorf("range = [%g, %g], want [0.5, 100]", got.MinConcentration, got.MaxConcentration)
	}
}

func TestBindingFitter_TooFewPoints(t *testing.T) {
	_, err := BindingFitter{}.Fit([]float64{1, 2}, []float64{1, 2})
	if !errors.Is(err, rigerr.ErrFitFailure) {
		t.Errorf("error = %v, want fit failure", err)
	}
}

func TestBindingFitter_LengthMismatch(t *testing.T) {
	_, err := BindingFitter{}.Fit([]float64{1, 2, 3}, []float64{1, 2})
	if !errors.Is(err, rigerr.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestFitResult_Curve(t *testing.T) {
	f := FitResult{Kd: 1, Bmax: 10, MinConcentration: 1, MaxConcentration: 3}

	pts := f.Curve(3)
	if len(pts) != 3 {
		t.Fatalf("Curve(3) returned %d points", len(pts))
	}
	wantC := []float64{1, 2, 3}
	for i, p := range pts {
		if p.Concentration != wantC[i] {
			t.Errorf("point %d concentration = %g, want %g", i, p.Concentration, wantC[i])
		}
		if want := 10 * wantC[i] / (1 + wantC[i]); math.Abs(p.Value-want) > 1e-12 {
			t.Errorf("point %d value = %g, want %g", i, p.Value, want)
		}
	}

	if n := len(f.Curve(0)); n != 2 {
		t.Errorf("Curve(0) returned %d points, want 2", n)
	}
}
