package visualization

import (
	"fmt"
	"io"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/nvandessel/fluidrig/internal/affinity"
	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// RenderCurves draws every group's measurements as points and, where a
// fit exists, its binding curve Y = Bmax*C/(Kd+C) sampled over the
// measured concentration range.
func RenderCurves(w io.Writer, groups []affinity.Group, format Format) error {
	var series []chart.Series
	xMax, yMin, yMax := 0.0, 0.0, 0.0

	for i, g := range groups {
		if len(g.Points) == 0 {
			continue
		}
		col := chart.GetDefaultColor(i)

		xs := make([]float64, len(g.Points))
		ys := make([]float64, len(g.Points))
		for j, p := range g.Points {
			xs[j], ys[j] = p.Concentration, p.Value
			xMax = math.Max(xMax, p.Concentration)
			yMin = math.Min(yMin, p.Value)
			yMax = math.Max(yMax, p.Value)
		}
		series = append(series, chart.ContinuousSeries{
			Name:    g.Label,
			XValues: xs,
			YValues: ys,
			Style:   pointStyle(col),
		})

		if g.Fit == nil {
			continue
		}
		curve := g.Fit.Curve(constants.CurveSamples)
		cx := make([]float64, len(curve))
		cy := make([]float64, len(curve))
		for j, p := range curve {
			cx[j], cy[j] = p.Concentration, p.Value
			yMin = math.Min(yMin, p.Value)
			yMax = math.Max(yMax, p.Value)
		}
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("%s fit (Kd=%.3g)", g.Label, g.Fit.Kd),
			XValues: cx,
			YValues: cy,
			Style:   chart.Style{StrokeColor: col, StrokeWidth: 2},
		})
	}
	if len(series) == 0 {
		return rigerr.Validation("no affinity data to chart")
	}
	if xMax <= 0 {
		xMax = 1
	}
	if yMax <= yMin {
		yMax = yMin + 1
	}

	ch := chart.Chart{
		Title:      "Affinity vs concentration",
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		Width:      960,
		Height:     chartHeight,
		XAxis: chart.XAxis{
			Name:  "Concentration",
			Range: &chart.ContinuousRange{Min: 0, Max: xMax * 1.05},
		},
		YAxis: chart.YAxis{
			Name:  "Affinity",
			Range: &chart.ContinuousRange{Min: yMin, Max: yMax * 1.1},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	if err := ch.Render(format.renderer(), w); err != nil {
		return fmt.Errorf("render curve chart: %w", err)
	}
	return nil
}
