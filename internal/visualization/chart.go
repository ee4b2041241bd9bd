// Package visualization renders affinity analysis results as charts.
package visualization

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/nvandessel/fluidrig/internal/affinity"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// Format specifies the output image format.
type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/svg+xml"
}

func (f Format) renderer() chart.RendererProvider {
	if f == FormatPNG {
		return chart.PNG
	}
	return chart.SVG
}

// ParseFormat maps "svg" or "png" to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatSVG, "":
		return FormatSVG, nil
	case FormatPNG:
		return FormatPNG, nil
	default:
		return "", rigerr.Validation("unsupported chart format %q", s)
	}
}

// FormatForPath picks the format from a file extension, defaulting to SVG.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return FormatPNG
	}
	return FormatSVG
}

const (
	chartHeight   = 480
	minChartWidth = 640
	barSlot       = 90
)

// RenderRanking draws the ranking as a bar chart of mean affinity per
// label, highest first.
func RenderRanking(w io.Writer, rankings []affinity.Ranking, format Format) error {
	if len(rankings) == 0 {
		return rigerr.Validation("no affinity data to chart")
	}

	bars := make([]chart.Value, len(rankings))
	top := 0.0
	for i, r := range rankings {
		bars[i] = chart.Value{
			Label: r.Label,
			Value: r.Mean,
			Style: chart.Style{
				FillColor:   chart.GetDefaultColor(i).WithAlpha(200),
				StrokeColor: chart.GetDefaultColor(i),
				StrokeWidth: 1,
			},
		}
		top = math.Max(top, r.Mean)
	}
	if top <= 0 {
		top = 1
	}

	width := len(rankings)*barSlot + 160
	if width < minChartWidth {
		width = minChartWidth
	}

	bc := chart.BarChart{
		Title:      "Affinity ranking (mean)",
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		Width:      width,
		Height:     chartHeight,
		BarWidth:   50,
		YAxis: chart.YAxis{
			Name:  "Affinity",
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
		},
		Bars: bars,
	}
	if err := bc.Render(format.renderer(), w); err != nil {
		return fmt.Errorf("render ranking chart: %w", err)
	}
	return nil
}

// pointStyle renders points only, no connecting line.
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 0,
		StrokeColor: drawing.ColorTransparent,
		DotWidth:    4,
		DotColor:    col,
	}
}
