package visualization

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/fluidrig/internal/affinity"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"svg", FormatSVG, false},
		{"", FormatSVG, false},
		{"PNG", FormatPNG, false},
		{"gif", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatForPath(t *testing.T) {
	if got := FormatForPath("out/ranking.PNG"); got != FormatPNG {
		t.Errorf("FormatForPath(.PNG) = %q", got)
	}
	if got := FormatForPath("ranking.svg"); got != FormatSVG {
		t.Errorf("FormatForPath(.svg) = %q", got)
	}
	if got := FormatForPath("ranking"); got != FormatSVG {
		t.Errorf("FormatForPath(no ext) = %q", got)
	}
	if FormatPNG.ContentType() != "image/png" || FormatSVG.ContentType() != "image/svg+xml" {
		t.Error("unexpected content types")
	}
}

func TestRenderRanking_SVG(t *testing.T) {
	rankings := []affinity.Ranking{
		{Label: "P2", Mean: 5.4, Count: 1},
		{Label: "P3", Mean: 3.0, Count: 1},
		{Label: "P1", Mean: 2.1, Count: 1},
	}

	var buf bytes.Buffer
	if err := RenderRanking(&buf, rankings, FormatSVG); err != nil {
		t.Fatalf("RenderRanking() error = %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "<svg") {
		t.Fatalf("output is not SVG: %.60q", out)
	}
	for _, want := range []string{"Affinity ranking", "P1", "P2", "P3"} {
		if !strings.Contains(out, want) {
			t.Errorf("SVG missing %q", want)
		}
	}
}

func TestRenderRanking_PNG(t *testing.T) {
	var buf bytes.Buffer
	err := RenderRanking(&buf, []affinity.Ranking{{Label: "only", Mean: 0}}, FormatPNG)
	if err != nil {
		t.Fatalf("RenderRanking() error = %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("output is not PNG")
	}
}

func TestRenderRanking_Empty(t *testing.T) {
	err := RenderRanking(&bytes.Buffer{}, nil, FormatSVG)
	if !errors.Is(err, rigerr.ErrValidation) {
		t.Errorf("RenderRanking(nil) error = %v, want validation", err)
	}
}

func TestRenderCurves(t *testing.T) {
	fit := &affinity.FitResult{Kd: 1, Bmax: 100, MinConcentration: 0.5, MaxConcentration: 4}
	groups := []affinity.Group{
		{
			Label: "Antibody-1",
			Points: []affinity.Point{
				{Concentration: 0.5, Value: 33}, {Concentration: 1, Value: 50},
				{Concentration: 2, Value: 66}, {Concentration: 4, Value: 80},
			},
			Fit: fit,
		},
		{
			Label:  "Antibody-2",
			Points: []affinity.Point{{Concentration: 1, Value: 12}},
		},
	}

	var buf bytes.Buffer
	if err := RenderCurves(&buf, groups, FormatSVG); err != nil {
		t.Fatalf("RenderCurves() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Antibody-1", "Antibody-2", "Kd=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("SVG missing %q", want)
		}
	}
}

func TestRenderCurves_Empty(t *testing.T) {
	err := RenderCurves(&bytes.Buffer{}, []affinity.Group{{Label: "x"}}, FormatSVG)
	if !errors.Is(err, rigerr.ErrValidation) {
		t.Errorf("RenderCurves() error = %v, want validation", err)
	}
}
