package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolateHome points HOME at a temp directory so no real
// ~/.fluidrig/config.yaml is loaded.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

// runCmd executes the root command with args and returns stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const measurements = `protein,concentration,affinity
Antibody-1,1,2.1
Antibody-1,5,6.0
Antibody-1,10,8.2
Antibody-2,1,4.0
Antibody-2,5,9.1
Antibody-2,10,11.5
`

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"version", "config", "serve", "mcp-server", "simulate", "analyze", "chart", "kd"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for _, flag := range []string{"config", "log-level", "json"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag --%s missing", flag)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if out != "fluidrig version "+version+"\n" {
		t.Errorf("output = %q", out)
	}

	out, _ = runCmd(t, "version", "--json")
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil || v["version"] != version {
		t.Errorf("json output = %q (%v)", out, err)
	}
}

func TestConfigShow(t *testing.T) {
	isolateHome(t)

	out, err := runCmd(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	var cfg struct {
		Rig struct {
			Procedure string `json:"procedure"`
		} `json:"rig"`
	}
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if cfg.Rig.Procedure != "Protein reaction detection" {
		t.Errorf("procedure = %q", cfg.Rig.Procedure)
	}

	out, err = runCmd(t, "config", "show")
	if err != nil || !strings.Contains(out, "procedure: Protein reaction detection") {
		t.Errorf("yaml output = %q (%v)", out, err)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := isolateHome(t)

	if _, err := runCmd(t, "config", "validate"); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := writeFile(t, dir, "bad.yaml", "rig:\n  time_scale: -1\n")
	if _, err := runCmd(t, "config", "validate", "--config", bad); err == nil {
		t.Error("expected error for negative time scale")
	}
}

func TestKDCmd(t *testing.T) {
	dir := isolateHome(t)
	path := writeFile(t, dir, "plate.csv", "a,b,m1,m2,m1m2\nx,y,10,8,2\n")

	out, err := runCmd(t, "kd", path)
	if err != nil {
		t.Fatalf("kd error = %v", err)
	}
	if !strings.Contains(out, "KD:   24.0000") {
		t.Errorf("output = %q", out)
	}

	zero := writeFile(t, dir, "zero.csv", "a,b,m1,m2,m1m2\nx,y,10,8,0\n")
	if _, err := runCmd(t, "kd", zero); err == nil {
		t.Error("expected error for zero m1m2")
	}
	if _, err := runCmd(t, "kd", filepath.Join(dir, "notes.txt")); err == nil {
		t.Error("expected error for unsupported file type")
	}
}

func TestAnalyzeCmd(t *testing.T) {
	dir := isolateHome(t)
	path := writeFile(t, dir, "run1.csv", measurements)

	out, err := runCmd(t, "analyze", path, "--json")
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}
	var res struct {
		Ranking []struct {
			Label string  `json:"label"`
			Mean  float64 `json:"mean"`
		} `json:"ranking"`
		Fits []fitSummary `json:"fits"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(res.Ranking) != 2 || res.Ranking[0].Label != "Antibody-2" {
		t.Errorf("ranking = %+v", res.Ranking)
	}
	if len(res.Fits) != 2 {
		t.Errorf("fits = %+v", res.Fits)
	}

	out, err = runCmd(t, "analyze", path)
	if err != nil || !strings.Contains(out, "Highest affinity: Antibody-2") {
		t.Errorf("table output = %q (%v)", out, err)
	}
}

func TestAnalyzeCmd_BadFile(t *testing.T) {
	dir := isolateHome(t)
	path := writeFile(t, dir, "bad.csv", "protein,concentration\nP1,1\n")

	_, err := runCmd(t, "analyze", path)
	if err == nil || !strings.Contains(err.Error(), "affinity") {
		t.Errorf("error = %v, want missing affinity column", err)
	}
}

func TestChartCmd(t *testing.T) {
	dir := isolateHome(t)
	path := writeFile(t, dir, "run1.csv", measurements)

	for _, kind := range []string{"ranking", "curves"} {
		t.Run(kind, func(t *testing.T) {
			out := filepath.Join(dir, kind+".svg")
			if _, err := runCmd(t, "chart", path, "--kind", kind, "--out", out); err != nil {
				t.Fatalf("chart error = %v", err)
			}
			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Contains(data, []byte("<svg")) {
				t.Errorf("%s is not an SVG", out)
			}
		})
	}

	if _, err := runCmd(t, "chart", path); err == nil {
		t.Error("expected error without --out")
	}
	if _, err := runCmd(t, "chart", path, "--kind", "pie", "--out", filepath.Join(dir, "x.svg")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestSimulateCmd(t *testing.T) {
	isolateHome(t)

	out, err := runCmd(t, "simulate", "--list")
	if err != nil || out != "demo\nemergency\n" {
		t.Errorf("list = %q (%v)", out, err)
	}

	out, err = runCmd(t, "simulate", "--scenario", "demo", "--json")
	if err != nil {
		t.Fatalf("simulate error = %v", err)
	}
	var rep simulationReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(rep.Frames) == 0 || !rep.Frames[len(rep.Frames)-1].Finished {
		t.Errorf("demo did not finish: %+v", rep.Frames)
	}
	if rep.Final.Experiment.Progress != 100 {
		t.Errorf("final progress = %d", rep.Final.Experiment.Progress)
	}

	if _, err := runCmd(t, "simulate", "--scenario", "nope"); err == nil {
		t.Error("expected error for unknown scenario")
	}
}

func TestSimulateCmd_Report(t *testing.T) {
	isolateHome(t)

	out, err := runCmd(t, "simulate", "--scenario", "emergency")
	if err != nil {
		t.Fatalf("simulate error = %v", err)
	}
	for _, want := range []string{"Scenario emergency", "Timeline:", "Event log (newest first):"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
