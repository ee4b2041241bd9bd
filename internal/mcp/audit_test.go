package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestAuditLogger_NilSafety(t *testing.T) {
	t.Run("nil logger Log is no-op", func(t *testing.T) {
		var logger *AuditLogger
		logger.Log(AuditEntry{Tool: "test"})
	})

	t.Run("nil logger Close is no-op", func(t *testing.T) {
		var logger *AuditLogger
		if err := logger.Close(); err != nil {
			t.Errorf("Close() on nil logger returned error: %v", err)
		}
	})

	t.Run("empty dir disables auditing", func(t *testing.T) {
		if NewAuditLogger("") != nil {
			t.Error("expected nil logger for empty dir")
		}
	})
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	defer logger.Close()

	logger.Log(AuditEntry{
		Timestamp:  time.Now(),
		Tool:       "rig_device_start",
		RunID:      "run-1",
		DurationMs: 42,
		Status:     "success",
		Params:     map[string]string{"device_id": "1"},
	})

	entries := readAudit(t, dir)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Tool != "rig_device_start" || e.DurationMs != 42 || e.Status != "success" || e.RunID != "run-1" {
		t.Errorf("entry = %+v", e)
	}
	if e.Params["device_id"] != "1" {
		t.Errorf("params[device_id] = %q, want 1", e.Params["device_id"])
	}
}

func TestAuditLogger_Concurrent(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEntry{Tool: "rig_snapshot", Status: "success"})
		}()
	}
	wg.Wait()

	if got := len(readAudit(t, dir)); got != 20 {
		t.Errorf("entries = %d, want 20", got)
	}
}

func TestSanitizeToolParams(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   map[string]string
	}{
		{
			name:   "nil",
			params: nil,
			want:   nil,
		},
		{
			name:   "safe values",
			params: map[string]any{"device_id": 2, "flow_rate": 12.5, "action": "trigger"},
			want:   map[string]string{"device_id": "2", "flow_rate": "12.5", "action": "trigger", "_param_count": "3"},
		},
		{
			name:   "acquisition values",
			params: map[string]any{"device_id": 5, "exposure_ms": 120, "magnification": "40x"},
			want:   map[string]string{"device_id": "5", "exposure_ms": "120", "magnification": "40x", "_param_count": "3"},
		},
		{
			name:   "content is presence only",
			params: map[string]any{"csv": "protein,concentration,affinity\nP1,1,2", "source": "a.csv"},
			want:   map[string]string{"csv": "(set)", "source": "(set)", "_param_count": "2"},
		},
		{
			name:   "empty presence params dropped",
			params: map[string]any{"path": "", "csv": "x"},
			want:   map[string]string{"csv": "(set)", "_param_count": "2"},
		},
		{
			name:   "unknown params dropped",
			params: map[string]any{"secret": "hunter2"},
			want:   map[string]string{"_param_count": "1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeToolParams(tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestAuditTool_HandlersNeverLogContent(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, dir)
	ctx := context.Background()

	if _, _, err := s.handleUpload(ctx, &sdk.CallToolRequest{}, UploadInput{Source: "secret.csv", CSV: testCSV}); err != nil {
		t.Fatalf("upload error = %v", err)
	}
	_, _, _ = s.handleDeviceStart(ctx, &sdk.CallToolRequest{}, DeviceInput{DeviceID: 77})

	entries := readAudit(t, dir)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	upload := entries[0]
	if upload.Tool != "affinity_upload" || upload.Status != "success" {
		t.Errorf("upload entry = %+v", upload)
	}
	if upload.Params["csv"] != "(set)" || upload.Params["source"] != "(set)" {
		t.Errorf("upload params = %v", upload.Params)
	}
	if upload.RunID != s.rig.RunID() {
		t.Errorf("run id = %q, want %q", upload.RunID, s.rig.RunID())
	}

	start := entries[1]
	if start.Status != "error" || !strings.Contains(start.Error, "77") || start.Params["device_id"] != "77" {
		t.Errorf("start entry = %+v", start)
	}

	raw, err := os.ReadFile(filepath.Join(dir, AuditFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "Antibody") || strings.Contains(string(raw), "secret.csv") {
		t.Error("audit log contains uploaded content")
	}
}

func TestAuditTool_FlattensErrorText(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, dir)

	s.auditTool("affinity_upload", time.Now(), errors.New("row 3:\n bad\tvalue\x00"), nil)

	entries := readAudit(t, dir)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if got := entries[0].Error; got != "row 3: bad value" {
		t.Errorf("error = %q, want %q", got, "row 3: bad value")
	}
}

func readAudit(t *testing.T, dir string) []AuditEntry {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, AuditFile))
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()

	var entries []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("parsing audit entry %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return entries
}
