package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvandessel/fluidrig/internal/sanitize"
)

// AuditFile is the audit log name inside the audit directory.
const AuditFile = "audit.jsonl"

// AuditEntry is one MCP tool invocation. It carries metadata only, never
// uploaded file content.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	RunID      string            `json:"run_id"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// AuditLogger appends audit entries to a JSONL file. It is safe for
// concurrent use. A nil AuditLogger is safe to use; all methods are no-ops
// on a nil receiver.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLogger opens dir/audit.jsonl for appending. An empty dir, or a
// file that cannot be opened, yields nil; the latter prints a warning.
func NewAuditLogger(dir string) *AuditLogger {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory %s: %v\n", dir, err)
		return nil
	}
	path := filepath.Join(dir, AuditFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log %s: %v\n", path, err)
		return nil
	}
	return &AuditLogger{file: f}
}

// Log appends one entry. Safe to call on a nil receiver.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	_, _ = a.file.Write(data)
}

// Close closes the file. Safe to call on a nil receiver and more than once.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// sanitizeToolParams extracts loggable metadata from tool parameters.
//
// Parameters are classified into three categories:
//   - Safe-value params: key and value are logged (ids, rates, actions)
//   - Presence-only params: key is logged, value replaced with "(set)"
//   - Unknown params: not logged at all
//
// A "_param_count" key is always included.
func sanitizeToolParams(params map[string]any) map[string]string {
	if params == nil {
		return nil
	}

	safeValueParams := map[string]bool{
		"device_id": true,
		"valve_id":  true,
		"flow_rate": true,
		"duration":  true,
		"action":    true,
		"n":         true,
		"confirm":   true,

		"start_nm":      true,
		"end_nm":        true,
		"mode":          true,
		"interval":      true,
		"exposure_ms":   true,
		"magnification": true,
	}
	presenceOnlyParams := map[string]bool{
		"csv":    true,
		"path":   true,
		"source": true,
	}

	result := make(map[string]string)
	for key, val := range params {
		switch {
		case safeValueParams[key]:
			result[key] = fmt.Sprintf("%v", val)
		case presenceOnlyParams[key]:
			if s, ok := val.(string); ok && s == "" {
				continue
			}
			result[key] = "(set)"
		}
	}
	result["_param_count"] = fmt.Sprintf("%d", len(params))
	return result
}

// auditTool logs a tool invocation to the audit file and the debug log.
func (s *Server) auditTool(toolName string, start time.Time, err error, params map[string]string) {
	status := "success"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = sanitize.Text(err.Error())
	}
	took := time.Since(start)

	s.logger.Debug("mcp tool", "tool", toolName, "status", status, "took", took, "error", errMsg)
	s.auditLogger.Log(AuditEntry{
		Timestamp:  start,
		Tool:       toolName,
		RunID:      s.rig.RunID(),
		DurationMs: took.Milliseconds(),
		Status:     status,
		Error:      errMsg,
		Params:     params,
	})
}
