// Package logging provides leveled logging and transition tracing for
// fluidrig. It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A TraceLogger for JSONL state transition traces (transitions.jsonl)
//
// The operator-facing event log lives in package eventlog and is separate.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug. At this level every tick
// is traced, not only ticks that change state.
const LevelTrace = slog.LevelDebug - 4

// TraceFile is the name of the transition trace file inside the trace
// directory.
const TraceFile = "transitions.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "error", "warn", "info", "debug", "trace"
// (case-insensitive). Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w. format selects the
// handler: "json" or anything else for text.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Transition is one traced state change of the rig.
type Transition struct {
	RunID    string         `json:"run_id,omitempty"`
	Kind     string         `json:"kind"`
	DeviceID int            `json:"device_id,omitempty"`
	Phase    int            `json:"phase,omitempty"`
	Progress int            `json:"progress"`
	Detail   string         `json:"detail,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
	At       time.Time      `json:"at"`
}

// TraceLogger appends transitions to a JSONL file. It is safe for
// concurrent use. A nil TraceLogger is safe to use; all methods are no-ops
// on a nil receiver.
type TraceLogger struct {
	mu      sync.Mutex
	file    *os.File
	verbose bool
}

// NewTraceLogger creates a trace logger writing to dir/transitions.jsonl.
// At info level and above it returns nil and no file is created. At debug
// level state changes are traced; at trace level Verbose also reports true
// so callers trace every tick. Returns nil if the file cannot be opened.
func NewTraceLogger(dir, level string) *TraceLogger {
	lvl := ParseLevel(level)
	if lvl >= slog.LevelInfo || dir == "" {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, TraceFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &TraceLogger{file: f, verbose: lvl <= LevelTrace}
}

// Verbose reports whether no-op ticks should be traced too.
func (tl *TraceLogger) Verbose() bool {
	return tl != nil && tl.verbose
}

// Record writes one transition as a single JSONL line. A zero At is
// replaced with the current time. Safe to call on a nil receiver.
func (tl *TraceLogger) Record(tr Transition) {
	if tl == nil {
		return
	}
	if tr.At.IsZero() {
		tr.At = time.Now()
	}
	tr.At = tr.At.UTC()

	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	data = append(data, '\n')

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	_, _ = tl.file.Write(data)
}

// Close closes the underlying file. Safe to call on a nil receiver.
func (tl *TraceLogger) Close() {
	if tl == nil {
		return
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.file != nil {
		tl.file.Close()
		tl.file = nil
	}
}
