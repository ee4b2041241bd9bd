// Package eventlog provides the operator-facing event log: a bounded,
// append-only record of rig state transitions rendered as
// "[HH:MM:SS] message" lines.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/nvandessel/fluidrig/internal/constants"
)

// Entry is a single log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String formats the entry as "[HH:MM:SS] message".
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format(constants.LogTimeLayout), e.Message)
}

// Log is a fixed-capacity ring buffer of entries. When full, the oldest
// entry is evicted. It is safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	start    int // index of the oldest entry
	size     int
	nowFunc  func() time.Time // injectable clock for testing
	onAppend func(Entry)
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.nowFunc = now }
}

// WithObserver registers a callback invoked after every append, outside the
// log's lock.
func WithObserver(fn func(Entry)) Option {
	return func(l *Log) { l.onAppend = fn }
}

// New creates a log holding at most capacity entries. A non-positive
// capacity falls back to constants.LogCapacity.
func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = constants.LogCapacity
	}
	l := &Log{
		entries: make([]Entry, capacity),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add appends a message stamped with the current time.
func (l *Log) Add(message string) Entry {
	return l.AddAt(l.nowFunc(), message)
}

// Addf appends a formatted message stamped with the current time.
func (l *Log) Addf(format string, args ...any) Entry {
	return l.Add(fmt.Sprintf(format, args...))
}

// AddAt appends a message with an explicit timestamp.
func (l *Log) AddAt(t time.Time, message string) Entry {
	e := Entry{Time: t, Message: message}

	l.mu.Lock()
	capacity := len(l.entries)
	if l.size < capacity {
		l.entries[(l.start+l.size)%capacity] = e
		l.size++
	} else {
		// Full: overwrite the oldest and advance the start.
		l.entries[l.start] = e
		l.start = (l.start + 1) % capacity
	}
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(e)
	}
	return e
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Cap returns the maximum number of retained entries.
func (l *Log) Cap() int {
	return len(l.entries)
}

// Tail returns up to n entries, newest first. A non-positive n returns
// every retained entry.
func (l *Log) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, 0, n)
	capacity := len(l.entries)
	for i := 0; i < n; i++ {
		idx := (l.start + l.size - 1 - i) % capacity
		out = append(out, l.entries[idx])
	}
	return out
}

// Lines returns Tail(n) formatted as display lines.
func (l *Log) Lines(n int) []string {
	entries := l.Tail(n)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}
