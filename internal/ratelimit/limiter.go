// Package ratelimit provides per-key token bucket rate limiting for the
// MCP tools that drive the rig.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited is returned by CheckLimit when a tool's bucket is empty.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter implements a per-key token bucket rate limiter. Each key gets its
// own bucket with the configured rate and burst. It is safe for concurrent
// use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // bucket size and initial token count
	nowFunc func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.nowFunc = now }
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and
// burst size.
func NewLimiter(rate float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request for key may proceed, consuming a token
// if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens += l.rate * elapsed
		if b.tokens > float64(l.burst) {
			b.tokens = float64(l.burst)
		}
		b.lastCheck = now
	}

	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the default per-tool limiters. Read-only tools
// are generous; uploads are tighter. The emergency tool has no limiter and
// is never refused.
func NewToolLimiters(opts ...Option) ToolLimiters {
	return ToolLimiters{
		"rig_snapshot":       NewLimiter(2.0, 20, opts...),      // 120/minute, burst 20
		"rig_log":            NewLimiter(1.0, 10, opts...),      // 60/minute, burst 10
		"rig_device_start":   NewLimiter(1.0, 10, opts...),      // 60/minute, burst 10
		"rig_device_stop":    NewLimiter(1.0, 10, opts...),      // 60/minute, burst 10
		"rig_device_params":  NewLimiter(30.0/60.0, 5, opts...), // 30/minute, burst 5
		"rig_spectra_params": NewLimiter(30.0/60.0, 5, opts...), // 30/minute, burst 5
		"rig_camera_params":  NewLimiter(30.0/60.0, 5, opts...), // 30/minute, burst 5
		"rig_valve_toggle":   NewLimiter(1.0, 10, opts...),      // 60/minute, burst 10
		"rig_begin":          NewLimiter(10.0/60.0, 3, opts...), // 10/minute, burst 3
		"affinity_upload":    NewLimiter(10.0/60.0, 3, opts...), // 10/minute, burst 3
		"affinity_kd":        NewLimiter(10.0/60.0, 3, opts...), // 10/minute, burst 3
		"affinity_ranking":   NewLimiter(1.0, 10, opts...),      // 60/minute, burst 10
		"affinity_groups":    NewLimiter(30.0/60.0, 5, opts...), // 30/minute, burst 5
		"affinity_clear":     NewLimiter(5.0/60.0, 1, opts...),  // 5/minute, burst 1
	}
}

// CheckLimit checks the rate limit for a tool. Tools without a configured
// limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if !limiter.Allow(toolName) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrLimited, toolName)
	}
	return nil
}
