package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5)
	if l == nil {
		t.Fatal("NewLimiter returned nil")
	}
	if l.rate != 10.0 {
		t.Errorf("rate = %f, want 10.0", l.rate)
	}
	if l.burst != 5 {
		t.Errorf("burst = %d, want 5", l.burst)
	}
}

func TestAllow_WithinBurst(t *testing.T) {
	l := NewLimiter(1.0, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("key1") {
			t.Errorf("request %d should be allowed (within burst)", i+1)
		}
	}
}

func TestAllow_ExceedsBurst(t *testing.T) {
	l := NewLimiter(1.0, 2)
	l.Allow("key1")
	l.Allow("key1")
	if l.Allow("key1") {
		t.Error("request after burst should be rejected")
	}
}

func TestAllow_RefillAfterWait(t *testing.T) {
	now := time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(2.0, 2, WithClock(func() time.Time { return now }))

	l.Allow("key1")
	l.Allow("key1")
	if l.Allow("key1") {
		t.Fatal("bucket should be empty")
	}

	now = now.Add(500 * time.Millisecond)
	if !l.Allow("key1") {
		t.Error("one token should have refilled after 0.5s at 2/s")
	}
	if l.Allow("key1") {
		t.Error("only one token should have refilled")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := NewLimiter(1.0, 1)
	if !l.Allow("a") {
		t.Error("first request for a should be allowed")
	}
	if !l.Allow("b") {
		t.Error("first request for b should be allowed")
	}
	if l.Allow("a") {
		t.Error("second request for a should be rejected")
	}
}

func TestAllow_BurstDoesNotExceedMax(t *testing.T) {
	now := time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(10.0, 3, WithClock(func() time.Time { return now }))

	l.Allow("key1")
	now = now.Add(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("key1") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d after long idle, want burst 3", allowed)
	}
}

func TestAllow_ZeroRate(t *testing.T) {
	now := time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(0, 1, WithClock(func() time.Time { return now }))

	if !l.Allow("key1") {
		t.Error("initial token should be allowed")
	}
	now = now.Add(time.Hour)
	if l.Allow("key1") {
		t.Error("zero rate should never refill")
	}
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(0, 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestToolRateLimits(t *testing.T) {
	tests := []struct {
		tool  string
		burst int
	}{
		{"rig_snapshot", 20},
		{"rig_device_start", 10},
		{"rig_device_params", 5},
		{"rig_spectra_params", 5},
		{"rig_camera_params", 5},
		{"rig_begin", 3},
		{"affinity_upload", 3},
		{"affinity_kd", 3},
		{"affinity_clear", 1},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			now := time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC)
			limiters := NewToolLimiters(WithClock(func() time.Time { return now }))
			for i := 0; i < tt.burst; i++ {
				if err := CheckLimit(limiters, tt.tool); err != nil {
					t.Fatalf("call %d rejected: %v", i+1, err)
				}
			}
			err := CheckLimit(limiters, tt.tool)
			if !errors.Is(err, ErrLimited) {
				t.Errorf("call %d error = %v, want ErrLimited", tt.burst+1, err)
			}
		})
	}
}

func TestCheckLimit_EmergencyNeverLimited(t *testing.T) {
	limiters := NewToolLimiters()
	for i := 0; i < 1000; i++ {
		if err := CheckLimit(limiters, "rig_emergency"); err != nil {
			t.Fatalf("emergency call %d limited: %v", i+1, err)
		}
	}
}
