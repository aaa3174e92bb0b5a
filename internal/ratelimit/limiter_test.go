package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func fixedClock(l *Limiter) *time.Time {
	now := time.Unix(1_700_000_000, 0)
	l.nowFunc = func() time.Time { return now }
	return &now
}

func TestAllow_Burst(t *testing.T) {
	l := NewLimiter(1.0, 3)
	fixedClock(l)

	for i := range 3 {
		if !l.Allow("sweep-1") {
			t.Errorf("request %d should be allowed within burst", i+1)
		}
	}
	if l.Allow("sweep-1") {
		t.Error("request after burst should be rejected")
	}
}

func TestAllow_Refill(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		burst   int
		use     int
		advance time.Duration
		allowed int
	}{
		{"refills after wait", 10, 2, 2, 200 * time.Millisecond, 2},
		{"capped at burst", 100, 3, 3, 10 * time.Second, 3},
		{"partial refill", 2, 5, 5, 250 * time.Millisecond, 0},
		{"zero rate never refills", 0, 2, 2, time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.rate, tt.burst)
			now := fixedClock(l)
			for range tt.use {
				l.Allow("k")
			}
			*now = now.Add(tt.advance)

			got := 0
			for range tt.burst + 1 {
				if l.Allow("k") {
					got++
				}
			}
			if got != tt.allowed {
				t.Errorf("allowed %d after refill, want %d", got, tt.allowed)
			}
		})
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := NewLimiter(1.0, 1)
	fixedClock(l)

	l.Allow("a")
	if l.Allow("a") {
		t.Error("a should be exhausted")
	}
	if !l.Allow("b") {
		t.Error("b has its own bucket")
	}
}

func TestForget(t *testing.T) {
	l := NewLimiter(0, 1)
	fixedClock(l)

	l.Allow("done")
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	l.Forget("done")
	if l.Len() != 0 {
		t.Errorf("Len() after Forget = %d, want 0", l.Len())
	}
	if !l.Allow("done") {
		t.Error("forgotten key should start with a full bucket")
	}
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(0, 100)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("k")
		}()
	}
	wg.Wait()
	close(allowed)

	n := 0
	for a := range allowed {
		if a {
			n++
		}
	}
	if n != 100 {
		t.Errorf("allowed %d requests, want exactly the burst of 100", n)
	}
}

func TestNewToolLimiters(t *testing.T) {
	limiters := NewToolLimiters()
	tests := []struct {
		tool  string
		burst int
	}{
		{"sweep_request", 2},
		{"sweep_cancel", 5},
		{"sweep_status", 20},
		{"result_get", 20},
		{"filter_set", 10},
		{"history_list", 5},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			l, ok := limiters[tt.tool]
			if !ok {
				t.Fatalf("missing limiter for %s", tt.tool)
			}
			if l.burst != tt.burst {
				t.Errorf("burst = %d, want %d", l.burst, tt.burst)
			}
		})
	}
}

func TestCheckLimit(t *testing.T) {
	limiters := NewToolLimiters()

	if err := CheckLimit(limiters, "unknown_tool"); err != nil {
		t.Errorf("unknown tool should pass: %v", err)
	}
	if err := CheckLimit(limiters, "sweep_request"); err != nil {
		t.Errorf("first sweep_request: %v", err)
	}
	CheckLimit(limiters, "sweep_request")
	if err := CheckLimit(limiters, "sweep_request"); err == nil {
		t.Error("expected rate limit error after burst exhaustion")
	}
}
