package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterNewInterval(t *testing.T) {
	tests := []struct {
		rate float64
		want time.Duration
	}{
		{100, 10 * time.Millisecond},
		{0.5, 2 * time.Second},
		{0, time.Second}, // non-positive falls back to 1/s
		{-5, time.Second},
	}

	for _, tt := range tests {
		if got := New(tt.rate).interval; got != tt.want {
			t.Errorf("New(%v) interval = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestLimiterReserveSchedule(t *testing.T) {
	l := New(10) // 100ms
	t0 := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"first permit is immediate", t0, t0},
		{"early caller waits a full interval", t0.Add(10 * time.Millisecond), t0.Add(100 * time.Millisecond)},
		{"on-time caller", t0.Add(200 * time.Millisecond), t0.Add(200 * time.Millisecond)},
		// caller was busy for 750ms: permit now, no catch-up burst
		{"overrun restarts schedule", t0.Add(950 * time.Millisecond), t0.Add(950 * time.Millisecond)},
		{"next permit measured from overrun", t0.Add(960 * time.Millisecond), t0.Add(1050 * time.Millisecond)},
	}

	for _, tt := range tests {
		if got := l.reserve(tt.now); !got.Equal(tt.want) {
			t.Errorf("%s: permit at %v, want %v", tt.name, got.Sub(t0), tt.want.Sub(t0))
		}
	}
}

func TestLimiterRelease(t *testing.T) {
	l := New(10)
	t0 := time.Unix(1_700_000_000, 0)

	l.reserve(t0)
	p := l.reserve(t0)
	l.release(p)

	if got := l.reserve(t0); !got.Equal(p) {
		t.Errorf("released permit not reissued: got %v, want %v", got, p)
	}

	// a release after a later reservation is ignored
	stale := l.reserve(t0)
	l.reserve(t0)
	l.release(stale)
	if got := l.reserve(t0); got.Equal(stale) {
		t.Error("stale release rewound the schedule")
	}
}

func TestLimiterWaitImmediate(t *testing.T) {
	l := New(1)

	start := time.Now()
	err := l.Wait(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed > 10*time.Millisecond {
		t.Errorf("expected near-instant first wait, got %v", elapsed)
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	l := New(1)

	ctx, cancel := context.WithCancel(context.Background())

	_ = l.Wait(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}

	// already cancelled context fails without reserving
	if err := l.Wait(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestLimiterCancelledWaitReturnsPermit(t *testing.T) {
	l := New(100) // 10ms interval

	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_ = l.Wait(ctx)
		cancel()
	}

	start := time.Now()
	for i := 0; i < 9; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	if elapsed > 150*time.Millisecond {
		t.Errorf("cancelled Waits leaked permit slots: 9 permits took %v (expected ~90ms)", elapsed)
	}
}

func TestLimiterSmoothness(t *testing.T) {
	rate := 100.0 // 10ms per permit
	l := New(rate)
	ctx := context.Background()

	n := 10
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// first permit is immediate, subsequent ones spaced by interval
	expected := time.Duration(float64(time.Second) * float64(n-1) / rate)
	minExpected := time.Duration(float64(expected) * 0.8)
	maxExpected := time.Duration(float64(expected) * 1.5)

	if elapsed < minExpected || elapsed > maxExpected {
		t.Errorf("expected elapsed time ~%v (range %v-%v), got %v",
			expected, minExpected, maxExpected, elapsed)
	}
}

func TestLimiterNoBurstAfterStall(t *testing.T) {
	l := New(100) // 10ms
	ctx := context.Background()

	_ = l.Wait(ctx)
	time.Sleep(100 * time.Millisecond) // ten intervals missed

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	// first is immediate, the remaining four are paced: ~40ms, not ~0
	if elapsed < 30*time.Millisecond {
		t.Errorf("limiter burst after stall: 5 permits in %v", elapsed)
	}
}
