package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestLatencyReservoir_Basic(t *testing.T) {
	r := NewLatencyReservoir(0)

	for i := 0; i < 100; i++ {
		r.Observe(time.Duration(i) * time.Millisecond)
	}

	stats := r.Stats()
	if stats == nil {
		t.Fatal("expected non-nil stats")
	}
	if stats.Count != 100 {
		t.Errorf("expected count 100, got %d", stats.Count)
	}
	if stats.Min != 0 {
		t.Errorf("expected min 0, got %f", stats.Min)
	}
	if stats.Max != 99 {
		t.Errorf("expected max 99, got %f", stats.Max)
	}
	if math.Abs(stats.Avg-49.5) > 0.1 {
		t.Errorf("expected avg ~49.5, got %f", stats.Avg)
	}
	if math.Abs(stats.P50-49.5) > 0.01 {
		t.Errorf("expected p50 49.5, got %f", stats.P50)
	}
	if stats.P99 < stats.P95 || stats.P95 < stats.P90 || stats.P90 < stats.P50 {
		t.Errorf("percentiles not monotonic: %+v", stats)
	}
}

func TestLatencyReservoir_Empty(t *testing.T) {
	if stats := NewLatencyReservoir(10).Stats(); stats != nil {
		t.Error("expected nil stats for empty reservoir")
	}
}

func TestLatencyReservoir_Buckets(t *testing.T) {
	r := NewLatencyReservoir(10)

	for i := 0; i < 10; i++ {
		r.Observe(20 * time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		r.Observe(75 * time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		r.Observe(2 * time.Second)
	}

	stats := r.Stats()
	if len(stats.Buckets) != 5 {
		t.Fatalf("expected 5 buckets, got %d", len(stats.Buckets))
	}
	want := []int{10, 5, 0, 0, 3}
	for i, w := range want {
		if stats.Buckets[i].Count != w {
			t.Errorf("bucket %s count = %d, want %d", stats.Buckets[i].Label, stats.Buckets[i].Count, w)
		}
	}
	// more samples than the reservoir holds: count still exact
	if stats.Count != 18 {
		t.Errorf("expected count 18, got %d", stats.Count)
	}
}

func TestLatencyReservoir_Concurrent(t *testing.T) {
	r := NewLatencyReservoir(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Observe(time.Duration(id*100+j%100) * time.Microsecond)
			}
		}(i)
	}
	wg.Wait()

	if got := r.Count(); got != 10000 {
		t.Errorf("expected count 10000, got %d", got)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{7}, 0.99, 7},
		{"median of two", []float64{1, 3}, 0.5, 2},
		{"top", []float64{1, 2, 3}, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.sorted, tt.p); got != tt.want {
				t.Errorf("percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func BenchmarkLatencyReservoir_Observe(b *testing.B) {
	r := NewLatencyReservoir(0)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		r.Observe(time.Duration(i%1000) * time.Millisecond)
	}
}
