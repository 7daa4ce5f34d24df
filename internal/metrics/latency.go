package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

// DefaultReservoirSize is the number of samples kept for percentile estimation.
const DefaultReservoirSize = 4096

// submission latency bucket upper bounds in milliseconds
var latencyBucketBounds = []float64{50, 100, 250, 1000}

var latencyBucketLabels = []string{"0-50ms", "50-100ms", "100-250ms", "250ms-1s", "1s+"}

// LatencyReservoir keeps running latency statistics and a fixed-size
// uniform sample (Vitter's Algorithm R) for percentile estimation.
// Safe for concurrent use.
type LatencyReservoir struct {
	mu sync.Mutex

	count int64
	sum   float64
	min   float64
	max   float64

	samples []float64
	size    int
	buckets []int64

	// xorshift64* state, per instance
	rnd uint64
}

// NewLatencyReservoir creates a reservoir holding at most size samples.
func NewLatencyReservoir(size int) *LatencyReservoir {
	if size <= 0 {
		size = DefaultReservoirSize
	}
	return &LatencyReservoir{
		min:     math.MaxFloat64,
		samples: make([]float64, 0, size),
		size:    size,
		buckets: make([]int64, len(latencyBucketLabels)),
		rnd:     0x9E3779B97F4A7C15,
	}
}

// Observe records one latency sample.
func (r *LatencyReservoir) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	r.sum += ms
	r.min = math.Min(r.min, ms)
	r.max = math.Max(r.max, ms)
	r.buckets[bucketIndex(ms)]++

	if len(r.samples) < r.size {
		r.samples = append(r.samples, ms)
		return
	}
	if j := r.next() % uint64(r.count); j < uint64(r.size) {
		r.samples[j] = ms
	}
}

func bucketIndex(ms float64) int {
	for i, bound := range latencyBucketBounds {
		if ms < bound {
			return i
		}
	}
	return len(latencyBucketBounds)
}

func (r *LatencyReservoir) next() uint64 {
	r.rnd ^= r.rnd >> 12
	r.rnd ^= r.rnd << 25
	r.rnd ^= r.rnd >> 27
	return r.rnd * 0x2545F4914F6CDD1D
}

// Stats returns the current statistics in milliseconds, or nil when no
// sample has been observed.
func (r *LatencyReservoir) Stats() *types.LatencyStats {
	r.mu.Lock()
	if r.count == 0 {
		r.mu.Unlock()
		return nil
	}
	sorted := append([]float64(nil), r.samples...)
	stats := &types.LatencyStats{
		Count:   int(r.count),
		Min:     r.min,
		Max:     r.max,
		Avg:     r.sum / float64(r.count),
		Buckets: make([]types.LatencyBucket, len(r.buckets)),
	}
	for i, c := range r.buckets {
		stats.Buckets[i] = types.LatencyBucket{Label: latencyBucketLabels[i], Count: int(c)}
	}
	r.mu.Unlock()

	sort.Float64s(sorted)
	stats.P50 = percentile(sorted, 0.50)
	stats.P90 = percentile(sorted, 0.90)
	stats.P95 = percentile(sorted, 0.95)
	stats.P99 = percentile(sorted, 0.99)
	return stats
}

// Count returns the number of samples observed.
func (r *LatencyReservoir) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
