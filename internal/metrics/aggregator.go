package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAggregationInterval is the fixed aggregation tick.
const DefaultAggregationInterval = time.Second

// Rates are the instantaneous rates derived from two snapshots.
type Rates struct {
	TPS           float64       `json:"tps"`
	RPS           float64       `json:"rps"`
	MgasPerSecond float64       `json:"mgasPerSecond"`
	FailureRate   float64       `json:"failureRate"`
	Elapsed       time.Duration `json:"elapsedNs"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ComputeRates differences cur against prev. ok is false when no time has
// elapsed, in which case nothing should be published.
func ComputeRates(prev, cur Snapshot) (Rates, bool) {
	elapsed := cur.Timestamp.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return Rates{}, false
	}
	secs := elapsed.Seconds()

	return Rates{
		TPS:           float64(cur.Attempts-prev.Attempts) / secs,
		RPS:           float64(cur.RPCCalls-prev.RPCCalls) / secs,
		MgasPerSecond: (float64(cur.GasUsed-prev.GasUsed) / 1e6) / secs,
		FailureRate:   cur.FailureRate(),
		Elapsed:       elapsed,
		Timestamp:     cur.Timestamp,
	}, true
}

// RateSink receives the published rate gauges.
type RateSink interface {
	SetRates(r Rates)
}

// TickListener observes every published tick together with the snapshot
// it was computed from. Listeners run on the aggregator goroutine.
type TickListener func(r Rates, s Snapshot)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	Counters *Counters
	Sink     RateSink
	Interval time.Duration
	Logger   *slog.Logger
}

// Aggregator turns the cumulative counters into rate gauges on a fixed
// tick. It only reads in-memory counters and never blocks on RPC.
type Aggregator struct {
	counters *Counters
	sink     RateSink
	interval time.Duration
	logger   *slog.Logger

	// prev is owned by the goroutine calling Tick.
	prev Snapshot

	latest atomic.Pointer[Rates]

	listenersMu sync.RWMutex
	listeners   []TickListener
}

// NewAggregator creates an aggregator whose first baseline is taken now.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultAggregationInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		counters: cfg.Counters,
		sink:     cfg.Sink,
		interval: interval,
		logger:   logger,
		prev:     cfg.Counters.Snapshot(time.Now()),
	}
}

// OnTick registers a listener.
func (a *Aggregator) OnTick(l TickListener) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Tick computes and publishes rates against the previous snapshot, then
// replaces the snapshot with the current reading.
func (a *Aggregator) Tick(now time.Time) (Rates, bool) {
	cur := a.counters.Snapshot(now)
	rates, ok := ComputeRates(a.prev, cur)
	if !ok {
		return Rates{}, false
	}
	a.prev = cur

	if a.sink != nil {
		a.sink.SetRates(rates)
	}
	a.latest.Store(&rates)

	a.listenersMu.RLock()
	for _, l := range a.listeners {
		l(rates, cur)
	}
	a.listenersMu.RUnlock()

	return rates, true
}

// Latest returns the most recently published rates.
func (a *Aggregator) Latest() (Rates, bool) {
	r := a.latest.Load()
	if r == nil {
		return Rates{}, false
	}
	return *r, true
}

// Run ticks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("metrics aggregator started", slog.Duration("interval", a.interval))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("metrics aggregator stopped")
			return
		case now := <-ticker.C:
			if r, ok := a.Tick(now); ok {
				a.logger.Debug("rates updated",
					slog.Float64("tps", r.TPS),
					slog.Float64("rps", r.RPS),
					slog.Float64("mgasPerSecond", r.MgasPerSecond),
					slog.Float64("failureRate", r.FailureRate),
				)
			}
		}
	}
}
