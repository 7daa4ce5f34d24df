// Package metrics holds the cumulative counters, the rate aggregator and
// the Prometheus sink of the load generator.
package metrics

import (
	"time"
)

// snapshotRetries bounds how often Snapshot re-reads the counters when a
// writer is caught between its outcome and attempt increments.
const snapshotRetries = 64

// Counters are the process-wide cumulative counters. They are written by
// the dispatcher (transaction outcomes) and the RPC client (calls) and read
// by the aggregator. Every field only grows.
type Counters struct {
	attempts  UCounter
	successes UCounter
	failures  UCounter
	rpcCalls  UCounter
	gasUsed   UCounter
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordTx records one transaction attempt. The outcome counter is bumped
// before attempts, so a reader that loads attempts first never sees more
// attempts than outcomes.
func (c *Counters) RecordTx(success bool, gas uint64) {
	if success {
		c.successes.Inc()
		c.gasUsed.Add(gas)
	} else {
		c.failures.Inc()
	}
	c.attempts.Inc()
}

// RecordRPC counts one RPC call regardless of its outcome.
func (c *Counters) RecordRPC() {
	c.rpcCalls.Inc()
}

// Attempts returns the cumulative attempt count.
func (c *Counters) Attempts() uint64 { return c.attempts.Load() }

// Successes returns the cumulative success count.
func (c *Counters) Successes() uint64 { return c.successes.Load() }

// Failures returns the cumulative failure count.
func (c *Counters) Failures() uint64 { return c.failures.Load() }

// RPCCalls returns the cumulative RPC call count.
func (c *Counters) RPCCalls() uint64 { return c.rpcCalls.Load() }

// GasUsed returns the cumulative gas attributed to successful sends.
func (c *Counters) GasUsed() uint64 { return c.gasUsed.Load() }

// Snapshot takes a consistent reading: attempts == successes + failures.
// If a writer is mid-update the read is retried; after snapshotRetries
// the last reading is returned with attempts clamped to the outcomes.
func (c *Counters) Snapshot(now time.Time) Snapshot {
	var s Snapshot
	for i := 0; i < snapshotRetries; i++ {
		before := c.attempts.Load()
		s = Snapshot{
			Successes: c.successes.Load(),
			Failures:  c.failures.Load(),
			RPCCalls:  c.rpcCalls.Load(),
			GasUsed:   c.gasUsed.Load(),
			Timestamp: now,
		}
		after := c.attempts.Load()
		if before == after && s.Successes+s.Failures == before {
			s.Attempts = before
			return s
		}
	}
	s.Attempts = s.Successes + s.Failures
	return s
}

// Snapshot is a frozen counter reading used as the baseline for the next
// rate computation.
type Snapshot struct {
	Attempts  uint64    `json:"attempts"`
	Successes uint64    `json:"successes"`
	Failures  uint64    `json:"failures"`
	RPCCalls  uint64    `json:"rpcCalls"`
	GasUsed   uint64    `json:"gasUsed"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureRate returns failures/attempts over the cumulative totals, or 0
// when nothing has been attempted yet.
func (s Snapshot) FailureRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Attempts)
}
