// Package types contains public API types for the load generator.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// DispatcherState is the lifecycle state of the transaction dispatcher.
type DispatcherState string

const (
	StateIdle      DispatcherState = "idle"
	StateRunning   DispatcherState = "running"
	StateStopped   DispatcherState = "stopped"   // test duration elapsed
	StateCancelled DispatcherState = "cancelled" // interrupted before the deadline
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`     // ms
	Max     float64         `json:"max"`     // ms
	Avg     float64         `json:"avg"`     // ms
	P50     float64         `json:"p50"`     // ms
	P90     float64         `json:"p90"`     // ms
	P95     float64         `json:"p95"`     // ms
	P99     float64         `json:"p99"`     // ms
	Buckets []LatencyBucket `json:"buckets"` // histogram
}

// TxRecord is one submission attempt as reported by the status API.
type TxRecord struct {
	Hash      string    `json:"hash,omitempty"` // empty when the node rejected the tx
	SentAt    time.Time `json:"sentAt"`
	LatencyMs float64   `json:"latencyMs"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// BlockInfo is the latest chain head observed by the block monitor.
type BlockInfo struct {
	Number           uint64    `json:"number"`
	BlockTimeSeconds float64   `json:"blockTimeSeconds,omitempty"` // 0 until two heights were seen
	ObservedAt       time.Time `json:"observedAt"`
}

// Status is the live view served on /v1/status and streamed over /v1/ws.
type Status struct {
	RunID     string          `json:"runId,omitempty"`
	State     DispatcherState `json:"state"`
	StartedAt *time.Time      `json:"startedAt,omitempty"`
	ElapsedMs int64           `json:"elapsedMs"`
	TargetTPS float64         `json:"targetTps"`
	Sender    string          `json:"sender,omitempty"`
	ChainID   string          `json:"chainId,omitempty"`

	// Cumulative counters
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
	RPCCalls  uint64 `json:"rpcCalls"`
	GasUsed   uint64 `json:"gasUsed"`

	// Rates from the last aggregation tick
	TPS           float64 `json:"tps"`
	RPS           float64 `json:"rps"`
	MgasPerSecond float64 `json:"mgasPerSecond"`
	FailureRate   float64 `json:"failureRate"`

	Block     *BlockInfo    `json:"block,omitempty"`
	Latency   *LatencyStats `json:"latency,omitempty"`
	RecentTxs []TxRecord    `json:"recentTxs,omitempty"`
}

// RateSample is one persisted aggregation tick.
type RateSample struct {
	TimestampMs   int64   `json:"timestampMs"` // milliseconds since run start
	Attempts      uint64  `json:"attempts"`
	TPS           float64 `json:"tps"`
	RPS           float64 `json:"rps"`
	MgasPerSecond float64 `json:"mgasPerSecond"`
	FailureRate   float64 `json:"failureRate"`
}

// BlockSample is one persisted block height change.
type BlockSample struct {
	TimestampMs      int64   `json:"timestampMs"` // milliseconds since run start
	Number           uint64  `json:"number"`
	BlockTimeSeconds float64 `json:"blockTimeSeconds"`
}

// RunSummary is a completed (or interrupted) run in the history.
type RunSummary struct {
	ID          string          `json:"id"`
	RPCURL      string          `json:"rpcUrl"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	TargetTPS   float64         `json:"targetTps"`
	DurationMs  int64           `json:"durationMs"`
	FinalState  DispatcherState `json:"finalState"`
	Attempts    uint64          `json:"attempts"`
	Successes   uint64          `json:"successes"`
	Failures    uint64          `json:"failures"`
	RPCCalls    uint64          `json:"rpcCalls"`
	GasUsed     uint64          `json:"gasUsed"`
	AverageTPS  float64         `json:"averageTps"`
	PeakTPS     float64         `json:"peakTps"`
	FailureRate float64         `json:"failureRate"`
	FirstBlock  uint64          `json:"firstBlock,omitempty"`
	LastBlock   uint64          `json:"lastBlock,omitempty"`
	Latency     *LatencyStats   `json:"latency,omitempty"`
}

// RunDetail combines a run with its persisted samples.
type RunDetail struct {
	Run          *RunSummary   `json:"run"`
	RateSamples  []RateSample  `json:"rateSamples"`
	BlockSamples []BlockSample `json:"blockSamples"`
}

// RunPage is a paginated list of runs, newest first.
type RunPage struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
