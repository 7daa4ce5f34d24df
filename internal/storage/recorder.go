package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

// DefaultMaxSamples caps each in-memory sample buffer. At one rate sample
// per second this holds a little over a week.
const DefaultMaxSamples = 1 << 20

// RunRecorder buffers a run's samples in memory while it executes and
// writes them in bulk when the run finishes.
type RunRecorder struct {
	store      Storage
	logger     *slog.Logger
	maxSamples int

	mu         sync.Mutex
	run        types.RunSummary
	rates      []types.RateSample
	blocks     []types.BlockSample
	dropped    int
	peakTPS    float64
	seenBlock  bool
	firstBlock uint64
	lastBlock  uint64
	finished   bool
}

// StartRun persists the run record and returns a recorder for it.
func StartRun(ctx context.Context, store Storage, run types.RunSummary, logger *slog.Logger) (*RunRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%d", run.StartedAt.UnixNano())
	}
	run.FinalState = types.StateRunning

	if err := store.CreateRun(ctx, &run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	return &RunRecorder{
		store:      store,
		logger:     logger,
		maxSamples: DefaultMaxSamples,
		run:        run,
	}, nil
}

// ID returns the run id.
func (r *RunRecorder) ID() string {
	return r.run.ID
}

func (r *RunRecorder) offsetMs(at time.Time) int64 {
	return at.Sub(r.run.StartedAt).Milliseconds()
}

// RecordRate buffers one aggregation tick taken at the given time.
func (r *RunRecorder) RecordRate(at time.Time, sample types.RateSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sample.TPS > r.peakTPS {
		r.peakTPS = sample.TPS
	}
	if len(r.rates) >= r.maxSamples {
		r.dropped++
		return
	}
	sample.TimestampMs = r.offsetMs(at)
	r.rates = append(r.rates, sample)
}

// RecordBlock buffers one observed block height change.
func (r *RunRecorder) RecordBlock(number uint64, blockTime time.Duration, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seenBlock {
		r.seenBlock = true
		r.firstBlock = number
	}
	r.lastBlock = number
	if len(r.blocks) >= r.maxSamples {
		r.dropped++
		return
	}
	r.blocks = append(r.blocks, types.BlockSample{
		TimestampMs:      r.offsetMs(at),
		Number:           number,
		BlockTimeSeconds: blockTime.Seconds(),
	})
}

// Finish writes the buffered samples and the final counters. final carries
// the counters; identity and block range come from the recorder. Finish
// is a no-op after the first call.
func (r *RunRecorder) Finish(ctx context.Context, final types.RunSummary) error {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return nil
	}
	r.finished = true

	final.ID = r.run.ID
	final.RPCURL = r.run.RPCURL
	final.StartedAt = r.run.StartedAt
	final.TargetTPS = r.run.TargetTPS
	final.DurationMs = r.run.DurationMs
	final.PeakTPS = r.peakTPS
	final.FirstBlock = r.firstBlock
	final.LastBlock = r.lastBlock
	if final.CompletedAt == nil {
		now := time.Now()
		final.CompletedAt = &now
	}
	rates, blocks, dropped := r.rates, r.blocks, r.dropped
	r.rates, r.blocks = nil, nil
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn("run history buffer was full, samples dropped",
			slog.String("runID", final.ID),
			slog.Int("dropped", dropped))
	}

	start := time.Now()
	if err := r.store.BulkInsertRateSamples(ctx, final.ID, rates); err != nil {
		return fmt.Errorf("insert rate samples: %w", err)
	}
	if err := r.store.BulkInsertBlockSamples(ctx, final.ID, blocks); err != nil {
		return fmt.Errorf("insert block samples: %w", err)
	}
	if err := r.store.CompleteRun(ctx, &final); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}

	r.logger.Info("run history saved",
		slog.String("runID", final.ID),
		slog.Int("rateSamples", len(rates)),
		slog.Int("blockSamples", len(blocks)),
		slog.Duration("took", time.Since(start)))
	return nil
}
