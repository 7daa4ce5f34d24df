// Package monitor polls the chain head and publishes block height and
// inter-block time.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

const (
	DefaultPollInterval = time.Second
	DefaultBackoff      = 5 * time.Second
)

// BlockSource reads the current block number.
type BlockSource interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// BlockSink receives block gauges.
type BlockSink interface {
	SetBlockNumber(n uint64)
	SetBlockTime(seconds float64)
}

// BlockListener is called on every observed height change. blockTime is 0
// for the first observation.
type BlockListener func(number uint64, blockTime time.Duration, at time.Time)

// BlockState is the last observed height and when it was observed.
type BlockState struct {
	Number     uint64
	ObservedAt time.Time
	BlockTime  time.Duration
	seen       bool
}

// Config configures a BlockMonitor.
type Config struct {
	Client       BlockSource
	Sink         BlockSink
	PollInterval time.Duration
	Backoff      time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// BlockMonitor polls eth_blockNumber. It is not bound to the dispatcher's
// duration and runs until its context is cancelled.
type BlockMonitor struct {
	client   BlockSource
	sink     BlockSink
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	state     BlockState
	listeners []BlockListener
}

// New creates a block monitor.
func New(cfg Config) *BlockMonitor {
	m := &BlockMonitor{
		client:   cfg.Client,
		sink:     cfg.Sink,
		interval: cfg.PollInterval,
		backoff:  cfg.Backoff,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	if m.backoff <= 0 {
		m.backoff = DefaultBackoff
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// OnBlock registers a listener for height changes.
func (m *BlockMonitor) OnBlock(l BlockListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// State returns a copy of the current block state.
func (m *BlockMonitor) State() (BlockState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.state.seen
}

// Latest returns the last observed head for the status API, or nil.
func (m *BlockMonitor) Latest() *types.BlockInfo {
	s, ok := m.State()
	if !ok {
		return nil
	}
	return &types.BlockInfo{
		Number:           s.Number,
		BlockTimeSeconds: s.BlockTime.Seconds(),
		ObservedAt:       s.ObservedAt,
	}
}

// Observe applies one polled height taken at now. It reports whether the
// height changed. The first observed height is only a baseline: it is
// published as the block number but yields no block time.
func (m *BlockMonitor) Observe(number uint64, now time.Time) bool {
	m.mu.Lock()
	if m.state.seen && m.state.Number == number {
		m.mu.Unlock()
		return false
	}

	var blockTime time.Duration
	first := !m.state.seen
	if !first {
		blockTime = now.Sub(m.state.ObservedAt)
	}
	m.state = BlockState{Number: number, ObservedAt: now, BlockTime: blockTime, seen: true}
	listeners := append([]BlockListener(nil), m.listeners...)
	m.mu.Unlock()

	if m.sink != nil {
		if !first {
			m.sink.SetBlockTime(blockTime.Seconds())
		}
		m.sink.SetBlockNumber(number)
	}
	for _, l := range listeners {
		l(number, blockTime, now)
	}

	m.logger.Debug("new block",
		slog.Uint64("number", number),
		slog.Duration("blockTime", blockTime),
	)
	return true
}

// Poll fetches the current height once and applies it.
func (m *BlockMonitor) Poll(ctx context.Context) (bool, error) {
	n, err := m.client.GetBlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return m.Observe(n, m.now()), nil
}

// Run polls until ctx is cancelled. Poll errors are logged and followed by
// the backoff delay; they never end the loop.
func (m *BlockMonitor) Run(ctx context.Context) {
	m.logger.Info("block monitor started",
		slog.Duration("pollInterval", m.interval),
		slog.Duration("backoff", m.backoff),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("block monitor stopped")
			return
		case <-timer.C:
		}

		next := m.interval
		if _, err := m.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			m.logger.Error("block poll failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", m.backoff),
			)
			next = m.backoff
		}
		timer.Reset(next)
	}
}
