// Package dispatcher sends one transfer per tick at the target rate for a
// bounded duration.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/rpcloadgen/internal/metrics"
	"github.com/gateway-fm/rpcloadgen/internal/ratelimit"
	"github.com/gateway-fm/rpcloadgen/internal/signer"
	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

// TxClient is the subset of the RPC client used to submit transactions.
type TxClient interface {
	GetPendingNonce(ctx context.Context, address common.Address) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// TxBuilder builds the unsigned transaction for a nonce.
type TxBuilder interface {
	Build(nonce uint64) *ethtypes.Transaction
	GasLimit() uint64
}

// TxSink receives per-attempt metrics.
type TxSink interface {
	RecordTx(success bool, latencySeconds float64)
	AddGasUsed(gas uint64)
}

// TxOutcome is the result of one dispatch attempt.
type TxOutcome struct {
	Success        bool
	LatencySeconds float64
	Hash           string
	Error          string
}

// Config configures a Dispatcher.
type Config struct {
	Client   TxClient
	Signer   signer.Signer
	Builder  TxBuilder
	Counters *metrics.Counters

	// Optional collaborators.
	Sink    TxSink
	Latency *metrics.LatencyReservoir
	Recent  *metrics.RecentTxs
	Logger  *slog.Logger

	TargetTPS float64
	Duration  time.Duration
}

// Dispatcher drives the send loop. State moves Idle -> Running ->
// Stopped (duration elapsed) or Cancelled (context cancelled).
type Dispatcher struct {
	client   TxClient
	signer   signer.Signer
	builder  TxBuilder
	counters *metrics.Counters
	sink     TxSink
	latency  *metrics.LatencyReservoir
	recent   *metrics.RecentTxs
	logger   *slog.Logger

	targetTPS float64
	duration  time.Duration
	limiter   *ratelimit.Limiter

	state     atomic.Value // types.DispatcherState
	startedMu sync.RWMutex
	startedAt time.Time
}

// New creates a dispatcher in the Idle state.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Client == nil {
		return nil, errors.New("dispatcher: client is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("dispatcher: signer is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("dispatcher: builder is required")
	}
	if cfg.Counters == nil {
		return nil, errors.New("dispatcher: counters are required")
	}
	if cfg.TargetTPS <= 0 {
		return nil, fmt.Errorf("dispatcher: target TPS must be positive, got %v", cfg.TargetTPS)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("dispatcher: duration must be positive, got %v", cfg.Duration)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		client:    cfg.Client,
		signer:    cfg.Signer,
		builder:   cfg.Builder,
		counters:  cfg.Counters,
		sink:      cfg.Sink,
		latency:   cfg.Latency,
		recent:    cfg.Recent,
		logger:    logger,
		targetTPS: cfg.TargetTPS,
		duration:  cfg.Duration,
		limiter:   ratelimit.New(cfg.TargetTPS),
	}
	d.state.Store(types.StateIdle)
	return d, nil
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() types.DispatcherState {
	return d.state.Load().(types.DispatcherState)
}

// StartedAt returns when Run began, or the zero time while Idle.
func (d *Dispatcher) StartedAt() time.Time {
	d.startedMu.RLock()
	defer d.startedMu.RUnlock()
	return d.startedAt
}

// TargetTPS returns the configured rate.
func (d *Dispatcher) TargetTPS() float64 {
	return d.targetTPS
}

// Run sends one transaction per tick until the duration elapses or ctx is
// cancelled, and returns the terminal state. A failed attempt never ends
// the loop. An attempt cut short by cancellation is dropped, not recorded
// as a failure. Run may only be called once.
func (d *Dispatcher) Run(ctx context.Context) (types.DispatcherState, error) {
	if !d.state.CompareAndSwap(types.StateIdle, types.StateRunning) {
		return d.State(), fmt.Errorf("dispatcher already started (state %s)", d.State())
	}

	start := time.Now()
	d.startedMu.Lock()
	d.startedAt = start
	d.startedMu.Unlock()

	deadline := start.Add(d.duration)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	d.logger.Info("transaction dispatcher started",
		slog.Float64("targetTPS", d.targetTPS),
		slog.Duration("duration", d.duration),
		slog.String("sender", d.signer.Address().Hex()),
	)

	final := types.StateStopped
	for {
		if ctx.Err() != nil {
			final = types.StateCancelled
			break
		}
		if err := d.limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				final = types.StateCancelled
			}
			break
		}
		if !time.Now().Before(deadline) {
			break
		}

		o := d.sendOnce(ctx)
		if !o.Success && ctx.Err() != nil {
			// interrupted mid-attempt: not counted either way
			final = types.StateCancelled
			break
		}
		d.record(o)
	}

	d.state.Store(final)
	d.logger.Info("transaction dispatcher stopped",
		slog.String("state", string(final)),
		slog.Uint64("attempts", d.counters.Attempts()),
		slog.Uint64("successes", d.counters.Successes()),
		slog.Uint64("failures", d.counters.Failures()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return final, nil
}

// sendOnce performs a single attempt: nonce, build, sign, submit. Errors
// are folded into the outcome.
func (d *Dispatcher) sendOnce(ctx context.Context) TxOutcome {
	start := time.Now()
	fail := func(step string, err error) TxOutcome {
		return TxOutcome{
			LatencySeconds: time.Since(start).Seconds(),
			Error:          fmt.Sprintf("%s: %v", step, err),
		}
	}

	nonce, err := d.client.GetPendingNonce(ctx, d.signer.Address())
	if err != nil {
		return fail("get nonce", err)
	}

	raw, err := d.signer.Sign(d.builder.Build(nonce))
	if err != nil {
		return fail("sign", err)
	}

	hash, err := d.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return fail("send", err)
	}

	return TxOutcome{
		Success:        true,
		LatencySeconds: time.Since(start).Seconds(),
		Hash:           hash.Hex(),
	}
}

func (d *Dispatcher) record(o TxOutcome) {
	gas := d.builder.GasLimit()
	d.counters.RecordTx(o.Success, gas)

	if d.sink != nil {
		d.sink.RecordTx(o.Success, o.LatencySeconds)
		if o.Success {
			d.sink.AddGasUsed(gas)
		}
	}

	latency := time.Duration(o.LatencySeconds * float64(time.Second))
	if d.latency != nil {
		d.latency.Observe(latency)
	}
	if d.recent != nil {
		d.recent.Add(types.TxRecord{
			Hash:      o.Hash,
			SentAt:    time.Now().Add(-latency),
			LatencyMs: o.LatencySeconds * 1000,
			Success:   o.Success,
			Error:     o.Error,
		})
	}

	if !o.Success {
		d.logger.Error("transaction failed",
			slog.String("error", o.Error),
			slog.Float64("latencySeconds", o.LatencySeconds),
		)
		return
	}
	d.logger.Debug("transaction sent",
		slog.String("hash", o.Hash),
		slog.Float64("latencySeconds", o.LatencySeconds),
	)
}
