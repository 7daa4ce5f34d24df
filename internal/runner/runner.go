// Package runner wires the dispatcher, the aggregator and the block monitor
// into one load test run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/rpcloadgen/internal/config"
	"github.com/gateway-fm/rpcloadgen/internal/dispatcher"
	"github.com/gateway-fm/rpcloadgen/internal/metrics"
	"github.com/gateway-fm/rpcloadgen/internal/monitor"
	"github.com/gateway-fm/rpcloadgen/internal/rpc"
	"github.com/gateway-fm/rpcloadgen/internal/signer"
	"github.com/gateway-fm/rpcloadgen/internal/storage"
	"github.com/gateway-fm/rpcloadgen/internal/txbuilder"
	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

// Connectivity check steps.
const (
	StepBlockNumber = "blockNumber"
	StepChainID     = "chainId"
	StepBalance     = "balance"
)

const persistTimeout = 10 * time.Second

// LowBalanceThreshold is the balance below which a warning is logged (1 ETH).
var LowBalanceThreshold = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ConnectivityError is returned when the startup check fails. No task has
// been started when it is returned.
type ConnectivityError struct {
	Step string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity check failed at %s: %v", e.Step, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsConnectivityError reports whether err is a startup connectivity failure.
func IsConnectivityError(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// Deps are the shared collaborators of a run.
type Deps struct {
	Client   rpc.Client // closed by Run

	// Probe serves readiness checks. It should not record into Counters,
	// and it outlives Run. When nil, Client is used.
	Probe rpc.Client
	Counters *metrics.Counters
	Sink     metrics.Sink    // optional
	Store    storage.Storage // optional; nil disables history
	Logger   *slog.Logger

	// Zero values use the package defaults.
	AggregationInterval time.Duration
	PollInterval        time.Duration
	PollBackoff         time.Duration
	Recipient           txbuilder.RecipientFunc
}

// Runner executes one load test. It also serves the live status view.
type Runner struct {
	cfg      *config.Config
	client   rpc.Client
	probe    rpc.Client
	counters *metrics.Counters
	sink     metrics.Sink
	store    storage.Storage
	logger   *slog.Logger

	aggregator *metrics.Aggregator
	monitor    *monitor.BlockMonitor
	latency    *metrics.LatencyReservoir
	recent     *metrics.RecentTxs
	recipient  txbuilder.RecipientFunc

	started    atomic.Bool
	dispatcher atomic.Pointer[dispatcher.Dispatcher]
	closeOnce  sync.Once

	mu       sync.RWMutex
	runID    string
	sender   common.Address
	chainID  *big.Int
	recorder *storage.RunRecorder
}

// New creates a runner. The aggregator baseline is taken here.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner: config is required")
	}
	if deps.Client == nil {
		return nil, errors.New("runner: RPC client is required")
	}
	if deps.Counters == nil {
		deps.Counters = metrics.NewCounters()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		cfg:       cfg,
		client:    deps.Client,
		probe:     deps.Probe,
		counters:  deps.Counters,
		sink:      deps.Sink,
		store:     deps.Store,
		logger:    logger,
		latency:   metrics.NewLatencyReservoir(metrics.DefaultReservoirSize),
		recent:    metrics.NewRecentTxs(metrics.DefaultRecentTxs),
		recipient: deps.Recipient,
	}

	var rateSink metrics.RateSink
	var blockSink monitor.BlockSink
	if deps.Sink != nil {
		rateSink = deps.Sink
		blockSink = deps.Sink
	}

	r.aggregator = metrics.NewAggregator(metrics.AggregatorConfig{
		Counters: deps.Counters,
		Sink:     rateSink,
		Interval: deps.AggregationInterval,
		Logger:   logger.With(slog.String("component", "aggregator")),
	})
	r.monitor = monitor.New(monitor.Config{
		Client:       deps.Client,
		Sink:         blockSink,
		PollInterval: deps.PollInterval,
		Backoff:      deps.PollBackoff,
		Logger:       logger.With(slog.String("component", "block-monitor")),
	})

	return r, nil
}

// CheckRPC performs an eth_blockNumber round trip for readiness probes.
func (r *Runner) CheckRPC(ctx context.Context) error {
	c := r.probe
	if c == nil {
		c = r.client
	}
	_, err := c.GetBlockNumber(ctx)
	return err
}

// Run performs the connectivity check, then runs the dispatcher, the
// aggregator and the block monitor concurrently. It returns when the
// dispatcher has finished and the monitors have stopped. The RPC client is
// closed exactly once on every return path. Run may only be called once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runner: already started")
	}
	defer r.closeClient()

	sig, err := r.connect(ctx)
	if err != nil {
		return err
	}

	builder, err := txbuilder.NewTransferBuilder(r.cfg.TransferValue, r.cfg.GasLimit, r.cfg.GasPrice, r.recipient)
	if err != nil {
		return fmt.Errorf("build transfer template: %w", err)
	}

	var txSink dispatcher.TxSink
	if r.sink != nil {
		txSink = r.sink
	}
	d, err := dispatcher.New(dispatcher.Config{
		Client:    r.client,
		Signer:    sig,
		Builder:   builder,
		Counters:  r.counters,
		Sink:      txSink,
		Latency:   r.latency,
		Recent:    r.recent,
		Logger:    r.logger.With(slog.String("component", "dispatcher")),
		TargetTPS: r.cfg.TargetTPS,
		Duration:  r.cfg.Duration,
	})
	if err != nil {
		return err
	}
	r.dispatcher.Store(d)

	r.startHistory(ctx)

	monitorCtx, cancelMonitors := context.WithCancel(ctx)
	defer cancelMonitors()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.aggregator.Run(monitorCtx)
	}()
	go func() {
		defer wg.Done()
		r.monitor.Run(monitorCtx)
	}()

	final, err := d.Run(ctx)
	if err != nil {
		cancelMonitors()
		wg.Wait()
		return err
	}

	if final == types.StateStopped && r.cfg.MonitorLinger > 0 {
		r.logger.Info("load generation finished, monitors still running",
			slog.Duration("linger", r.cfg.MonitorLinger),
		)
		linger := time.NewTimer(r.cfg.MonitorLinger)
		select {
		case <-linger.C:
		case <-ctx.Done():
			linger.Stop()
		}
	}

	cancelMonitors()
	wg.Wait()

	// The aggregator goroutine has exited, so the closing tick is safe here.
	r.aggregator.Tick(time.Now())

	r.finishHistory(final)

	snap := r.counters.Snapshot(time.Now())
	r.logger.Info("run complete",
		slog.String("state", string(final)),
		slog.Uint64("attempts", snap.Attempts),
		slog.Uint64("successes", snap.Successes),
		slog.Uint64("failures", snap.Failures),
		slog.Uint64("rpcCalls", snap.RPCCalls),
		slog.Float64("failureRate", snap.FailureRate()),
	)
	return nil
}

// connect runs the startup check and returns the signer bound to the
// node's chain id.
func (r *Runner) connect(ctx context.Context) (signer.Signer, error) {
	head, err := r.client.GetBlockNumber(ctx)
	if err != nil {
		return nil, &ConnectivityError{Step: StepBlockNumber, Err: err}
	}

	chainID, err := r.client.GetChainID(ctx)
	if err != nil {
		return nil, &ConnectivityError{Step: StepChainID, Err: err}
	}

	sig, err := r.newSigner(chainID)
	if err != nil {
		return nil, err
	}

	balance, err := r.client.GetBalance(ctx, sig.Address())
	if err != nil {
		return nil, &ConnectivityError{Step: StepBalance, Err: err}
	}

	r.mu.Lock()
	r.sender = sig.Address()
	r.chainID = chainID
	r.mu.Unlock()

	r.logger.Info("connected to node",
		slog.String("url", r.cfg.RPCURL),
		slog.Uint64("block", head),
		slog.String("chainId", chainID.String()),
		slog.String("sender", sig.Address().Hex()),
		slog.String("balanceEth", formatEther(balance)),
	)
	if balance.Cmp(LowBalanceThreshold) < 0 {
		r.logger.Warn("sender balance is low, consider funding the account",
			slog.String("sender", sig.Address().Hex()),
			slog.String("balanceEth", formatEther(balance)),
		)
	}
	return sig, nil
}

func formatEther(wei *big.Int) string {
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(LowBalanceThreshold))
	return eth.Text('f', 6)
}

func (r *Runner) newSigner(chainID *big.Int) (signer.Signer, error) {
	if r.cfg.SignedTxHex != "" {
		s, err := signer.NewRawSigner(r.cfg.SignedTxHex)
		if err != nil {
			return nil, fmt.Errorf("load signed transaction: %w", err)
		}
		r.logger.Info("replaying pre-signed transaction on every tick")
		return s, nil
	}
	s, err := signer.NewKeySigner(r.cfg.PrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return s, nil
}

// startHistory creates the run record. A storage failure disables history
// for this run and is not fatal.
func (r *Runner) startHistory(ctx context.Context) {
	if r.store == nil {
		return
	}

	rec, err := storage.StartRun(ctx, r.store, types.RunSummary{
		RPCURL:     r.cfg.RPCURL,
		StartedAt:  time.Now(),
		TargetTPS:  r.cfg.TargetTPS,
		DurationMs: r.cfg.Duration.Milliseconds(),
	}, r.logger)
	if err != nil {
		r.logger.Error("run history disabled", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	r.recorder = rec
	r.runID = rec.ID()
	r.mu.Unlock()

	r.aggregator.OnTick(func(rates metrics.Rates, s metrics.Snapshot) {
		rec.RecordRate(rates.Timestamp, types.RateSample{
			Attempts:      s.Attempts,
			TPS:           rates.TPS,
			RPS:           rates.RPS,
			MgasPerSecond: rates.MgasPerSecond,
			FailureRate:   rates.FailureRate,
		})
	})
	r.monitor.OnBlock(rec.RecordBlock)
}

func (r *Runner) finishHistory(final types.DispatcherState) {
	r.mu.RLock()
	rec := r.recorder
	r.mu.RUnlock()
	if rec == nil {
		return
	}

	snap := r.counters.Snapshot(time.Now())
	var averageTPS float64
	if d := r.dispatcher.Load(); d != nil {
		if elapsed := time.Since(d.StartedAt()).Seconds(); elapsed > 0 {
			averageTPS = float64(snap.Attempts) / elapsed
		}
	}

	// The run context may already be cancelled; persisting still has to happen.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := rec.Finish(ctx, types.RunSummary{
		FinalState:  final,
		Attempts:    snap.Attempts,
		Successes:   snap.Successes,
		Failures:    snap.Failures,
		RPCCalls:    snap.RPCCalls,
		GasUsed:     snap.GasUsed,
		AverageTPS:  averageTPS,
		FailureRate: snap.FailureRate(),
		Latency:     r.latency.Stats(),
	})
	if err != nil {
		r.logger.Error("failed to persist run history",
			slog.String("runId", rec.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runner) closeClient() {
	r.closeOnce.Do(r.client.Close)
}

// Status returns the live view for the status API.
func (r *Runner) Status() types.Status {
	snap := r.counters.Snapshot(time.Now())

	st := types.Status{
		State:       types.StateIdle,
		TargetTPS:   r.cfg.TargetTPS,
		Attempts:    snap.Attempts,
		Successes:   snap.Successes,
		Failures:    snap.Failures,
		RPCCalls:    snap.RPCCalls,
		GasUsed:     snap.GasUsed,
		FailureRate: snap.FailureRate(),
		Block:       r.monitor.Latest(),
		Latency:     r.latency.Stats(),
		RecentTxs:   r.recent.List(),
	}

	if d := r.dispatcher.Load(); d != nil {
		st.State = d.State()
		st.TargetTPS = d.TargetTPS()
		if started := d.StartedAt(); !started.IsZero() {
			st.StartedAt = &started
			st.ElapsedMs = time.Since(started).Milliseconds()
		}
	}

	if rates, ok := r.aggregator.Latest(); ok {
		st.TPS = rates.TPS
		st.RPS = rates.RPS
		st.MgasPerSecond = rates.MgasPerSecond
	}

	r.mu.RLock()
	st.RunID = r.runID
	if r.chainID != nil {
		st.ChainID = r.chainID.String()
		st.Sender = r.sender.Hex()
	}
	r.mu.RUnlock()

	return st
}
