// Load generator: sends transfers to an Ethereum JSON-RPC node at a target
// rate and exposes throughput, latency and block cadence metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/rpcloadgen/internal/config"
	"github.com/gateway-fm/rpcloadgen/internal/metrics"
	"github.com/gateway-fm/rpcloadgen/internal/rpc"
	"github.com/gateway-fm/rpcloadgen/internal/runner"
	"github.com/gateway-fm/rpcloadgen/internal/storage"
	"github.com/gateway-fm/rpcloadgen/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		slog.Error("invalid configuration", "error", err)
		return 2
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := metrics.NewPrometheusMetrics(reg)
	counters := metrics.NewCounters()

	client := rpc.NewHTTPClient(rpc.ClientConfig{
		URL:      cfg.RPCURL,
		Timeout:  cfg.RPCTimeout,
		Recorder: metrics.CallRecorder{Counters: counters, Sink: sink},
		Logger:   logger.With("component", "rpc"),
	})

	probeCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	probeCfg.Logger = logger.With("component", "readiness")
	probe := rpc.NewHTTPClient(probeCfg)
	defer probe.Close()

	var store storage.Storage
	if cfg.DatabasePath != "" {
		s, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
			client.Close()
			return 1
		}
		defer s.Close()
		store = s
		logger.Info("initialized storage", "path", cfg.DatabasePath)
	}

	r, err := runner.New(cfg, runner.Deps{
		Client:   client,
		Probe:    probe,
		Counters: counters,
		Sink:     sink,
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create runner", "error", err)
		client.Close()
		return 1
	}

	api := transport.NewServer(transport.ServerConfig{
		Status:             r,
		History:            store,
		Health:             r,
		Gatherer:           reg,
		Logger:             logger.With("component", "http"),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	defer api.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("HTTP server shutdown", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting load generator",
		"rpc", cfg.RPCURL,
		"targetTPS", cfg.TargetTPS,
		"duration", cfg.Duration,
	)

	if err := r.Run(ctx); err != nil {
		if runner.IsConnectivityError(err) {
			logger.Error("cannot reach node, aborting", "error", err)
		} else {
			logger.Error("load generator failed", "error", err)
		}
		return 1
	}

	if ctx.Err() != nil {
		logger.Info("interrupted, shut down cleanly")
	}
	return 0
}
