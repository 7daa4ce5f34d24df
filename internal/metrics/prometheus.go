package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is the metrics surface published for external scraping.
type Sink interface {
	RateSink
	RecordTx(success bool, latencySeconds float64)
	RecordRPC(method string, success bool, latencySeconds float64)
	AddGasUsed(gas uint64)
	SetBlockNumber(n uint64)
	SetBlockTime(seconds float64)
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// PrometheusMetrics holds all Prometheus metrics for the load generator.
type PrometheusMetrics struct {
	// Counters
	TxTotal      *prometheus.CounterVec
	RPCTotal     *prometheus.CounterVec
	GasUsedTotal prometheus.Counter

	// Histograms
	TxLatency  prometheus.Histogram
	RPCLatency *prometheus.HistogramVec

	// Gauges
	CurrentTPS           prometheus.Gauge
	CurrentRPS           prometheus.Gauge
	CurrentMgasPerSecond prometheus.Gauge
	BlockNumber          prometheus.Gauge
	BlockTime            prometheus.Gauge
	FailureRate          prometheus.Gauge
}

var _ Sink = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eth_transactions_total",
				Help: "Total transactions sent",
			},
			[]string{"status"},
		),

		RPCTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eth_rpc_requests_total",
				Help: "Total RPC requests",
			},
			[]string{"method", "status"},
		),

		GasUsedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "eth_gas_used_total",
				Help: "Total gas used",
			},
		),

		TxLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eth_transaction_latency_seconds",
				Help:    "Transaction latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eth_rpc_latency_seconds",
				Help:    "RPC request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		CurrentTPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eth_current_tps",
				Help: "Current transactions per second",
			},
		),

		CurrentRPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eth_current_rps",
				Help: "Current RPC requests per second",
			},
		),

		CurrentMgasPerSecond: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eth_current_mgas_per_second",
				Help: "Current million gas per second",
			},
		),

		BlockNumber: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eth_block_number",
				Help: "Current block number",
			},
		),

		BlockTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eth_block_time_seconds",
				Help: "Time between blocks",
			},
		),

		FailureRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eth_failure_rate",
				Help: "Transaction failure rate",
			},
		),
	}
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_blockNumber":         true,
	"eth_chainId":             true,
	"eth_getBalance":          true,
	"eth_getTransactionCount": true,
	"eth_sendRawTransaction":  true,
}

func statusLabel(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}

// RecordTx records one transaction attempt and its latency.
func (m *PrometheusMetrics) RecordTx(success bool, latencySeconds float64) {
	m.TxTotal.WithLabelValues(statusLabel(success)).Inc()
	m.TxLatency.Observe(latencySeconds)
}

// RecordRPC records one RPC call: a latency sample and a status count.
func (m *PrometheusMetrics) RecordRPC(method string, success bool, latencySeconds float64) {
	// Bucket unknown methods into 'other' to prevent cardinality explosion
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	m.RPCLatency.WithLabelValues(bucketedMethod).Observe(latencySeconds)
	m.RPCTotal.WithLabelValues(bucketedMethod, statusLabel(success)).Inc()
}

// AddGasUsed adds gas to the cumulative gas counter.
func (m *PrometheusMetrics) AddGasUsed(gas uint64) {
	m.GasUsedTotal.Add(float64(gas))
}

// SetRates updates the rate gauges.
func (m *PrometheusMetrics) SetRates(r Rates) {
	m.CurrentTPS.Set(r.TPS)
	m.CurrentRPS.Set(r.RPS)
	m.CurrentMgasPerSecond.Set(r.MgasPerSecond)
	m.FailureRate.Set(r.FailureRate)
}

// SetBlockNumber updates the block height gauge.
func (m *PrometheusMetrics) SetBlockNumber(n uint64) {
	m.BlockNumber.Set(float64(n))
}

// SetBlockTime updates the inter-block time gauge.
func (m *PrometheusMetrics) SetBlockTime(seconds float64) {
	m.BlockTime.Set(seconds)
}

// CallRecorder feeds RPC client observations into both the cumulative
// counters and the sink. It satisfies rpc.Recorder.
type CallRecorder struct {
	Counters *Counters
	Sink     Sink
}

// RecordRPC implements rpc.Recorder.
func (r CallRecorder) RecordRPC(method string, success bool, latencySeconds float64) {
	if r.Counters != nil {
		r.Counters.RecordRPC()
	}
	if r.Sink != nil {
		r.Sink.RecordRPC(method, success, latencySeconds)
	}
}
