// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-fm/rpcloadgen/internal/txbuilder"
)

// Config holds load generator configuration. It is resolved once at
// startup and not modified afterwards.
type Config struct {
	RPCURL      string
	TargetTPS   float64
	MetricsPort int
	Duration    time.Duration

	PrivateKey  string // hex, 0x prefix optional
	SignedTxHex string // pre-signed raw tx; when set PrivateKey is not needed

	GasLimit      uint64
	GasPrice      *big.Int // wei
	TransferValue *big.Int // wei

	RPCTimeout    time.Duration
	MonitorLinger time.Duration // how long monitors outlive the dispatcher

	DatabasePath       string // empty disables run history
	CORSAllowedOrigins string // comma-separated list, or "*"
	LogLevel           string
}

// Defaults
const (
	DefaultRPCURL             = "http://localhost:8545"
	DefaultTargetTPS          = 10
	DefaultMetricsPort        = 8080
	DefaultDuration           = 3600 * time.Second
	DefaultGasLimit           = txbuilder.TransferGasLimit
	DefaultGasPriceWei        = 20_000_000_000        // 20 gwei
	DefaultTransferValueWei   = 1_000_000_000_000_000 // 0.001 ETH
	DefaultRPCTimeout         = 10 * time.Second
	DefaultMonitorLinger      = 0
	DefaultCORSAllowedOrigins = "*"
	DefaultLogLevel           = "info"

	// DefaultPrivateKey is the well-known development account key used by
	// local dev chains. Never fund it on a public network.
	DefaultPrivateKey = "0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
)

// Default returns a config populated with the defaults.
func Default() *Config {
	return &Config{
		RPCURL:             DefaultRPCURL,
		TargetTPS:          DefaultTargetTPS,
		MetricsPort:        DefaultMetricsPort,
		Duration:           DefaultDuration,
		PrivateKey:         DefaultPrivateKey,
		GasLimit:           DefaultGasLimit,
		GasPrice:           big.NewInt(DefaultGasPriceWei),
		TransferValue:      big.NewInt(DefaultTransferValueWei),
		RPCTimeout:         DefaultRPCTimeout,
		MonitorLinger:      DefaultMonitorLinger,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		LogLevel:           DefaultLogLevel,
	}
}

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Args[1:], os.Getenv)
}

// LoadFrom resolves configuration from the given arguments and environment
// lookup. Malformed environment values are errors rather than being ignored.
func LoadFrom(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	var (
		rpcURL        = fs.String("rpc", cfg.RPCURL, "Ethereum JSON-RPC endpoint URL")
		tps           = fs.Float64("tps", cfg.TargetTPS, "Target transactions per second")
		metricsPort   = fs.Int("metrics-port", cfg.MetricsPort, "Port for /metrics and the status API")
		duration      = secondsFlag(fs, "duration", cfg.Duration, "Test duration (seconds or a Go duration)")
		privateKey    = fs.String("private-key", cfg.PrivateKey, "Sender private key (hex)")
		signedTx      = fs.String("signed-tx", cfg.SignedTxHex, "Pre-signed raw transaction (hex), resent every tick")
		gasLimit      = fs.Uint64("gaslimit", cfg.GasLimit, "Gas limit")
		gasPrice      = fs.String("gasprice", cfg.GasPrice.String(), "Gas price in wei")
		value         = fs.String("value", cfg.TransferValue.String(), "Transfer value in wei")
		rpcTimeout    = secondsFlag(fs, "rpc-timeout", cfg.RPCTimeout, "Per-call RPC timeout (seconds or a Go duration)")
		monitorLinger = secondsFlag(fs, "monitor-linger", cfg.MonitorLinger, "How long monitors keep running after load generation ends")
		dbPath        = fs.String("database", cfg.DatabasePath, "SQLite database path for run history (empty disables)")
		cors          = fs.String("cors", cfg.CORSAllowedOrigins, "Allowed CORS origins for the status API")
		logLevel      = fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.RPCURL = *rpcURL
	cfg.TargetTPS = *tps
	cfg.MetricsPort = *metricsPort
	cfg.Duration = *duration
	cfg.PrivateKey = *privateKey
	cfg.SignedTxHex = *signedTx
	cfg.GasLimit = *gasLimit
	cfg.RPCTimeout = *rpcTimeout
	cfg.MonitorLinger = *monitorLinger
	cfg.DatabasePath = *dbPath
	cfg.CORSAllowedOrigins = *cors
	cfg.LogLevel = *logLevel

	var err error
	if cfg.GasPrice, err = parseWei(*gasPrice); err != nil {
		return nil, fmt.Errorf("invalid -gasprice: %w", err)
	}
	if cfg.TransferValue, err = parseWei(*value); err != nil {
		return nil, fmt.Errorf("invalid -value: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("GETH_URL"); v != "" {
		c.RPCURL = v
	}
	if v := getenv("TARGET_TPS"); v != "" {
		tps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TARGET_TPS %q: %w", v, err)
		}
		c.TargetTPS = tps
	}
	if v := getenv("METRICS_PORT"); v != "" {
		port, err := parseIntEnv(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_PORT %q: %w", v, err)
		}
		c.MetricsPort = port
	}
	if v := getenv("TEST_DURATION"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid TEST_DURATION %q: %w", v, err)
		}
		c.Duration = d
	}
	if v := getenv("PRIVATE_KEY"); v != "" {
		c.PrivateKey = v
	}
	if v := getenv("SIGNED_TX_HEX"); v != "" {
		c.SignedTxHex = v
	}
	if v := getenv("GAS_LIMIT"); v != "" {
		gl, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GAS_LIMIT %q: %w", v, err)
		}
		c.GasLimit = gl
	}
	if v := getenv("GAS_PRICE"); v != "" {
		gp, err := parseWei(v)
		if err != nil {
			return fmt.Errorf("invalid GAS_PRICE %q: %w", v, err)
		}
		c.GasPrice = gp
	}
	if v := getenv("TRANSFER_VALUE"); v != "" {
		tv, err := parseWei(v)
		if err != nil {
			return fmt.Errorf("invalid TRANSFER_VALUE %q: %w", v, err)
		}
		c.TransferValue = tv
	}
	if v := getenv("RPC_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid RPC_TIMEOUT %q: %w", v, err)
		}
		c.RPCTimeout = d
	}
	if v := getenv("MONITOR_LINGER"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid MONITOR_LINGER %q: %w", v, err)
		}
		c.MonitorLinger = d
	}
	if v := getenv("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.TargetTPS <= 0 {
		return fmt.Errorf("target TPS must be positive")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if c.GasLimit < txbuilder.TransferGasLimit {
		return fmt.Errorf("gas limit must be at least %d", txbuilder.TransferGasLimit)
	}
	if c.GasPrice == nil || c.GasPrice.Sign() < 0 {
		return fmt.Errorf("gas price cannot be negative")
	}
	if c.TransferValue == nil || c.TransferValue.Sign() < 0 {
		return fmt.Errorf("transfer value cannot be negative")
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.MonitorLinger < 0 {
		return fmt.Errorf("monitor linger cannot be negative")
	}
	if c.PrivateKey == "" && c.SignedTxHex == "" {
		return fmt.Errorf("a private key or a signed transaction is required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the status/metrics server listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// parseIntEnv parses a string environment variable as an integer.
func parseIntEnv(s string) (int, error) {
	return strconv.Atoi(s)
}

// parseSeconds accepts a bare number of seconds ("3600", "0.5") or a Go
// duration string ("1h").
// secondsValue is a flag.Value that accepts the same forms as the
// environment: bare seconds or a Go duration string.
type secondsValue time.Duration

func (v *secondsValue) String() string { return time.Duration(*v).String() }

func (v *secondsValue) Set(s string) error {
	d, err := parseSeconds(s)
	if err != nil {
		return err
	}
	*v = secondsValue(d)
	return nil
}

func secondsFlag(fs *flag.FlagSet, name string, value time.Duration, usage string) *time.Duration {
	p := new(time.Duration)
	*p = value
	fs.Var((*secondsValue)(p), name, usage)
	return p
}

func parseSeconds(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// parseWei parses a base-10 (or 0x-prefixed hex) integer amount in wei.
func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok {
		return nil, fmt.Errorf("not an integer: %q", s)
	}
	return v, nil
}
