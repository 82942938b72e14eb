// Package config defines the flasharb configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by FLASHARB_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Symbols   []string        `toml:"symbols"`
	Venues    []VenueConfig   `toml:"venues"`
	Detector  DetectorConfig  `toml:"detector"`
	Staleness StalenessConfig `toml:"staleness"`
	Retry     RetryConfig     `toml:"retry"`
	Execution ExecutionConfig `toml:"execution"`
	Cost      CostConfig      `toml:"cost"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig describes the settlement chain.
type ChainConfig struct {
	RPCURL              string        `toml:"rpc_url"`
	ChainID             int64         `toml:"chain_id"`
	SettlementContract  string        `toml:"settlement_contract"`
	ReceiptPollInterval duration      `toml:"receipt_poll_interval"`
	CallTimeout         duration      `toml:"call_timeout"`
	Tokens              []TokenConfig `toml:"tokens"`
}

// TokenConfig maps a canonical symbol to its on-chain token pair.
type TokenConfig struct {
	Symbol        string `toml:"symbol"`
	Base          string `toml:"base"`
	Quote         string `toml:"quote"`
	QuoteDecimals uint8  `toml:"quote_decimals"`
}

// VenueConfig configures one price source. Stream venues use URL and Codec;
// pool venues use Pools and PollInterval.
type VenueConfig struct {
	ID           string            `toml:"id"`
	Kind         string            `toml:"kind"`
	Codec        string            `toml:"codec"`
	URL          string            `toml:"url"`
	Instruments  map[string]string `toml:"instruments"`
	Router       string            `toml:"router"`
	PollInterval duration          `toml:"poll_interval"`
	Pools        []PoolConfig      `toml:"pools"`
}

// PoolConfig is one constant-product pool polled by a pool venue.
type PoolConfig struct {
	Symbol      string          `toml:"symbol"`
	Pair        string          `toml:"pair"`
	BaseToken   string          `toml:"base_token"`
	ProbeAmount decimal.Decimal `toml:"probe_amount"`
}

// DetectorConfig holds the opportunity thresholds.
type DetectorConfig struct {
	MinSpreadBps decimal.Decimal `toml:"min_spread_bps"`
	SafetyFactor decimal.Decimal `toml:"safety_factor"`
	MaxTradeSize decimal.Decimal `toml:"max_trade_size"`
}

// StalenessConfig is the maximum tick age per venue kind.
type StalenessConfig struct {
	Stream duration `toml:"stream"`
	Pool   duration `toml:"pool"`
}

// RetryConfig bounds reconnects and re-polls of price sources.
type RetryConfig struct {
	MaxAttempts      int      `toml:"max_attempts"`
	Delay            duration `toml:"delay"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
	PongWait         duration `toml:"pong_wait"`
}

// ExecutionConfig holds coordinator limits.
type ExecutionConfig struct {
	MinNetProfit     decimal.Decimal `toml:"min_net_profit"`
	MaxTradeSize     decimal.Decimal `toml:"max_trade_size"`
	SubmitRetries    int             `toml:"submit_retries"`
	SubmitRetryDelay duration        `toml:"submit_retry_delay"`
	SubmitTimeout    duration        `toml:"submit_timeout"`
	ExecutionTimeout duration        `toml:"execution_timeout"`
	LeaseTTL         duration        `toml:"lease_ttl"`
	ShutdownGrace    duration        `toml:"shutdown_grace"`
	PaperLatency     duration        `toml:"paper_latency"`
}

// CostConfig holds the cost model coefficients.
type CostConfig struct {
	DefaultFeeBps       decimal.Decimal            `toml:"default_fee_bps"`
	VenueFeeBps         map[string]decimal.Decimal `toml:"venue_fee_bps"`
	SlippageCoefficient decimal.Decimal            `toml:"slippage_coefficient"`
	GasLimit            uint64                     `toml:"gas_limit"`
	RefreshInterval     duration                   `toml:"refresh_interval"`
	GasMaxAge           duration                   `toml:"gas_max_age"`
	FallbackGasBps      decimal.Decimal            `toml:"fallback_gas_bps"`
	FallbackMaxFeeGwei  decimal.Decimal            `toml:"fallback_max_fee_gwei"`
	FallbackTipGwei     decimal.Decimal            `toml:"fallback_tip_gwei"`
	// NativeSymbol prices gas from live aggregator state; NativePrice is
	// used when that symbol has no live tick.
	NativeSymbol string          `toml:"native_symbol"`
	NativePrice  decimal.Decimal `toml:"native_price"`
}

// TelemetryConfig controls the event stream and per-sink event filters. An
// empty filter accepts every event type.
type TelemetryConfig struct {
	Buffer         int      `toml:"buffer"`
	BatchSize      int      `toml:"batch_size"`
	FlushInterval  duration `toml:"flush_interval"`
	LogEvents      []string `toml:"log_events"`
	StoreEvents    []string `toml:"store_events"`
	StreamEvents   []string `toml:"stream_events"`
	ArchiveEvents  []string `toml:"archive_events"`
	RedisStream    string   `toml:"redis_stream"`
	RedisChannel   string   `toml:"redis_channel"`
	RedisTickCache bool     `toml:"redis_tick_cache"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	TickTTL      duration `toml:"tick_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local database path.
type SQLiteConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// S3Config holds S3-compatible object storage parameters for the telemetry
// archive.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	MaxEvents      int      `toml:"max_events"`
	MaxAge         duration `toml:"max_age"`

	// MultipartThreshold is the batch size in bytes above which uploads
	// use multipart.
	MultipartThreshold int64 `toml:"multipart_threshold"`
}

// ServerConfig controls the read-only HTTP API and its websocket event feed.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// Events filters what the websocket feed receives; empty sends all.
	Events []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:             1,
			ReceiptPollInterval: duration{2 * time.Second},
			CallTimeout:         duration{5 * time.Second},
		},
		Symbols: []string{"ETH/USDC"},
		Detector: DetectorConfig{
			MinSpreadBps: decimal.NewFromInt(30),
			SafetyFactor: decimal.RequireFromString("0.5"),
			MaxTradeSize: decimal.NewFromInt(50000),
		},
		Staleness: StalenessConfig{
			Stream: duration{5 * time.Second},
			Pool:   duration{30 * time.Second},
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			Delay:            duration{2 * time.Second},
			HandshakeTimeout: duration{10 * time.Second},
			PongWait:         duration{60 * time.Second},
		},
		Execution: ExecutionConfig{
			MinNetProfit:     decimal.NewFromInt(25),
			MaxTradeSize:     decimal.NewFromInt(50000),
			SubmitRetries:    2,
			SubmitRetryDelay: duration{500 * time.Millisecond},
			SubmitTimeout:    duration{10 * time.Second},
			ExecutionTimeout: duration{2 * time.Minute},
			ShutdownGrace:    duration{30 * time.Second},
			PaperLatency:     duration{2 * time.Second},
		},
		Cost: CostConfig{
			DefaultFeeBps:       decimal.NewFromInt(30),
			VenueFeeBps:         map[string]decimal.Decimal{},
			SlippageCoefficient: decimal.NewFromInt(1),
			GasLimit:            450000,
			RefreshInterval:     duration{12 * time.Second},
			GasMaxAge:           duration{60 * time.Second},
			FallbackGasBps:      decimal.NewFromInt(50),
			FallbackMaxFeeGwei:  decimal.NewFromInt(100),
			FallbackTipGwei:     decimal.NewFromInt(2),
			NativeSymbol:        "ETH/USDC",
		},
		Telemetry: TelemetryConfig{
			Buffer:        4096,
			BatchSize:     128,
			FlushInterval: duration{time.Second},
			LogEvents: []string{
				string(domain.EventSourceUp),
				string(domain.EventSourceDegraded),
				string(domain.EventSourceUnavailable),
				string(domain.EventOpportunityDetected),
				string(domain.EventExecutionTransition),
			},
			RedisStream:  "flasharb:events",
			RedisChannel: "flasharb:live",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
			TickTTL:      duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/flasharb.db",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-telemetry",
			ForcePathStyle: true,
			Prefix:         "telemetry",
			MaxEvents:      5000,
			MaxAge:         duration{10 * time.Minute},

			MultipartThreshold: 32 << 20,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: live, paper, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	live := strings.EqualFold(c.Mode, "live")
	if live {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		if !isAddress(c.Chain.SettlementContract) {
			add("chain: settlement_contract must be a hex address for mode live")
		}
	}

	if len(c.Symbols) == 0 {
		add("symbols: at least one symbol is required")
	}
	symbols := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		symbols[domain.NormalizeSymbol(s)] = true
	}

	tokens := make(map[string]bool, len(c.Chain.Tokens))
	for i, t := range c.Chain.Tokens {
		if !isAddress(t.Base) || !isAddress(t.Quote) {
			add("chain.tokens[%d]: base and quote must be hex addresses", i)
		}
		tokens[domain.NormalizeSymbol(t.Symbol)] = true
	}
	if live {
		for s := range symbols {
			if !tokens[s] {
				add("chain.tokens: no token mapping for symbol %s", s)
			}
		}
	}

	needsRPC := live
	if len(c.Venues) < 2 {
		add("venues: at least two venues are required to compare prices")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			add("venues[%d]: id must not be empty", i)
		} else if seen[v.ID] {
			add("venues[%d]: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = true
		switch domain.VenueKind(strings.ToLower(v.Kind)) {
		case domain.VenueKindStream:
			if v.URL == "" {
				add("venues[%d] %s: url is required for stream venues", i, v.ID)
			}
			if v.Codec == "" {
				add("venues[%d] %s: codec is required for stream venues", i, v.ID)
			}
		case domain.VenueKindPool:
			needsRPC = true
			if len(v.Pools) == 0 {
				add("venues[%d] %s: at least one pool is required", i, v.ID)
			}
			if v.PollInterval.Duration <= 0 {
				add("venues[%d] %s: poll_interval must be > 0", i, v.ID)
			}
			if live && !isAddress(v.Router) {
				add("venues[%d] %s: router must be a hex address for mode live", i, v.ID)
			}
			for j, p := range v.Pools {
				if !isAddress(p.Pair) || !isAddress(p.BaseToken) {
					add("venues[%d].pools[%d]: pair and base_token must be hex addresses", i, j)
				}
				if !symbols[domain.NormalizeSymbol(p.Symbol)] {
					add("venues[%d].pools[%d]: symbol %q is not in symbols", i, j, p.Symbol)
				}
			}
		default:
			add("venues[%d] %s: kind must be stream or pool, got %q", i, v.ID, v.Kind)
		}
	}
	if needsRPC && c.Chain.RPCURL == "" {
		add("chain: rpc_url is required for pool venues and mode live")
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}

	if !c.Detector.MinSpreadBps.IsPositive() {
		add("detector: min_spread_bps must be > 0")
	}
	if !c.Detector.SafetyFactor.IsPositive() || c.Detector.SafetyFactor.GreaterThan(decimal.NewFromInt(1)) {
		add("detector: safety_factor must be in (0, 1]")
	}
	if !c.Detector.MaxTradeSize.IsPositive() {
		add("detector: max_trade_size must be > 0")
	}
	if c.Staleness.Stream.Duration <= 0 || c.Staleness.Pool.Duration <= 0 {
		add("staleness: stream and pool must be > 0")
	}
	if c.Retry.MaxAttempts < 0 {
		add("retry: max_attempts must be >= 0")
	}

	if c.Execution.MinNetProfit.IsNegative() {
		add("execution: min_net_profit must be >= 0")
	}
	if c.Execution.SubmitRetries < 0 {
		add("execution: submit_retries must be >= 0")
	}
	if c.Execution.SubmitTimeout.Duration <= 0 || c.Execution.ExecutionTimeout.Duration <= 0 {
		add("execution: submit_timeout and execution_timeout must be > 0")
	}
	if c.Execution.LeaseTTL.Duration > 0 && !c.Redis.Enabled {
		add("execution: lease_ttl requires redis.enabled")
	}

	if c.Cost.GasLimit == 0 {
		add("cost: gas_limit must be > 0")
	}
	if c.Cost.FallbackGasBps.IsNegative() || c.Cost.DefaultFeeBps.IsNegative() {
		add("cost: fee and fallback bps must be >= 0")
	}
	if !c.Cost.FallbackMaxFeeGwei.IsPositive() {
		add("cost: fallback_max_fee_gwei must be > 0")
	}

	for _, list := range [][]string{c.Telemetry.LogEvents, c.Telemetry.StoreEvents, c.Telemetry.StreamEvents, c.Telemetry.ArchiveEvents, c.Server.Events} {
		for _, e := range list {
			if !domain.EventType(strings.TrimSpace(e)).Known() {
				add("telemetry: unknown event type %q", e)
			}
		}
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
	}
	if c.Postgres.Enabled && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must not exceed pool_max_conns")
	}
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		add("sqlite: path must not be empty")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}
