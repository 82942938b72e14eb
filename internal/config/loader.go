package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLASHARB_* environment variable overrides, and
// normalizes symbols. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return &cfg, nil
}

func normalize(cfg *Config) {
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = domain.NormalizeSymbol(s)
	}
	for i := range cfg.Chain.Tokens {
		cfg.Chain.Tokens[i].Symbol = domain.NormalizeSymbol(cfg.Chain.Tokens[i].Symbol)
	}
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
		for j := range v.Pools {
			v.Pools[j].Symbol = domain.NormalizeSymbol(v.Pools[j].Symbol)
		}
		if len(v.Instruments) > 0 {
			inst := make(map[string]string, len(v.Instruments))
			for sym, name := range v.Instruments {
				inst[domain.NormalizeSymbol(sym)] = name
			}
			v.Instruments = inst
		}
	}
	cfg.Cost.NativeSymbol = domain.NormalizeSymbol(cfg.Cost.NativeSymbol)
	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
}

// applyEnvOverrides reads well-known FLASHARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FLASHARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLASHARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLASHARB_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FLASHARB_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FLASHARB_CHAIN_ID")
	setStr(&cfg.Chain.SettlementContract, "FLASHARB_CHAIN_SETTLEMENT_CONTRACT")
	setDuration(&cfg.Chain.ReceiptPollInterval, "FLASHARB_CHAIN_RECEIPT_POLL_INTERVAL")
	setDuration(&cfg.Chain.CallTimeout, "FLASHARB_CHAIN_CALL_TIMEOUT")

	setStringSlice(&cfg.Symbols, "FLASHARB_SYMBOLS")

	// ── Detector ──
	setDecimal(&cfg.Detector.MinSpreadBps, "FLASHARB_DETECTOR_MIN_SPREAD_BPS")
	setDecimal(&cfg.Detector.SafetyFactor, "FLASHARB_DETECTOR_SAFETY_FACTOR")
	setDecimal(&cfg.Detector.MaxTradeSize, "FLASHARB_DETECTOR_MAX_TRADE_SIZE")

	// ── Staleness / retry ──
	setDuration(&cfg.Staleness.Stream, "FLASHARB_STALENESS_STREAM")
	setDuration(&cfg.Staleness.Pool, "FLASHARB_STALENESS_POOL")
	setInt(&cfg.Retry.MaxAttempts, "FLASHARB_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.Delay, "FLASHARB_RETRY_DELAY")

	// ── Execution ──
	setDecimal(&cfg.Execution.MinNetProfit, "FLASHARB_EXECUTION_MIN_NET_PROFIT")
	setDecimal(&cfg.Execution.MaxTradeSize, "FLASHARB_EXECUTION_MAX_TRADE_SIZE")
	setInt(&cfg.Execution.SubmitRetries, "FLASHARB_EXECUTION_SUBMIT_RETRIES")
	setDuration(&cfg.Execution.SubmitRetryDelay, "FLASHARB_EXECUTION_SUBMIT_RETRY_DELAY")
	setDuration(&cfg.Execution.SubmitTimeout, "FLASHARB_EXECUTION_SUBMIT_TIMEOUT")
	setDuration(&cfg.Execution.ExecutionTimeout, "FLASHARB_EXECUTION_TIMEOUT")
	setDuration(&cfg.Execution.LeaseTTL, "FLASHARB_EXECUTION_LEASE_TTL")
	setDuration(&cfg.Execution.ShutdownGrace, "FLASHARB_EXECUTION_SHUTDOWN_GRACE")

	// ── Cost ──
	setDecimal(&cfg.Cost.DefaultFeeBps, "FLASHARB_COST_DEFAULT_FEE_BPS")
	setDecimal(&cfg.Cost.SlippageCoefficient, "FLASHARB_COST_SLIPPAGE_COEFFICIENT")
	setDecimal(&cfg.Cost.FallbackGasBps, "FLASHARB_COST_FALLBACK_GAS_BPS")
	setDecimal(&cfg.Cost.FallbackMaxFeeGwei, "FLASHARB_COST_FALLBACK_MAX_FEE_GWEI")
	setDecimal(&cfg.Cost.NativePrice, "FLASHARB_COST_NATIVE_PRICE")

	// ── Telemetry ──
	setStringSlice(&cfg.Telemetry.LogEvents, "FLASHARB_TELEMETRY_LOG_EVENTS")
	setStringSlice(&cfg.Telemetry.StoreEvents, "FLASHARB_TELEMETRY_STORE_EVENTS")
	setStringSlice(&cfg.Telemetry.StreamEvents, "FLASHARB_TELEMETRY_STREAM_EVENTS")
	setStringSlice(&cfg.Telemetry.ArchiveEvents, "FLASHARB_TELEMETRY_ARCHIVE_EVENTS")
	setStr(&cfg.Telemetry.RedisStream, "FLASHARB_TELEMETRY_REDIS_STREAM")
	setStr(&cfg.Telemetry.RedisChannel, "FLASHARB_TELEMETRY_REDIS_CHANNEL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FLASHARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLASHARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHARB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "FLASHARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FLASHARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FLASHARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLASHARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLASHARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLASHARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLASHARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLASHARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLASHARB_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "FLASHARB_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setBool(&cfg.SQLite.Enabled, "FLASHARB_SQLITE_ENABLED")
	setStr(&cfg.SQLite.Path, "FLASHARB_SQLITE_PATH")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLASHARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLASHARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHARB_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "FLASHARB_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLASHARB_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "FLASHARB_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "FLASHARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FLASHARB_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLASHARB_MODE")
	setStr(&cfg.LogLevel, "FLASHARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
