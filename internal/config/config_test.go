package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const sampleTOML = `
mode = "paper"
symbols = ["eth-usdc"]

[chain]
rpc_url = "https://rpc.example"

[[venues]]
id = "binance"
kind = "stream"
codec = "binance"
url = "wss://stream.binance.com:9443/ws"
[venues.instruments]
"eth/usdc" = "ETHUSDC"

[[venues]]
id = "uniswap"
kind = "pool"
poll_interval = "3s"
[[venues.pools]]
symbol = "ETH/USDC"
pair = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
base_token = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
probe_amount = "0.5"

[detector]
min_spread_bps = 25
safety_factor = "0.4"

[staleness]
pool = "45s"

[cost.venue_fee_bps]
uniswap = 30
binance = "7.5"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesDefaultsAndNormalizes(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Symbols[0] != "ETH/USDC" {
		t.Errorf("symbol = %q", cfg.Symbols[0])
	}
	if cfg.Venues[0].Instruments["ETH/USDC"] != "ETHUSDC" {
		t.Errorf("instruments = %v", cfg.Venues[0].Instruments)
	}
	if cfg.Venues[1].PollInterval.Duration != 3*time.Second {
		t.Errorf("poll_interval = %v", cfg.Venues[1].PollInterval)
	}
	if !cfg.Venues[1].Pools[0].ProbeAmount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("probe_amount = %s", cfg.Venues[1].Pools[0].ProbeAmount)
	}
	if !cfg.Detector.MinSpreadBps.Equal(decimal.NewFromInt(25)) || !cfg.Detector.SafetyFactor.Equal(decimal.RequireFromString("0.4")) {
		t.Errorf("detector = %+v", cfg.Detector)
	}
	if !cfg.Cost.VenueFeeBps["binance"].Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("venue fee = %v", cfg.Cost.VenueFeeBps)
	}
	// Untouched values keep their defaults.
	if cfg.Staleness.Stream.Duration != 5*time.Second || cfg.Staleness.Pool.Duration != 45*time.Second {
		t.Errorf("staleness = %+v", cfg.Staleness)
	}
	if !cfg.Detector.MaxTradeSize.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("max_trade_size default lost: %s", cfg.Detector.MaxTradeSize)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, sampleTOML+"\n[detector_typo]\nx = 1\n"))
	if err == nil || !strings.Contains(err.Error(), "detector_typo") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLASHARB_MODE", "MONITOR")
	t.Setenv("FLASHARB_EXECUTION_MIN_NET_PROFIT", "12.5")
	t.Setenv("FLASHARB_STALENESS_STREAM", "2s")
	t.Setenv("FLASHARB_TELEMETRY_LOG_EVENTS", "source_up, execution_transition")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if !cfg.Execution.MinNetProfit.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("min_net_profit = %s", cfg.Execution.MinNetProfit)
	}
	if cfg.Staleness.Stream.Duration != 2*time.Second {
		t.Errorf("staleness.stream = %v", cfg.Staleness.Stream)
	}
	if len(cfg.Telemetry.LogEvents) != 2 || cfg.Telemetry.LogEvents[1] != "execution_transition" {
		t.Errorf("log_events = %v", cfg.Telemetry.LogEvents)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Venues = []VenueConfig{{ID: "x", Kind: "carrier-pigeon"}}
	cfg.Detector.SafetyFactor = decimal.NewFromInt(2)
	cfg.Telemetry.LogEvents = []string{"nope"}
	cfg.Execution.LeaseTTL = duration{time.Second}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"wallet: either private_key",
		"settlement_contract",
		"no token mapping for symbol ETH/USDC",
		"at least two venues",
		"kind must be stream or pool",
		"safety_factor",
		`unknown event type "nope"`,
		"lease_ttl requires redis.enabled",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Chain.RPCURL = "https://mainnet.example/v3/key"
	cfg.S3.SecretKey = "s3cr3t"
	cfg.Cost.VenueFeeBps["a"] = decimal.NewFromInt(5)

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Chain.RPCURL != redacted || out.S3.SecretKey != redacted {
		t.Errorf("secrets not redacted: %+v", out.Wallet)
	}
	if out.Wallet.KeyPassword != "" {
		t.Errorf("empty secret should stay empty")
	}
	out.Cost.VenueFeeBps["a"] = decimal.Zero
	if !cfg.Cost.VenueFeeBps["a"].Equal(decimal.NewFromInt(5)) {
		t.Errorf("redacted copy shares map with original")
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Errorf("original mutated")
	}
}
