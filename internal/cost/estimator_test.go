package cost

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

type stubOracle struct {
	tip, base *big.Int
	err       error
	calls     int
}

func (s *stubOracle) GasPrice(context.Context) (*big.Int, *big.Int, error) {
	s.calls++
	return s.tip, s.base, s.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9)) }

func testConfig() Config {
	return Config{
		DefaultFeeBps:       d("10"),
		VenueFeeBps:         map[string]decimal.Decimal{"uni": d("30")},
		SlippageCoefficient: d("0.5"),
		GasLimit:            500000,
		RefreshInterval:     time.Second,
		CallTimeout:         time.Second,
		GasMaxAge:           30 * time.Second,
		FallbackGasBps:      d("25"),
		FallbackMaxFeeGwei:  d("100"),
		FallbackTipGwei:     d("2"),
		NativePrice:         d("2000"),
	}
}

func newTestEstimator(oracle FeeOracle, now time.Time) *Estimator {
	e := NewEstimator(testConfig(), oracle, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return now }
	return e
}

func TestEstimate_Components(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	oracle := &stubOracle{tip: gwei(1), base: gwei(19)}
	e := newTestEstimator(oracle, now)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got := e.Estimate(Query{
		BuyVenue:  "uni",
		SellVenue: "binance",
		TradeSize: d("10000"),
		BuyDepth:  d("1000000"),
		SellDepth: d("500000"),
		At:        now,
	})

	if !got.FeeBps.Equal(d("40")) {
		t.Errorf("fee = %s, want 40", got.FeeBps)
	}
	// 0.5 * (0.01 + 0.02) * 10000
	if !got.SlippageBps.Equal(d("150")) {
		t.Errorf("slippage = %s, want 150", got.SlippageBps)
	}
	// 500000 gas * 20 gwei = 0.01 ETH = 20 USDC on 10000 notional
	if !got.GasBps.Equal(d("20")) {
		t.Errorf("gas = %s, want 20", got.GasBps)
	}
	if got.Degraded {
		t.Error("unexpected degraded estimate")
	}
	if !got.TotalBps().Equal(d("210")) {
		t.Errorf("total = %s", got.TotalBps())
	}
}

func TestEstimate_FallbackWhenOracleStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEstimator(&stubOracle{tip: gwei(1), base: gwei(19)}, now)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := e.Estimate(Query{BuyVenue: "a", SellVenue: "b", TradeSize: d("1000"), BuyDepth: d("1000000"), SellDepth: d("1000000"), At: now.Add(time.Minute)})
	if !got.Degraded || !got.GasBps.Equal(d("25")) {
		t.Fatalf("got %+v, want degraded fallback gas", got)
	}
	if !got.FeeBps.Equal(d("20")) {
		t.Fatalf("fee must still be computed, got %s", got.FeeBps)
	}
}

func TestEstimate_FallbackWhenOracleFails(t *testing.T) {
	now := time.Now()
	e := newTestEstimator(&stubOracle{err: errors.New("rpc down")}, now)
	if err := e.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	got := e.Estimate(Query{BuyVenue: "a", SellVenue: "b", TradeSize: d("1000"), At: now})
	if !got.Degraded || !got.GasBps.Equal(d("25")) {
		t.Fatalf("got %+v", got)
	}
}

func TestEstimate_UsesAggregatorNativePrice(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	agg := aggregator.New(aggregator.StalenessPolicy{Stream: time.Minute, Pool: time.Minute})
	agg.Ingest(domain.PriceTick{
		VenueID: "binance", Kind: domain.VenueKindStream, Symbol: "ETH/USDC",
		Price: d("4000"), LiquidityDepth: d("1"), ObservedAt: now,
	})
	e := NewEstimator(testConfig(), &stubOracle{tip: gwei(1), base: gwei(19)},
		AggregatorPricer{Agg: agg, Symbol: "ETH/USDC"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return now }
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := e.Estimate(Query{TradeSize: d("10000"), At: now})
	if !got.GasBps.Equal(d("40")) {
		t.Fatalf("gas = %s, want 40", got.GasBps)
	}
}

func TestTxParams(t *testing.T) {
	now := time.Now()
	oracle := &stubOracle{tip: gwei(2), base: gwei(10)}
	e := newTestEstimator(oracle, now)

	p := e.TxParams(context.Background())
	if p.Degraded || p.GasFeeCap.Cmp(gwei(22)) != 0 || p.GasTipCap.Cmp(gwei(2)) != 0 {
		t.Fatalf("live params = %+v", p)
	}
	if p.MaxFeeBudget.Cmp(new(big.Int).Mul(gwei(22), big.NewInt(500000))) != 0 {
		t.Fatalf("budget = %s", p.MaxFeeBudget)
	}

	oracle.err = errors.New("timeout")
	p = e.TxParams(context.Background())
	if !p.Degraded || p.GasFeeCap.Cmp(gwei(22)) != 0 {
		t.Fatalf("cached params = %+v", p)
	}

	cold := newTestEstimator(&stubOracle{err: errors.New("down")}, now)
	p = cold.TxParams(context.Background())
	if !p.Degraded || p.GasFeeCap.Cmp(gwei(100)) != 0 || p.GasTipCap.Cmp(gwei(2)) != 0 {
		t.Fatalf("fallback params = %+v", p)
	}
}
