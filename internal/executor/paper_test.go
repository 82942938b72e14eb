package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/cost"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

type zeroCost struct{}

func (zeroCost) Estimate(cost.Query) domain.CostBreakdown { return domain.CostBreakdown{} }

func TestPaperSettlement(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := aggregator.StalenessPolicy{Stream: time.Minute, Pool: time.Minute}
	agg := aggregator.New(policy)
	det := arbitrage.NewDetector(arbitrage.DetectorConfig{
		MinSpreadBps: decimal.NewFromInt(10),
		SafetyFactor: decimal.RequireFromString("0.5"),
		MaxTradeSize: decimal.NewFromInt(1000),
		Staleness:    policy,
		Costs:        zeroCost{},
		Logger:       logger,
	})
	now := time.Now()
	put := func(venue, price string) {
		agg.Ingest(domain.PriceTick{
			VenueID: venue, Kind: domain.VenueKindStream, Symbol: "ETH/USDC",
			Price: decimal.RequireFromString(price), LiquidityDepth: decimal.NewFromInt(1000000),
			ObservedAt: time.Now(),
		})
	}
	put("A", "100")
	put("B", "101")

	opp, ok := det.Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now)
	if !ok {
		t.Fatal("no opportunity")
	}
	paper := NewPaperSettlement(agg, det, 0, logger)
	req := domain.ExecutionRequest{
		Key: opp.Key, Symbol: opp.Symbol, BuyVenue: opp.BuyVenue, SellVenue: opp.SellVenue,
		TradeSize: opp.TradeSize, MinNetOutput: decimal.NewFromInt(1),
	}

	h, err := paper.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	out, err := paper.AwaitOutcome(context.Background(), h)
	if err != nil || out.Kind != domain.OutcomeConfirmed {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
	if !out.RealizedProfit.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("realized = %s", out.RealizedProfit)
	}

	h, _ = paper.Submit(context.Background(), req)
	put("B", "99")
	out, err = paper.AwaitOutcome(context.Background(), h)
	if err != nil || out.Kind != domain.OutcomeReverted {
		t.Fatalf("outcome after spread closed = %+v, %v", out, err)
	}

	if _, err := paper.AwaitOutcome(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error for unknown handle")
	}
}
