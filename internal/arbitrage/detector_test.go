package arbitrage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/cost"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

type flatCost struct{ bps decimal.Decimal }

func (f flatCost) Estimate(cost.Query) domain.CostBreakdown {
	return domain.CostBreakdown{FeeBps: f.bps}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

var policy = aggregator.StalenessPolicy{Stream: 5 * time.Second, Pool: 30 * time.Second}

func newDetector(costBps string) *Detector {
	return NewDetector(DetectorConfig{
		MinSpreadBps: d("200"),
		SafetyFactor: d("0.5"),
		MaxTradeSize: d("50000"),
		Staleness:    policy,
		Costs:        flatCost{bps: d(costBps)},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func ingest(agg *aggregator.Aggregator, venue string, kind domain.VenueKind, price, depth string, at time.Time) {
	agg.Ingest(domain.PriceTick{
		VenueID: venue, Kind: kind, Symbol: "ETH/USDC",
		Price: d(price), LiquidityDepth: d(depth), ObservedAt: at,
	})
}

func TestDetect_BasicSpread(t *testing.T) {
	agg := aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "100000", now.Add(-time.Second))
	ingest(agg, "B", domain.VenueKindStream, "103", "100000", now.Add(-time.Second))

	opp, ok := newDetector("10").Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now)
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if opp.BuyVenue != "A" || opp.SellVenue != "B" {
		t.Fatalf("direction = buy %s sell %s", opp.BuyVenue, opp.SellVenue)
	}
	if !opp.GrossSpreadBps.Equal(d("300")) {
		t.Fatalf("gross = %s, want 300", opp.GrossSpreadBps)
	}
	if !opp.TradeSize.Equal(d("50000")) {
		t.Fatalf("size = %s", opp.TradeSize)
	}
	// 50000 * (300 - 10) / 10000
	if !opp.EstimatedNetProfit.Equal(d("1450")) {
		t.Fatalf("net = %s", opp.EstimatedNetProfit)
	}
	if opp.Key != domain.NewOpportunityKey("ETH/USDC", "A", "B") {
		t.Fatal("unexpected key")
	}
}

func TestDetect_StaleVenueExcluded(t *testing.T) {
	agg := aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "100000", now.Add(-time.Second))
	ingest(agg, "B", domain.VenueKindStream, "103", "100000", now.Add(-10*time.Second))

	if _, ok := newDetector("10").Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now); ok {
		t.Fatal("stale venue must not be used")
	}
}

func TestDetect_BelowThresholdOrUnprofitable(t *testing.T) {
	agg := aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "100000", now)
	ingest(agg, "B", domain.VenueKindStream, "102", "100000", now)
	if _, ok := newDetector("0").Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now); ok {
		t.Fatal("spread equal to threshold must not qualify")
	}

	agg = aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "100000", now)
	ingest(agg, "B", domain.VenueKindStream, "103", "100000", now)
	if _, ok := newDetector("300").Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now); ok {
		t.Fatal("zero net profit must not qualify")
	}
}

func TestEvaluate_OrderingAndSizing(t *testing.T) {
	agg := aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "1000", now)
	ingest(agg, "B", domain.VenueKindPool, "104", "400000", now)
	ingest(agg, "C", domain.VenueKindStream, "100", "200000", now)

	opps := newDetector("10").Evaluate("ETH/USDC", agg.Snapshot("ETH/USDC"), now)
	if len(opps) != 2 {
		t.Fatalf("got %d opportunities", len(opps))
	}
	// C->B is capped at max trade size; A->B is limited by A's shallow depth.
	if opps[0].BuyVenue != "C" || !opps[0].TradeSize.Equal(d("50000")) {
		t.Fatalf("first = %s size %s", opps[0].BuyVenue, opps[0].TradeSize)
	}
	if opps[1].BuyVenue != "A" || !opps[1].TradeSize.Equal(d("500")) {
		t.Fatalf("second = %s size %s", opps[1].BuyVenue, opps[1].TradeSize)
	}
}

func TestEvaluate_TieBreakOnSize(t *testing.T) {
	agg := aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "100000", now)
	ingest(agg, "B", domain.VenueKindStream, "103", "100000", now)
	ingest(agg, "C", domain.VenueKindStream, "100", "100000", now)

	opps := newDetector("10").Evaluate("ETH/USDC", agg.Snapshot("ETH/USDC"), now)
	if len(opps) != 2 {
		t.Fatalf("got %d", len(opps))
	}
	if opps[0].BuyVenue != "A" || opps[1].BuyVenue != "C" {
		t.Fatalf("tie order = %s, %s", opps[0].BuyVenue, opps[1].BuyVenue)
	}
}

func TestDetect_SingleVenue(t *testing.T) {
	agg := aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "100000", now)
	if _, ok := newDetector("0").Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now); ok {
		t.Fatal("one venue cannot produce an opportunity")
	}
}

func TestRevalidate(t *testing.T) {
	agg := aggregator.New(policy)
	ingest(agg, "A", domain.VenueKindStream, "100", "100000", now)
	ingest(agg, "B", domain.VenueKindStream, "103", "100000", now)
	det := newDetector("10")
	opp, _ := det.Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now)

	if _, reason := det.Revalidate(opp, agg.Snapshot("ETH/USDC"), now); reason != "" {
		t.Fatalf("fresh revalidation failed: %s", reason)
	}

	ingest(agg, "B", domain.VenueKindStream, "99", "100000", now.Add(time.Second))
	if _, reason := det.Revalidate(opp, agg.Snapshot("ETH/USDC"), now.Add(time.Second)); reason != domain.ReasonInvalidated {
		t.Fatalf("reason = %q, want invalidated", reason)
	}

	if _, reason := det.Revalidate(opp, agg.Snapshot("ETH/USDC"), now.Add(time.Minute)); reason != domain.ReasonInvalidated {
		t.Fatalf("stale reason = %q", reason)
	}
}

func TestDetect_LegsPricedAtTouch(t *testing.T) {
	quote := func(agg *aggregator.Aggregator, venue, bid, ask string) {
		b, a := d(bid), d(ask)
		agg.Ingest(domain.PriceTick{
			VenueID: venue, Kind: domain.VenueKindStream, Symbol: "ETH/USDC",
			Price: b.Add(a).Div(d("2")), Bid: b, Ask: a,
			LiquidityDepth: d("100000"), ObservedAt: now,
		})
	}

	// Mids are 100 and 104, but buying at 101 and selling at 102.9 clears
	// only about 188 bps.
	agg := aggregator.New(policy)
	quote(agg, "A", "99", "101")
	quote(agg, "B", "102.9", "105.1")
	if opp, ok := newDetector("0").Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now); ok {
		t.Fatalf("mid-to-mid spread admitted: %+v", opp)
	}

	agg = aggregator.New(policy)
	ingest(agg, "pool", domain.VenueKindPool, "100", "100000", now)
	quote(agg, "B", "103", "105")
	opp, ok := newDetector("0").Detect("ETH/USDC", agg.Snapshot("ETH/USDC"), now)
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if opp.BuyVenue != "pool" || !opp.BuyPrice.Equal(d("100")) || !opp.SellPrice.Equal(d("103")) {
		t.Fatalf("legs = buy %s@%s sell %s@%s", opp.BuyVenue, opp.BuyPrice, opp.SellVenue, opp.SellPrice)
	}
	if !opp.GrossSpreadBps.Equal(d("300")) {
		t.Fatalf("gross = %s, want 300", opp.GrossSpreadBps)
	}
}
