package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(context.Background(), filepath.Join(t.TempDir(), "flasharb.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestEventStoreInsertAndList(t *testing.T) {
	ctx := context.Background()
	s := NewEventStore(openTest(t))
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := domain.PriceTick{
		VenueID: "binance", Kind: domain.VenueKindStream, Symbol: "ETH/USDC",
		Price: decimal.NewFromInt(100), LiquidityDepth: decimal.NewFromInt(5000), ObservedAt: t0, Sequence: 7,
	}
	err := s.InsertBatch(ctx, []domain.Event{
		{Type: domain.EventSourceUp, At: t0, VenueID: "binance"},
		{Type: domain.EventTickIngested, At: t0.Add(time.Second), VenueID: "binance", Symbol: "ETH/USDC", Tick: &tick},
		{Type: domain.EventTickIngested, At: t0.Add(2 * time.Second), VenueID: "binance", Symbol: "ETH/USDC", Tick: &tick},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	ticks, err := s.List(ctx, domain.EventTickIngested, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("got %d tick events", len(ticks))
	}
	if !ticks[0].At.After(ticks[1].At) {
		t.Errorf("not newest first: %v, %v", ticks[0].At, ticks[1].At)
	}
	if ticks[0].Fields["price"] != "100" || ticks[0].Fields["sequence"] != float64(7) {
		t.Errorf("fields = %v", ticks[0].Fields)
	}

	until := t0.Add(time.Second)
	all, err := s.List(ctx, "", domain.ListOpts{Until: &until})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Type != domain.EventSourceUp {
		t.Fatalf("until filter returned %+v", all)
	}
}

func TestExecutionStoreRoundTripAndSum(t *testing.T) {
	ctx := context.Background()
	s := NewExecutionStore(openTest(t))
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := domain.NewOpportunityKey("ETH/USDC", "pool-a", "binance")

	recs := []domain.ExecutionRecord{
		{ID: "a", Key: key, Symbol: "ETH/USDC", BuyVenue: "pool-a", SellVenue: "binance",
			TradeSize: decimal.NewFromInt(50000), ExpectedProfit: decimal.NewFromInt(1450),
			RealizedProfit: decimal.RequireFromString("1400.25"), Status: domain.ExecConfirmed,
			Attempts: 1, Handle: "0x01", StartedAt: t0, CompletedAt: t0.Add(time.Second)},
		{ID: "b", Key: key, Symbol: "ETH/USDC", BuyVenue: "pool-a", SellVenue: "binance",
			TradeSize: decimal.NewFromInt(50000), ExpectedProfit: decimal.NewFromInt(1450),
			Status: domain.ExecFailed, Reason: domain.ReasonReverted,
			StartedAt: t0.Add(time.Minute), CompletedAt: t0.Add(time.Minute + time.Second)},
		{ID: "c", Key: key, Symbol: "ETH/USDC", BuyVenue: "pool-a", SellVenue: "binance",
			TradeSize: decimal.NewFromInt(10000), ExpectedProfit: decimal.NewFromInt(200),
			RealizedProfit: decimal.RequireFromString("99.75"), Status: domain.ExecConfirmed,
			StartedAt: t0.Add(2 * time.Minute), CompletedAt: t0.Add(2*time.Minute + time.Second)},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.ID, err)
		}
	}

	got, err := s.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Key != key || !got.RealizedProfit.Equal(decimal.RequireFromString("1400.25")) || got.Handle != "0x01" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing id err = %v", err)
	}

	recent, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Errorf("recent = %+v", recent)
	}

	total, err := s.SumRealized(ctx, t0)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != "1500" {
		t.Errorf("sum = %s, want 1500", total)
	}
	total, _ = s.SumRealized(ctx, t0.Add(time.Minute))
	if total != "99.75" {
		t.Errorf("sum since = %s, want 99.75", total)
	}
}
