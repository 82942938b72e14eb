// Package arbitrage scans aggregated venue prices for cross-venue spreads
// that remain profitable after estimated costs.
package arbitrage

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/cost"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

var bpsScale = decimal.NewFromInt(10000)

// CostEstimator prices a candidate trade. It must not block.
type CostEstimator interface {
	Estimate(q cost.Query) domain.CostBreakdown
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	// MinSpreadBps is the gross spread a pair must exceed before costs are
	// considered.
	MinSpreadBps decimal.Decimal
	// SafetyFactor scales each leg's depth when sizing, e.g. 0.5.
	SafetyFactor decimal.Decimal
	MaxTradeSize decimal.Decimal
	Staleness    aggregator.StalenessPolicy
	Costs        CostEstimator
	Logger       *slog.Logger
}

// Detector evaluates every live venue pair of a symbol.
type Detector struct {
	minSpreadBps decimal.Decimal
	safety       decimal.Decimal
	maxTradeSize decimal.Decimal
	staleness    aggregator.StalenessPolicy
	costs        CostEstimator
	logger       *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		minSpreadBps: cfg.MinSpreadBps,
		safety:       cfg.SafetyFactor,
		maxTradeSize: cfg.MaxTradeSize,
		staleness:    cfg.Staleness,
		costs:        cfg.Costs,
		logger:       cfg.Logger.With(slog.String("component", "arb_detector")),
	}
}

// Detect returns the best opportunity for symbol, if any.
func (d *Detector) Detect(symbol string, snap aggregator.Snapshot, now time.Time) (domain.Opportunity, bool) {
	opps := d.Evaluate(symbol, snap, now)
	if len(opps) == 0 {
		return domain.Opportunity{}, false
	}
	return opps[0], true
}

// Evaluate returns every profitable opportunity for symbol ordered by
// estimated net profit, then trade size, both descending.
func (d *Detector) Evaluate(symbol string, snap aggregator.Snapshot, now time.Time) []domain.Opportunity {
	live := snap.Live(now, d.staleness)
	if len(live) < 2 {
		return nil
	}

	var out []domain.Opportunity
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			buy, sell := live[i], live[j]
			if buy.Price.GreaterThan(sell.Price) {
				buy, sell = sell, buy
			}
			opp, reason := d.price(symbol, buy, sell, now)
			if reason != "" {
				continue
			}
			out = append(out, opp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.EstimatedNetProfit.Cmp(b.EstimatedNetProfit); c != 0 {
			return c > 0
		}
		if c := a.TradeSize.Cmp(b.TradeSize); c != 0 {
			return c > 0
		}
		if a.BuyVenue != b.BuyVenue {
			return a.BuyVenue < b.BuyVenue
		}
		return a.SellVenue < b.SellVenue
	})

	for _, o := range out {
		d.logger.Debug("opportunity evaluated",
			slog.String("symbol", symbol),
			slog.String("buy", o.BuyVenue),
			slog.String("sell", o.SellVenue),
			slog.String("gross_bps", o.GrossSpreadBps.StringFixed(2)),
			slog.String("net_profit", o.EstimatedNetProfit.StringFixed(6)),
		)
	}
	return out
}

// Revalidate recomputes opp's venue pair against a fresh snapshot. It returns
// the refreshed opportunity, or a reason code when the trade no longer holds.
func (d *Detector) Revalidate(opp domain.Opportunity, snap aggregator.Snapshot, now time.Time) (domain.Opportunity, string) {
	buy, ok := snap.Tick(opp.BuyVenue)
	if !ok || !d.staleness.Fresh(buy, now) {
		return domain.Opportunity{}, domain.ReasonInvalidated
	}
	sell, ok := snap.Tick(opp.SellVenue)
	if !ok || !d.staleness.Fresh(sell, now) {
		return domain.Opportunity{}, domain.ReasonInvalidated
	}
	if !sell.SellPrice().GreaterThan(buy.BuyPrice()) {
		return domain.Opportunity{}, domain.ReasonInvalidated
	}
	return d.price(opp.Symbol, buy, sell, now)
}

// price sizes and costs a directed pair. The buy leg pays the ask and the
// sell leg receives the bid. A non-empty reason means the pair was rejected.
func (d *Detector) price(symbol string, buy, sell domain.PriceTick, now time.Time) (domain.Opportunity, string) {
	buyPrice, sellPrice := buy.BuyPrice(), sell.SellPrice()
	if !buyPrice.IsPositive() {
		return domain.Opportunity{}, domain.ReasonInvalidated
	}
	grossBps := sellPrice.Sub(buyPrice).Div(buyPrice).Mul(bpsScale)
	if !grossBps.GreaterThan(d.minSpreadBps) {
		return domain.Opportunity{}, domain.ReasonInvalidated
	}

	size := decimal.Min(
		buy.LiquidityDepth.Mul(d.safety),
		sell.LiquidityDepth.Mul(d.safety),
		d.maxTradeSize,
	)
	if !size.IsPositive() {
		return domain.Opportunity{}, domain.ReasonUnprofitable
	}

	breakdown := d.costs.Estimate(cost.Query{
		BuyVenue:  buy.VenueID,
		SellVenue: sell.VenueID,
		TradeSize: size,
		BuyDepth:  buy.LiquidityDepth,
		SellDepth: sell.LiquidityDepth,
		At:        now,
	})
	costBps := breakdown.TotalBps()
	net := size.Mul(grossBps.Sub(costBps)).Div(bpsScale)
	if !net.IsPositive() {
		return domain.Opportunity{}, domain.ReasonUnprofitable
	}

	return domain.Opportunity{
		Key:                domain.NewOpportunityKey(symbol, buy.VenueID, sell.VenueID),
		Symbol:             symbol,
		BuyVenue:           buy.VenueID,
		SellVenue:          sell.VenueID,
		BuyPrice:           buyPrice,
		SellPrice:          sellPrice,
		TradeSize:          size,
		GrossSpreadBps:     grossBps,
		EstimatedCostBps:   costBps,
		Cost:               breakdown,
		EstimatedNetProfit: net,
		DetectedAt:         now,
	}, ""
}
