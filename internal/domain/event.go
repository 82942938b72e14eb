package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a telemetry record.
type EventType string

const (
	EventSourceUp            EventType = "source_up"
	EventSourceDegraded      EventType = "source_degraded"
	EventSourceUnavailable   EventType = "source_unavailable"
	EventTickIngested        EventType = "tick_ingested"
	EventOpportunityDetected EventType = "opportunity_detected"
	EventExecutionTransition EventType = "execution_transition"
)

// AllEventTypes lists every known event type.
var AllEventTypes = []EventType{
	EventSourceUp,
	EventSourceDegraded,
	EventSourceUnavailable,
	EventTickIngested,
	EventOpportunityDetected,
	EventExecutionTransition,
}

// Known reports whether t is one of AllEventTypes.
func (t EventType) Known() bool {
	for _, k := range AllEventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Event is one append-only telemetry record. Only the fields relevant to
// Type are populated.
type Event struct {
	Type EventType
	At   time.Time

	VenueID string
	Symbol  string
	Detail  string

	Tick        *PriceTick
	Opportunity *Opportunity
	Transition  *Transition
}

// Transition describes a single execution state change.
type Transition struct {
	ExecutionID    string
	Key            OpportunityKey
	Symbol         string
	From           ExecStatus
	To             ExecStatus
	Attempt        int
	Reason         string
	RealizedProfit decimal.Decimal
}

// Fields flattens the event into string-keyed values for sinks that store
// schemaless records.
func (e Event) Fields() map[string]any {
	f := map[string]any{
		"type": string(e.Type),
		"at":   e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.VenueID != "" {
		f["venue"] = e.VenueID
	}
	if e.Symbol != "" {
		f["symbol"] = e.Symbol
	}
	if e.Detail != "" {
		f["detail"] = e.Detail
	}
	if t := e.Tick; t != nil {
		f["price"] = t.Price.String()
		if t.Bid.IsPositive() && t.Ask.IsPositive() {
			f["bid"] = t.Bid.String()
			f["ask"] = t.Ask.String()
		}
		f["depth"] = t.LiquidityDepth.String()
		f["kind"] = string(t.Kind)
		f["sequence"] = float64(t.Sequence)
		f["observed_at"] = t.ObservedAt.UTC().Format(time.RFC3339Nano)
	}
	if o := e.Opportunity; o != nil {
		f["key"] = o.Key.String()
		f["buy_venue"] = o.BuyVenue
		f["sell_venue"] = o.SellVenue
		f["buy_price"] = o.BuyPrice.String()
		f["sell_price"] = o.SellPrice.String()
		f["trade_size"] = o.TradeSize.String()
		f["gross_bps"] = o.GrossSpreadBps.String()
		f["cost_bps"] = o.EstimatedCostBps.String()
		f["net_profit"] = o.EstimatedNetProfit.String()
		f["cost_degraded"] = o.Cost.Degraded
	}
	if tr := e.Transition; tr != nil {
		f["execution_id"] = tr.ExecutionID
		f["key"] = tr.Key.String()
		f["from"] = string(tr.From)
		f["to"] = string(tr.To)
		f["attempt"] = float64(tr.Attempt)
		if tr.Reason != "" {
			f["reason"] = tr.Reason
		}
		if tr.To.Terminal() {
			f["realized_profit"] = tr.RealizedProfit.String()
		}
	}
	return f
}
