package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VenueKind distinguishes the two price-source variants. Staleness thresholds
// are configured per kind because polling has inherently higher latency.
type VenueKind string

const (
	VenueKindStream VenueKind = "stream"
	VenueKindPool   VenueKind = "pool"
)

// PriceTick is a single normalized price observation from one venue.
type PriceTick struct {
	VenueID string
	Kind    VenueKind
	Symbol  string // canonical BASE/QUOTE, see CanonicalSymbol
	// Price is quote units per one base unit.
	Price decimal.Decimal
	// LiquidityDepth is the amount available at Price, in quote units.
	LiquidityDepth decimal.Decimal
	ObservedAt     time.Time
	// Sequence is the block number for pool sources and the exchange update id
	// for stream sources. It is only comparable within one source.
	Sequence uint64
	// Bid and Ask are the top of book for stream sources; Price is then
	// their midpoint. Pool sources leave both zero.
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// BuyPrice is the price paid when buying base on this venue: the ask when
// one is quoted, otherwise Price.
func (t PriceTick) BuyPrice() decimal.Decimal {
	if t.Ask.IsPositive() {
		return t.Ask
	}
	return t.Price
}

// SellPrice is the price received when selling base on this venue: the bid
// when one is quoted, otherwise Price.
func (t PriceTick) SellPrice() decimal.Decimal {
	if t.Bid.IsPositive() {
		return t.Bid
	}
	return t.Price
}

// Valid reports whether the tick can be used as a comparison point.
func (t PriceTick) Valid() bool {
	return t.VenueID != "" && t.Symbol != "" &&
		t.Price.IsPositive() && t.LiquidityDepth.IsPositive() && !t.ObservedAt.IsZero()
}

// CanonicalSymbol builds the venue-independent pair key, e.g. "ETH/USDC".
func CanonicalSymbol(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

// NormalizeSymbol canonicalizes an already-joined symbol such as "eth/usdc",
// "ETH-USDC" or "eth_usdc". Strings without a separator are upper-cased as-is.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			return CanonicalSymbol(base, quote)
		}
	}
	return strings.ToUpper(s)
}
