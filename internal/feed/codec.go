package feed

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Quote is a top-of-book update decoded from a venue message.
type Quote struct {
	Instrument string
	Bid        decimal.Decimal
	BidQty     decimal.Decimal
	Ask        decimal.Decimal
	AskQty     decimal.Decimal
	Sequence   uint64
}

// Valid reports whether the quote has a usable two-sided book.
func (q Quote) Valid() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive() && q.BidQty.IsPositive() && q.AskQty.IsPositive()
}

// Mid returns the midpoint of bid and ask.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Depth returns the smaller side of the top level in quote units.
func (q Quote) Depth() decimal.Decimal {
	return decimal.Min(q.Bid.Mul(q.BidQty), q.Ask.Mul(q.AskQty))
}

// Codec speaks one venue's websocket dialect.
type Codec interface {
	Name() string
	// Instrument maps a canonical symbol to the venue's instrument name.
	Instrument(symbol string) string
	Subscribe(instrument string) ([]byte, error)
	Unsubscribe(instrument string) ([]byte, error)
	// Decode parses one inbound message. ok is false for messages that carry
	// no quote, such as subscription acks.
	Decode(data []byte) (q Quote, ok bool, err error)
}

// CodecByName returns the codec for a configured venue dialect.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "binance":
		return BinanceCodec{}, nil
	case "okx":
		return OKXCodec{}, nil
	default:
		return nil, fmt.Errorf("feed: unknown codec %q", name)
	}
}

func splitSymbol(symbol string) (base, quote string) {
	s := domain.NormalizeSymbol(symbol)
	base, quote, _ = strings.Cut(s, "/")
	return base, quote
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
