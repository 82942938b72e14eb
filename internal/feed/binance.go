package feed

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BinanceCodec decodes the spot bookTicker stream.
type BinanceCodec struct{}

var _ Codec = BinanceCodec{}

type binanceRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceBookTicker struct {
	UpdateID uint64 `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	BidQty   string `json:"B"`
	Ask      string `json:"a"`
	AskQty   string `json:"A"`
	// Result is set on subscription acks only.
	Result *json.RawMessage `json:"result"`
}

func (BinanceCodec) Name() string { return "binance" }

func (BinanceCodec) Instrument(symbol string) string {
	base, quote := splitSymbol(symbol)
	return base + quote
}

func (BinanceCodec) Subscribe(instrument string) ([]byte, error) {
	return json.Marshal(binanceRequest{
		Method: "SUBSCRIBE",
		Params: []string{strings.ToLower(instrument) + "@bookTicker"},
		ID:     1,
	})
}

func (BinanceCodec) Unsubscribe(instrument string) ([]byte, error) {
	return json.Marshal(binanceRequest{
		Method: "UNSUBSCRIBE",
		Params: []string{strings.ToLower(instrument) + "@bookTicker"},
		ID:     2,
	})
}

func (BinanceCodec) Decode(data []byte) (Quote, bool, error) {
	var msg binanceBookTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		return Quote{}, false, fmt.Errorf("binance: decode: %w", err)
	}
	if msg.Symbol == "" {
		return Quote{}, false, nil
	}

	var q Quote
	var err error
	q.Instrument = msg.Symbol
	q.Sequence = msg.UpdateID
	if q.Bid, err = parseDecimal(msg.Bid); err != nil {
		return Quote{}, false, fmt.Errorf("binance: bid: %w", err)
	}
	if q.BidQty, err = parseDecimal(msg.BidQty); err != nil {
		return Quote{}, false, fmt.Errorf("binance: bid qty: %w", err)
	}
	if q.Ask, err = parseDecimal(msg.Ask); err != nil {
		return Quote{}, false, fmt.Errorf("binance: ask: %w", err)
	}
	if q.AskQty, err = parseDecimal(msg.AskQty); err != nil {
		return Quote{}, false, fmt.Errorf("binance: ask qty: %w", err)
	}
	return q, true, nil
}
