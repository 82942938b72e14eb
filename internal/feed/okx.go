package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// OKXCodec decodes the public tickers channel.
type OKXCodec struct{}

var _ Codec = OKXCodec{}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxRequest struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args"`
}

type okxTicker struct {
	InstID string `json:"instId"`
	BidPx  string `json:"bidPx"`
	BidSz  string `json:"bidSz"`
	AskPx  string `json:"askPx"`
	AskSz  string `json:"askSz"`
	Ts     string `json:"ts"`
}

type okxMessage struct {
	Event string      `json:"event"`
	Arg   okxArg      `json:"arg"`
	Data  []okxTicker `json:"data"`
}

func (OKXCodec) Name() string { return "okx" }

func (OKXCodec) Instrument(symbol string) string {
	base, quote := splitSymbol(symbol)
	return base + "-" + quote
}

func (OKXCodec) Subscribe(instrument string) ([]byte, error) {
	return json.Marshal(okxRequest{Op: "subscribe", Args: []okxArg{{Channel: "tickers", InstID: instrument}}})
}

func (OKXCodec) Unsubscribe(instrument string) ([]byte, error) {
	return json.Marshal(okxRequest{Op: "unsubscribe", Args: []okxArg{{Channel: "tickers", InstID: instrument}}})
}

// Decode uses the last entry of data; the ticker timestamp in milliseconds
// doubles as the sequence.
func (OKXCodec) Decode(data []byte) (Quote, bool, error) {
	var msg okxMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Quote{}, false, fmt.Errorf("okx: decode: %w", err)
	}
	if msg.Event != "" || msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
		return Quote{}, false, nil
	}
	d := msg.Data[len(msg.Data)-1]

	var q Quote
	var err error
	q.Instrument = d.InstID
	if d.Ts != "" {
		if q.Sequence, err = strconv.ParseUint(d.Ts, 10, 64); err != nil {
			return Quote{}, false, fmt.Errorf("okx: ts: %w", err)
		}
	}
	if q.Bid, err = parseDecimal(d.BidPx); err != nil {
		return Quote{}, false, fmt.Errorf("okx: bid: %w", err)
	}
	if q.BidQty, err = parseDecimal(d.BidSz); err != nil {
		return Quote{}, false, fmt.Errorf("okx: bid size: %w", err)
	}
	if q.Ask, err = parseDecimal(d.AskPx); err != nil {
		return Quote{}, false, fmt.Errorf("okx: ask: %w", err)
	}
	if q.AskQty, err = parseDecimal(d.AskSz); err != nil {
		return Quote{}, false, fmt.Errorf("okx: ask size: %w", err)
	}
	return q, true, nil
}
