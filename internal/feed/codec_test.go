package feed

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBinanceCodec(t *testing.T) {
	c := BinanceCodec{}
	if got := c.Instrument("eth/usdc"); got != "ETHUSDC" {
		t.Fatalf("Instrument = %q", got)
	}
	sub, err := c.Subscribe("ETHUSDC")
	if err != nil {
		t.Fatal(err)
	}
	if string(sub) != `{"method":"SUBSCRIBE","params":["ethusdc@bookTicker"],"id":1}` {
		t.Fatalf("Subscribe = %s", sub)
	}

	q, ok, err := c.Decode([]byte(`{"u":400900217,"s":"ETHUSDC","b":"3000.10","B":"2.5","a":"3000.30","A":"1.0"}`))
	if err != nil || !ok {
		t.Fatalf("Decode = %v, %v", ok, err)
	}
	if q.Sequence != 400900217 || !q.Mid().Equal(decimal.RequireFromString("3000.2")) {
		t.Fatalf("quote = %+v", q)
	}
	// min(3000.10*2.5, 3000.30*1.0)
	if !q.Depth().Equal(decimal.RequireFromString("3000.3")) {
		t.Fatalf("depth = %s", q.Depth())
	}

	if _, ok, err := c.Decode([]byte(`{"result":null,"id":1}`)); ok || err != nil {
		t.Fatalf("ack decoded as quote: %v %v", ok, err)
	}
	if _, _, err := c.Decode([]byte(`{"s":"ETHUSDC","b":"abc"}`)); err == nil {
		t.Fatal("expected error for malformed price")
	}
}

func TestOKXCodec(t *testing.T) {
	c := OKXCodec{}
	if got := c.Instrument("ETH/USDC"); got != "ETH-USDC" {
		t.Fatalf("Instrument = %q", got)
	}
	sub, _ := c.Subscribe("ETH-USDC")
	var req okxRequest
	if err := json.Unmarshal(sub, &req); err != nil || req.Op != "subscribe" || req.Args[0].Channel != "tickers" || req.Args[0].InstID != "ETH-USDC" {
		t.Fatalf("Subscribe = %s", sub)
	}

	msg := `{"arg":{"channel":"tickers","instId":"ETH-USDC"},"data":[{"instId":"ETH-USDC","bidPx":"2999","bidSz":"3","askPx":"3001","askSz":"4","ts":"1700000000123"}]}`
	q, ok, err := c.Decode([]byte(msg))
	if err != nil || !ok {
		t.Fatalf("Decode = %v, %v", ok, err)
	}
	if q.Sequence != 1700000000123 || !q.Mid().Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("quote = %+v", q)
	}

	if _, ok, _ := c.Decode([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"ETH-USDC"}}`)); ok {
		t.Fatal("subscribe ack decoded as quote")
	}
}

func TestCodecByName(t *testing.T) {
	if _, err := CodecByName("BINANCE"); err != nil {
		t.Fatal(err)
	}
	if _, err := CodecByName("kraken"); err == nil {
		t.Fatal("expected unknown codec error")
	}
}
