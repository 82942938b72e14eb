package cost

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
)

// AggregatorPricer reads the native token price from live aggregator state,
// e.g. ETH/USDC on an Ethereum settlement chain.
type AggregatorPricer struct {
	Agg    *aggregator.Aggregator
	Symbol string
}

var _ NativePricer = AggregatorPricer{}

// NativePrice returns the freshest live price for Symbol.
func (p AggregatorPricer) NativePrice(now time.Time) (decimal.Decimal, bool) {
	if p.Agg == nil || p.Symbol == "" {
		return decimal.Zero, false
	}
	t, ok := p.Agg.LatestPrice(p.Symbol, now)
	if !ok {
		return decimal.Zero, false
	}
	return t.Price, true
}
