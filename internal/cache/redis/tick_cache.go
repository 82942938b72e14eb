package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// TickCache implements domain.TickCache with one hash per symbol at
// "tick:{symbol}", one field per venue.
type TickCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTickCache creates a TickCache. A positive ttl expires a symbol's hash
// when no venue has updated it for that long.
func NewTickCache(c *Client, ttl time.Duration) *TickCache {
	return &TickCache{rdb: c.Redis(), ttl: ttl}
}

func tickKey(symbol string) string {
	return "tick:" + symbol
}

type cachedTick struct {
	Kind       domain.VenueKind `json:"kind"`
	Price      decimal.Decimal  `json:"price"`
	Depth      decimal.Decimal  `json:"depth"`
	ObservedAt int64            `json:"observed_at"`
	Sequence   uint64           `json:"seq"`
	Bid        decimal.Decimal  `json:"bid,omitzero"`
	Ask        decimal.Decimal  `json:"ask,omitzero"`
}

// SetTick stores tick under its symbol and venue.
func (tc *TickCache) SetTick(ctx context.Context, tick domain.PriceTick) error {
	raw, err := json.Marshal(cachedTick{
		Kind:       tick.Kind,
		Price:      tick.Price,
		Depth:      tick.LiquidityDepth,
		ObservedAt: tick.ObservedAt.UnixNano(),
		Sequence:   tick.Sequence,
		Bid:        tick.Bid,
		Ask:        tick.Ask,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal tick: %w", err)
	}
	key := tickKey(tick.Symbol)
	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, key, tick.VenueID, raw)
	if tc.ttl > 0 {
		pipe.Expire(ctx, key, tc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tick %s/%s: %w", tick.Symbol, tick.VenueID, err)
	}
	return nil
}

// GetTicks returns the latest cached tick per venue for symbol. It returns
// domain.ErrNotFound when nothing is cached.
func (tc *TickCache) GetTicks(ctx context.Context, symbol string) (map[string]domain.PriceTick, error) {
	vals, err := tc.rdb.HGetAll(ctx, tickKey(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get ticks %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}
	out := make(map[string]domain.PriceTick, len(vals))
	for venue, raw := range vals {
		var ct cachedTick
		if err := json.Unmarshal([]byte(raw), &ct); err != nil {
			continue
		}
		out[venue] = domain.PriceTick{
			VenueID:        venue,
			Kind:           ct.Kind,
			Symbol:         symbol,
			Price:          ct.Price,
			LiquidityDepth: ct.Depth,
			ObservedAt:     time.Unix(0, ct.ObservedAt),
			Sequence:       ct.Sequence,
			Bid:            ct.Bid,
			Ask:            ct.Ask,
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
