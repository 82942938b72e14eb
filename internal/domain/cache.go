package domain

import (
	"context"
	"time"
)

// TickCache mirrors the newest tick per (symbol, venue) so processes other
// than the engine can read prices. Entries expire; the aggregator stays the
// authority.
type TickCache interface {
	SetTick(ctx context.Context, tick PriceTick) error
	// GetTicks returns the cached ticks for symbol keyed by venue ID.
	GetTicks(ctx context.Context, symbol string) (map[string]PriceTick, error)
}

// Leaser grants short exclusive leases on opportunity keys so that two
// instances never execute the same gap. Acquire returns ErrLeaseHeld when
// another holder owns key.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
