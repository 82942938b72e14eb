// Package feed turns venue market data into normalized price ticks. Stream
// sources hold a websocket per (venue, symbol); pool sources poll on-chain
// reserves.
package feed

import (
	"context"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Source produces ticks for one venue until ctx is cancelled. Run returns
// nil on a clean stop; connectivity problems are reported as health events,
// never as errors.
type Source interface {
	Venue() string
	Kind() domain.VenueKind
	Run(ctx context.Context, out chan<- domain.PriceTick) error
}

// Emitter receives health events. Emit must not block.
type Emitter interface {
	Emit(ev domain.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(domain.Event) {}

func health(typ domain.EventType, venue, symbol, detail string) domain.Event {
	return domain.Event{
		Type:    typ,
		At:      time.Now(),
		VenueID: venue,
		Symbol:  symbol,
		Detail:  detail,
	}
}

// send delivers t unless ctx is done first.
func send(ctx context.Context, out chan<- domain.PriceTick, t domain.PriceTick) bool {
	select {
	case out <- t:
		return true
	case <-ctx.Done():
		return false
	}
}
