// Package aggregator keeps the latest price observation per venue for every
// tracked symbol.
package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// StalenessPolicy holds the maximum tick age per venue kind.
type StalenessPolicy struct {
	Stream time.Duration
	Pool   time.Duration
}

// MaxAge returns the threshold for kind. Unknown kinds use the stricter
// stream threshold.
func (p StalenessPolicy) MaxAge(kind domain.VenueKind) time.Duration {
	if kind == domain.VenueKindPool {
		return p.Pool
	}
	return p.Stream
}

// Fresh reports whether t is young enough to be a comparison point at now.
func (p StalenessPolicy) Fresh(t domain.PriceTick, now time.Time) bool {
	return now.Sub(t.ObservedAt) <= p.MaxAge(t.Kind)
}

// Snapshot is an immutable copy of one symbol's state.
type Snapshot struct {
	Symbol      string
	Ticks       map[string]domain.PriceTick // by venue id
	LastUpdated time.Time
}

// Live returns the ticks that are fresh at now, sorted by venue id.
func (s Snapshot) Live(now time.Time, policy StalenessPolicy) []domain.PriceTick {
	out := make([]domain.PriceTick, 0, len(s.Ticks))
	for _, t := range s.Ticks {
		if policy.Fresh(t, now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VenueID < out[j].VenueID })
	return out
}

// Tick returns the stored tick for venue, if any.
func (s Snapshot) Tick(venue string) (domain.PriceTick, bool) {
	t, ok := s.Ticks[venue]
	return t, ok
}

type symbolState struct {
	ticks       map[string]domain.PriceTick
	lastUpdated time.Time
}

// Aggregator holds per-symbol state. Ingest is called only from the engine
// goroutine; reads are safe from any goroutine.
type Aggregator struct {
	mu          sync.RWMutex
	symbols     map[string]*symbolState
	policy      StalenessPolicy
	subscribers []func(symbol string)
}

// New creates an empty aggregator.
func New(policy StalenessPolicy) *Aggregator {
	return &Aggregator{
		symbols: make(map[string]*symbolState),
		policy:  policy,
	}
}

// Policy returns the configured staleness policy.
func (a *Aggregator) Policy() StalenessPolicy {
	return a.policy
}

// OnUpdate registers fn to be called with the symbol after every accepted
// tick. Callbacks run synchronously on the ingesting goroutine.
func (a *Aggregator) OnUpdate(fn func(symbol string)) {
	a.mu.Lock()
	a.subscribers = append(a.subscribers, fn)
	a.mu.Unlock()
}

// Ingest stores tick if it is strictly newer than the venue's current slot.
// Equal or older ticks are dropped, which makes re-ingestion a no-op. It
// reports whether the tick was accepted.
func (a *Aggregator) Ingest(tick domain.PriceTick) bool {
	if !tick.Valid() {
		return false
	}

	a.mu.Lock()
	st, ok := a.symbols[tick.Symbol]
	if !ok {
		st = &symbolState{ticks: make(map[string]domain.PriceTick)}
		a.symbols[tick.Symbol] = st
	}
	if cur, ok := st.ticks[tick.VenueID]; ok && !tick.ObservedAt.After(cur.ObservedAt) {
		a.mu.Unlock()
		return false
	}
	st.ticks[tick.VenueID] = tick
	if tick.ObservedAt.After(st.lastUpdated) {
		st.lastUpdated = tick.ObservedAt
	}
	subs := a.subscribers
	a.mu.Unlock()

	for _, fn := range subs {
		fn(tick.Symbol)
	}
	return true
}

// Snapshot returns a copy of the symbol's state. Unknown symbols yield an
// empty snapshot.
func (a *Aggregator) Snapshot(symbol string) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{Symbol: symbol, Ticks: make(map[string]domain.PriceTick)}
	st, ok := a.symbols[symbol]
	if !ok {
		return snap
	}
	for v, t := range st.ticks {
		snap.Ticks[v] = t
	}
	snap.LastUpdated = st.lastUpdated
	return snap
}

// Live is shorthand for Snapshot(symbol).Live(now, policy).
func (a *Aggregator) Live(symbol string, now time.Time) []domain.PriceTick {
	return a.Snapshot(symbol).Live(now, a.policy)
}

// Symbols returns every symbol that has received at least one tick.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.symbols))
	for s := range a.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Venues returns the venue ids holding a tick for symbol.
func (a *Aggregator) Venues(symbol string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.symbols[symbol]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(st.ticks))
	for v := range st.ticks {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// LatestPrice returns the most recent fresh price for symbol across venues.
func (a *Aggregator) LatestPrice(symbol string, now time.Time) (domain.PriceTick, bool) {
	var best domain.PriceTick
	found := false
	for _, t := range a.Live(symbol, now) {
		if !found || t.ObservedAt.After(best.ObservedAt) {
			best, found = t, true
		}
	}
	return best, found
}
