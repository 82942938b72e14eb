package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// InFlightTable holds the single active execution per opportunity key. A key
// with no entry is idle. It is safe for concurrent use, though all mutations
// come from the coordinator's owner goroutine.
type InFlightTable struct {
	entries map[domain.OpportunityKey]*domain.InFlightExecution
	mu      sync.Mutex
}

// NewInFlightTable creates an empty table.
func NewInFlightTable() *InFlightTable {
	return &InFlightTable{entries: make(map[domain.OpportunityKey]*domain.InFlightExecution)}
}

// Active reports whether key has a Pending or Submitted execution.
func (t *InFlightTable) Active(key domain.OpportunityKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return ok && e.Status.Active()
}

// Insert adds e. A second active entry for the same key is an invariant
// violation.
func (t *InFlightTable) Insert(e domain.InFlightExecution) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.entries[e.Key]; ok && cur.Status.Active() {
		return fmt.Errorf("executor: insert %s (current %s): %w", e.Key, cur.ID, domain.ErrInvariantViolation)
	}
	cp := e
	t.entries[e.Key] = &cp
	return nil
}

// Get returns a copy of the entry for key.
func (t *InFlightTable) Get(key domain.OpportunityKey) (domain.InFlightExecution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return domain.InFlightExecution{}, false
	}
	return *e, true
}

// Update applies fn to the entry for key if its id matches. It reports
// whether an entry was updated.
func (t *InFlightTable) Update(key domain.OpportunityKey, id string, fn func(e *domain.InFlightExecution)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || e.ID != id {
		return false
	}
	fn(e)
	return true
}

// Remove deletes the entry for key if its id matches, returning the key to
// idle.
func (t *InFlightTable) Remove(key domain.OpportunityKey, id string) (domain.InFlightExecution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || e.ID != id {
		return domain.InFlightExecution{}, false
	}
	delete(t.entries, key)
	return *e, true
}

// Len returns the number of tracked executions.
func (t *InFlightTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// List returns copies of all entries ordered by creation time.
func (t *InFlightTable) List() []domain.InFlightExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.InFlightExecution, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
