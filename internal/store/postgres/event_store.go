package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertBatch appends events in a single round trip.
func (s *EventStore) InsertBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		fields, err := json.Marshal(ev.Fields())
		if err != nil {
			return fmt.Errorf("postgres: marshal event: %w", err)
		}
		batch.Queue(`
			INSERT INTO events (event_type, at, venue, symbol, fields)
			VALUES ($1, $2, $3, $4, $5)`,
			string(ev.Type), ev.At, ev.VenueID, ev.Symbol, fields,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert events: %w", err)
	}
	return nil
}

// List returns events of eventType, newest first. An empty eventType lists
// every type.
func (s *EventStore) List(ctx context.Context, eventType domain.EventType, opts domain.ListOpts) ([]domain.StoredEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, at, fields FROM events
		WHERE ($1 = '' OR event_type = $1)
		  AND ($2::timestamptz IS NULL OR at >= $2)
		  AND ($3::timestamptz IS NULL OR at < $3)
		ORDER BY at DESC, id DESC
		LIMIT $4 OFFSET $5`,
		string(eventType), opts.Since, opts.Until, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredEvent
	for rows.Next() {
		var (
			ev  domain.StoredEvent
			typ string
			at  time.Time
			raw []byte
		)
		if err := rows.Scan(&ev.ID, &typ, &at, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.At = at
		if err := json.Unmarshal(raw, &ev.Fields); err != nil {
			return nil, fmt.Errorf("postgres: decode event %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
