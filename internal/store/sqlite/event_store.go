package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// EventStore implements domain.EventStore on SQLite.
type EventStore struct {
	d *DB
}

// NewEventStore creates an EventStore on d.
func NewEventStore(d *DB) *EventStore {
	return &EventStore{d: d}
}

// InsertBatch appends events in one transaction.
func (s *EventStore) InsertBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (event_type, at_ns, venue, symbol, fields) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert event: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		fields, err := json.Marshal(ev.Fields())
		if err != nil {
			return fmt.Errorf("sqlite: marshal event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, string(ev.Type), ev.At.UnixNano(), ev.VenueID, ev.Symbol, string(fields)); err != nil {
			return fmt.Errorf("sqlite: insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit events: %w", err)
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
	var since, until int64 = 0, 1<<63 - 1
	if opts.Since != nil {
		since = opts.Since.UnixNano()
	}
	if opts.Until != nil {
		until = opts.Until.UnixNano()
	}
	rows, err := s.d.db.QueryContext(ctx, `
		SELECT id, event_type, at_ns, fields FROM events
		WHERE (? = '' OR event_type = ?) AND at_ns >= ? AND at_ns < ?
		ORDER BY at_ns DESC, id DESC
		LIMIT ? OFFSET ?`,
		string(eventType), string(eventType), since, until, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredEvent
	for rows.Next() {
		var (
			ev     domain.StoredEvent
			typ    string
			atNs   int64
			fields string
		)
		if err := rows.Scan(&ev.ID, &typ, &atNs, &fields); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.At = time.Unix(0, atNs).UTC()
		if err := json.Unmarshal([]byte(fields), &ev.Fields); err != nil {
			return nil, fmt.Errorf("sqlite: decode event %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
