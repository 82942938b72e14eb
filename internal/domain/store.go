package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists telemetry events.
type EventStore interface {
	InsertBatch(ctx context.Context, events []Event) error
	List(ctx context.Context, eventType EventType, opts ListOpts) ([]StoredEvent, error)
}

// StoredEvent is a telemetry event read back from a store.
type StoredEvent struct {
	ID     int64
	Type   EventType
	At     time.Time
	Fields map[string]any
}

// ExecutionStore persists finished executions for PnL tracking.
type ExecutionStore interface {
	Record(ctx context.Context, rec ExecutionRecord) error
	GetByID(ctx context.Context, id string) (ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	SumRealized(ctx context.Context, since time.Time) (string, error)
}
