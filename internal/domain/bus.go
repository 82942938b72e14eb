package domain

import "context"

// StreamMessage is one durable entry read back from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus carries serialised telemetry out of the process. Streams are
// durable and replayable by ID; channels are fire-and-forget.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamRead returns up to count entries after lastID without blocking.
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
