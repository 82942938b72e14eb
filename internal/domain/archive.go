package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveObject is one uploaded batch of telemetry records.
type ArchiveObject struct {
	Key        string
	Size       int64
	UploadedAt time.Time
}

// ObjectStore is the object storage surface the telemetry archive uses.
// Open returns ErrNotFound for a missing key.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ArchiveObject, error)
}
