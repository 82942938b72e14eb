package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ArchiverConfig controls batching.
type ArchiverConfig struct {
	Prefix string
	// MaxEvents triggers an upload once this many events are buffered.
	MaxEvents int
	// MaxAge triggers an upload on the next write once the oldest buffered
	// event is this old.
	MaxAge time.Duration
}

// Archiver buffers telemetry events and uploads them as objects under
// Prefix/YYYY/MM/DD/. It is a telemetry sink.
type Archiver struct {
	cfg    ArchiverConfig
	store domain.ObjectStore
	now   func() time.Time

	mu      sync.Mutex
	buf     bytes.Buffer
	count   int
	started time.Time
}

// NewArchiver creates an Archiver uploading to store.
func NewArchiver(cfg ArchiverConfig, store domain.ObjectStore) *Archiver {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 5000
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Minute
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		cfg.Prefix = "telemetry"
	}
	return &Archiver{cfg: cfg, store: store, now: time.Now}
}

func (a *Archiver) Name() string { return "archive" }

// Write appends events to the buffer and uploads it when full or old.
func (a *Archiver) Write(ctx context.Context, events []domain.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ev := range events {
		msg, err := structpb.NewStruct(ev.Fields())
		if err != nil {
			return fmt.Errorf("s3blob: encode event: %w", err)
		}
		if _, err := protodelim.MarshalTo(&a.buf, msg); err != nil {
			return fmt.Errorf("s3blob: encode event: %w", err)
		}
		if a.count == 0 {
			a.started = a.now()
		}
		a.count++
	}
	if a.count >= a.cfg.MaxEvents || (a.count > 0 && a.now().Sub(a.started) >= a.cfg.MaxAge) {
		return a.flushLocked(ctx)
	}
	return nil
}

// Flush uploads whatever is buffered.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

func (a *Archiver) flushLocked(ctx context.Context) error {
	if a.count == 0 {
		return nil
	}
	key := a.objectKey(a.started)
	if err := a.store.Upload(ctx, key, bytes.NewReader(a.buf.Bytes()), int64(a.buf.Len())); err != nil {
		// Keep the buffer; the next flush retries with more data appended.
		return fmt.Errorf("s3blob: archive %d events: %w", a.count, err)
	}
	a.buf.Reset()
	a.count = 0
	return nil
}

func (a *Archiver) objectKey(t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("%s-%s.pb", t.Format("150405"), uuid.NewString())
	return path.Join(a.dayPrefix(t), name)
}

func (a *Archiver) dayPrefix(t time.Time) string {
	t = t.UTC()
	return path.Join(a.cfg.Prefix, t.Format("2006"), t.Format("01"), t.Format("02"))
}

// ListDay returns the archive objects whose batches started on day (UTC).
func (a *Archiver) ListDay(ctx context.Context, day time.Time) ([]domain.ArchiveObject, error) {
	objs, err := a.store.List(ctx, a.dayPrefix(day)+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list day %s: %w", day.UTC().Format(time.DateOnly), err)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

// Read fetches and decodes one archive object. Keys outside Prefix are
// reported as not found.
func (a *Archiver) Read(ctx context.Context, key string) ([]map[string]any, error) {
	if !strings.HasPrefix(key, a.cfg.Prefix+"/") {
		return nil, fmt.Errorf("s3blob: read %s: %w", key, domain.ErrNotFound)
	}
	return ReadArchive(ctx, a.store, key)
}

// DecodeArchive reads every record from an archive object body.
func DecodeArchive(r io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(r)
	var out []map[string]any
	for {
		msg := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(br, msg)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("s3blob: decode archive record %d: %w", len(out), err)
		}
		out = append(out, msg.AsMap())
	}
}

// ReadArchive fetches and decodes the object at key.
func ReadArchive(ctx context.Context, store domain.ObjectStore, key string) ([]map[string]any, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return DecodeArchive(body)
}
