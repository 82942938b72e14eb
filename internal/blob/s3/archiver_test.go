package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Upload(_ context.Context, key string, body io.Reader, size int64) error {
	if m.fail {
		return errors.New("unavailable")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return fmt.Errorf("size %d, body %d", size, len(b))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.ArchiveObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ArchiveObject
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.ArchiveObject{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func tickEvent(at time.Time, price int64) domain.Event {
	tick := domain.PriceTick{
		VenueID: "binance", Kind: domain.VenueKindStream, Symbol: "ETH/USDC",
		Price: decimal.NewFromInt(price), LiquidityDepth: decimal.NewFromInt(1000), ObservedAt: at,
	}
	return domain.Event{Type: domain.EventTickIngested, At: at, VenueID: "binance", Symbol: "ETH/USDC", Tick: &tick}
}

func TestArchiverUploadsWhenFull(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(ArchiverConfig{Prefix: "tel", MaxEvents: 3}, blobs)
	t0 := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	a.now = func() time.Time { return t0 }
	ctx := context.Background()

	if err := a.Write(ctx, []domain.Event{tickEvent(t0, 100), tickEvent(t0, 101)}); err != nil {
		t.Fatal(err)
	}
	if len(blobs.objects) != 0 {
		t.Fatalf("uploaded early")
	}
	if err := a.Write(ctx, []domain.Event{tickEvent(t0, 102)}); err != nil {
		t.Fatal(err)
	}
	if len(blobs.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(blobs.objects))
	}
	for key := range blobs.objects {
		if !strings.HasPrefix(key, "tel/2026/05/04/030201-") || !strings.HasSuffix(key, ".pb") {
			t.Errorf("unexpected key %s", key)
		}
		recs, err := ReadArchive(ctx, blobs, key)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 3 {
			t.Fatalf("records = %d", len(recs))
		}
		if recs[2]["price"] != "102" || recs[0]["type"] != "tick_ingested" {
			t.Errorf("record = %v", recs[2])
		}
	}
}

func TestArchiverFlushesOnAge(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(ArchiverConfig{MaxEvents: 100, MaxAge: time.Minute}, blobs)
	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	_ = a.Write(ctx, []domain.Event{tickEvent(now, 100)})
	now = now.Add(2 * time.Minute)
	_ = a.Write(ctx, []domain.Event{tickEvent(now, 101)})
	if len(blobs.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(blobs.objects))
	}
}

func TestArchiverKeepsBufferOnFailure(t *testing.T) {
	blobs := newMemBlobs()
	blobs.fail = true
	a := NewArchiver(ArchiverConfig{MaxEvents: 1}, blobs)
	ctx := context.Background()

	if err := a.Write(ctx, []domain.Event{tickEvent(time.Now(), 100)}); err == nil {
		t.Fatal("expected upload error")
	}
	blobs.fail = false
	if err := a.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	for key := range blobs.objects {
		recs, err := ReadArchive(ctx, blobs, key)
		if err != nil || len(recs) != 1 {
			t.Fatalf("recs=%v err=%v", recs, err)
		}
	}
	if err := a.Flush(ctx); err != nil || len(blobs.objects) != 1 {
		t.Fatalf("empty flush uploaded again: %v", err)
	}
}

func TestArchiverListDayAndRead(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(ArchiverConfig{Prefix: "tel", MaxEvents: 1}, blobs)
	day1 := time.Date(2026, 5, 4, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	ctx := context.Background()

	for _, at := range []time.Time{day1, day1.Add(30 * time.Second), day2} {
		a.now = func() time.Time { return at }
		if err := a.Write(ctx, []domain.Event{tickEvent(at, 100)}); err != nil {
			t.Fatal(err)
		}
	}

	objs, err := a.ListDay(ctx, day1)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 {
		t.Fatalf("day1 objects = %d, want 2", len(objs))
	}
	if objs[0].Key > objs[1].Key {
		t.Errorf("objects not sorted: %s, %s", objs[0].Key, objs[1].Key)
	}
	recs, err := a.Read(ctx, objs[0].Key)
	if err != nil || len(recs) != 1 {
		t.Fatalf("recs=%v err=%v", recs, err)
	}

	for _, key := range []string{"tel/missing.pb", "other/" + objs[0].Key} {
		if _, err := a.Read(ctx, key); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Read(%s) err = %v, want not found", key, err)
		}
	}
}
