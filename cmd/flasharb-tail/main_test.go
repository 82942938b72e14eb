package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type scriptedBus struct {
	pages [][]domain.StreamMessage
	seen  []string
}

func (b *scriptedBus) Publish(context.Context, string, []byte) error { return nil }

func (b *scriptedBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte, 2)
	ch <- []byte(`{"type":"source_up","venue":"a"}`)
	ch <- []byte(`{"type":"tick_ingested","venue":"a"}`)
	close(ch)
	return ch, nil
}

func (b *scriptedBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *scriptedBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	b.seen = append(b.seen, lastID)
	if len(b.pages) == 0 {
		return nil, nil
	}
	page := b.pages[0]
	b.pages = b.pages[1:]
	return page, nil
}

func TestParseTypes(t *testing.T) {
	got, err := parseTypes(" source_up, execution_transition ")
	if err != nil || len(got) != 2 || !got[domain.EventSourceUp] {
		t.Fatalf("got=%v err=%v", got, err)
	}
	if got, _ := parseTypes(""); got != nil {
		t.Fatalf("empty = %v", got)
	}
	if _, err := parseTypes("source_up,bogus"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestFollowFilters(t *testing.T) {
	var buf bytes.Buffer
	filter, _ := parseTypes("source_up")
	err := follow(context.Background(), &scriptedBus{}, "live", printer{w: &buf, filter: filter})
	if err != nil {
		t.Fatal(err)
	}
	if buf.String() != `{"type":"source_up","venue":"a"}`+"\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestReplayAdvancesCursor(t *testing.T) {
	bus := &scriptedBus{pages: [][]domain.StreamMessage{
		{{ID: "1-0", Payload: []byte(`{"type":"source_up"}`)}, {ID: "2-0", Payload: []byte(`{"type":"source_up"}`)}},
	}}
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 3*pollInterval/2)
	defer cancel()

	err := replay(ctx, bus, "events", "0", printer{w: &buf})
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v", err)
	}
	if len(bus.seen) < 2 || bus.seen[0] != "0" || bus.seen[1] != "2-0" {
		t.Fatalf("cursor sequence = %v", bus.seen)
	}
	if got := bytes.Count(buf.Bytes(), []byte("\n")); got != 2 {
		t.Fatalf("printed %d lines", got)
	}
}
