package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []domain.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStreamRoutesByEventType(t *testing.T) {
	all := &recordingSink{name: "all"}
	execs := &recordingSink{name: "execs"}
	s := NewStream(Config{FlushInterval: 10 * time.Millisecond}, []Route{
		{Sink: all},
		{Sink: execs, Events: []domain.EventType{domain.EventExecutionTransition}},
	}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	s.Emit(domain.Event{Type: domain.EventSourceUp, VenueID: "binance"})
	s.Emit(domain.Event{Type: domain.EventExecutionTransition, Transition: &domain.Transition{ExecutionID: "x"}})
	s.Emit(domain.Event{Type: domain.EventTickIngested})
	cancel()
	<-done

	if got := all.types(); len(got) != 3 {
		t.Fatalf("all sink got %v", got)
	}
	got := execs.types()
	if len(got) != 1 || got[0] != domain.EventExecutionTransition {
		t.Fatalf("filtered sink got %v", got)
	}
}

func TestStreamDropsWhenFull(t *testing.T) {
	s := NewStream(Config{Buffer: 2}, nil, discard())
	for i := 0; i < 5; i++ {
		s.Emit(domain.Event{Type: domain.EventTickIngested})
	}
	if s.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", s.Dropped())
	}
}

func TestParseEventTypes(t *testing.T) {
	got := ParseEventTypes([]string{" source_up ", "", "execution_transition"})
	if len(got) != 2 || got[0] != domain.EventSourceUp || got[1] != domain.EventExecutionTransition {
		t.Fatalf("got %v", got)
	}
}

type memExecStore struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
}

func (m *memExecStore) Record(_ context.Context, rec domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memExecStore) GetByID(context.Context, string) (domain.ExecutionRecord, error) {
	return domain.ExecutionRecord{}, domain.ErrNotFound
}

func (m *memExecStore) ListRecent(context.Context, int) ([]domain.ExecutionRecord, error) {
	return nil, nil
}

func (m *memExecStore) SumRealized(context.Context, time.Time) (string, error) {
	return "0", nil
}

func TestExecutionSinkRecordsTerminalTransitions(t *testing.T) {
	store := &memExecStore{}
	sink := NewExecutionSink(store)
	key := domain.NewOpportunityKey("ETH/USDC", "a", "b")
	opp := domain.Opportunity{
		Key: key, Symbol: "ETH/USDC", BuyVenue: "a", SellVenue: "b",
		TradeSize: decimal.NewFromInt(50000), EstimatedNetProfit: decimal.NewFromInt(1450),
	}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := func(from, to domain.ExecStatus, attempt int, handle string, at time.Time) domain.Event {
		return domain.Event{
			Type: domain.EventExecutionTransition, At: at, Detail: handle, Opportunity: &opp,
			Transition: &domain.Transition{
				ExecutionID: "e1", Key: key, Symbol: "ETH/USDC", From: from, To: to, Attempt: attempt,
				RealizedProfit: decimal.NewFromInt(1400),
			},
		}
	}
	events := []domain.Event{
		tr(domain.ExecIdle, domain.ExecPending, 0, "", t0),
		tr(domain.ExecPending, domain.ExecSubmitted, 0, "", t0),
		tr(domain.ExecSubmitted, domain.ExecSubmitted, 1, "0xabc", t0.Add(time.Second)),
		{Type: domain.EventTickIngested},
	}
	if err := sink.Write(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	if len(store.records) != 0 {
		t.Fatalf("recorded before terminal: %+v", store.records)
	}
	if err := sink.Write(context.Background(), []domain.Event{
		tr(domain.ExecSubmitted, domain.ExecConfirmed, 1, "0xabc", t0.Add(2*time.Second)),
	}); err != nil {
		t.Fatal(err)
	}
	if len(store.records) != 1 {
		t.Fatalf("records = %d", len(store.records))
	}
	rec := store.records[0]
	if rec.Status != domain.ExecConfirmed || rec.Attempts != 1 || rec.Handle != "0xabc" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.RealizedProfit.Equal(decimal.NewFromInt(1400)) || !rec.ExpectedProfit.Equal(decimal.NewFromInt(1450)) {
		t.Errorf("profit fields %s / %s", rec.RealizedProfit, rec.ExpectedProfit)
	}
	if !rec.StartedAt.Equal(t0) || rec.CompletedAt.Sub(rec.StartedAt) != 2*time.Second {
		t.Errorf("timestamps %v - %v", rec.StartedAt, rec.CompletedAt)
	}
	if len(sink.pending) != 0 {
		t.Errorf("pending not cleared")
	}
}

type memTickCache struct {
	ticks map[string]domain.PriceTick
}

func (m *memTickCache) SetTick(_ context.Context, t domain.PriceTick) error {
	m.ticks[t.Symbol+"@"+t.VenueID] = t
	return nil
}

func (m *memTickCache) GetTicks(context.Context, string) (map[string]domain.PriceTick, error) {
	return m.ticks, nil
}

func TestTickCacheSinkMirrorsTicks(t *testing.T) {
	c := &memTickCache{ticks: map[string]domain.PriceTick{}}
	sink := NewTickCacheSink(c)
	tick := domain.PriceTick{VenueID: "okx", Symbol: "ETH/USDC", Price: decimal.NewFromInt(100)}
	err := sink.Write(context.Background(), []domain.Event{
		{Type: domain.EventTickIngested, Tick: &tick},
		{Type: domain.EventSourceUp, VenueID: "okx"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.ticks["ETH/USDC@okx"]; !ok || len(c.ticks) != 1 {
		t.Fatalf("cache = %v", c.ticks)
	}
}

type memBus struct {
	appended  map[string][][]byte
	published map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{appended: map[string][][]byte{}, published: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusSinkStreamsAndPublishes(t *testing.T) {
	bus := newMemBus()
	sink := NewBusSink(bus, "arb:events", "arb:live")
	evs := []domain.Event{
		{Type: domain.EventSourceUp, VenueID: "binance"},
		{Type: domain.EventSourceDegraded, VenueID: "okx"},
	}
	if err := sink.Write(context.Background(), evs); err != nil {
		t.Fatal(err)
	}
	if len(bus.appended["arb:events"]) != 2 || len(bus.published["arb:live"]) != 2 {
		t.Fatalf("appended=%d published=%d", len(bus.appended["arb:events"]), len(bus.published["arb:live"]))
	}

	streamOnly := newMemBus()
	if err := NewBusSink(streamOnly, "arb:events", "").Write(context.Background(), evs[:1]); err != nil {
		t.Fatal(err)
	}
	if len(streamOnly.published) != 0 || len(streamOnly.appended["arb:events"]) != 1 {
		t.Fatalf("stream-only sink published: %v", streamOnly.published)
	}
}
