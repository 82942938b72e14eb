package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// LogSink writes events as structured log lines. Tick events are logged at
// debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		level := slog.LevelInfo
		switch ev.Type {
		case domain.EventTickIngested:
			level = slog.LevelDebug
		case domain.EventSourceDegraded, domain.EventSourceUnavailable:
			level = slog.LevelWarn
		}
		f := ev.Fields()
		attrs := make([]slog.Attr, 0, len(f))
		for k, v := range f {
			if k == "type" {
				continue
			}
			attrs = append(attrs, slog.Any(k, v))
		}
		s.logger.LogAttrs(ctx, level, string(ev.Type), attrs...)
	}
	return nil
}

// StoreSink appends events to an EventStore.
type StoreSink struct {
	name  string
	store domain.EventStore
}

// NewStoreSink creates a sink named name backed by store.
func NewStoreSink(name string, store domain.EventStore) *StoreSink {
	return &StoreSink{name: name, store: store}
}

func (s *StoreSink) Name() string { return s.name }

func (s *StoreSink) Write(ctx context.Context, events []domain.Event) error {
	if err := s.store.InsertBatch(ctx, events); err != nil {
		return fmt.Errorf("telemetry: %s: %w", s.name, err)
	}
	return nil
}

// BusSink forwards each event as JSON to an EventBus: appended to stream
// for replay and published on channel for live readers. Either may be empty.
type BusSink struct {
	bus     domain.EventBus
	stream  string
	channel string
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.EventBus, stream, channel string) *BusSink {
	return &BusSink{bus: bus, stream: stream, channel: channel}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Write(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev.Fields())
		if err != nil {
			return fmt.Errorf("telemetry: marshal event: %w", err)
		}
		if s.stream != "" {
			if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
				return fmt.Errorf("telemetry: stream append: %w", err)
			}
		}
		if s.channel != "" {
			if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
				return fmt.Errorf("telemetry: publish: %w", err)
			}
		}
	}
	return nil
}

// TickCacheSink mirrors ingested ticks into a TickCache.
type TickCacheSink struct {
	cache domain.TickCache
}

// NewTickCacheSink creates a TickCacheSink.
func NewTickCacheSink(cache domain.TickCache) *TickCacheSink {
	return &TickCacheSink{cache: cache}
}

func (s *TickCacheSink) Name() string { return "tick_cache" }

func (s *TickCacheSink) Write(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		if ev.Type != domain.EventTickIngested || ev.Tick == nil {
			continue
		}
		if err := s.cache.SetTick(ctx, *ev.Tick); err != nil {
			return fmt.Errorf("telemetry: set tick: %w", err)
		}
	}
	return nil
}

// ExecutionSink builds execution records from transition events and stores
// each one when its execution reaches a terminal state.
type ExecutionSink struct {
	store domain.ExecutionStore

	mu      sync.Mutex
	pending map[string]*domain.ExecutionRecord
}

// NewExecutionSink creates an ExecutionSink.
func NewExecutionSink(store domain.ExecutionStore) *ExecutionSink {
	return &ExecutionSink{store: store, pending: make(map[string]*domain.ExecutionRecord)}
}

func (s *ExecutionSink) Name() string { return "executions" }

func (s *ExecutionSink) Write(ctx context.Context, events []domain.Event) error {
	var firstErr error
	for _, ev := range events {
		if ev.Type != domain.EventExecutionTransition || ev.Transition == nil {
			continue
		}
		rec, done := s.observe(ev)
		if !done {
			continue
		}
		if err := s.store.Record(ctx, rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("telemetry: record execution %s: %w", rec.ID, err)
		}
	}
	return firstErr
}

func (s *ExecutionSink) observe(ev domain.Event) (domain.ExecutionRecord, bool) {
	tr := ev.Transition
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pending[tr.ExecutionID]
	if !ok {
		rec = &domain.ExecutionRecord{
			ID:        tr.ExecutionID,
			Key:       tr.Key,
			Symbol:    tr.Symbol,
			StartedAt: ev.At,
		}
		s.pending[tr.ExecutionID] = rec
	}
	if o := ev.Opportunity; o != nil {
		rec.BuyVenue = o.BuyVenue
		rec.SellVenue = o.SellVenue
		rec.TradeSize = o.TradeSize
		rec.ExpectedProfit = o.EstimatedNetProfit
	}
	rec.Status = tr.To
	if tr.Attempt > rec.Attempts {
		rec.Attempts = tr.Attempt
	}
	if tr.Reason != "" {
		rec.Reason = tr.Reason
	}
	if ev.Detail != "" {
		rec.Handle = domain.SubmissionHandle(ev.Detail)
	}
	if !tr.To.Terminal() {
		return domain.ExecutionRecord{}, false
	}
	rec.RealizedProfit = tr.RealizedProfit
	rec.CompletedAt = ev.At
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	delete(s.pending, tr.ExecutionID)
	return *rec, true
}
