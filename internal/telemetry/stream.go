// Package telemetry fans append-only events out to sinks. Emitting never
// blocks the caller; each sink drains its own queue so a slow sink cannot
// stall the others.
package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Sink persists or forwards batches of events.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []domain.Event) error
}

// Route binds a sink to the event types it wants. An empty Events list
// accepts every type.
type Route struct {
	Sink   Sink
	Events []domain.EventType
}

// ParseEventTypes converts configured names into event types, ignoring
// blanks.
func ParseEventTypes(names []string) []domain.EventType {
	out := make([]domain.EventType, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			out = append(out, domain.EventType(n))
		}
	}
	return out
}

// Config tunes buffering.
type Config struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

type route struct {
	sink    Sink
	allowed map[domain.EventType]bool
	queue   chan []domain.Event
}

func (r *route) accepts(t domain.EventType) bool {
	return len(r.allowed) == 0 || r.allowed[t]
}

// Stream is the process-wide event fan-out.
type Stream struct {
	cfg     Config
	in      chan domain.Event
	routes  []*route
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewStream creates a stream delivering to routes.
func NewStream(cfg Config, routes []Route, logger *slog.Logger) *Stream {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	s := &Stream{
		cfg:    cfg,
		in:     make(chan domain.Event, cfg.Buffer),
		logger: logger.With(slog.String("component", "telemetry")),
	}
	for _, r := range routes {
		allowed := make(map[domain.EventType]bool, len(r.Events))
		for _, e := range r.Events {
			allowed[e] = true
		}
		s.routes = append(s.routes, &route{sink: r.Sink, allowed: allowed, queue: make(chan []domain.Event, 64)})
	}
	return s
}

// Emit appends ev without blocking. Events are dropped when the buffer is
// full.
func (s *Stream) Emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.in <- ev:
	default:
		if s.dropped.Add(1)%1000 == 1 {
			s.logger.Warn("telemetry buffer full, dropping events", slog.Int64("dropped", s.dropped.Load()))
		}
	}
}

// Dropped returns the number of events lost to a full buffer.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Run batches events to the sinks until ctx is cancelled, then flushes what
// is buffered and waits for every sink to finish.
func (s *Stream) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, r := range s.routes {
		wg.Add(1)
		go func(r *route) {
			defer wg.Done()
			s.drainRoute(r)
		}(r)
	}

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	batch := make([]domain.Event, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.dispatch(batch)
		batch = make([]domain.Event, 0, s.cfg.BatchSize)
	}

	for {
		select {
		case ev := <-s.in:
			batch = append(batch, ev)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.in:
					batch = append(batch, ev)
					continue
				default:
				}
				break
			}
			flush()
			for _, r := range s.routes {
				close(r.queue)
			}
			wg.Wait()
			return nil
		}
	}
}

func (s *Stream) dispatch(batch []domain.Event) {
	for _, r := range s.routes {
		var sel []domain.Event
		for _, ev := range batch {
			if r.accepts(ev.Type) {
				sel = append(sel, ev)
			}
		}
		if len(sel) == 0 {
			continue
		}
		select {
		case r.queue <- sel:
		default:
			s.dropped.Add(int64(len(sel)))
			s.logger.Warn("sink queue full, dropping batch",
				slog.String("sink", r.sink.Name()),
				slog.Int("events", len(sel)),
			)
		}
	}
}

func (s *Stream) drainRoute(r *route) {
	for batch := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		if err := r.sink.Write(ctx, batch); err != nil {
			s.logger.Error("sink write failed",
				slog.String("sink", r.sink.Name()),
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
