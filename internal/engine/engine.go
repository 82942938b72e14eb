// Package engine runs the single owner loop: it is the only goroutine that
// ingests ticks, admits opportunities and applies execution updates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/feed"
)

// Detector finds the best opportunity in a symbol snapshot.
type Detector interface {
	Detect(symbol string, snap aggregator.Snapshot, now time.Time) (domain.Opportunity, bool)
}

// Emitter receives telemetry events. Emit must not block.
type Emitter interface {
	Emit(ev domain.Event)
}

// Config tunes the loop.
type Config struct {
	TickBuffer    int
	ShutdownGrace time.Duration
}

// Deps wires the engine. A nil Coordinator runs detection only.
type Deps struct {
	Sources     []feed.Source
	Aggregator  *aggregator.Aggregator
	Detector    Detector
	Coordinator *executor.Coordinator
	Emitter     Emitter
	Logger      *slog.Logger
}

// Stats counts loop activity.
type Stats struct {
	TicksReceived  int64
	TicksIngested  int64
	Opportunities  int64
	Admitted       int64
	Duplicates     int64
	Rejected       int64
	UpdatesApplied int64
}

// Engine owns the aggregator and the coordinator.
type Engine struct {
	cfg     Config
	sources []feed.Source
	agg     *aggregator.Aggregator
	det     Detector
	coord   *executor.Coordinator
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	runCtx context.Context
	dirty  []string
	fatal  error
	stats  Stats
}

// New creates an engine and subscribes it to aggregator updates.
func New(cfg Config, deps Deps) *Engine {
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = 1024
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	e := &Engine{
		cfg:     cfg,
		sources: deps.Sources,
		agg:     deps.Aggregator,
		det:     deps.Detector,
		coord:   deps.Coordinator,
		emitter: deps.Emitter,
		logger:  deps.Logger.With(slog.String("component", "engine")),
		now:     time.Now,
	}
	e.agg.OnUpdate(e.updated)
	return e
}

// Stats returns a copy of the counters. Call it from the loop goroutine or
// after Run has returned.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Run starts the sources and processes ticks and execution updates until
// ctx is cancelled, then drains in-flight executions for up to the shutdown
// grace. It returns an error only when an internal invariant is violated.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	ticks := make(chan domain.PriceTick, e.cfg.TickBuffer)

	srcCtx, stopSources := context.WithCancel(ctx)
	defer stopSources()
	var g errgroup.Group
	for _, s := range e.sources {
		g.Go(func() error {
			if err := s.Run(srcCtx, ticks); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("source stopped", slog.String("venue", s.Venue()), slog.String("error", err.Error()))
				e.emit(domain.Event{Type: domain.EventSourceUnavailable, VenueID: s.Venue(), Detail: err.Error()})
			}
			return nil
		})
	}
	e.logger.InfoContext(ctx, "engine started",
		slog.Int("sources", len(e.sources)),
		slog.Bool("execution", e.coord != nil),
	)

	var updates <-chan executor.Update
	if e.coord != nil {
		updates = e.coord.Updates()
	}

	for e.fatal == nil {
		select {
		case t := <-ticks:
			e.ingest(t)
		case u := <-updates:
			e.coord.Apply(u)
			e.stats.UpdatesApplied++
		case <-ctx.Done():
			stopSources()
			_ = g.Wait()
			return e.shutdown()
		}
	}

	stopSources()
	_ = g.Wait()
	if e.coord != nil {
		e.coord.Close()
	}
	return e.fatal
}

func (e *Engine) ingest(t domain.PriceTick) {
	e.stats.TicksReceived++
	if !e.agg.Ingest(t) {
		return
	}
	e.stats.TicksIngested++
	tick := t
	e.emit(domain.Event{
		Type:    domain.EventTickIngested,
		At:      e.now(),
		VenueID: t.VenueID,
		Symbol:  t.Symbol,
		Tick:    &tick,
	})
	for len(e.dirty) > 0 && e.fatal == nil {
		symbol := e.dirty[0]
		e.dirty = e.dirty[1:]
		e.detect(symbol)
	}
	e.dirty = e.dirty[:0]
}

// updated is the aggregator subscription. It runs inside Ingest, so
// detection is deferred until the tick event has been emitted.
func (e *Engine) updated(symbol string) {
	e.dirty = append(e.dirty, symbol)
}

func (e *Engine) detect(symbol string) {
	if e.runCtx == nil || e.runCtx.Err() != nil {
		return
	}
	now := e.now()
	opp, ok := e.det.Detect(symbol, e.agg.Snapshot(symbol), now)
	if !ok {
		return
	}
	e.stats.Opportunities++
	o := opp
	e.emit(domain.Event{
		Type:        domain.EventOpportunityDetected,
		At:          now,
		Symbol:      symbol,
		Opportunity: &o,
	})
	if e.coord == nil {
		return
	}

	decision, err := e.coord.Accept(e.runCtx, opp)
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			e.logger.Error("in-flight invariant violated", slog.String("key", opp.Key.String()), slog.String("error", err.Error()))
			e.fatal = fmt.Errorf("engine: accept %s: %w", opp.Key, err)
			return
		}
		e.logger.Warn("accept failed", slog.String("key", opp.Key.String()), slog.String("error", err.Error()))
		return
	}
	switch decision {
	case executor.DecisionAdmitted:
		e.stats.Admitted++
	case executor.DecisionDuplicate:
		e.stats.Duplicates++
	default:
		e.stats.Rejected++
	}
}

func (e *Engine) shutdown() error {
	if e.coord == nil {
		e.logger.Info("engine stopped")
		return nil
	}
	e.logger.Info("draining executions", slog.Int("in_flight", len(e.coord.InFlight())))
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownGrace)
	defer cancel()
	if err := e.coord.Drain(ctx); err != nil {
		e.logger.Warn("executions abandoned at shutdown", slog.String("error", err.Error()))
	}
	e.coord.Close()
	e.logger.Info("engine stopped",
		slog.Int64("ticks_ingested", e.stats.TicksIngested),
		slog.Int64("admitted", e.stats.Admitted),
	)
	return nil
}

func (e *Engine) emit(ev domain.Event) {
	if e.emitter == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.emitter.Emit(ev)
}
