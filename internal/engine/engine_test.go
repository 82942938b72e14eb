package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/cost"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/feed"
	"github.com/alanyoungcy/flasharb/internal/retry"
)

type scriptedSource struct {
	venue  string
	prices []string
	gap    time.Duration
}

func (s *scriptedSource) Venue() string          { return s.venue }
func (s *scriptedSource) Kind() domain.VenueKind { return domain.VenueKindStream }

func (s *scriptedSource) Run(ctx context.Context, out chan<- domain.PriceTick) error {
	for i, p := range s.prices {
		if i > 0 && s.gap > 0 {
			select {
			case <-time.After(s.gap):
			case <-ctx.Done():
				return nil
			}
		}
		t := domain.PriceTick{
			VenueID: s.venue, Kind: domain.VenueKindStream, Symbol: "ETH/USDC",
			Price: decimal.RequireFromString(p), LiquidityDepth: decimal.NewFromInt(1000000),
			ObservedAt: time.Now(), Sequence: uint64(i + 1),
		}
		select {
		case out <- t:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(typ domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) terminal(status domain.ExecStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Transition != nil && ev.Transition.To == status {
			n++
		}
	}
	return n
}

type zeroCost struct{}

func (zeroCost) Estimate(cost.Query) domain.CostBreakdown { return domain.CostBreakdown{} }

type fixedFees struct{}

func (fixedFees) TxParams(context.Context) domain.TxParams {
	return domain.TxParams{GasLimit: 1, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), MaxFeeBudget: big.NewInt(1)}
}

type harness struct {
	agg   *aggregator.Aggregator
	det   *arbitrage.Detector
	rec   *recorder
	coord *executor.Coordinator
}

func newHarness(t *testing.T, execute bool, latency time.Duration) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := aggregator.StalenessPolicy{Stream: time.Minute, Pool: time.Minute}
	h := &harness{agg: aggregator.New(policy), rec: &recorder{}}
	h.det = arbitrage.NewDetector(arbitrage.DetectorConfig{
		MinSpreadBps: decimal.NewFromInt(10),
		SafetyFactor: decimal.RequireFromString("0.5"),
		MaxTradeSize: decimal.NewFromInt(1000),
		Staleness:    policy,
		Costs:        zeroCost{},
		Logger:       logger,
	})
	if execute {
		h.coord = executor.NewCoordinator(executor.Config{
			MinNetProfit:     decimal.NewFromInt(1),
			SubmitRetry:      retry.Policy{MaxAttempts: 1, Delay: 10 * time.Millisecond},
			SubmitTimeout:    time.Second,
			ExecutionTimeout: 5 * time.Second,
		}, executor.Deps{
			Settlement: executor.NewPaperSettlement(h.agg, h.det, latency, logger),
			Snapshots:  h.agg,
			Validator:  h.det,
			Fees:       fixedFees{},
			Emitter:    h.rec,
			Logger:     logger,
		})
	}
	return h
}

func (h *harness) engine(sources ...feed.Source) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{ShutdownGrace: 5 * time.Second}, Deps{
		Sources:     sources,
		Aggregator:  h.agg,
		Detector:    h.det,
		Coordinator: h.coord,
		Emitter:     h.rec,
		Logger:      logger,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnginePaperExecutionEndToEnd(t *testing.T) {
	h := newHarness(t, true, 0)
	e := h.engine(
		&scriptedSource{venue: "A", prices: []string{"100"}},
		&scriptedSource{venue: "B", prices: []string{"101"}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "confirmation", func() bool { return h.rec.terminal(domain.ExecConfirmed) == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	st := e.Stats()
	if st.TicksIngested != 2 || st.Opportunities != 1 || st.Admitted != 1 {
		t.Errorf("stats = %+v", st)
	}
	if n := h.rec.count(domain.EventTickIngested); n != 2 {
		t.Errorf("tick events = %d", n)
	}
	if n := h.rec.count(domain.EventOpportunityDetected); n != 1 {
		t.Errorf("opportunity events = %d", n)
	}
	if len(h.coord.InFlight()) != 0 {
		t.Errorf("execution still in flight")
	}
}

func TestEngineRejectsDuplicateWhileInFlight(t *testing.T) {
	h := newHarness(t, true, 300*time.Millisecond)
	e := h.engine(
		&scriptedSource{venue: "A", prices: []string{"100"}},
		&scriptedSource{venue: "B", prices: []string{"101", "101.5"}, gap: 50 * time.Millisecond},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "confirmation", func() bool { return h.rec.terminal(domain.ExecConfirmed) == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	st := e.Stats()
	if st.Admitted != 1 || st.Duplicates != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEngineMonitorOnly(t *testing.T) {
	h := newHarness(t, false, 0)
	e := h.engine(
		&scriptedSource{venue: "A", prices: []string{"100"}},
		&scriptedSource{venue: "B", prices: []string{"101"}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "opportunity", func() bool { return h.rec.count(domain.EventOpportunityDetected) == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Stats().Admitted != 0 || h.rec.count(domain.EventExecutionTransition) != 0 {
		t.Errorf("monitor mode executed: %+v", e.Stats())
	}
}

func TestEngineDrainsOnShutdown(t *testing.T) {
	h := newHarness(t, true, 200*time.Millisecond)
	e := h.engine(
		&scriptedSource{venue: "A", prices: []string{"100"}},
		&scriptedSource{venue: "B", prices: []string{"101"}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "submission", func() bool { return h.rec.terminal(domain.ExecSubmitted) >= 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.rec.terminal(domain.ExecConfirmed) != 1 {
		t.Errorf("in-flight execution was not drained to completion")
	}
}
