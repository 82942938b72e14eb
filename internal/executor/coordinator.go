// Package executor admits detected opportunities, hands them to the
// settlement layer and tracks each execution to a terminal outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/retry"
)

// Settlement submits execution requests and reports their outcome.
type Settlement interface {
	Submit(ctx context.Context, req domain.ExecutionRequest) (domain.SubmissionHandle, error)
	AwaitOutcome(ctx context.Context, handle domain.SubmissionHandle) (domain.Outcome, error)
}

// SnapshotSource returns the current aggregated state for a symbol.
type SnapshotSource interface {
	Snapshot(symbol string) aggregator.Snapshot
}

// Revalidator re-checks an opportunity against a fresh snapshot and returns
// a reason code when it no longer holds.
type Revalidator interface {
	Revalidate(opp domain.Opportunity, snap aggregator.Snapshot, now time.Time) (domain.Opportunity, string)
}

// FeeSource supplies final transaction fee parameters.
type FeeSource interface {
	TxParams(ctx context.Context) domain.TxParams
}

// Emitter receives telemetry events. Emit must not block.
type Emitter interface {
	Emit(ev domain.Event)
}

// Decision is the result of Accept.
type Decision int

const (
	DecisionRejected Decision = iota
	DecisionAdmitted
	DecisionDuplicate
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmitted:
		return "admitted"
	case DecisionDuplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// Config holds coordinator limits.
type Config struct {
	MinNetProfit     decimal.Decimal
	MaxTradeSize     decimal.Decimal
	SubmitRetry      retry.Policy
	SubmitTimeout    time.Duration
	ExecutionTimeout time.Duration
	// LeaseTTL enables a shared per-key lease when positive.
	LeaseTTL     time.Duration
	UpdateBuffer int
}

// Update is posted by a worker and applied on the owner goroutine.
type Update struct {
	ExecutionID string
	Key         domain.OpportunityKey
	Status      domain.ExecStatus
	Attempt     int
	Handle      domain.SubmissionHandle
	Reason      string
	Realized    decimal.Decimal
}

// Deps are the coordinator's collaborators. Lease and Emitter are optional.
type Deps struct {
	Settlement Settlement
	Snapshots  SnapshotSource
	Validator  Revalidator
	Fees       FeeSource
	Lease      domain.Leaser
	Emitter    Emitter
	Logger     *slog.Logger
}

// Coordinator owns the in-flight table. Accept, Apply and Drain must be
// called from a single goroutine; settlement I/O runs on worker goroutines
// that report back through Updates.
type Coordinator struct {
	cfg        Config
	settlement Settlement
	snapshots  SnapshotSource
	validator  Revalidator
	fees       FeeSource
	lease      domain.Leaser
	emitter    Emitter
	logger     *slog.Logger
	now        func() time.Time

	table   *InFlightTable
	updates chan Update

	workCtx    context.Context
	cancelWork context.CancelFunc
	closed     chan struct{}
	closeOnce  sync.Once
	workers    sync.WaitGroup
}

// NewCoordinator creates a coordinator. Workers run on a context that is
// independent of the caller's so that shutdown can drain them.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}
	workCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg,
		settlement: deps.Settlement,
		snapshots:  deps.Snapshots,
		validator:  deps.Validator,
		fees:       deps.Fees,
		lease:      deps.Lease,
		emitter:    deps.Emitter,
		logger:     deps.Logger.With(slog.String("component", "coordinator")),
		now:        time.Now,
		table:      NewInFlightTable(),
		updates:    make(chan Update, cfg.UpdateBuffer),
		workCtx:    workCtx,
		cancelWork: cancel,
		closed:     make(chan struct{}),
	}
}

// Updates delivers worker results to the owner goroutine.
func (c *Coordinator) Updates() <-chan Update {
	return c.updates
}

// InFlight returns the tracked executions.
func (c *Coordinator) InFlight() []domain.InFlightExecution {
	return c.table.List()
}

// Active reports whether key has an execution in progress.
func (c *Coordinator) Active(key domain.OpportunityKey) bool {
	return c.table.Active(key)
}

// Accept runs admission control for opp. The check and the creation of the
// Pending entry happen without any blocking call.
func (c *Coordinator) Accept(ctx context.Context, opp domain.Opportunity) (Decision, error) {
	if c.table.Active(opp.Key) {
		c.logger.DebugContext(ctx, "opportunity already in flight", slog.String("key", opp.Key.String()))
		return DecisionDuplicate, nil
	}

	now := c.now()
	entry := domain.InFlightExecution{
		ID:          uuid.NewString(),
		Key:         opp.Key,
		Opportunity: opp,
		Status:      domain.ExecPending,
		CreatedAt:   now,
	}
	if err := c.table.Insert(entry); err != nil {
		return DecisionRejected, err
	}
	c.transition(entry, domain.ExecIdle, domain.ExecPending, "", decimal.Zero)

	fresh, reason := c.validator.Revalidate(opp, c.snapshots.Snapshot(opp.Symbol), now)
	if reason == "" && fresh.EstimatedNetProfit.LessThan(c.cfg.MinNetProfit) {
		reason = domain.ReasonUnprofitable
	}
	if reason == "" && c.cfg.MaxTradeSize.IsPositive() && fresh.TradeSize.GreaterThan(c.cfg.MaxTradeSize) {
		reason = domain.ReasonInvalidated
	}
	if reason != "" {
		c.table.Remove(entry.Key, entry.ID)
		c.transition(entry, domain.ExecPending, domain.ExecFailed, reason, decimal.Zero)
		c.logger.InfoContext(ctx, "opportunity rejected at revalidation",
			slog.String("key", opp.Key.String()),
			slog.String("reason", reason),
		)
		return DecisionRejected, nil
	}

	c.table.Update(entry.Key, entry.ID, func(e *domain.InFlightExecution) {
		e.Opportunity = fresh
	})
	entry.Opportunity = fresh

	c.workers.Add(1)
	go c.work(entry)

	c.logger.InfoContext(ctx, "execution admitted",
		slog.String("execution_id", entry.ID),
		slog.String("key", opp.Key.String()),
		slog.String("symbol", opp.Symbol),
		slog.String("buy", opp.BuyVenue),
		slog.String("sell", opp.SellVenue),
		slog.String("size", fresh.TradeSize.String()),
		slog.String("expected_profit", fresh.EstimatedNetProfit.String()),
	)
	return DecisionAdmitted, nil
}

// Apply records a worker update. Updates for an execution that is no longer
// current are ignored. Terminal updates return the key to idle.
// SubmittedAt is stamped by the first Submitted update.
func (c *Coordinator) Apply(u Update) {
	entry, ok := c.table.Get(u.Key)
	if !ok || entry.ID != u.ExecutionID {
		c.logger.Debug("ignoring update for stale execution", slog.String("execution_id", u.ExecutionID))
		return
	}

	if !u.Status.Terminal() {
		now := c.now()
		c.table.Update(u.Key, u.ExecutionID, func(e *domain.InFlightExecution) {
			e.Status = u.Status
			e.Attempt = u.Attempt
			if u.Status == domain.ExecSubmitted && e.SubmittedAt.IsZero() {
				e.SubmittedAt = now
			}
			if u.Handle != "" {
				e.Handle = u.Handle
			}
		})
		entry.Attempt = u.Attempt
		if u.Handle != "" {
			entry.Handle = u.Handle
		}
		c.transition(entry, entry.Status, u.Status, u.Reason, decimal.Zero)
		return
	}

	removed, _ := c.table.Remove(u.Key, u.ExecutionID)
	removed.Attempt = u.Attempt
	if u.Handle != "" {
		removed.Handle = u.Handle
	}
	c.transition(removed, removed.Status, u.Status, u.Reason, u.Realized)

	log := c.logger.With(
		slog.String("execution_id", removed.ID),
		slog.String("key", removed.Key.String()),
		slog.String("status", string(u.Status)),
		slog.String("reason", u.Reason),
	)
	switch u.Status {
	case domain.ExecConfirmed:
		log.Info("execution confirmed", slog.String("realized_profit", u.Realized.String()))
	case domain.ExecFailed:
		log.Info("execution failed")
	default:
		log.Warn("execution expired")
	}
}

// Drain applies worker updates until no execution is in flight or ctx is
// done. On ctx expiry the remaining workers are cancelled.
func (c *Coordinator) Drain(ctx context.Context) error {
	for c.table.Len() > 0 {
		select {
		case u := <-c.updates:
			c.Apply(u)
		case <-ctx.Done():
			c.logger.Warn("drain deadline reached", slog.Int("in_flight", c.table.Len()))
			return fmt.Errorf("executor: drain: %w", ctx.Err())
		}
	}
	return nil
}

// Close cancels outstanding workers and waits for them to exit.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.cancelWork()
		close(c.closed)
	})
	c.workers.Wait()
}

func (c *Coordinator) transition(e domain.InFlightExecution, from, to domain.ExecStatus, reason string, realized decimal.Decimal) {
	if c.emitter == nil {
		return
	}
	opp := e.Opportunity
	c.emitter.Emit(domain.Event{
		Type:        domain.EventExecutionTransition,
		At:          c.now(),
		Symbol:      opp.Symbol,
		Detail:      string(e.Handle),
		Opportunity: &opp,
		Transition: &domain.Transition{
			ExecutionID:    e.ID,
			Key:            e.Key,
			Symbol:         opp.Symbol,
			From:           from,
			To:             to,
			Attempt:        e.Attempt,
			Reason:         reason,
			RealizedProfit: realized,
		},
	})
}

func (c *Coordinator) post(u Update) {
	select {
	case c.updates <- u:
	case <-c.closed:
	}
}

// work performs all settlement I/O for one execution. The entry stays
// Pending through the lease and fee lookups and moves to Submitted at the
// hand-off to the settlement layer.
func (c *Coordinator) work(e domain.InFlightExecution) {
	defer c.workers.Done()

	ctx, cancel := context.WithTimeout(c.workCtx, c.cfg.ExecutionTimeout+c.submitBudget())
	defer cancel()

	opp := e.Opportunity
	log := c.logger.With(slog.String("execution_id", e.ID), slog.String("key", e.Key.String()))
	final := Update{ExecutionID: e.ID, Key: e.Key}

	if c.lease != nil && c.cfg.LeaseTTL > 0 {
		lctx, lcancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		unlock, err := c.lease.Acquire(lctx, "flasharb:lease:"+e.Key.String(), c.cfg.LeaseTTL)
		lcancel()
		switch {
		case errors.Is(err, domain.ErrLeaseHeld):
			final.Status, final.Reason = domain.ExecFailed, domain.ReasonLeaseHeld
			c.post(final)
			return
		case err != nil:
			log.Warn("lease acquire failed, continuing without lease", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	req := domain.ExecutionRequest{
		ExecutionID:  e.ID,
		Key:          e.Key,
		Symbol:       opp.Symbol,
		BuyVenue:     opp.BuyVenue,
		SellVenue:    opp.SellVenue,
		TradeSize:    opp.TradeSize,
		MinNetOutput: c.cfg.MinNetProfit,
		Params:       c.fees.TxParams(ctx),
	}
	c.post(Update{ExecutionID: e.ID, Key: e.Key, Status: domain.ExecSubmitted})

	var handle domain.SubmissionHandle
	attempts := 0
	err := retry.Do(ctx, c.cfg.SubmitRetry, func(ctx context.Context) error {
		attempts++
		sctx, scancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		defer scancel()
		h, err := c.settlement.Submit(sctx, req)
		if errors.Is(err, domain.ErrNotFound) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		handle = h
		return nil
	}, func(attempt int, err error) {
		log.Warn("submit failed, retrying", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		c.post(Update{ExecutionID: e.ID, Key: e.Key, Status: domain.ExecSubmitted, Attempt: attempt})
	})
	final.Attempt = attempts - 1
	if err != nil {
		final.Status, final.Reason = domain.ExecFailed, domain.ReasonSubmissionUnavailable
		if errors.Is(err, domain.ErrNotFound) {
			final.Reason = domain.ReasonMisconfigured
			log.Error("settlement cannot accept request", slog.String("error", err.Error()))
		} else {
			log.Error("submission unavailable", slog.String("error", err.Error()))
		}
		c.post(final)
		return
	}
	final.Handle = handle
	c.post(Update{ExecutionID: e.ID, Key: e.Key, Status: domain.ExecSubmitted, Attempt: final.Attempt, Handle: handle})

	actx, acancel := context.WithTimeout(c.workCtx, c.cfg.ExecutionTimeout)
	defer acancel()
	outcome, err := c.settlement.AwaitOutcome(actx, handle)
	switch {
	case err != nil:
		final.Status, final.Reason = domain.ExecExpired, domain.ReasonTimeout
		if !errors.Is(err, context.DeadlineExceeded) {
			log.Warn("await outcome failed", slog.String("error", err.Error()))
		}
	case outcome.Kind == domain.OutcomeConfirmed:
		final.Status, final.Realized = domain.ExecConfirmed, outcome.RealizedProfit
	case outcome.Kind == domain.OutcomeReverted:
		final.Status, final.Reason = domain.ExecFailed, domain.ReasonReverted
		if outcome.Reason != "" {
			log.Info("settlement reverted", slog.String("revert_reason", outcome.Reason))
		}
	default:
		final.Status, final.Reason = domain.ExecExpired, domain.ReasonTimeout
	}
	c.post(final)
}

func (c *Coordinator) submitBudget() time.Duration {
	n := time.Duration(c.cfg.SubmitRetry.MaxAttempts + 1)
	return n*c.cfg.SubmitTimeout + time.Duration(c.cfg.SubmitRetry.MaxAttempts)*c.cfg.SubmitRetry.Delay
}
