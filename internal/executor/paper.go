package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PaperSettlement simulates settlement against live aggregated prices. A
// submission confirms after Latency with the profit the market still
// supports, or reverts when the spread has closed below MinNetOutput.
type PaperSettlement struct {
	snapshots SnapshotSource
	validator Revalidator
	latency   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[domain.SubmissionHandle]domain.ExecutionRequest
}

var _ Settlement = (*PaperSettlement)(nil)

// NewPaperSettlement creates a simulated settlement layer.
func NewPaperSettlement(snapshots SnapshotSource, validator Revalidator, latency time.Duration, logger *slog.Logger) *PaperSettlement {
	return &PaperSettlement{
		snapshots: snapshots,
		validator: validator,
		latency:   latency,
		logger:    logger.With(slog.String("component", "paper_settlement")),
		now:       time.Now,
		pending:   make(map[domain.SubmissionHandle]domain.ExecutionRequest),
	}
}

// Submit records req and returns a synthetic handle.
func (p *PaperSettlement) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.SubmissionHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := domain.SubmissionHandle("paper-" + uuid.NewString())
	p.mu.Lock()
	p.pending[h] = req
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "paper submission",
		slog.String("handle", string(h)),
		slog.String("symbol", req.Symbol),
		slog.String("size", req.TradeSize.String()),
	)
	return h, nil
}

// AwaitOutcome waits for the simulated latency, then settles against the
// current snapshot.
func (p *PaperSettlement) AwaitOutcome(ctx context.Context, handle domain.SubmissionHandle) (domain.Outcome, error) {
	p.mu.Lock()
	req, ok := p.pending[handle]
	delete(p.pending, handle)
	p.mu.Unlock()
	if !ok {
		return domain.Outcome{}, fmt.Errorf("paper: await %s: %w", handle, domain.ErrNotFound)
	}

	if p.latency > 0 {
		t := time.NewTimer(p.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		case <-t.C:
		}
	}

	probe := domain.Opportunity{
		Key:       req.Key,
		Symbol:    req.Symbol,
		BuyVenue:  req.BuyVenue,
		SellVenue: req.SellVenue,
	}
	fresh, reason := p.validator.Revalidate(probe, p.snapshots.Snapshot(req.Symbol), p.now())
	if reason != "" {
		return domain.Outcome{Kind: domain.OutcomeReverted, Reason: "spread closed: " + reason}, nil
	}
	if fresh.TradeSize.GreaterThan(req.TradeSize) {
		fresh.EstimatedNetProfit = fresh.EstimatedNetProfit.Mul(req.TradeSize).Div(fresh.TradeSize)
	}
	if fresh.EstimatedNetProfit.LessThan(req.MinNetOutput) {
		return domain.Outcome{Kind: domain.OutcomeReverted, Reason: "profit below minimum"}, nil
	}
	return domain.Outcome{Kind: domain.OutcomeConfirmed, RealizedProfit: fresh.EstimatedNetProfit}, nil
}
