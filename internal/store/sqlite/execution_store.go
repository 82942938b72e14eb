package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore on SQLite. Decimal
// columns are stored as text and summed in Go.
type ExecutionStore struct {
	d *DB
}

// NewExecutionStore creates an ExecutionStore on d.
func NewExecutionStore(d *DB) *ExecutionStore {
	return &ExecutionStore{d: d}
}

const executionColumns = `id, opportunity_key, symbol, buy_venue, sell_venue, trade_size,
	expected_profit, realized_profit, status, reason, attempts, handle, started_at_ns, completed_at_ns`

// Record upserts a finished execution.
func (s *ExecutionStore) Record(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.d.db.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			realized_profit = excluded.realized_profit,
			status = excluded.status,
			reason = excluded.reason,
			attempts = excluded.attempts,
			handle = excluded.handle,
			completed_at_ns = excluded.completed_at_ns`,
		rec.ID, rec.Key.String(), rec.Symbol, rec.BuyVenue, rec.SellVenue,
		rec.TradeSize.String(), rec.ExpectedProfit.String(), rec.RealizedProfit.String(),
		string(rec.Status), rec.Reason, rec.Attempts, string(rec.Handle),
		rec.StartedAt.UnixNano(), rec.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record execution %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns the execution with id or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.d.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("sqlite: get execution %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the most recently started executions.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY started_at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SumRealized totals realized profit of confirmed executions completed at
// or after since.
func (s *ExecutionStore) SumRealized(ctx context.Context, since time.Time) (string, error) {
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT realized_profit FROM executions WHERE status = ? AND completed_at_ns >= ?`,
		string(domain.ExecConfirmed), since.UnixNano())
	if err != nil {
		return "", fmt.Errorf("sqlite: sum realized: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", fmt.Errorf("sqlite: sum realized: %w", err)
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return "", fmt.Errorf("sqlite: parse realized %q: %w", v, err)
		}
		total = total.Add(d)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("sqlite: sum realized: %w", err)
	}
	return total.String(), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (domain.ExecutionRecord, error) {
	var (
		rec                      domain.ExecutionRecord
		key, status, handle      string
		size, expected, realized string
		startedNs, completedNs   int64
	)
	err := row.Scan(&rec.ID, &key, &rec.Symbol, &rec.BuyVenue, &rec.SellVenue,
		&size, &expected, &realized, &status, &rec.Reason, &rec.Attempts, &handle,
		&startedNs, &completedNs,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Key = domain.ParseOpportunityKey(key)
	rec.Status = domain.ExecStatus(status)
	rec.Handle = domain.SubmissionHandle(handle)
	rec.StartedAt = time.Unix(0, startedNs).UTC()
	rec.CompletedAt = time.Unix(0, completedNs).UTC()
	if rec.TradeSize, err = decimal.NewFromString(size); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if rec.ExpectedProfit, err = decimal.NewFromString(expected); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if rec.RealizedProfit, err = decimal.NewFromString(realized); err != nil {
		return domain.ExecutionRecord{}, err
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
