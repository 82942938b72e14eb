package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, opportunity_key, symbol, buy_venue, sell_venue,
	trade_size::text, expected_profit::text, realized_profit::text,
	status, reason, attempts, handle, started_at, completed_at`

// Record upserts a finished execution.
func (s *ExecutionStore) Record(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (id, opportunity_key, symbol, buy_venue, sell_venue, trade_size,
			expected_profit, realized_profit, status, reason, attempts, handle, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			realized_profit = EXCLUDED.realized_profit,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			attempts = EXCLUDED.attempts,
			handle = EXCLUDED.handle,
			completed_at = EXCLUDED.completed_at`,
		rec.ID, rec.Key.String(), rec.Symbol, rec.BuyVenue, rec.SellVenue,
		rec.TradeSize.String(), rec.ExpectedProfit.String(), rec.RealizedProfit.String(),
		string(rec.Status), rec.Reason, rec.Attempts, string(rec.Handle), rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record execution %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns the execution with id or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the most recently started executions.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+executionColumns+` FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return out, nil
}

// SumRealized returns the total realized profit of confirmed executions
// completed at or after since, as a decimal string.
func (s *ExecutionStore) SumRealized(ctx context.Context, since time.Time) (string, error) {
	var total string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_profit), 0)::text FROM executions
		WHERE status = $1 AND completed_at >= $2`,
		string(domain.ExecConfirmed), since,
	).Scan(&total)
	if err != nil {
		return "", fmt.Errorf("postgres: sum realized: %w", err)
	}
	return total, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var (
		rec                      domain.ExecutionRecord
		key, status, handle      string
		size, expected, realized string
	)
	err := row.Scan(&rec.ID, &key, &rec.Symbol, &rec.BuyVenue, &rec.SellVenue,
		&size, &expected, &realized, &status, &rec.Reason, &rec.Attempts, &handle,
		&rec.StartedAt, &rec.CompletedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Key = domain.ParseOpportunityKey(key)
	rec.Status = domain.ExecStatus(status)
	rec.Handle = domain.SubmissionHandle(handle)
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
