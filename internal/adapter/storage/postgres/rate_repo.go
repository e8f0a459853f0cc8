package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agroledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RateRepo implements ports.RateRepository over the conversion_rates table.
type RateRepo struct {
	pool Pool
}

// NewRateRepo creates a new RateRepo.
func NewRateRepo(pool Pool) *RateRepo {
	return &RateRepo{pool: pool}
}

// InsertDailySnapshot appends one rate row for day. The unique index on
// recorded_on makes the snapshot append-once: a second attempt for the same
// day reports false without error.
func (r *RateRepo) InsertDailySnapshot(ctx context.Context, rate decimal.Decimal, day time.Time) (bool, error) {
	query := `INSERT INTO conversion_rates (rate, recorded_on, recorded_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (recorded_on) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, rate.String(), day.UTC().Truncate(24*time.Hour))
	if err != nil {
		return false, fmt.Errorf("insert rate snapshot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LatestSnapshot returns the most recent daily snapshot, or nil when the
// series is empty.
func (r *RateRepo) LatestSnapshot(ctx context.Context) (*domain.ConversionRate, error) {
	query := `SELECT id, rate::text, recorded_on, recorded_at FROM conversion_rates
		ORDER BY recorded_on DESC LIMIT 1`

	cr, err := scanRate(r.pool.QueryRow(ctx, query))
	if err != nil {
		return nil, err
	}
	return cr, nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (r *RateRepo) ListSnapshots(ctx context.Context, limit int) ([]domain.ConversionRate, error) {
	query := `SELECT id, rate::text, recorded_on, recorded_at FROM conversion_rates
		ORDER BY recorded_on DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list rate snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.ConversionRate
	for rows.Next() {
		cr, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rate rows: %w", err)
	}
	return snapshots, nil
}

func scanRate(row pgx.Row) (*domain.ConversionRate, error) {
	cr := &domain.ConversionRate{}
	var rate string
	if err := row.Scan(&cr.ID, &rate, &cr.RecordedOn, &cr.RecordedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan conversion rate: %w", err)
	}
	var err error
	if cr.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse conversion rate %q: %w", rate, err)
	}
	return cr, nil
}
