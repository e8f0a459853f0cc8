package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agroledger/internal/core/domain"
	"agroledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, from_wallet_id, to_wallet_id, kind,
	amount::text, fiat_value::text, external_ref, block_height,
	network_fee::text, platform_fee::text, status, metadata::text,
	created_at, confirmed_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a transaction within a database transaction. The unique
// index on external_ref is the double-settlement guard: a duplicate surfaces
// as apperror.ErrDuplicateReference, never as a silent overwrite.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}

	var networkFee *string
	if t.NetworkFee != nil {
		s := t.NetworkFee.String()
		networkFee = &s
	}

	query := `INSERT INTO transactions (id, from_wallet_id, to_wallet_id, kind, amount,
		fiat_value, external_ref, block_height, network_fee, platform_fee, status,
		metadata, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = tx.Exec(ctx, query,
		t.ID, t.FromWalletID, t.ToWalletID, t.Kind,
		t.Amount.String(), t.FiatValue.String(), t.ExternalRef, t.BlockHeight,
		networkFee, t.PlatformFee.String(), t.Status,
		metadata, t.CreatedAt, t.ConfirmedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			ref := ""
			if t.ExternalRef != nil {
				ref = *t.ExternalRef
			}
			return apperror.ErrDuplicateReference(ref)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalRef fetches a transaction by its settlement-network reference.
func (r *TransactionRepo) GetByExternalRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_ref = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, ref))
}

// UpdateStatusGuarded advances status only when the row's current status is
// one of from. The rows-affected result is the forward-only invariant: a
// guard miss returns (false, nil) and the caller treats the transition as
// already performed by someone else.
func (r *TransactionRepo) UpdateStatusGuarded(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []domain.TransactionStatus, to domain.TransactionStatus, ext domain.ExternalFields) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	var networkFee *string
	if ext.NetworkFee != nil {
		s := ext.NetworkFee.String()
		networkFee = &s
	}

	query := `UPDATE transactions SET
		status = $1,
		external_ref = COALESCE($2, external_ref),
		block_height = COALESCE($3, block_height),
		network_fee = COALESCE($4::numeric, network_fee),
		confirmed_at = CASE WHEN $1 = 'confirmed' THEN NOW() ELSE confirmed_at END
		WHERE id = $5 AND status = ANY($6)`

	tag, err := tx.Exec(ctx, query, to, ext.ExternalRef, ext.BlockHeight, networkFee, id, allowed)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUnsettled returns pending/processing transactions with an external
// reference created inside the [staleness ceiling, grace period] window.
func (r *TransactionRepo) ListUnsettled(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status IN ('pending', 'processing')
		AND external_ref IS NOT NULL
		AND created_at <= $1 AND created_at >= $2
		ORDER BY created_at ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, olderThan, youngerThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsettled transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListStale returns pending/processing transactions older than the staleness
// ceiling, candidates for manual review.
func (r *TransactionRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status IN ('pending', 'processing')
		AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListByWallet returns the wallet's transaction history, newest first.
func (r *TransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	countQuery := `SELECT COUNT(*) FROM transactions WHERE from_wallet_id = $1 OR to_wallet_id = $1`
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, walletID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wallet transactions: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE from_wallet_id = $1 OR to_wallet_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, walletID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// Archive flags terminal transactions older than before. Records are never
// deleted.
func (r *TransactionRepo) Archive(ctx context.Context, before time.Time) (int64, error) {
	query := `UPDATE transactions
		SET metadata = metadata || '{"archived": "true"}'::jsonb
		WHERE created_at < $1
		AND status IN ('confirmed', 'failed', 'cancelled')
		AND NOT (metadata ? 'archived')`

	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("archive transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var amount, fiatValue, platformFee string
	var networkFee, metadata *string

	err := row.Scan(
		&t.ID, &t.FromWalletID, &t.ToWalletID, &t.Kind,
		&amount, &fiatValue, &t.ExternalRef, &t.BlockHeight,
		&networkFee, &platformFee, &t.Status, &metadata,
		&t.CreatedAt, &t.ConfirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse transaction amount %q: %w", amount, err)
	}
	if t.FiatValue, err = decimal.NewFromString(fiatValue); err != nil {
		return nil, fmt.Errorf("parse transaction fiat value %q: %w", fiatValue, err)
	}
	if t.PlatformFee, err = decimal.NewFromString(platformFee); err != nil {
		return nil, fmt.Errorf("parse platform fee %q: %w", platformFee, err)
	}
	if networkFee != nil {
		fee, err := decimal.NewFromString(*networkFee)
		if err != nil {
			return nil, fmt.Errorf("parse network fee %q: %w", *networkFee, err)
		}
		t.NetworkFee = &fee
	}
	if metadata != nil && *metadata != "" && *metadata != "null" {
		if err := json.Unmarshal([]byte(*metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal transaction metadata: %w", err)
		}
	}
	return t, nil
}
