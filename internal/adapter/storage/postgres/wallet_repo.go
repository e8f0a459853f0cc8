package postgres

import (
	"context"
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

const walletColumns = `id, user_id, address, encrypted_secret,
	balance::text, fiat_equivalent::text, network_balance::text,
	is_active, created_at, updated_at, last_reconciled_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet. A second wallet for the same user surfaces as
// apperror.ErrWalletExists via the user_id unique constraint.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (id, user_id, address, encrypted_secret, balance,
		fiat_equivalent, network_balance, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.Address, w.EncryptedSecret,
		w.Balance.String(), w.FiatEquivalent.String(), w.NetworkBalance.String(),
		w.IsActive, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.ErrWalletExists()
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, id))
}

// GetByUserID fetches the wallet owned by a user.
func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, userID))
}

// GetByAddress fetches a wallet by its settlement-network address.
func (r *WalletRepo) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, address))
}

// GetByIDForUpdate fetches a wallet with a pessimistic row lock.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return scanWallet(tx.QueryRow(ctx, query, id))
}

// UpdateBalance writes the new balance and its fiat equivalent in one
// statement, inside the caller's transaction.
func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance, fiatEquivalent decimal.Decimal) error {
	query := `UPDATE wallets SET balance = $1, fiat_equivalent = $2, updated_at = NOW() WHERE id = $3`

	tag, err := tx.Exec(ctx, query, balance.String(), fiatEquivalent.String(), walletID)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound("wallet")
	}
	return nil
}

// Deactivate flags the wallet inactive. Wallets are never deleted.
func (r *WalletRepo) Deactivate(ctx context.Context, walletID uuid.UUID) error {
	query := `UPDATE wallets SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, walletID)
	if err != nil {
		return fmt.Errorf("deactivate wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound("wallet")
	}
	return nil
}

// TouchReconciled records when the sweeper last reconciled this wallet.
func (r *WalletRepo) TouchReconciled(ctx context.Context, walletID uuid.UUID, at time.Time) error {
	query := `UPDATE wallets SET last_reconciled_at = $1 WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, at, walletID); err != nil {
		return fmt.Errorf("touch wallet reconciled: %w", err)
	}
	return nil
}

// UpdateNetworkBalance caches the settlement network's reported holdings.
func (r *WalletRepo) UpdateNetworkBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	query := `UPDATE wallets SET network_balance = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, balance.String(), walletID)
	if err != nil {
		return fmt.Errorf("update network balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound("wallet")
	}
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var balance, fiat, network string
	err := row.Scan(
		&w.ID, &w.UserID, &w.Address, &w.EncryptedSecret,
		&balance, &fiat, &network,
		&w.IsActive, &w.CreatedAt, &w.UpdatedAt, &w.LastReconciled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}

	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse wallet balance %q: %w", balance, err)
	}
	if w.FiatEquivalent, err = decimal.NewFromString(fiat); err != nil {
		return nil, fmt.Errorf("parse fiat equivalent %q: %w", fiat, err)
	}
	if w.NetworkBalance, err = decimal.NewFromString(network); err != nil {
		return nil, fmt.Errorf("parse network balance %q: %w", network, err)
	}
	return w, nil
}
