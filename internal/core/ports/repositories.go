package ports

import (
	"context"
	"time"

	"agroledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic
// locking; per-wallet mutation is serialized by FOR UPDATE row locks.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	// UpdateBalance writes the new balance together with its recomputed fiat
	// equivalent in a single statement.
	UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance, fiatEquivalent decimal.Decimal) error
	Deactivate(ctx context.Context, walletID uuid.UUID) error
	TouchReconciled(ctx context.Context, walletID uuid.UUID, at time.Time) error
	// UpdateNetworkBalance caches the settlement network's view of the
	// wallet's holdings. Informational: the ledger balance is authoritative.
	UpdateNetworkBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error
}

// TransactionRepository defines persistence operations for ledger transactions.
type TransactionRepository interface {
	// Create inserts a transaction. A duplicate external reference surfaces
	// as apperror.ErrDuplicateReference.
	Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByExternalRef(ctx context.Context, ref string) (*domain.Transaction, error)
	// UpdateStatusGuarded advances status only when the current status is one
	// of from. It returns (true, nil) when the row advanced, (false, nil)
	// when the guard did not match (already advanced by a concurrent actor).
	UpdateStatusGuarded(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []domain.TransactionStatus, to domain.TransactionStatus, ext domain.ExternalFields) (bool, error)
	// ListUnsettled returns pending/processing transactions with an external
	// reference, created between youngerThan (staleness ceiling) and
	// olderThan (grace period) ago.
	ListUnsettled(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]domain.Transaction, error)
	// ListStale returns pending/processing transactions created before the
	// staleness ceiling, candidates for manual review.
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error)
	// Archive flags terminal transactions older than before as archived.
	Archive(ctx context.Context, before time.Time) (int64, error)
}

// RateRepository persists the daily conversion-rate series.
type RateRepository interface {
	// InsertDailySnapshot appends one row for day; it reports false without
	// error when the day already has a snapshot.
	InsertDailySnapshot(ctx context.Context, rate decimal.Decimal, day time.Time) (bool, error)
	LatestSnapshot(ctx context.Context) (*domain.ConversionRate, error)
	ListSnapshots(ctx context.Context, limit int) ([]domain.ConversionRate, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
