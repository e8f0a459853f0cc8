package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agroledger/internal/core/domain"
	"agroledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// --- In-Memory Wallet Repo ---

type inMemoryWalletRepo struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]*domain.Wallet
}

func newInMemoryWalletRepo() *inMemoryWalletRepo {
	return &inMemoryWalletRepo{wallets: make(map[uuid.UUID]*domain.Wallet)}
}

func (r *inMemoryWalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.wallets {
		if existing.UserID == w.UserID {
			return apperror.ErrWalletExists()
		}
	}
	cp := *w
	r.wallets[w.ID] = &cp
	return nil
}

func (r *inMemoryWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.UserID == userID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryWalletRepo) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.Address == address {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryWalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	// Row locking is approximated by the serializing transactor.
	return r.GetByID(ctx, id)
}

func (r *inMemoryWalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance, fiatEquivalent decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet not found")
	}
	if balance.IsNegative() {
		return fmt.Errorf("balance check violated")
	}
	w.Balance = balance
	w.FiatEquivalent = fiatEquivalent
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryWalletRepo) Deactivate(ctx context.Context, walletID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return apperror.ErrNotFound("wallet")
	}
	w.IsActive = false
	return nil
}

func (r *inMemoryWalletRepo) TouchReconciled(ctx context.Context, walletID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return apperror.ErrNotFound("wallet")
	}
	w.LastReconciled = &at
	return nil
}

func (r *inMemoryWalletRepo) UpdateNetworkBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return apperror.ErrNotFound("wallet")
	}
	w.NetworkBalance = balance
	return nil
}

func (r *inMemoryWalletRepo) snapshot() map[uuid.UUID]*domain.Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[uuid.UUID]*domain.Wallet, len(r.wallets))
	for id, w := range r.wallets {
		cp := *w
		snap[id] = &cp
	}
	return snap
}

func (r *inMemoryWalletRepo) restore(snap map[uuid.UUID]*domain.Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets = snap
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{transactions: make(map[uuid.UUID]*domain.Transaction)}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ExternalRef != nil {
		for _, existing := range r.transactions {
			if existing.ExternalRef != nil && *existing.ExternalRef == *t.ExternalRef {
				return apperror.ErrDuplicateReference(*t.ExternalRef)
			}
		}
	}
	cp := *t
	r.transactions[t.ID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) snapshot() map[uuid.UUID]*domain.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[uuid.UUID]*domain.Transaction, len(r.transactions))
	for id, t := range r.transactions {
		cp := *t
		snap[id] = &cp
	}
	return snap
}

func (r *inMemoryTransactionRepo) restore(snap map[uuid.UUID]*domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = snap
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByExternalRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.ExternalRef != nil && *t.ExternalRef == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) UpdateStatusGuarded(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []domain.TransactionStatus, to domain.TransactionStatus, ext domain.ExternalFields) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, s := range from {
		if t.Status == s {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	t.Status = to
	if ext.ExternalRef != nil {
		t.ExternalRef = ext.ExternalRef
	}
	if ext.BlockHeight != nil {
		t.BlockHeight = ext.BlockHeight
	}
	if ext.NetworkFee != nil {
		t.NetworkFee = ext.NetworkFee
	}
	if to == domain.StatusConfirmed && t.ConfirmedAt == nil {
		now := time.Now().UTC()
		t.ConfirmedAt = &now
	}
	return true, nil
}

func (r *inMemoryTransactionRepo) ListUnsettled(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if !inFlight(t.Status) || t.ExternalRef == nil {
			continue
		}
		if t.CreatedAt.After(olderThan) || t.CreatedAt.Before(youngerThan) {
			continue
		}
		result = append(result, *t)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *inMemoryTransactionRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if !inFlight(t.Status) || !t.CreatedAt.Before(before) {
			continue
		}
		result = append(result, *t)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *inMemoryTransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		fromMatch := t.FromWalletID != nil && *t.FromWalletID == walletID
		toMatch := t.ToWalletID != nil && *t.ToWalletID == walletID
		if fromMatch || toMatch {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	total := int64(len(result))

	start := (page - 1) * pageSize
	if start >= len(result) {
		return []domain.Transaction{}, total, nil
	}
	end := start + pageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryTransactionRepo) Archive(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.transactions {
		if !t.Status.IsTerminal() || !t.CreatedAt.Before(before) {
			continue
		}
		if t.Metadata["archived"] == "true" {
			continue
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]string)
		}
		t.Metadata["archived"] = "true"
		n++
	}
	return n, nil
}

func inFlight(s domain.TransactionStatus) bool {
	return s == domain.StatusPending || s == domain.StatusProcessing
}

// --- In-Memory Rate Repo ---

type inMemoryRateRepo struct {
	mu        sync.RWMutex
	snapshots []domain.ConversionRate
}

func newInMemoryRateRepo() *inMemoryRateRepo {
	return &inMemoryRateRepo{}
}

func (r *inMemoryRateRepo) InsertDailySnapshot(ctx context.Context, rate decimal.Decimal, day time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dayKey := day.UTC().Format("2006-01-02")
	for _, s := range r.snapshots {
		if s.RecordedOn.Format("2006-01-02") == dayKey {
			return false, nil
		}
	}
	r.snapshots = append(r.snapshots, domain.ConversionRate{
		ID:         int64(len(r.snapshots) + 1),
		Rate:       rate,
		RecordedOn: day.UTC().Truncate(24 * time.Hour),
		RecordedAt: time.Now().UTC(),
	})
	return true, nil
}

func (r *inMemoryRateRepo) LatestSnapshot(ctx context.Context) (*domain.ConversionRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.snapshots) == 0 {
		return nil, nil
	}
	cp := r.snapshots[len(r.snapshots)-1]
	return &cp, nil
}

func (r *inMemoryRateRepo) ListSnapshots(ctx context.Context, limit int) ([]domain.ConversionRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.ConversionRate, len(r.snapshots))
	copy(result, r.snapshots)
	sort.Slice(result, func(i, j int) bool {
		return result[i].RecordedOn.After(result[j].RecordedOn)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- In-Memory Transactor ---

// inMemoryTransactor serializes transactions with one big lock, standing in
// for the per-wallet FOR UPDATE row locks of the real store. Concurrency
// tests rely on this: two overlapping debits of the same wallet observe each
// other's committed state. Begin snapshots both stores so Rollback can
// discard every write of an aborted transaction; the lock guarantees no
// other transaction's writes land between snapshot and restore.
type inMemoryTransactor struct {
	mu      sync.Mutex
	wallets *inMemoryWalletRepo
	txns    *inMemoryTransactionRepo
}

func newInMemoryTransactor(wallets *inMemoryWalletRepo, txns *inMemoryTransactionRepo) *inMemoryTransactor {
	return &inMemoryTransactor{wallets: wallets, txns: txns}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	walletSnap := t.wallets.snapshot()
	txnSnap := t.txns.snapshot()
	return &memTx{
		restore: func() {
			t.wallets.restore(walletSnap)
			t.txns.restore(txnSnap)
		},
		release: func() { t.mu.Unlock() },
	}, nil
}

// memTx is a pgx.Tx over the snapshotting transactor. Commit keeps the
// writes; Rollback restores the Begin-time snapshot. Whichever runs first
// wins and releases the lock; the other is a no-op, matching the service
// layer's commit-then-deferred-rollback discipline.
type memTx struct {
	once    sync.Once
	restore func()
	release func()
}

func (t *memTx) Commit(ctx context.Context) error {
	t.once.Do(t.release)
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.once.Do(func() {
		t.restore()
		t.release()
	})
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }
