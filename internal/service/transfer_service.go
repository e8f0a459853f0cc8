package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agroledger/config"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// resolvableStatuses are the states a settlement outcome may advance from.
var resolvableStatuses = []domain.TransactionStatus{
	domain.StatusPending, domain.StatusProcessing, domain.StatusManualReview,
}

// transferService implements ports.TransferService. All balance mutations
// run inside a single database transaction with per-wallet row locks; no
// lock is ever held across a settlement-network call.
type transferService struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	settle     ports.SettlementClient
	encSvc     ports.EncryptionService
	oracle     ports.RateOracle
	notifier   ports.Notifier
	settlement config.SettlementConfig
	commission decimal.Decimal
	log        zerolog.Logger
}

// NewTransferService creates the transfer engine.
func NewTransferService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	settle ports.SettlementClient,
	encSvc ports.EncryptionService,
	oracle ports.RateOracle,
	notifier ports.Notifier,
	settlement config.SettlementConfig,
	commissionRate string,
	log zerolog.Logger,
) (ports.TransferService, error) {
	commission, err := decimal.NewFromString(commissionRate)
	if err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	return &transferService{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		settle:     settle,
		encSvc:     encSvc,
		oracle:     oracle,
		notifier:   notifier,
		settlement: settlement,
		commission: commission,
		log:        log,
	}, nil
}

// Transfer moves tokens between two wallets. In immediate mode the transfer
// confirms synchronously; in network mode the sender is debited, the intent
// is submitted after commit, and the caller sees a processing transaction
// that the sweeper resolves later.
func (s *transferService) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, apperror.ErrSelfTransfer()
	}
	if !req.Kind.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown transaction kind %q", req.Kind))
	}

	rate := s.oracle.CurrentRate(ctx)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	from, to, err := s.lockPair(ctx, dbTx, req.FromWalletID, req.ToWalletID)
	if err != nil {
		return nil, err
	}
	if !from.IsActive || !to.IsActive {
		return nil, apperror.ErrWalletInactive()
	}
	if !from.CanDebit(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	newFromBalance := from.Balance.Sub(req.Amount)
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, from.ID, newFromBalance, domain.FiatValue(newFromBalance, rate)); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("debit sender: %w", err))
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:           uuid.New(),
		FromWalletID: &from.ID,
		ToWalletID:   &to.ID,
		Kind:         req.Kind,
		Amount:       req.Amount,
		FiatValue:    domain.FiatValue(req.Amount, rate),
		PlatformFee:  domain.PlatformFeeFor(req.Kind, req.Amount, s.commission),
		Status:       domain.StatusPending,
		Metadata:     req.Metadata,
		CreatedAt:    now,
	}

	if s.settlement.Immediate() {
		newToBalance := to.Balance.Add(req.Amount)
		if err := s.walletRepo.UpdateBalance(ctx, dbTx, to.ID, newToBalance, domain.FiatValue(newToBalance, rate)); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("credit receiver: %w", err))
		}
		txn.Status = domain.StatusConfirmed
		txn.ConfirmedAt = &now

		if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
			return nil, err
		}
		if err := dbTx.Commit(ctx); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("commit: %w", err))
		}
		s.publish(ctx, domain.EventTransactionConfirmed, txn)
		return txn, nil
	}

	// Network mode: sign now so the transaction row carries its external
	// reference before anything leaves the process.
	secret, err := s.encSvc.Decrypt(from.EncryptedSecret)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("decrypt sender secret: %w", err))
	}
	signed, err := s.settle.Sign(ports.TransferIntent{
		FromAddress: from.Address,
		ToAddress:   to.Address,
		Amount:      req.Amount,
		Nonce:       txn.ID.String(),
	}, secret)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sign intent: %w", err))
	}
	txn.ExternalRef = &signed.Reference

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit: %w", err))
	}

	// Debit is committed, locks released. Submission failures from here must
	// not roll back the database transaction above.
	return s.submit(ctx, txn, signed)
}

// submit hands the signed intent to the network and advances the committed
// pending transaction according to the synchronous outcome.
func (s *transferService) submit(ctx context.Context, txn *domain.Transaction, signed *ports.SignedIntent) (*domain.Transaction, error) {
	_, err := s.settle.Submit(ctx, signed)
	if err == nil {
		if advErr := s.advance(ctx, txn.ID, []domain.TransactionStatus{domain.StatusPending}, domain.StatusProcessing, domain.ExternalFields{}); advErr != nil {
			// The submission went through; the sweeper will still find the
			// pending row by its reference.
			s.log.Warn().Err(advErr).Str("txn_id", txn.ID.String()).Msg("could not advance to processing")
		} else {
			txn.Status = domain.StatusProcessing
		}
		return txn, nil
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Code == apperror.ErrSettlementRejected("").Code {
		// Explicit rejection is terminal: refund synchronously.
		if failErr := s.ResolveFailed(ctx, txn.ID); failErr != nil {
			s.log.Error().Err(failErr).Str("txn_id", txn.ID.String()).Msg("refund after rejection failed")
			return nil, apperror.InternalError(failErr)
		}
		return nil, err
	}

	// Timeout or transport failure: the outcome is unknown. The transaction
	// stays pending with its reference; the sweeper resolves it.
	s.log.Warn().Err(err).
		Str("txn_id", txn.ID.String()).
		Str("external_ref", *txn.ExternalRef).
		Msg("settlement submit outcome unknown, leaving pending for sweep")
	return txn, nil
}

// Mint credits a wallet from outside the ledger, e.g. a confirmed token
// purchase. externalRef is the upstream payment reference and doubles as the
// idempotency key: redelivery of the same event is rejected by the store.
func (s *transferService) Mint(ctx context.Context, to uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, externalRef string, metadata map[string]string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if externalRef == "" {
		return nil, apperror.Validation("external reference is required")
	}
	if !kind.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown transaction kind %q", kind))
	}

	rate := s.oracle.CurrentRate(ctx)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, to)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if !wallet.IsActive {
		return nil, apperror.ErrWalletInactive()
	}

	newBalance := wallet.Balance.Add(amount)
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, newBalance, domain.FiatValue(newBalance, rate)); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("credit wallet: %w", err))
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:          uuid.New(),
		ToWalletID:  &wallet.ID,
		Kind:        kind,
		Amount:      amount,
		FiatValue:   domain.FiatValue(amount, rate),
		ExternalRef: &externalRef,
		PlatformFee: domain.PlatformFeeFor(kind, amount, s.commission),
		Status:      domain.StatusConfirmed,
		Metadata:    metadata,
		CreatedAt:   now,
		ConfirmedAt: &now,
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit: %w", err))
	}

	s.publish(ctx, domain.EventTransactionConfirmed, txn)
	return txn, nil
}

// Burn debits a wallet out of the ledger, e.g. a withdrawal. The fiat payout
// itself is a collaborator's concern; the ledger only records the exit.
func (s *transferService) Burn(ctx context.Context, from uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, metadata map[string]string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if !kind.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown transaction kind %q", kind))
	}

	rate := s.oracle.CurrentRate(ctx)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, from)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if !wallet.IsActive {
		return nil, apperror.ErrWalletInactive()
	}
	if !wallet.CanDebit(amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	newBalance := wallet.Balance.Sub(amount)
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, newBalance, domain.FiatValue(newBalance, rate)); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("debit wallet: %w", err))
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:           uuid.New(),
		FromWalletID: &wallet.ID,
		Kind:         kind,
		Amount:       amount,
		FiatValue:    domain.FiatValue(amount, rate),
		PlatformFee:  domain.PlatformFeeFor(kind, amount, s.commission),
		Status:       domain.StatusConfirmed,
		Metadata:     metadata,
		CreatedAt:    now,
		ConfirmedAt:  &now,
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit: %w", err))
	}

	s.publish(ctx, domain.EventTransactionConfirmed, txn)
	return txn, nil
}

// ResolveConfirmed finalizes a transaction the network confirmed. The credit
// to the destination happens in the same database transaction as the guarded
// status advance, so overlapping sweeps credit exactly once.
func (s *transferService) ResolveConfirmed(ctx context.Context, txnID uuid.UUID, ext domain.ExternalFields) error {
	txn, err := s.txRepo.GetByID(ctx, txnID)
	if err != nil {
		return apperror.InternalError(err)
	}
	if txn == nil {
		return apperror.ErrNotFound("transaction")
	}

	rate := s.oracle.CurrentRate(ctx)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	advanced, err := s.txRepo.UpdateStatusGuarded(ctx, dbTx, txnID, resolvableStatuses, domain.StatusConfirmed, ext)
	if err != nil {
		return apperror.InternalError(err)
	}
	if !advanced {
		// Already resolved by a concurrent actor.
		return nil
	}

	if txn.ToWalletID != nil {
		dest, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, *txn.ToWalletID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock receiver: %w", err))
		}
		if dest == nil {
			return apperror.ErrNotFound("wallet")
		}
		newBalance := dest.Balance.Add(txn.Amount)
		if err := s.walletRepo.UpdateBalance(ctx, dbTx, dest.ID, newBalance, domain.FiatValue(newBalance, rate)); err != nil {
			return apperror.InternalError(fmt.Errorf("credit receiver: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit: %w", err))
	}

	txn.Status = domain.StatusConfirmed
	s.publish(ctx, domain.EventTransactionConfirmed, txn)
	s.log.Info().
		Str("txn_id", txnID.String()).
		Msg("transaction confirmed")
	return nil
}

// ResolveFailed finalizes a transaction the network rejected. The sender
// refund rides the same guarded advance, so it is applied exactly once.
func (s *transferService) ResolveFailed(ctx context.Context, txnID uuid.UUID) error {
	txn, err := s.txRepo.GetByID(ctx, txnID)
	if err != nil {
		return apperror.InternalError(err)
	}
	if txn == nil {
		return apperror.ErrNotFound("transaction")
	}

	rate := s.oracle.CurrentRate(ctx)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	advanced, err := s.txRepo.UpdateStatusGuarded(ctx, dbTx, txnID, resolvableStatuses, domain.StatusFailed, domain.ExternalFields{})
	if err != nil {
		return apperror.InternalError(err)
	}
	if !advanced {
		return nil
	}

	if txn.FromWalletID != nil {
		sender, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, *txn.FromWalletID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock sender: %w", err))
		}
		if sender == nil {
			return apperror.ErrNotFound("wallet")
		}
		newBalance := sender.Balance.Add(txn.Amount)
		if err := s.walletRepo.UpdateBalance(ctx, dbTx, sender.ID, newBalance, domain.FiatValue(newBalance, rate)); err != nil {
			return apperror.InternalError(fmt.Errorf("refund sender: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit: %w", err))
	}

	txn.Status = domain.StatusFailed
	s.publish(ctx, domain.EventTransactionFailed, txn)
	s.log.Warn().
		Str("txn_id", txnID.String()).
		Msg("transaction failed, sender refunded")
	return nil
}

// Escalate parks a stuck transaction in manual review. No balances move: an
// auto-reversal past the staleness ceiling could double-credit a transfer
// the network actually confirmed.
func (s *transferService) Escalate(ctx context.Context, txnID uuid.UUID) error {
	txn, err := s.txRepo.GetByID(ctx, txnID)
	if err != nil {
		return apperror.InternalError(err)
	}
	if txn == nil {
		return apperror.ErrNotFound("transaction")
	}

	if err := s.advance(ctx, txnID, []domain.TransactionStatus{domain.StatusPending, domain.StatusProcessing}, domain.StatusManualReview, domain.ExternalFields{}); err != nil {
		return err
	}

	txn.Status = domain.StatusManualReview
	s.publish(ctx, domain.EventTransactionEscalated, txn)
	s.log.Error().
		Str("txn_id", txnID.String()).
		Time("created_at", txn.CreatedAt).
		Msg("transaction escalated to manual review")
	return nil
}

// GetTransaction fetches one transaction.
func (s *transferService) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// ListByWallet returns a wallet's transaction history, newest first.
func (s *transferService) ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	txns, total, err := s.txRepo.ListByWallet(ctx, walletID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

// lockPair acquires FOR UPDATE locks on both wallets in ID order, so two
// opposing transfers cannot deadlock.
func (s *transferService) lockPair(ctx context.Context, dbTx pgx.Tx, fromID, toID uuid.UUID) (*domain.Wallet, *domain.Wallet, error) {
	firstID, secondID := fromID, toID
	if toID.String() < fromID.String() {
		firstID, secondID = toID, fromID
	}

	first, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, firstID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	second, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, secondID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if first == nil || second == nil {
		return nil, nil, apperror.ErrNotFound("wallet")
	}

	if firstID == fromID {
		return first, second, nil
	}
	return second, first, nil
}

// advance runs one guarded status transition in its own short transaction.
func (s *transferService) advance(ctx context.Context, txnID uuid.UUID, from []domain.TransactionStatus, to domain.TransactionStatus, ext domain.ExternalFields) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if _, err := s.txRepo.UpdateStatusGuarded(ctx, dbTx, txnID, from, to, ext); err != nil {
		return apperror.InternalError(err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// publish sends an outbound event. Delivery problems are logged, never
// surfaced: the ledger state is already durable at this point.
func (s *transferService) publish(ctx context.Context, eventType domain.LedgerEventType, txn *domain.Transaction) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, domain.NewLedgerEvent(eventType, txn)); err != nil {
		s.log.Warn().Err(err).
			Str("txn_id", txn.ID.String()).
			Str("event", string(eventType)).
			Msg("event publish failed")
	}
}
