package service

import (
	"context"
	"testing"

	"agroledger/config"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/internal/core/ports/mocks"
	"agroledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

type transferDeps struct {
	ctrl       *gomock.Controller
	walletRepo *mocks.MockWalletRepository
	txRepo     *mocks.MockTransactionRepository
	transactor *mocks.MockDBTransactor
	settle     *mocks.MockSettlementClient
	encSvc     *mocks.MockEncryptionService
	oracle     *mocks.MockRateOracle
	notifier   *mocks.MockNotifier
}

func setupTransferService(t *testing.T, mode string) (*transferDeps, ports.TransferService) {
	ctrl := gomock.NewController(t)
	d := &transferDeps{
		ctrl:       ctrl,
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		settle:     mocks.NewMockSettlementClient(ctrl),
		encSvc:     mocks.NewMockEncryptionService(ctrl),
		oracle:     mocks.NewMockRateOracle(ctrl),
		notifier:   mocks.NewMockNotifier(ctrl),
	}
	svc, err := NewTransferService(
		d.walletRepo, d.txRepo, d.transactor, d.settle, d.encSvc, d.oracle,
		d.notifier, config.SettlementConfig{Mode: mode}, "0.05", zerolog.Nop())
	require.NoError(t, err)
	return d, svc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func activeWallet(balance string) *domain.Wallet {
	return &domain.Wallet{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Address:         "agc1" + uuid.NewString()[:8],
		EncryptedSecret: "enc_secret",
		Balance:         dec(balance),
		IsActive:        true,
	}
}

func TestTransfer_InvalidAmount(t *testing.T) {
	d, svc := setupTransferService(t, "immediate")
	defer d.ctrl.Finish()

	_, err := svc.Transfer(context.Background(), ports.TransferRequest{
		FromWalletID: uuid.New(),
		ToWalletID:   uuid.New(),
		Amount:       dec("-5.00"),
		Kind:         domain.KindTransfer,
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_001", appErr.Code)
}

func TestTransfer_SelfTransfer(t *testing.T) {
	d, svc := setupTransferService(t, "immediate")
	defer d.ctrl.Finish()

	id := uuid.New()
	_, err := svc.Transfer(context.Background(), ports.TransferRequest{
		FromWalletID: id,
		ToWalletID:   id,
		Amount:       dec("10"),
		Kind:         domain.KindTransfer,
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_003", appErr.Code)
}

func TestTransfer_UnknownKind(t *testing.T) {
	d, svc := setupTransferService(t, "immediate")
	defer d.ctrl.Finish()

	_, err := svc.Transfer(context.Background(), ports.TransferRequest{
		FromWalletID: uuid.New(),
		ToWalletID:   uuid.New(),
		Amount:       dec("10"),
		Kind:         domain.TransactionKind("bribe"),
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_000", appErr.Code)
}

func TestTransfer_ImmediateMode_Confirms(t *testing.T) {
	d, svc := setupTransferService(t, "immediate")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	from := activeWallet("500.00")
	to := activeWallet("0.00")
	rate := dec("5.00")

	d.oracle.EXPECT().CurrentRate(ctx).Return(rate)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, from.ID).Return(from, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, to.ID).Return(to, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, from.ID, dec("300.00"), dec("1500.00")).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, to.ID, dec("200.00"), dec("1000.00")).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.StatusConfirmed, txn.Status)
			assert.NotNil(t, txn.ConfirmedAt)
			assert.True(t, dec("200.00").Equal(txn.Amount))
			assert.True(t, txn.PlatformFee.IsZero(), "plain transfers bear no platform fee")
			return nil
		})
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	txn, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       dec("200.00"),
		Kind:         domain.KindTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, txn.Status)
}

func TestTransfer_PlatformFeeOnFeeBearingKind(t *testing.T) {
	d, svc := setupTransferService(t, "immediate")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	from := activeWallet("500.00")
	to := activeWallet("0.00")

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, from.ID).Return(from, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, to.ID).Return(to, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, from.ID, gomock.Any(), gomock.Any()).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, to.ID, gomock.Any(), gomock.Any()).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			// 5% of 100.00, informational only: the receiver is still
			// credited the full amount.
			assert.True(t, dec("5.00").Equal(txn.PlatformFee))
			return nil
		})
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	_, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       dec("100.00"),
		Kind:         domain.KindExpertPayment,
	})
	require.NoError(t, err)
}

func TestTransfer_InsufficientFunds_NoTransactionCreated(t *testing.T) {
	d, svc := setupTransferService(t, "immediate")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	from := activeWallet("500.00")
	to := activeWallet("0.00")

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, from.ID).Return(from, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, to.ID).Return(to, nil)
	// No UpdateBalance, no Create: rollback happens via the deferred tx.

	_, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       dec("1000.00"),
		Kind:         domain.KindTransfer,
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_002", appErr.Code)
}

func TestTransfer_InactiveWallet(t *testing.T) {
	d, svc := setupTransferService(t, "immediate")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	from := activeWallet("500.00")
	to := activeWallet("0.00")
	to.IsActive = false

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, from.ID).Return(from, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, to.ID).Return(to, nil)

	_, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       dec("10.00"),
		Kind:         domain.KindTransfer,
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_006", appErr.Code)
}

func TestTransfer_NetworkMode_ReturnsProcessing(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	advanceTx := &mockTx{}
	from := activeWallet("500.00")
	to := activeWallet("0.00")
	signed := &ports.SignedIntent{Payload: []byte(`{}`), Reference: "ref-abc"}

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, from.ID).Return(from, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, to.ID).Return(to, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, from.ID, dec("300.00"), dec("1500.00")).Return(nil)
	d.encSvc.EXPECT().Decrypt("enc_secret").Return("plain_secret", nil)
	d.settle.EXPECT().Sign(gomock.Any(), "plain_secret").Return(signed, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.StatusPending, txn.Status)
			require.NotNil(t, txn.ExternalRef)
			assert.Equal(t, "ref-abc", *txn.ExternalRef)
			return nil
		})
	d.settle.EXPECT().Submit(ctx, signed).Return("ref-abc", nil)
	d.transactor.EXPECT().Begin(ctx).Return(advanceTx, nil)
	d.txRepo.EXPECT().UpdateStatusGuarded(ctx, advanceTx, gomock.Any(),
		[]domain.TransactionStatus{domain.StatusPending}, domain.StatusProcessing,
		domain.ExternalFields{}).Return(true, nil)

	txn, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       dec("200.00"),
		Kind:         domain.KindTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, txn.Status)
}

func TestTransfer_NetworkMode_SynchronousRejection_Refunds(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	refundTx := &mockTx{}
	from := activeWallet("500.00")
	to := activeWallet("0.00")
	signed := &ports.SignedIntent{Payload: []byte(`{}`), Reference: "ref-rej"}

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00")).Times(2)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, from.ID).Return(from, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, to.ID).Return(to, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, from.ID, dec("300.00"), dec("1500.00")).Return(nil)
	d.encSvc.EXPECT().Decrypt("enc_secret").Return("plain_secret", nil)
	d.settle.EXPECT().Sign(gomock.Any(), "plain_secret").Return(signed, nil)

	var createdID uuid.UUID
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			createdID = txn.ID
			return nil
		})
	d.settle.EXPECT().Submit(ctx, signed).
		Return("", apperror.ErrSettlementRejected("invalid signature"))

	// ResolveFailed path: guarded advance to failed plus sender refund.
	d.txRepo.EXPECT().GetByID(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
			assert.Equal(t, createdID, id)
			return &domain.Transaction{
				ID:           id,
				FromWalletID: &from.ID,
				ToWalletID:   &to.ID,
				Amount:       dec("200.00"),
				Status:       domain.StatusPending,
			}, nil
		})
	d.transactor.EXPECT().Begin(ctx).Return(refundTx, nil)
	d.txRepo.EXPECT().UpdateStatusGuarded(ctx, refundTx, gomock.Any(),
		resolvableStatuses, domain.StatusFailed, domain.ExternalFields{}).Return(true, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, refundTx, from.ID).
		Return(&domain.Wallet{ID: from.ID, Balance: dec("300.00"), IsActive: true}, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, refundTx, from.ID, dec("500.00"), dec("2500.00")).Return(nil)
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	_, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       dec("200.00"),
		Kind:         domain.KindTransfer,
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SET_002", appErr.Code)
}

func TestTransfer_NetworkMode_TimeoutLeavesPending(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	from := activeWallet("500.00")
	to := activeWallet("0.00")
	signed := &ports.SignedIntent{Payload: []byte(`{}`), Reference: "ref-timeout"}

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, from.ID).Return(from, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, to.ID).Return(to, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, from.ID, gomock.Any(), gomock.Any()).Return(nil)
	d.encSvc.EXPECT().Decrypt("enc_secret").Return("plain_secret", nil)
	d.settle.EXPECT().Sign(gomock.Any(), "plain_secret").Return(signed, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.settle.EXPECT().Submit(ctx, signed).
		Return("", apperror.ErrSettlementUnreachable(context.DeadlineExceeded))

	// Outcome unknown: no refund, no failure. The sweeper takes over.
	txn, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       dec("200.00"),
		Kind:         domain.KindTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, txn.Status)
	require.NotNil(t, txn.ExternalRef)
	assert.Equal(t, "ref-timeout", *txn.ExternalRef)
}

func TestMint_CreditsAndConfirms(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	wallet := activeWallet("10.00")

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, wallet.ID).Return(wallet, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, wallet.ID, dec("110.00"), dec("550.00")).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Nil(t, txn.FromWalletID)
			require.NotNil(t, txn.ExternalRef)
			assert.Equal(t, "ussd-receipt-001", *txn.ExternalRef)
			assert.Equal(t, domain.StatusConfirmed, txn.Status)
			return nil
		})
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	txn, err := svc.Mint(ctx, wallet.ID, dec("100.00"), domain.KindPurchase, "ussd-receipt-001", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, txn.Status)
}

func TestMint_DuplicateReference(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	wallet := activeWallet("10.00")

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, wallet.ID).Return(wallet, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, wallet.ID, gomock.Any(), gomock.Any()).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).
		Return(apperror.ErrDuplicateReference("ussd-receipt-001"))

	_, err := svc.Mint(ctx, wallet.ID, dec("100.00"), domain.KindPurchase, "ussd-receipt-001", nil)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INV_001", appErr.Code)
}

func TestMint_RequiresReference(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	_, err := svc.Mint(context.Background(), uuid.New(), dec("100.00"), domain.KindPurchase, "", nil)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_000", appErr.Code)
}

func TestBurn_DebitsAndConfirms(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	wallet := activeWallet("100.00")

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, wallet.ID).Return(wallet, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, wallet.ID, dec("60.00"), dec("300.00")).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Nil(t, txn.ToWalletID)
			assert.Equal(t, domain.StatusConfirmed, txn.Status)
			return nil
		})
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	_, err := svc.Burn(ctx, wallet.ID, dec("40.00"), domain.KindPayment, nil)
	require.NoError(t, err)
}

func TestBurn_InsufficientFunds(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	wallet := activeWallet("10.00")

	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, wallet.ID).Return(wallet, nil)

	_, err := svc.Burn(ctx, wallet.ID, dec("40.00"), domain.KindPayment, nil)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_002", appErr.Code)
}

func TestResolveConfirmed_CreditsReceiverOnce(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	fromID, toID := uuid.New(), uuid.New()
	txnID := uuid.New()
	height := int64(881245)
	ext := domain.ExternalFields{BlockHeight: &height}

	d.txRepo.EXPECT().GetByID(ctx, txnID).Return(&domain.Transaction{
		ID: txnID, FromWalletID: &fromID, ToWalletID: &toID,
		Amount: dec("200.00"), Status: domain.StatusProcessing,
	}, nil)
	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().UpdateStatusGuarded(ctx, tx, txnID,
		resolvableStatuses, domain.StatusConfirmed, ext).Return(true, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, toID).
		Return(&domain.Wallet{ID: toID, Balance: dec("50.00"), IsActive: true}, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, toID, dec("250.00"), dec("1250.00")).Return(nil)
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := svc.ResolveConfirmed(ctx, txnID, ext)
	assert.NoError(t, err)
}

func TestResolveConfirmed_AlreadyResolved_NoCredit(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	toID := uuid.New()
	txnID := uuid.New()

	d.txRepo.EXPECT().GetByID(ctx, txnID).Return(&domain.Transaction{
		ID: txnID, ToWalletID: &toID,
		Amount: dec("200.00"), Status: domain.StatusConfirmed,
	}, nil)
	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().UpdateStatusGuarded(ctx, tx, txnID,
		resolvableStatuses, domain.StatusConfirmed, domain.ExternalFields{}).Return(false, nil)
	// Guard missed: no wallet lock, no credit, no event.

	err := svc.ResolveConfirmed(ctx, txnID, domain.ExternalFields{})
	assert.NoError(t, err)
}

func TestResolveFailed_RefundsSender(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	fromID := uuid.New()
	txnID := uuid.New()

	d.txRepo.EXPECT().GetByID(ctx, txnID).Return(&domain.Transaction{
		ID: txnID, FromWalletID: &fromID,
		Amount: dec("200.00"), Status: domain.StatusProcessing,
	}, nil)
	d.oracle.EXPECT().CurrentRate(ctx).Return(dec("5.00"))
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().UpdateStatusGuarded(ctx, tx, txnID,
		resolvableStatuses, domain.StatusFailed, domain.ExternalFields{}).Return(true, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, fromID).
		Return(&domain.Wallet{ID: fromID, Balance: dec("300.00"), IsActive: true}, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, fromID, dec("500.00"), dec("2500.00")).Return(nil)
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, ev domain.LedgerEvent) error {
			assert.Equal(t, domain.EventTransactionFailed, ev.Type)
			return nil
		})

	err := svc.ResolveFailed(ctx, txnID)
	assert.NoError(t, err)
}

func TestEscalate_MovesToManualReview(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	txnID := uuid.New()

	d.txRepo.EXPECT().GetByID(ctx, txnID).Return(&domain.Transaction{
		ID: txnID, Status: domain.StatusProcessing,
	}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().UpdateStatusGuarded(ctx, tx, txnID,
		[]domain.TransactionStatus{domain.StatusPending, domain.StatusProcessing},
		domain.StatusManualReview, domain.ExternalFields{}).Return(true, nil)
	d.notifier.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, ev domain.LedgerEvent) error {
			assert.Equal(t, domain.EventTransactionEscalated, ev.Type)
			return nil
		})

	err := svc.Escalate(ctx, txnID)
	assert.NoError(t, err)
}

func TestGetTransaction_NotFound(t *testing.T) {
	d, svc := setupTransferService(t, "network")
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.txRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, err := svc.GetTransaction(ctx, id)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_004", appErr.Code)
}
