package ports

import (
	"context"
	"time"

	"agroledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementStatus is the externally observed state of a submitted transfer.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
	SettlementNotFound  SettlementStatus = "not_found"
)

// SettlementReceipt is the result of a status query against the network.
type SettlementReceipt struct {
	Status      SettlementStatus
	BlockHeight *int64
	NetworkFee  *decimal.Decimal
}

// TransferIntent describes a value movement to settle externally.
type TransferIntent struct {
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	Nonce       string
}

// SignedIntent is a transfer intent bound to a sender signature. Reference is
// derived from the signed payload before submission, so a submit that times
// out still leaves a reference the sweeper can poll.
type SignedIntent struct {
	Payload   []byte
	Reference string
}

// SettlementClient is the facade over the external settlement network. It is
// safe for concurrent use and holds no caller-specific session state.
// Transport failures surface as apperror.ErrSettlementUnreachable (retryable,
// outcome unknown); explicit rejections as apperror.ErrSettlementRejected.
type SettlementClient interface {
	Sign(intent TransferIntent, secret string) (*SignedIntent, error)
	// Submit is fire-and-forget: it never waits for confirmation.
	Submit(ctx context.Context, signed *SignedIntent) (string, error)
	GetStatus(ctx context.Context, externalRef string) (*SettlementReceipt, error)
	EstimateFee(ctx context.Context, kind domain.TransactionKind) (decimal.Decimal, error)
	// AccountBalance reports the network's view of an address's holdings.
	AccountBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GenerateKeypair() (address string, secret string, err error)
}

// EncryptionService protects wallet secret material at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService signs outbound event payloads (HMAC-SHA256).
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// Notifier publishes ledger events to external collaborators. Implementations
// must not block the caller on delivery.
type Notifier interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
}

// RateCache is the Redis-layer cache for the conversion rate and per-kind
// fee estimates. A miss returns (nil, nil).
type RateCache interface {
	GetRate(ctx context.Context) (*decimal.Decimal, error)
	SetRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) error
	GetFee(ctx context.Context, kind domain.TransactionKind) (*decimal.Decimal, error)
	SetFee(ctx context.Context, kind domain.TransactionKind, fee decimal.Decimal, ttl time.Duration) error
}

// RateOracle exposes the conversion rate and network fee estimate.
// CurrentRate never fails the caller: it falls back to the last known good
// value, then to the configured default.
type RateOracle interface {
	CurrentRate(ctx context.Context) decimal.Decimal
	RecordDailySnapshot(ctx context.Context) error
	EstimateFee(ctx context.Context, kind domain.TransactionKind) decimal.Decimal
	RateHistory(ctx context.Context, limit int) ([]domain.ConversionRate, error)
}

// --- Service Ports (Business Logic) ---

// TransferRequest is the validated input for a token movement.
type TransferRequest struct {
	FromWalletID uuid.UUID
	ToWalletID   uuid.UUID
	Amount       decimal.Decimal
	Kind         domain.TransactionKind
	Metadata     map[string]string
}

// TransferService is the transfer engine: it orchestrates debits, credits,
// settlement submission and resolution.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error)
	// Mint credits destination from outside the ledger (token purchase).
	// externalRef is the payment reference and doubles as idempotency key.
	Mint(ctx context.Context, to uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, externalRef string, metadata map[string]string) (*domain.Transaction, error)
	// Burn debits source out of the ledger (withdrawal).
	Burn(ctx context.Context, from uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, metadata map[string]string) (*domain.Transaction, error)
	// ResolveConfirmed finalizes a transaction the network confirmed:
	// guarded status advance plus exactly-once destination credit.
	ResolveConfirmed(ctx context.Context, txnID uuid.UUID, ext domain.ExternalFields) error
	// ResolveFailed finalizes a transaction the network rejected: guarded
	// status advance plus exactly-once sender refund.
	ResolveFailed(ctx context.Context, txnID uuid.UUID) error
	// Escalate moves a stuck transaction to manual review.
	Escalate(ctx context.Context, txnID uuid.UUID) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error)
}

// WalletBalance is the display view of a wallet.
type WalletBalance struct {
	Wallet *domain.Wallet
	Rate   decimal.Decimal
}

// WalletService provisions and reads wallets.
type WalletService interface {
	// Provision creates the user's wallet, or returns the existing one.
	Provision(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	Balance(ctx context.Context, userID uuid.UUID) (*WalletBalance, error)
	Deactivate(ctx context.Context, userID uuid.UUID) error
}
