package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind classifies a token movement.
type TransactionKind string

const (
	KindPurchase            TransactionKind = "purchase"
	KindTransfer            TransactionKind = "transfer"
	KindPayment             TransactionKind = "payment"
	KindReward              TransactionKind = "reward"
	KindRefund              TransactionKind = "refund"
	KindInvestment          TransactionKind = "investment"
	KindInvestmentReturn    TransactionKind = "investment_return"
	KindExpertPayment       TransactionKind = "expert_payment"
	KindMarketplacePurchase TransactionKind = "marketplace_purchase"
)

// Valid reports whether k is a known transaction kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindPurchase, KindTransfer, KindPayment, KindReward, KindRefund,
		KindInvestment, KindInvestmentReturn, KindExpertPayment, KindMarketplacePurchase:
		return true
	}
	return false
}

// FeeBearing reports whether the platform takes a commission on this kind.
func (k TransactionKind) FeeBearing() bool {
	return k == KindPayment || k == KindExpertPayment || k == KindMarketplacePurchase
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending      TransactionStatus = "pending"
	StatusProcessing   TransactionStatus = "processing"
	StatusConfirmed    TransactionStatus = "confirmed"
	StatusFailed       TransactionStatus = "failed"
	StatusCancelled    TransactionStatus = "cancelled"
	StatusManualReview TransactionStatus = "manual_review"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo enforces the forward-only status machine:
// pending -> processing -> confirmed|failed|cancelled, with manual_review
// reachable from the two non-terminal states and resolvable by an operator.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s.IsTerminal() || s == next {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusConfirmed ||
			next == StatusFailed || next == StatusCancelled || next == StatusManualReview
	case StatusProcessing:
		return next == StatusConfirmed || next == StatusFailed ||
			next == StatusCancelled || next == StatusManualReview
	case StatusManualReview:
		return next == StatusConfirmed || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// Transaction is an append-only ledger record of one token movement.
// A nil FromWalletID means the tokens were minted (external origin, e.g. a
// fiat purchase); a nil ToWalletID means they were burned (withdrawal).
type Transaction struct {
	ID           uuid.UUID         `json:"id"`
	FromWalletID *uuid.UUID        `json:"from_wallet_id,omitempty"`
	ToWalletID   *uuid.UUID        `json:"to_wallet_id,omitempty"`
	Kind         TransactionKind   `json:"kind"`
	Amount       decimal.Decimal   `json:"amount"`
	FiatValue    decimal.Decimal   `json:"fiat_value"` // snapshot at creation, never recomputed
	ExternalRef  *string           `json:"external_ref,omitempty"`
	BlockHeight  *int64            `json:"block_height,omitempty"`
	NetworkFee   *decimal.Decimal  `json:"network_fee,omitempty"`
	PlatformFee  decimal.Decimal   `json:"platform_fee"`
	Status       TransactionStatus `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
}

// PlatformFeeFor returns the platform commission for a movement of amount
// and kind. Non-fee-bearing kinds pay nothing. The fee is informational; it
// is never netted out of the credited amount here.
func PlatformFeeFor(kind TransactionKind, amount, commissionRate decimal.Decimal) decimal.Decimal {
	if !kind.FeeBearing() {
		return decimal.Zero
	}
	return amount.Mul(commissionRate).Round(2)
}

// ExternalFields carries settlement-network data attached when a transaction
// advances state.
type ExternalFields struct {
	ExternalRef *string
	BlockHeight *int64
	NetworkFee  *decimal.Decimal
}
