package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEventType identifies an outbound event for external collaborators.
type LedgerEventType string

const (
	EventTransactionConfirmed LedgerEventType = "TRANSACTION_CONFIRMED"
	EventTransactionFailed    LedgerEventType = "TRANSACTION_FAILED"
	EventTransactionEscalated LedgerEventType = "TRANSACTION_ESCALATED"
)

// LedgerEvent is the payload emitted when a transaction reaches a state the
// notification dispatcher (or a domain record) must react to.
type LedgerEvent struct {
	Type          LedgerEventType `json:"type"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Kind          TransactionKind `json:"kind"`
	FromWalletID  *uuid.UUID      `json:"from_wallet_id,omitempty"`
	ToWalletID    *uuid.UUID      `json:"to_wallet_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ExternalRef   *string         `json:"external_ref,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewLedgerEvent builds an event snapshot from a transaction.
func NewLedgerEvent(t LedgerEventType, txn *Transaction) LedgerEvent {
	return LedgerEvent{
		Type:          t,
		TransactionID: txn.ID,
		Kind:          txn.Kind,
		FromWalletID:  txn.FromWalletID,
		ToWalletID:    txn.ToWalletID,
		Amount:        txn.Amount,
		ExternalRef:   txn.ExternalRef,
		OccurredAt:    time.Now().UTC(),
	}
}
