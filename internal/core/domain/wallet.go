package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds a user's AgroCoin balance. Exactly one wallet exists per user;
// wallets are deactivated, never deleted.
type Wallet struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Address         string          `json:"address"` // settlement-network address, immutable once assigned
	EncryptedSecret string          `json:"-"`       // AES-256-GCM, never exposed raw
	Balance         decimal.Decimal `json:"balance"`
	FiatEquivalent  decimal.Decimal `json:"fiat_equivalent"` // balance * rate, recomputed with every balance change
	NetworkBalance  decimal.Decimal `json:"network_balance"` // informational, cached from the settlement network
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastReconciled  *time.Time      `json:"last_reconciled,omitempty"`
}

// CanDebit reports whether the wallet balance covers amount.
func (w *Wallet) CanDebit(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// FiatValue computes the fiat equivalent of an AgroCoin amount at the given
// conversion rate, rounded to 2 decimal places.
func FiatValue(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}
