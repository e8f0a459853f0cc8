package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversionRate is one daily snapshot of the AgroCoin-to-fiat rate.
// The series is append-only, at most one row per calendar day.
type ConversionRate struct {
	ID         int64           `json:"id"`
	Rate       decimal.Decimal `json:"rate"` // 1 AC = Rate fiat units
	RecordedOn time.Time       `json:"recorded_on"`
	RecordedAt time.Time       `json:"recorded_at"`
}
