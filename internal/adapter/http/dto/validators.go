package dto

import (
	"agroledger/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("token_amount", validateTokenAmount)
		_ = v.RegisterValidation("txn_kind", validateTransactionKind)
	}
}

// validateTokenAmount accepts a positive decimal string with at most two
// fractional digits, matching the ledger's NUMERIC(20,2) columns.
func validateTokenAmount(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && d.Exponent() >= -2
}

// validateTransactionKind accepts only known transaction kinds.
func validateTransactionKind(fl validator.FieldLevel) bool {
	return domain.TransactionKind(fl.Field().String()).Valid()
}
