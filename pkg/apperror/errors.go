package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Ledger Business Logic (LED) ----

func ErrInvalidAmount() *AppError {
	return New("LED_001", "Amount must be positive", http.StatusBadRequest)
}

func ErrInsufficientFunds() *AppError {
	return New("LED_002", "Insufficient AgroCoin balance", http.StatusPaymentRequired)
}

func ErrSelfTransfer() *AppError {
	return New("LED_003", "Cannot transfer to the same wallet", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("LED_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrWalletExists() *AppError {
	return New("LED_005", "User already has a wallet", http.StatusConflict)
}

func ErrWalletInactive() *AppError {
	return New("LED_006", "Wallet is deactivated", http.StatusForbidden)
}

// ---- Invariant Violations (INV) ----
// These indicate duplicate delivery or out-of-order processing by an
// integrator, not a normal user-facing failure. Log them loudly.

func ErrDuplicateReference(ref string) *AppError {
	return New("INV_001", fmt.Sprintf("External reference already recorded: %s", ref), http.StatusConflict)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("INV_002", fmt.Sprintf("Illegal status transition %s -> %s", from, to), http.StatusConflict)
}

// ---- Settlement Network (SET) ----

func ErrSettlementUnreachable(err error) *AppError {
	return Wrap("SET_001", "Settlement network unreachable", http.StatusServiceUnavailable, err)
}

func ErrSettlementRejected(reason string) *AppError {
	return New("SET_002", fmt.Sprintf("Settlement network rejected the transfer: %s", reason), http.StatusUnprocessableEntity)
}

// ---- System & Infrastructure (SYS) ----

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_002", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request-validation error.
func Validation(message string) *AppError {
	return New("LED_000", message, http.StatusBadRequest)
}
