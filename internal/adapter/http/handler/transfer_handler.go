package handler

import (
	"strconv"

	"agroledger/internal/adapter/http/dto"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/pkg/apperror"
	"agroledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferHandler handles token movement endpoints.
type TransferHandler struct {
	transferSvc ports.TransferService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transferSvc ports.TransferService) *TransferHandler {
	return &TransferHandler{transferSvc: transferSvc}
}

// Transfer handles POST /api/v1/transfers. A transfer that settles over the
// network returns 202 with a processing transaction; immediate settlement
// returns 201 confirmed.
func (h *TransferHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	fromID, err := uuid.Parse(req.FromWalletID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid from_wallet_id"))
		return
	}
	toID, err := uuid.Parse(req.ToWalletID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid to_wallet_id"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	txn, err := h.transferSvc.Transfer(c.Request.Context(), ports.TransferRequest{
		FromWalletID: fromID,
		ToWalletID:   toID,
		Amount:       amount,
		Kind:         domain.TransactionKind(req.Kind),
		Metadata:     req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if txn.Status == domain.StatusConfirmed {
		response.Created(c, toTransactionResponse(txn))
		return
	}
	response.Accepted(c, toTransactionResponse(txn))
}

// Mint handles POST /api/v1/mints: an external fiat payment credited into
// the ledger.
func (h *TransferHandler) Mint(c *gin.Context) {
	var req dto.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid wallet_id"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	txn, err := h.transferSvc.Mint(c.Request.Context(), walletID, amount,
		domain.TransactionKind(req.Kind), req.ExternalRef, req.Metadata)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// Burn handles POST /api/v1/burns: a withdrawal out of the ledger.
func (h *TransferHandler) Burn(c *gin.Context) {
	var req dto.BurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid wallet_id"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	txn, err := h.transferSvc.Burn(c.Request.Context(), walletID, amount,
		domain.TransactionKind(req.Kind), req.Metadata)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// GetTransaction handles GET /api/v1/transactions/:id.
func (h *TransferHandler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	txn, err := h.transferSvc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// queryInt reads an integer query parameter with a default.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// toTransactionResponse converts domain.Transaction to DTO.
func toTransactionResponse(txn *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:          txn.ID.String(),
		Kind:        string(txn.Kind),
		Amount:      txn.Amount.StringFixed(2),
		FiatValue:   txn.FiatValue.StringFixed(2),
		PlatformFee: txn.PlatformFee.StringFixed(2),
		ExternalRef: txn.ExternalRef,
		Status:      string(txn.Status),
		Metadata:    txn.Metadata,
		CreatedAt:   txn.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if txn.FromWalletID != nil {
		s := txn.FromWalletID.String()
		resp.FromWalletID = &s
	}
	if txn.ToWalletID != nil {
		s := txn.ToWalletID.String()
		resp.ToWalletID = &s
	}
	if txn.NetworkFee != nil {
		s := txn.NetworkFee.String()
		resp.NetworkFee = &s
	}
	if txn.ConfirmedAt != nil {
		s := txn.ConfirmedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.ConfirmedAt = &s
	}
	return resp
}
