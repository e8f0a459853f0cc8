package handler

import (
	"agroledger/internal/adapter/http/dto"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/pkg/apperror"
	"agroledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletHandler handles wallet provisioning and reads.
type WalletHandler struct {
	walletSvc   ports.WalletService
	transferSvc ports.TransferService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService, transferSvc ports.TransferService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc, transferSvc: transferSvc}
}

// Provision handles POST /api/v1/wallets.
func (h *WalletHandler) Provision(c *gin.Context) {
	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid user id"))
		return
	}

	wallet, err := h.walletSvc.Provision(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toWalletResponse(wallet, nil))
}

// GetBalance handles GET /api/v1/wallets/:user_id.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid user id"))
		return
	}

	balance, err := h.walletSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toWalletResponse(balance.Wallet, &balance.Rate))
}

// Deactivate handles DELETE /api/v1/wallets/:user_id.
func (h *WalletHandler) Deactivate(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid user id"))
		return
	}

	if err := h.walletSvc.Deactivate(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"deactivated": true})
}

// ListTransactions handles GET /api/v1/wallets/:user_id/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid user id"))
		return
	}

	balance, err := h.walletSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	txns, total, err := h.transferSvc.ListByWallet(c.Request.Context(), balance.Wallet.ID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	response.OK(c, dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// toWalletResponse converts domain.Wallet to DTO. rate is included when the
// caller fetched it alongside the wallet.
func toWalletResponse(w *domain.Wallet, rate *decimal.Decimal) dto.WalletResponse {
	resp := dto.WalletResponse{
		ID:             w.ID.String(),
		UserID:         w.UserID.String(),
		Address:        w.Address,
		Balance:        w.Balance.StringFixed(2),
		FiatEquivalent: w.FiatEquivalent.StringFixed(2),
		IsActive:       w.IsActive,
		CreatedAt:      w.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if rate != nil {
		resp.Rate = rate.String()
	}
	return resp
}
