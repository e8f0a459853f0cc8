package handler

import (
	"net/http"

	"agroledger/internal/adapter/http/dto"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/pkg/apperror"
	"agroledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// RateHandler handles conversion-rate and fee endpoints.
type RateHandler struct {
	oracle ports.RateOracle
}

// NewRateHandler creates a new RateHandler.
func NewRateHandler(oracle ports.RateOracle) *RateHandler {
	return &RateHandler{oracle: oracle}
}

// CurrentRate handles GET /api/v1/rates/current.
func (h *RateHandler) CurrentRate(c *gin.Context) {
	rate := h.oracle.CurrentRate(c.Request.Context())
	response.OK(c, dto.RateResponse{Rate: rate.String()})
}

// RateHistory handles GET /api/v1/rates/history.
func (h *RateHandler) RateHistory(c *gin.Context) {
	limit := queryInt(c, "limit", 30)
	if limit > 365 {
		limit = 365
	}

	snapshots, err := h.oracle.RateHistory(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.RateSnapshotResponse, 0, len(snapshots))
	for _, s := range snapshots {
		items = append(items, dto.RateSnapshotResponse{
			Rate:       s.Rate.String(),
			RecordedOn: s.RecordedOn.Format("2006-01-02"),
		})
	}
	response.OK(c, items)
}

// EstimateFee handles GET /api/v1/fees/estimate?kind=.
func (h *RateHandler) EstimateFee(c *gin.Context) {
	kind := domain.TransactionKind(c.Query("kind"))
	if !kind.Valid() {
		response.Error(c, apperror.Validation("unknown transaction kind"))
		return
	}

	fee := h.oracle.EstimateFee(c.Request.Context(), kind)
	response.OK(c, dto.FeeEstimateResponse{
		Kind: string(kind),
		Fee:  fee.String(),
	})
}

// HealthCheck handles GET /health, a deep check verifying all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
