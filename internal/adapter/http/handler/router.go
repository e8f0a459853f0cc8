package handler

import (
	"agroledger/internal/adapter/http/middleware"
	"agroledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	TransferSvc    ports.TransferService
	Oracle         ports.RateOracle
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Deep health check: verifies PostgreSQL and Redis.
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	walletHandler := NewWalletHandler(deps.WalletSvc, deps.TransferSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.POST("", walletHandler.Provision)
		wallets.GET("/:user_id", walletHandler.GetBalance)
		wallets.DELETE("/:user_id", walletHandler.Deactivate)
		wallets.GET("/:user_id/transactions", walletHandler.ListTransactions)
	}

	transferHandler := NewTransferHandler(deps.TransferSvc)
	v1.POST("/transfers", transferHandler.Transfer)
	v1.POST("/mints", transferHandler.Mint)
	v1.POST("/burns", transferHandler.Burn)
	v1.GET("/transactions/:id", transferHandler.GetTransaction)

	rateHandler := NewRateHandler(deps.Oracle)
	rates := v1.Group("/rates")
	{
		rates.GET("/current", rateHandler.CurrentRate)
		rates.GET("/history", rateHandler.RateHistory)
	}
	v1.GET("/fees/estimate", rateHandler.EstimateFee)

	return r
}
