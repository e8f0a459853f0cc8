package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agroledger/config"
	httpHandler "agroledger/internal/adapter/http/handler"
	"agroledger/internal/adapter/settlement"
	pgStorage "agroledger/internal/adapter/storage/postgres"
	redisStorage "agroledger/internal/adapter/storage/redis"
	"agroledger/internal/core/ports"
	"agroledger/internal/service"
	"agroledger/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("settlement_mode", cfg.Settlement.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting AgroLedger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	rateRepo := pgStorage.NewRateRepo(pool)
	transactor := pgStorage.NewTransactor(pool)
	rateCache := redisStorage.NewRateCache(rdb)

	// Core services
	encSvc, err := service.NewAESEncryptionService(cfg.Encryption.Passphrase, cfg.Encryption.Salt)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()

	settleClient, err := settlement.NewClient(cfg.Settlement,
		settlement.NewHTTPClient(cfg.Settlement.RequestTimeout), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize settlement client")
	}

	notifier := service.NewEventDispatcher(cfg.Events, sigSvc,
		&http.Client{Timeout: 10 * time.Second}, log)

	// Business services
	oracle, err := service.NewRateService(rateRepo, rateCache, settleClient, cfg.Oracle, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate oracle")
	}
	walletSvc := service.NewWalletService(walletRepo, settleClient, encSvc, oracle, log)
	transferSvc, err := service.NewTransferService(walletRepo, txRepo, transactor,
		settleClient, encSvc, oracle, notifier, cfg.Settlement, cfg.Ledger.CommissionRate, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transfer engine")
	}

	// Reconciliation sweeper
	sweeper := service.NewSweeper(txRepo, walletRepo, settleClient, transferSvc, cfg.Sweeper, log)
	go sweeper.Start(ctx)

	// Daily rate snapshot
	go recordDailySnapshots(ctx, oracle, log)

	// Health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Gin router
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		TransferSvc:    transferSvc,
		Oracle:         oracle,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	notifier.Close()

	log.Info().Msg("Server exited")
}

// recordDailySnapshots appends one conversion-rate row per calendar day. The
// store ignores duplicate days, so running this on every instance is safe.
func recordDailySnapshots(ctx context.Context, oracle ports.RateOracle, log zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	if err := oracle.RecordDailySnapshot(ctx); err != nil {
		log.Warn().Err(err).Msg("daily rate snapshot failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := oracle.RecordDailySnapshot(ctx); err != nil {
				log.Warn().Err(err).Msg("daily rate snapshot failed")
			}
		}
	}
}
