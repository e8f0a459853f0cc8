package service

import (
	"context"
	"time"

	"agroledger/config"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Polled    int
	Confirmed int
	Failed    int
	Escalated int
	Archived  int64
}

// Sweeper is the reconciliation loop: it polls the settlement network for
// every in-flight transaction and drives it to a terminal state. Every
// action it takes goes through the transfer engine's guarded transitions,
// so a sweep overlapping a slow manual sweep or a late synchronous response
// is harmless.
type Sweeper struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	settle     ports.SettlementClient
	transfers  ports.TransferService
	cfg        config.SweeperConfig
	log        zerolog.Logger
}

// NewSweeper creates the reconciliation sweeper.
func NewSweeper(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	settle ports.SettlementClient,
	transfers ports.TransferService,
	cfg config.SweeperConfig,
	log zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		settle:     settle,
		transfers:  transfers,
		cfg:        cfg,
		log:        log,
	}
}

// Start runs sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("grace_period", s.cfg.GracePeriod).
		Dur("staleness_ceiling", s.cfg.StalenessCeiling).
		Msg("reconciliation sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("sweep pass failed")
				continue
			}
			if report.Polled > 0 || report.Escalated > 0 {
				s.log.Info().
					Int("polled", report.Polled).
					Int("confirmed", report.Confirmed).
					Int("failed", report.Failed).
					Int("escalated", report.Escalated).
					Msg("sweep pass complete")
			}
		}
	}
}

// Sweep runs one reconciliation pass: poll unsettled transactions inside the
// [grace period, staleness ceiling] window, then escalate everything older
// than the ceiling.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := time.Now().UTC()

	unsettled, err := s.txRepo.ListUnsettled(ctx,
		now.Add(-s.cfg.GracePeriod), now.Add(-s.cfg.StalenessCeiling), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	for i := range unsettled {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		txn := &unsettled[i]
		report.Polled++
		s.reconcile(ctx, txn, &report)
	}

	stale, err := s.txRepo.ListStale(ctx, now.Add(-s.cfg.StalenessCeiling), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	for i := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := s.transfers.Escalate(ctx, stale[i].ID); err != nil {
			s.log.Error().Err(err).
				Str("txn_id", stale[i].ID.String()).
				Msg("escalation failed")
			continue
		}
		report.Escalated++
	}

	if s.cfg.Retention > 0 {
		archived, err := s.txRepo.Archive(ctx, now.Add(-s.cfg.Retention))
		if err != nil {
			s.log.Warn().Err(err).Msg("archival pass failed")
		} else {
			report.Archived = archived
		}
	}

	return report, nil
}

// reconcile polls one transaction's status and applies the outcome. Poll
// failures and inconclusive statuses leave the transaction untouched for
// the next pass.
func (s *Sweeper) reconcile(ctx context.Context, txn *domain.Transaction, report *SweepReport) {
	receipt, err := s.settle.GetStatus(ctx, *txn.ExternalRef)
	if err != nil {
		s.log.Warn().Err(err).
			Str("txn_id", txn.ID.String()).
			Str("external_ref", *txn.ExternalRef).
			Msg("status poll failed")
		return
	}

	switch receipt.Status {
	case ports.SettlementConfirmed:
		ext := domain.ExternalFields{
			BlockHeight: receipt.BlockHeight,
			NetworkFee:  receipt.NetworkFee,
		}
		if err := s.transfers.ResolveConfirmed(ctx, txn.ID, ext); err != nil {
			s.log.Error().Err(err).Str("txn_id", txn.ID.String()).Msg("confirm failed")
			return
		}
		report.Confirmed++
		s.touch(ctx, txn)
	case ports.SettlementFailed:
		if err := s.transfers.ResolveFailed(ctx, txn.ID); err != nil {
			s.log.Error().Err(err).Str("txn_id", txn.ID.String()).Msg("refund failed")
			return
		}
		report.Failed++
		s.touch(ctx, txn)
	case ports.SettlementNotFound:
		// The network may not have indexed the submission yet. Not terminal:
		// the transaction either confirms later or ages past the ceiling.
		s.log.Debug().
			Str("txn_id", txn.ID.String()).
			Str("external_ref", *txn.ExternalRef).
			Msg("reference not known to network yet")
	default:
		// Still pending on the network side.
	}
}

// touch stamps the involved wallets with the reconciliation time and
// refreshes the cached network balance. Best effort: the ledger state is
// already settled.
func (s *Sweeper) touch(ctx context.Context, txn *domain.Transaction) {
	at := time.Now().UTC()
	if txn.FromWalletID != nil {
		if err := s.walletRepo.TouchReconciled(ctx, *txn.FromWalletID, at); err != nil {
			s.log.Warn().Err(err).Str("wallet_id", txn.FromWalletID.String()).Msg("touch reconciled failed")
		}
		s.refreshNetworkBalance(ctx, *txn.FromWalletID)
	}
	if txn.ToWalletID != nil {
		if err := s.walletRepo.TouchReconciled(ctx, *txn.ToWalletID, at); err != nil {
			s.log.Warn().Err(err).Str("wallet_id", txn.ToWalletID.String()).Msg("touch reconciled failed")
		}
		s.refreshNetworkBalance(ctx, *txn.ToWalletID)
	}
}

// refreshNetworkBalance re-caches the network's view of the wallet's
// holdings. An unreachable gateway only delays the refresh to a later pass.
func (s *Sweeper) refreshNetworkBalance(ctx context.Context, walletID uuid.UUID) {
	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil || wallet == nil {
		s.log.Warn().Err(err).Str("wallet_id", walletID.String()).Msg("network balance refresh: wallet lookup failed")
		return
	}
	balance, err := s.settle.AccountBalance(ctx, wallet.Address)
	if err != nil {
		s.log.Debug().Err(err).Str("wallet_id", walletID.String()).Msg("network balance refresh skipped")
		return
	}
	if err := s.walletRepo.UpdateNetworkBalance(ctx, walletID, balance); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", walletID.String()).Msg("network balance refresh failed")
	}
}
