package service

import (
	"context"
	"errors"
	"time"

	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// walletService implements ports.WalletService.
type walletService struct {
	walletRepo ports.WalletRepository
	settle     ports.SettlementClient
	encSvc     ports.EncryptionService
	oracle     ports.RateOracle
	log        zerolog.Logger
}

// NewWalletService creates a new wallet service.
func NewWalletService(
	walletRepo ports.WalletRepository,
	settle ports.SettlementClient,
	encSvc ports.EncryptionService,
	oracle ports.RateOracle,
	log zerolog.Logger,
) ports.WalletService {
	return &walletService{
		walletRepo: walletRepo,
		settle:     settle,
		encSvc:     encSvc,
		oracle:     oracle,
		log:        log,
	}
}

// Provision creates the user's wallet or returns the existing one. Safe to
// call repeatedly: a concurrent create loses the unique-constraint race and
// falls back to reading the winner's row.
func (s *walletService) Provision(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	existing, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if existing != nil {
		return existing, nil
	}

	address, secret, err := s.settle.GenerateKeypair()
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	encrypted, err := s.encSvc.Encrypt(secret)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	now := time.Now().UTC()
	wallet := &domain.Wallet{
		ID:              uuid.New(),
		UserID:          userID,
		Address:         address,
		EncryptedSecret: encrypted,
		Balance:         decimal.Zero,
		FiatEquivalent:  decimal.Zero,
		NetworkBalance:  decimal.Zero,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code == apperror.ErrWalletExists().Code {
			// Lost the race; return the winner's wallet.
			winner, getErr := s.walletRepo.GetByUserID(ctx, userID)
			if getErr != nil || winner == nil {
				return nil, apperror.InternalError(err)
			}
			return winner, nil
		}
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID.String()).
		Str("wallet_id", wallet.ID.String()).
		Str("address", address).
		Msg("wallet provisioned")

	return wallet, nil
}

// Balance returns the wallet with the current conversion rate for display.
func (s *walletService) Balance(ctx context.Context, userID uuid.UUID) (*ports.WalletBalance, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return &ports.WalletBalance{
		Wallet: wallet,
		Rate:   s.oracle.CurrentRate(ctx),
	}, nil
}

// Deactivate flags the user's wallet inactive. History is kept.
func (s *walletService) Deactivate(ctx context.Context, userID uuid.UUID) error {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return apperror.InternalError(err)
	}
	if wallet == nil {
		return apperror.ErrNotFound("wallet")
	}
	return s.walletRepo.Deactivate(ctx, wallet.ID)
}
