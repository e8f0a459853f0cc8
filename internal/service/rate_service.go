package service

import (
	"context"
	"sync"
	"time"

	"agroledger/config"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// rateService implements ports.RateOracle. Rate reads go cache → repository →
// last-known-good → configured default, so callers always get a usable value.
type rateService struct {
	rateRepo ports.RateRepository
	cache    ports.RateCache
	settle   ports.SettlementClient
	cfg      config.OracleConfig
	log      zerolog.Logger

	mu        sync.RWMutex
	lastKnown *decimal.Decimal

	defaultRate decimal.Decimal
}

// NewRateService creates the rate/fee oracle.
func NewRateService(
	rateRepo ports.RateRepository,
	cache ports.RateCache,
	settle ports.SettlementClient,
	cfg config.OracleConfig,
	log zerolog.Logger,
) (ports.RateOracle, error) {
	defaultRate, err := decimal.NewFromString(cfg.DefaultRate)
	if err != nil {
		return nil, err
	}
	return &rateService{
		rateRepo:    rateRepo,
		cache:       cache,
		settle:      settle,
		cfg:         cfg,
		log:         log,
		defaultRate: defaultRate,
	}, nil
}

// CurrentRate returns the conversion rate (1 token in fiat). It never
// returns an error: cache and repository failures degrade to the last known
// good value, then to the configured default.
func (s *rateService) CurrentRate(ctx context.Context) decimal.Decimal {
	if cached, err := s.cache.GetRate(ctx); err == nil && cached != nil {
		s.remember(*cached)
		return *cached
	} else if err != nil {
		s.log.Warn().Err(err).Msg("rate cache read failed")
	}

	snapshot, err := s.rateRepo.LatestSnapshot(ctx)
	if err == nil && snapshot != nil {
		if err := s.cache.SetRate(ctx, snapshot.Rate, s.cfg.CacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("rate cache write failed")
		}
		s.remember(snapshot.Rate)
		return snapshot.Rate
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("rate snapshot read failed")
	}

	s.mu.RLock()
	last := s.lastKnown
	s.mu.RUnlock()
	if last != nil {
		return *last
	}
	return s.defaultRate
}

func (s *rateService) remember(rate decimal.Decimal) {
	s.mu.Lock()
	s.lastKnown = &rate
	s.mu.Unlock()
}

// RecordDailySnapshot appends today's rate to the history series. The
// repository's append-once guard makes concurrent callers harmless.
func (s *rateService) RecordDailySnapshot(ctx context.Context) error {
	rate := s.CurrentRate(ctx)
	today := time.Now().UTC()

	inserted, err := s.rateRepo.InsertDailySnapshot(ctx, rate, today)
	if err != nil {
		return err
	}
	if inserted {
		s.log.Info().Str("rate", rate.String()).Msg("recorded daily rate snapshot")
	}
	return nil
}

// EstimateFee returns the network fee estimate for a kind. The settlement
// client already degrades to its static fallback; a short cache keeps the
// gateway off the hot path.
func (s *rateService) EstimateFee(ctx context.Context, kind domain.TransactionKind) decimal.Decimal {
	if cached, err := s.cache.GetFee(ctx, kind); err == nil && cached != nil {
		return *cached
	} else if err != nil {
		s.log.Warn().Err(err).Msg("fee cache read failed")
	}

	fee, err := s.settle.EstimateFee(ctx, kind)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("fee estimate unavailable")
		return decimal.Zero
	}

	if err := s.cache.SetFee(ctx, kind, fee, s.cfg.FeeCacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("fee cache write failed")
	}
	return fee
}

// RateHistory returns up to limit daily snapshots, newest first.
func (s *rateService) RateHistory(ctx context.Context, limit int) ([]domain.ConversionRate, error) {
	return s.rateRepo.ListSnapshots(ctx, limit)
}
