package services

import (
	"context"
	"errors"
	"time"

	"github.com/hanko-field/automation/internal/repositories"
)

const defaultMaintenanceBatch = 200

// MaintenanceServiceDeps bundles collaborators for scheduled housekeeping. Idempotency is
// optional.
type MaintenanceServiceDeps struct {
	PromoCodes       repositories.PromoCodeRepository
	Idempotency      IdempotencyCleaner
	PromoExpiryBatch int
	CleanupBatch     int
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type maintenanceService struct {
	promoCodes   repositories.PromoCodeRepository
	idempotency  IdempotencyCleaner
	expiryBatch  int
	cleanupBatch int
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

var _ MaintenanceService = (*maintenanceService)(nil)

// NewMaintenanceService constructs the maintenance service.
func NewMaintenanceService(deps MaintenanceServiceDeps) (MaintenanceService, error) {
	if deps.PromoCodes == nil {
		return nil, errors.New("maintenance service: promo code repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	s := &maintenanceService{
		promoCodes:   deps.PromoCodes,
		idempotency:  deps.Idempotency,
		expiryBatch:  deps.PromoExpiryBatch,
		cleanupBatch: deps.CleanupBatch,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
	if s.expiryBatch <= 0 {
		s.expiryBatch = defaultMaintenanceBatch
	}
	if s.cleanupBatch <= 0 {
		s.cleanupBatch = defaultMaintenanceBatch
	}
	return s, nil
}

// ExpirePromoCodes marks one batch of lapsed codes as expired.
func (s *maintenanceService) ExpirePromoCodes(ctx context.Context) (ExpirePromoCodesResult, error) {
	now := s.clock()
	lapsed, err := s.promoCodes.ListExpired(ctx, now, s.expiryBatch)
	if err != nil {
		return ExpirePromoCodesResult{}, err
	}
	result := ExpirePromoCodesResult{Scanned: len(lapsed)}
	if len(lapsed) == 0 {
		return result, nil
	}
	codes := make([]string, 0, len(lapsed))
	for _, promo := range lapsed {
		codes = append(codes, promo.Code)
	}
	expired, err := s.promoCodes.MarkExpired(ctx, codes, now)
	result.Expired = expired
	s.logger(ctx, "maintenance.promo_codes_expired", map[string]any{
		"scanned": result.Scanned,
		"expired": result.Expired,
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// CleanupIdempotency deletes one batch of expired idempotency records.
func (s *maintenanceService) CleanupIdempotency(ctx context.Context) (int, error) {
	if s.idempotency == nil {
		return 0, nil
	}
	removed, err := s.idempotency.CleanupExpired(ctx, s.clock(), s.cleanupBatch)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.logger(ctx, "maintenance.idempotency_cleaned", map[string]any{"removed": removed})
	}
	return removed, nil
}

// Run cleans idempotency records every interval until ctx is done.
func (s *maintenanceService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.idempotency == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupIdempotency(ctx); err != nil && ctx.Err() == nil {
				s.logger(ctx, "maintenance.idempotency_cleanup_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
