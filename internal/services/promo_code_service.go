package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/repositories"
)

const (
	defaultPromoCodeListLimit = 20
	maxPromoCodeListLimit     = 100
)

// PromoCodeServiceDeps bundles collaborators for promo code administration.
type PromoCodeServiceDeps struct {
	PromoCodes repositories.PromoCodeRepository
}

type promoCodeService struct {
	promoCodes repositories.PromoCodeRepository
}

var _ PromoCodeService = (*promoCodeService)(nil)

// NewPromoCodeService constructs the admin read service.
func NewPromoCodeService(deps PromoCodeServiceDeps) (PromoCodeService, error) {
	if deps.PromoCodes == nil {
		return nil, errors.New("promo code service: repository is required")
	}
	return &promoCodeService{promoCodes: deps.PromoCodes}, nil
}

func (s *promoCodeService) GetCode(ctx context.Context, code string) (domain.PromoCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.PromoCode{}, fmt.Errorf("%w: code is required", ErrPromoCodeInvalidInput)
	}
	promo, err := s.promoCodes.FindByCode(ctx, code)
	if err != nil {
		return domain.PromoCode{}, translatePromoCodeError(err)
	}
	return promo, nil
}

func (s *promoCodeService) ListUserCodes(ctx context.Context, userID string, limit int) ([]domain.PromoCode, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrPromoCodeInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultPromoCodeListLimit
	case limit > maxPromoCodeListLimit:
		limit = maxPromoCodeListLimit
	}
	codes, err := s.promoCodes.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, translatePromoCodeError(err)
	}
	return codes, nil
}

func translatePromoCodeError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPromoCodeNotFound
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPromoCodeUnavailable, err)
		}
	}
	return err
}
