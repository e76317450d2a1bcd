package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/automation/internal/domain"
)

func TestPromoCodeService_GetCode(t *testing.T) {
	promos := newMemoryPromoCodes()
	promos.codes["CART8AB12"] = domain.PromoCode{Code: "CART8AB12", Value: 8}
	svc, err := NewPromoCodeService(PromoCodeServiceDeps{PromoCodes: promos})
	if err != nil {
		t.Fatalf("NewPromoCodeService: %v", err)
	}

	promo, err := svc.GetCode(context.Background(), " cart8ab12 ")
	if err != nil || promo.Value != 8 {
		t.Fatalf("expected code, got %+v %v", promo, err)
	}
	if _, err := svc.GetCode(context.Background(), "MISSING"); !errors.Is(err, ErrPromoCodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetCode(context.Background(), " "); !errors.Is(err, ErrPromoCodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	promos.findErr = fakeRepositoryError{unavailable: true}
	if _, err := svc.GetCode(context.Background(), "CART8AB12"); !errors.Is(err, ErrPromoCodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPromoCodeService_ListUserCodes(t *testing.T) {
	promos := newMemoryPromoCodes()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	promos.codes["A"] = domain.PromoCode{Code: "A", ApplicableUsers: []string{"u-1"}, CreatedAt: base}
	promos.codes["B"] = domain.PromoCode{Code: "B", ApplicableUsers: []string{"u-1"}, CreatedAt: base.Add(time.Hour)}
	promos.codes["C"] = domain.PromoCode{Code: "C", ApplicableUsers: []string{"u-2"}, CreatedAt: base}
	svc, _ := NewPromoCodeService(PromoCodeServiceDeps{PromoCodes: promos})

	codes, err := svc.ListUserCodes(context.Background(), "u-1", 0)
	if err != nil {
		t.Fatalf("ListUserCodes: %v", err)
	}
	if len(codes) != 2 || codes[0].Code != "B" {
		t.Fatalf("expected newest first, got %+v", codes)
	}
	if _, err := svc.ListUserCodes(context.Background(), "", 10); !errors.Is(err, ErrPromoCodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
