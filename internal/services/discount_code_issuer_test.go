package services

import (
	"bytes"
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/hanko-field/automation/internal/domain"
)

func newTestIssuer(t *testing.T, promos *memoryPromoCodes, users *memoryUsers, random []byte, metrics *recordingMetrics, logger *recordingLogger) DiscountCodeIssuer {
	t.Helper()
	deps := DiscountCodeIssuerDeps{
		PromoCodes: promos,
		Users:      users,
		Clock:      func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
	if random != nil {
		deps.Random = bytes.NewReader(random)
	}
	if metrics != nil {
		deps.Metrics = metrics
	}
	if logger != nil {
		deps.Logger = logger.log
	}
	issuer, err := NewDiscountCodeIssuer(deps)
	if err != nil {
		t.Fatalf("NewDiscountCodeIssuer: %v", err)
	}
	return issuer
}

func TestDiscountCodeIssuer_Issue_PersistsCode(t *testing.T) {
	promos := newMemoryPromoCodes()
	metrics := &recordingMetrics{}
	issuer := newTestIssuer(t, promos, newMemoryUsers(), nil, metrics, nil)

	code, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 10, Prefix: "WELCOME", UserID: "u-1", Context: "welcome new user"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !regexp.MustCompile(`^WELCOME10[A-Z0-9]{4}$`).MatchString(code) {
		t.Fatalf("unexpected code format %q", code)
	}

	stored := promos.only()
	if stored.Code != code || stored.Value != 10 || stored.Type != domain.PromoCodeTypePercentage {
		t.Fatalf("unexpected stored code %+v", stored)
	}
	if stored.UsageLimit != 1 || stored.UsageLimitPerUser != 1 || stored.Status != domain.PromoCodeStatusActive || stored.AutoApply {
		t.Fatalf("unexpected limits %+v", stored)
	}
	if got := stored.ValidUntil.Sub(stored.ValidFrom); got != 30*24*time.Hour {
		t.Fatalf("expected 30 day validity, got %s", got)
	}
	if len(stored.ApplicableUsers) != 1 || stored.ApplicableUsers[0] != "u-1" || stored.CreatedBy != "u-1" {
		t.Fatalf("unexpected ownership %+v", stored)
	}
	if stored.Name != "Welcome Discount" {
		t.Fatalf("expected case-insensitive context label, got %q", stored.Name)
	}
	if len(metrics.codes) != 1 || metrics.codes[0] != "WELCOME" {
		t.Fatalf("unexpected metrics %v", metrics.codes)
	}
}

func TestDiscountCodeIssuer_Issue_ReturnsExistingCode(t *testing.T) {
	promos := newMemoryPromoCodes()
	existing := domain.PromoCode{Code: "CART8AAAA", Value: 8, Description: "original"}
	promos.codes[existing.Code] = existing
	// Byte 10 maps to "A" in the base36 alphabet.
	issuer := newTestIssuer(t, promos, newMemoryUsers(), bytes.Repeat([]byte{10}, 8), nil, nil)

	code, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 8, Prefix: "CART", UserID: "u-2", Context: "cart"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if code != "CART8AAAA" {
		t.Fatalf("expected existing code, got %q", code)
	}
	if len(promos.codes) != 1 || promos.codes["CART8AAAA"].Description != "original" {
		t.Fatalf("existing code must stay unchanged, got %+v", promos.codes)
	}
}

func TestDiscountCodeIssuer_Issue_CreatorCascade(t *testing.T) {
	promos := newMemoryPromoCodes()
	users := newMemoryUsers(
		domain.User{ID: "a-inactive", Role: "admin", IsActive: false},
		domain.User{ID: "b-user", Role: "user", IsActive: true},
		domain.User{ID: "c-super", Role: "super-admin", IsActive: true},
	)
	issuer := newTestIssuer(t, promos, users, nil, nil, nil)

	if _, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 15, Prefix: "VIP", Context: "vip"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	stored := promos.only()
	if stored.CreatedBy != "c-super" {
		t.Fatalf("expected active administrator as creator, got %q", stored.CreatedBy)
	}
	if len(stored.ApplicableUsers) != 0 {
		t.Fatalf("expected no applicable users, got %v", stored.ApplicableUsers)
	}

	promos = newMemoryPromoCodes()
	issuer = newTestIssuer(t, promos, newMemoryUsers(domain.User{ID: "b-user", Role: "user", IsActive: true}), nil, nil, nil)
	if _, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 15, Prefix: "VIP", Context: "vip"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := promos.only().CreatedBy; got != "b-user" {
		t.Fatalf("expected any active user as creator, got %q", got)
	}
}

func TestDiscountCodeIssuer_Issue_StorageFailureStillReturnsCode(t *testing.T) {
	t.Run("create fails", func(t *testing.T) {
		promos := newMemoryPromoCodes()
		promos.createErr = fakeRepositoryError{unavailable: true}
		metrics := &recordingMetrics{}
		logger := &recordingLogger{}
		issuer := newTestIssuer(t, promos, newMemoryUsers(), nil, metrics, logger)

		code, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 5, Prefix: "REVIEW", UserID: "u-1", Context: "review"})
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if !regexp.MustCompile(`^REVIEW5[A-Z0-9]{4}$`).MatchString(code) {
			t.Fatalf("unexpected code %q", code)
		}
		if !logger.has("automation.promo_code.persist_failed") {
			t.Fatalf("expected failure to be logged")
		}
		if len(metrics.codes) != 1 || metrics.codes[0] != "REVIEW:unsaved" {
			t.Fatalf("unexpected metrics %v", metrics.codes)
		}
	})

	t.Run("no creator available", func(t *testing.T) {
		promos := newMemoryPromoCodes()
		issuer := newTestIssuer(t, promos, newMemoryUsers(), nil, nil, nil)
		code, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 8, Prefix: "CART", Context: "cart"})
		if err != nil || code == "" {
			t.Fatalf("expected unsaved code, got %q %v", code, err)
		}
		if len(promos.codes) != 0 {
			t.Fatalf("expected nothing persisted")
		}
	})
}

func TestDiscountCodeIssuer_Issue_RejectsInvalidInput(t *testing.T) {
	issuer := newTestIssuer(t, newMemoryPromoCodes(), newMemoryUsers(), nil, nil, nil)
	if _, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 0, Prefix: "CART"}); err == nil {
		t.Fatalf("expected error for zero percentage")
	}
	if _, err := issuer.Issue(context.Background(), IssueDiscountCommand{Percentage: 10, Prefix: " "}); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
}

func TestDiscountCodeLabel(t *testing.T) {
	tests := map[string]string{
		"VIP repeat customer": "VIP Customer Discount",
		"abandoned cart":      "Cart Recovery Discount",
		"Welcome aboard":      "Welcome Discount",
		"review thank you":    "Review Thank You Discount",
		"seasonal":            "Automation Discount",
	}
	for issueContext, want := range tests {
		if got, _ := discountCodeLabel(issueContext, 10); got != want {
			t.Fatalf("discountCodeLabel(%q) = %q, want %q", issueContext, got, want)
		}
	}
}
