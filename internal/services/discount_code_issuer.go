package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/platform/textutil"
	"github.com/hanko-field/automation/internal/repositories"
)

const (
	discountCodeAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	discountCodeSuffixLen  = 4
	discountCodeValidity   = 30 * 24 * time.Hour
	discountLoggerIssued   = "automation.promo_code.issued"
	discountLoggerExisting = "automation.promo_code.existing"
	discountLoggerFailed   = "automation.promo_code.persist_failed"
)

// Context tags checked, in order, against the issuance context.
var discountCodeLabels = []struct {
	tag         string
	name        string
	description string
}{
	{"VIP", "VIP Customer Discount", "Exclusive %d%% discount for a valued repeat customer"},
	{"CART", "Cart Recovery Discount", "%d%% off to complete your purchase"},
	{"WELCOME", "Welcome Discount", "%d%% off your first order"},
	{"REVIEW", "Review Thank You Discount", "%d%% off as thanks for your review"},
}

// DiscountCodeIssuerDeps bundles collaborators for the issuer.
type DiscountCodeIssuerDeps struct {
	PromoCodes repositories.PromoCodeRepository
	Users      repositories.UserRepository
	Metrics    DecisionMetrics
	Clock      func() time.Time
	Random     io.Reader
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type discountCodeIssuer struct {
	promoCodes repositories.PromoCodeRepository
	users      repositories.UserRepository
	metrics    DecisionMetrics
	clock      func() time.Time
	random     io.Reader
	logger     func(context.Context, string, map[string]any)
}

var _ DiscountCodeIssuer = (*discountCodeIssuer)(nil)

// NewDiscountCodeIssuer constructs the issuer.
func NewDiscountCodeIssuer(deps DiscountCodeIssuerDeps) (DiscountCodeIssuer, error) {
	if deps.PromoCodes == nil {
		return nil, errors.New("discount code issuer: promo code repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("discount code issuer: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	random := deps.Random
	if random == nil {
		random = rand.Reader
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &discountCodeIssuer{
		promoCodes: deps.PromoCodes,
		users:      deps.Users,
		metrics:    deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		random: random,
		logger: logger,
	}, nil
}

// Issue mints a code and stores it. Storage problems are logged and the generated code is
// returned anyway; an existing code with the same string is returned unchanged.
func (i *discountCodeIssuer) Issue(ctx context.Context, cmd IssueDiscountCommand) (string, error) {
	prefix := strings.ToUpper(strings.TrimSpace(cmd.Prefix))
	if prefix == "" || cmd.Percentage <= 0 || cmd.Percentage > 100 {
		return "", fmt.Errorf("discount code issuer: invalid prefix %q or percentage %d", cmd.Prefix, cmd.Percentage)
	}
	suffix, err := i.randomSuffix()
	if err != nil {
		return "", fmt.Errorf("discount code issuer: generate suffix: %w", err)
	}
	code := prefix + strconv.Itoa(cmd.Percentage) + suffix
	userID := strings.TrimSpace(cmd.UserID)

	createdBy, err := i.resolveCreator(ctx, userID)
	if err != nil {
		i.persistFailed(ctx, code, prefix, err)
		return code, nil
	}

	now := i.clock()
	name, description := discountCodeLabel(cmd.Context, cmd.Percentage)
	applicable := []string{}
	if userID != "" {
		applicable = []string{userID}
	}
	promo := domain.PromoCode{
		Code:              code,
		Name:              name,
		Description:       description,
		Type:              domain.PromoCodeTypePercentage,
		Value:             cmd.Percentage,
		UsageLimit:        1,
		UsageLimitPerUser: 1,
		ValidFrom:         now,
		ValidUntil:        now.Add(discountCodeValidity),
		ApplicableUsers:   applicable,
		Status:            domain.PromoCodeStatusActive,
		AutoApply:         false,
		CreatedBy:         createdBy,
		Context:           cmd.Context,
		CreatedAt:         now,
	}

	if err := i.promoCodes.Create(ctx, promo); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			existing, findErr := i.promoCodes.FindByCode(ctx, code)
			if findErr == nil && existing.Code != "" {
				i.logger(ctx, discountLoggerExisting, map[string]any{"code": existing.Code})
				return existing.Code, nil
			}
		}
		i.persistFailed(ctx, code, prefix, err)
		return code, nil
	}

	if i.metrics != nil {
		i.metrics.RecordCodeIssued(ctx, prefix, true)
	}
	i.logger(ctx, discountLoggerIssued, map[string]any{
		"code":       code,
		"percentage": cmd.Percentage,
		"userId":     userID,
		"context":    cmd.Context,
	})
	return code, nil
}

// resolveCreator picks the issuing user, then an active administrator, then any active user.
func (i *discountCodeIssuer) resolveCreator(ctx context.Context, userID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	filters := []repositories.UserFilter{
		{Roles: []string{"admin", "super-admin"}, ActiveOnly: true, Limit: 1},
		{ActiveOnly: true, Limit: 1},
	}
	for _, filter := range filters {
		users, err := i.users.FindUsers(ctx, filter)
		if err != nil {
			return "", err
		}
		if len(users) > 0 && users[0].ID != "" {
			return users[0].ID, nil
		}
	}
	return "", errors.New("no active user available as code creator")
}

func (i *discountCodeIssuer) persistFailed(ctx context.Context, code, prefix string, err error) {
	if i.metrics != nil {
		i.metrics.RecordCodeIssued(ctx, prefix, false)
	}
	i.logger(ctx, discountLoggerFailed, map[string]any{
		"code":  code,
		"error": err.Error(),
	})
}

func (i *discountCodeIssuer) randomSuffix() (string, error) {
	// 252 is the largest multiple of 36 below 256; higher bytes are rejected to avoid bias.
	out := make([]byte, 0, discountCodeSuffixLen)
	buf := make([]byte, discountCodeSuffixLen*2)
	for len(out) < discountCodeSuffixLen {
		if _, err := io.ReadFull(i.random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 252 {
				continue
			}
			out = append(out, discountCodeAlphabet[int(b)%len(discountCodeAlphabet)])
			if len(out) == discountCodeSuffixLen {
				break
			}
		}
	}
	return string(out), nil
}

func discountCodeLabel(issueContext string, percentage int) (string, string) {
	for _, label := range discountCodeLabels {
		if textutil.ContainsFold(issueContext, label.tag) {
			return label.name, fmt.Sprintf(label.description, percentage)
		}
	}
	return "Automation Discount", fmt.Sprintf("%d%% discount", percentage)
}
