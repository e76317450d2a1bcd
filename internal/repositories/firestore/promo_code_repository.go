package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/automation/internal/domain"
	pfirestore "github.com/hanko-field/automation/internal/platform/firestore"
	"github.com/hanko-field/automation/internal/repositories"
)

const (
	promoCodeCollection   = "promoCodes"
	promoCodeSource       = "automation"
	defaultPromoCodeLimit = 50
)

// PromoCodeRepository stores issued codes with the code itself as document id, so Create
// is the uniqueness constraint.
type PromoCodeRepository struct {
	base *pfirestore.BaseRepository[promoCodeDocument]
	now  func() time.Time
}

// NewPromoCodeRepository constructs a Firestore-backed promo code repository.
func NewPromoCodeRepository(provider *pfirestore.Provider) (*PromoCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("promo code repository requires firestore provider")
	}
	return &PromoCodeRepository{
		base: pfirestore.NewBaseRepository[promoCodeDocument](provider, promoCodeCollection),
		now:  time.Now,
	}, nil
}

// FindByCode loads one code. Codes are stored upper-cased.
func (r *PromoCodeRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	if r == nil || r.base == nil {
		return domain.PromoCode{}, errors.New("promo code repository not initialised")
	}
	code = normaliseCode(code)
	if code == "" {
		return domain.PromoCode{}, errors.New("promo code is required")
	}
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.PromoCode{}, err
	}
	return toDomainPromoCode(doc.ID, doc.Data, doc.CreateTime), nil
}

// Create inserts the code and returns a conflict error when it already exists.
func (r *PromoCodeRepository) Create(ctx context.Context, promo domain.PromoCode) error {
	if r == nil || r.base == nil {
		return errors.New("promo code repository not initialised")
	}
	code := normaliseCode(promo.Code)
	if code == "" {
		return errors.New("promo code is required")
	}
	promo.Code = code
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = r.now().UTC()
	}
	return r.base.Create(ctx, code, fromDomainPromoCode(promo))
}

// ListByUser returns codes applicable to the user, newest first.
func (r *PromoCodeRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.PromoCode, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("promo code repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if limit <= 0 {
		limit = defaultPromoCodeLimit
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("applicableUsers", "array-contains", userID).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return toDomainPromoCodes(docs), nil
}

// ListExpired returns active auto-issued codes whose validity ended at or before now.
func (r *PromoCodeRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.PromoCode, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("promo code repository not initialised")
	}
	if limit <= 0 {
		limit = defaultPromoCodeLimit
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("source", "==", promoCodeSource).
			Where("status", "==", domain.PromoCodeStatusActive).
			Where("validUntil", "<=", now.UTC()).
			OrderBy("validUntil", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return toDomainPromoCodes(docs), nil
}

// MarkExpired flips the listed codes to expired and returns how many were updated.
func (r *PromoCodeRepository) MarkExpired(ctx context.Context, codes []string, at time.Time) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("promo code repository not initialised")
	}
	ids := make([]string, 0, len(codes))
	for _, code := range codes {
		if code = normaliseCode(code); code != "" {
			ids = append(ids, code)
		}
	}
	return r.base.UpdateAll(ctx, ids, []firestore.Update{
		{Path: "status", Value: domain.PromoCodeStatusExpired},
		{Path: "expiredAt", Value: at.UTC()},
	})
}

type promoCodeDocument struct {
	Code              string     `firestore:"code"`
	Name              string     `firestore:"name"`
	Description       string     `firestore:"description"`
	Type              string     `firestore:"type"`
	Value             int        `firestore:"value"`
	UsageLimit        int        `firestore:"usageLimit"`
	UsageLimitPerUser int        `firestore:"usageLimitPerUser"`
	ValidFrom         time.Time  `firestore:"validFrom"`
	ValidUntil        time.Time  `firestore:"validUntil"`
	ApplicableUsers   []string   `firestore:"applicableUsers"`
	Status            string     `firestore:"status"`
	AutoApply         bool       `firestore:"autoApply"`
	CreatedBy         string     `firestore:"createdBy"`
	Context           string     `firestore:"context"`
	Source            string     `firestore:"source"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	ExpiredAt         *time.Time `firestore:"expiredAt,omitempty"`
}

func fromDomainPromoCode(promo domain.PromoCode) promoCodeDocument {
	applicable := promo.ApplicableUsers
	if applicable == nil {
		applicable = []string{}
	}
	return promoCodeDocument{
		Code:              promo.Code,
		Name:              promo.Name,
		Description:       promo.Description,
		Type:              promo.Type,
		Value:             promo.Value,
		UsageLimit:        promo.UsageLimit,
		UsageLimitPerUser: promo.UsageLimitPerUser,
		ValidFrom:         promo.ValidFrom.UTC(),
		ValidUntil:        promo.ValidUntil.UTC(),
		ApplicableUsers:   applicable,
		Status:            promo.Status,
		AutoApply:         promo.AutoApply,
		CreatedBy:         promo.CreatedBy,
		Context:           promo.Context,
		Source:            promoCodeSource,
		CreatedAt:         promo.CreatedAt.UTC(),
	}
}

func toDomainPromoCode(id string, doc promoCodeDocument, created time.Time) domain.PromoCode {
	promo := domain.PromoCode{
		Code:              doc.Code,
		Name:              doc.Name,
		Description:       doc.Description,
		Type:              doc.Type,
		Value:             doc.Value,
		UsageLimit:        doc.UsageLimit,
		UsageLimitPerUser: doc.UsageLimitPerUser,
		ValidFrom:         doc.ValidFrom,
		ValidUntil:        doc.ValidUntil,
		ApplicableUsers:   append([]string(nil), doc.ApplicableUsers...),
		Status:            doc.Status,
		AutoApply:         doc.AutoApply,
		CreatedBy:         doc.CreatedBy,
		Context:           doc.Context,
		CreatedAt:         doc.CreatedAt,
	}
	if promo.Code == "" {
		promo.Code = id
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = created
	}
	return promo
}

func toDomainPromoCodes(docs []pfirestore.Document[promoCodeDocument]) []domain.PromoCode {
	out := make([]domain.PromoCode, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDomainPromoCode(doc.ID, doc.Data, doc.CreateTime))
	}
	return out
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var _ repositories.PromoCodeRepository = (*PromoCodeRepository)(nil)
