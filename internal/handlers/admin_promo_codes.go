package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/platform/auth"
	"github.com/hanko-field/automation/internal/platform/httpx"
	"github.com/hanko-field/automation/internal/services"
)

// AdminPromoCodeHandlers exposes read access to automatically issued discount codes.
type AdminPromoCodeHandlers struct {
	authn   *auth.Authenticator
	codes   services.PromoCodeService
	limiter rateLimiter
}

// NewAdminPromoCodeHandlers constructs the handlers. perMinute <= 0 disables throttling.
func NewAdminPromoCodeHandlers(authn *auth.Authenticator, codes services.PromoCodeService, perMinute int) *AdminPromoCodeHandlers {
	return &AdminPromoCodeHandlers{
		authn:   authn,
		codes:   codes,
		limiter: newTokenBucketLimiter(perMinute, 0, nil),
	}
}

// Routes registers /automation/promo-codes beneath the admin group.
func (h *AdminPromoCodeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/automation/promo-codes", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
		}
		rt.Use(throttle(h.limiter, func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		}))
		rt.Get("/", h.listPromoCodes)
		rt.Get("/{code}", h.getPromoCode)
	})
}

type promoCodePayload struct {
	Code              string   `json:"code"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	Type              string   `json:"type"`
	Value             int      `json:"value"`
	UsageLimit        int      `json:"usage_limit"`
	UsageLimitPerUser int      `json:"usage_limit_per_user"`
	ValidFrom         string   `json:"valid_from,omitempty"`
	ValidUntil        string   `json:"valid_until,omitempty"`
	ApplicableUsers   []string `json:"applicable_users"`
	Status            string   `json:"status"`
	AutoApply         bool     `json:"auto_apply"`
	CreatedBy         string   `json:"created_by,omitempty"`
	Context           string   `json:"context,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty"`
}

type promoCodeResponse struct {
	PromoCode promoCodePayload `json:"promo_code"`
}

type promoCodeListResponse struct {
	Items []promoCodePayload `json:"items"`
}

func (h *AdminPromoCodeHandlers) getPromoCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.codes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promo_code_service_unavailable", "promo code service unavailable", http.StatusServiceUnavailable))
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	promo, err := h.codes.GetCode(ctx, code)
	if err != nil {
		writePromoCodeError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, promoCodeResponse{PromoCode: buildPromoCodePayload(promo)})
}

func (h *AdminPromoCodeHandlers) listPromoCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.codes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promo_code_service_unavailable", "promo code service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	codes, err := h.codes.ListUserCodes(ctx, query.Get("userId"), limit)
	if err != nil {
		writePromoCodeError(ctx, w, err)
		return
	}
	items := make([]promoCodePayload, 0, len(codes))
	for _, promo := range codes {
		items = append(items, buildPromoCodePayload(promo))
	}
	httpx.WriteJSON(w, http.StatusOK, promoCodeListResponse{Items: items})
}

func buildPromoCodePayload(promo domain.PromoCode) promoCodePayload {
	users := promo.ApplicableUsers
	if users == nil {
		users = []string{}
	}
	return promoCodePayload{
		Code:              promo.Code,
		Name:              promo.Name,
		Description:       promo.Description,
		Type:              promo.Type,
		Value:             promo.Value,
		UsageLimit:        promo.UsageLimit,
		UsageLimitPerUser: promo.UsageLimitPerUser,
		ValidFrom:         formatTime(promo.ValidFrom),
		ValidUntil:        formatTime(promo.ValidUntil),
		ApplicableUsers:   users,
		Status:            promo.Status,
		AutoApply:         promo.AutoApply,
		CreatedBy:         promo.CreatedBy,
		Context:           promo.Context,
		CreatedAt:         formatTime(promo.CreatedAt),
	}
}

func writePromoCodeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPromoCodeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPromoCodeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promo_code_not_found", "promo code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPromoCodeUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("promo_code_service_unavailable", "promo code repository unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("promo_code_error", "failed to load promo codes", http.StatusInternalServerError))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
