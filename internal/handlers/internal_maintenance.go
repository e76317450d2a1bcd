package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/automation/internal/platform/httpx"
	"github.com/hanko-field/automation/internal/platform/requestctx"
	"github.com/hanko-field/automation/internal/services"
)

// InternalMaintenanceHandlers exposes scheduler-triggered housekeeping. Authentication is
// applied by the internal route group.
type InternalMaintenanceHandlers struct {
	maintenance services.MaintenanceService
}

// NewInternalMaintenanceHandlers constructs the handlers.
func NewInternalMaintenanceHandlers(maintenance services.MaintenanceService) *InternalMaintenanceHandlers {
	return &InternalMaintenanceHandlers{maintenance: maintenance}
}

// Routes registers /automation/maintenance beneath the internal group.
func (h *InternalMaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/automation/maintenance/expire-promo-codes", h.expirePromoCodes)
	r.Post("/automation/maintenance/cleanup-idempotency", h.cleanupIdempotency)
}

type expirePromoCodesResponse struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
}

type cleanupIdempotencyResponse struct {
	Removed int `json:"removed"`
}

func (h *InternalMaintenanceHandlers) expirePromoCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maintenance == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "maintenance service unavailable", http.StatusServiceUnavailable))
		return
	}
	result, err := h.maintenance.ExpirePromoCodes(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("maintenance: expire promo codes failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_failed", "failed to expire promo codes", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expirePromoCodesResponse{Scanned: result.Scanned, Expired: result.Expired})
}

func (h *InternalMaintenanceHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maintenance == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "maintenance service unavailable", http.StatusServiceUnavailable))
		return
	}
	removed, err := h.maintenance.CleanupIdempotency(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("maintenance: idempotency cleanup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_failed", "failed to clean up idempotency records", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cleanupIdempotencyResponse{Removed: removed})
}
