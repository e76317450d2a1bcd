package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/automation/internal/platform/httpx"
	"github.com/hanko-field/automation/internal/platform/requestctx"
	"github.com/hanko-field/automation/internal/services"
)

const (
	defaultAutomationBodySize = 1 << 20
	decisionIDHeader          = "X-Decision-Id"
)

// AutomationHandlers serves the automation webhook. Responses keep the legacy
// {action, message, data} and {error} shapes rather than the httpx envelope.
type AutomationHandlers struct {
	automation  services.AutomationService
	limiter     rateLimiter
	maxBody     int64
	middlewares []func(http.Handler) http.Handler
}

// AutomationOption customises AutomationHandlers.
type AutomationOption func(*AutomationHandlers)

// WithAutomationRateLimit throttles POST deliveries per client IP.
func WithAutomationRateLimit(perMinute, burst int) AutomationOption {
	return func(h *AutomationHandlers) {
		h.limiter = newTokenBucketLimiter(perMinute, burst, nil)
	}
}

// WithAutomationMaxBodyBytes overrides the 1 MiB body cap.
func WithAutomationMaxBodyBytes(limit int64) AutomationOption {
	return func(h *AutomationHandlers) {
		if limit > 0 {
			h.maxBody = limit
		}
	}
}

// WithAutomationMiddlewares wraps POST deliveries, after the body cap, in the given order.
func WithAutomationMiddlewares(mw ...func(http.Handler) http.Handler) AutomationOption {
	return func(h *AutomationHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewAutomationHandlers constructs the webhook handlers.
func NewAutomationHandlers(automation services.AutomationService, opts ...AutomationOption) *AutomationHandlers {
	h := &AutomationHandlers{
		automation: automation,
		maxBody:    defaultAutomationBodySize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers GET and POST on the mount point.
func (h *AutomationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.capabilities)
	r.Group(func(post chi.Router) {
		post.Use(throttle(h.limiter, func(w http.ResponseWriter, _ *http.Request) {
			writeAutomationError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}))
		post.Use(limitBody(h.maxBody))
		for _, mw := range h.middlewares {
			if mw != nil {
				post.Use(mw)
			}
		}
		post.Post("/", h.process)
	})
}

type automationCapabilitiesResponse struct {
	Status          string   `json:"status"`
	Service         string   `json:"service"`
	Version         string   `json:"version"`
	SupportedEvents []string `json:"supported_events"`
}

type automationDecisionResponse struct {
	Action  string         `json:"action"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type automationErrorResponse struct {
	Error string `json:"error"`
}

func (h *AutomationHandlers) capabilities(w http.ResponseWriter, r *http.Request) {
	if h.automation == nil {
		writeAutomationError(w, http.StatusServiceUnavailable, "automation service unavailable")
		return
	}
	caps := h.automation.Capabilities()
	events := make([]string, len(caps.SupportedEvents))
	copy(events, caps.SupportedEvents)
	httpx.WriteJSON(w, http.StatusOK, automationCapabilitiesResponse{
		Status:          caps.Status,
		Service:         caps.Service,
		Version:         caps.Version,
		SupportedEvents: events,
	})
}

func (h *AutomationHandlers) process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	if h.automation == nil {
		writeAutomationFailure(w, "automation service unavailable")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAutomationError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeAutomationError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	payload, err := decodeAutomationPayload(body)
	if err != nil {
		writeAutomationError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	result, err := h.automation.Process(ctx, payload)
	if err != nil {
		var validation *services.AutomationValidationError
		switch {
		case errors.As(err, &validation):
			writeAutomationError(w, http.StatusBadRequest, validation.Error())
		case errors.Is(err, services.ErrAutomationInvalidEvent), errors.Is(err, services.ErrAutomationInvalidPayload):
			writeAutomationError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error("automation: processing failed", zap.Error(err))
			writeAutomationFailure(w, err.Error())
		}
		return
	}

	data := result.Decision.Data
	if data == nil {
		data = map[string]any{}
	}
	logger.Info("automation: decision",
		zap.String("decisionId", result.DecisionID),
		zap.String("event", string(result.Event)),
		zap.String("action", result.Decision.ActionString()),
		zap.Duration("latency", time.Since(start)),
	)
	if result.DecisionID != "" {
		w.Header().Set(decisionIDHeader, result.DecisionID)
	}
	httpx.WriteJSON(w, http.StatusOK, automationDecisionResponse{
		Action:  result.Decision.ActionString(),
		Message: "",
		Data:    data,
	})
}

// decodeAutomationPayload requires a JSON object. Numbers stay json.Number so large ids
// keep their exact digits.
func decodeAutomationPayload(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("request body must be a JSON object")
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil || payload == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if decoder.More() {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return payload, nil
}

func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAutomationError(w http.ResponseWriter, status int, message string) {
	httpx.WriteJSON(w, status, automationErrorResponse{Error: strings.TrimSpace(message)})
}

func writeAutomationFailure(w http.ResponseWriter, message string) {
	httpx.WriteJSON(w, http.StatusInternalServerError, automationDecisionResponse{
		Action:  "nothing",
		Message: "",
		Data:    map[string]any{"error": message},
	})
}
