package services

import (
	"context"
	"time"

	"github.com/hanko-field/automation/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	SystemHealthReport = domain.SystemHealthReport
	SystemHealthCheck  = domain.SystemHealthCheck
)

// AutomationService runs the webhook pipeline from raw payload to published decision.
type AutomationService interface {
	Process(ctx context.Context, payload map[string]any) (AutomationResult, error)
	Capabilities() AutomationCapabilities
}

// EntityResolver looks up the user, product and order an event refers to.
type EntityResolver interface {
	Resolve(ctx context.Context, event domain.NormalizedEvent) (domain.ResolvedContext, error)
}

// EventClassifier maps an event and its resolved entities to a decision.
type EventClassifier interface {
	Classify(ctx context.Context, event domain.NormalizedEvent, resolved domain.ResolvedContext) (domain.ActionDecision, error)
}

// DiscountCodeIssuer mints single-use percentage codes.
type DiscountCodeIssuer interface {
	Issue(ctx context.Context, cmd IssueDiscountCommand) (string, error)
}

// PromoCodeService exposes issued codes to administrators.
type PromoCodeService interface {
	GetCode(ctx context.Context, code string) (domain.PromoCode, error)
	ListUserCodes(ctx context.Context, userID string, limit int) ([]domain.PromoCode, error)
}

// MaintenanceService runs scheduled housekeeping.
type MaintenanceService interface {
	ExpirePromoCodes(ctx context.Context) (ExpirePromoCodesResult, error)
	CleanupIdempotency(ctx context.Context) (int, error)
	Run(ctx context.Context, interval time.Duration)
}

// SystemService aggregates health and readiness reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// DecisionPublisher fans decisions out to downstream workers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, message DecisionMessage) (string, error)
}

// DecisionMetrics records automation counters.
type DecisionMetrics interface {
	RecordDecision(ctx context.Context, event, action string)
	RecordCodeIssued(ctx context.Context, prefix string, persisted bool)
	RecordFailure(ctx context.Context, event string)
}

// ImageURLSigner turns stored image references into fetchable URLs.
type ImageURLSigner interface {
	SignImageURL(ctx context.Context, ref string) (string, error)
}

// ProductListCache memoises catalog recommendation lists.
type ProductListCache interface {
	Get(key string) ([]domain.Product, bool)
	Set(key string, value []domain.Product)
}

// IdempotencyCleaner deletes expired idempotency records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// Command and DTO definitions ------------------------------------------------

// IssueDiscountCommand describes one code to mint. UserID may be empty.
type IssueDiscountCommand struct {
	Percentage int
	Prefix     string
	UserID     string
	Context    string
}

// AutomationResult is a decision with the id it was logged and published under.
type AutomationResult struct {
	DecisionID string
	Event      domain.EventType
	Decision   domain.ActionDecision
}

// AutomationCapabilities describes the webhook for capability probes.
type AutomationCapabilities struct {
	Status          string
	Service         string
	Version         string
	SupportedEvents []string
}

// DecisionMessage is the Pub/Sub payload for a decision.
type DecisionMessage struct {
	DecisionID string         `json:"decisionId"`
	Event      string         `json:"event"`
	Action     string         `json:"action"`
	Actions    []string       `json:"actions"`
	UserID     string         `json:"userId,omitempty"`
	OrderID    string         `json:"orderId,omitempty"`
	ProductID  string         `json:"productId,omitempty"`
	Context    string         `json:"context,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	DecidedAt  time.Time      `json:"decidedAt"`
}

// ExpirePromoCodesResult reports one expiry sweep.
type ExpirePromoCodesResult struct {
	Scanned int
	Expired int
}
