package domain

import (
	"strings"
	"time"
)

// EventType names a storefront lifecycle event accepted by the automation endpoint.
type EventType string

const (
	EventProductView     EventType = "PRODUCT_VIEW"
	EventAddToCart       EventType = "ADD_TO_CART"
	EventCheckoutStarted EventType = "CHECKOUT_STARTED"
	EventOrderSuccess    EventType = "ORDER_SUCCESS"
	EventOrderDelivered  EventType = "ORDER_DELIVERED"
	EventReviewSubmitted EventType = "REVIEW_SUBMITTED"
	EventPageVisit       EventType = "PAGE_VISIT"
	EventLowStock        EventType = "LOW_STOCK"
	EventRestock         EventType = "RESTOCK"
	EventNewUser         EventType = "NEW_USER"
	EventReturnRequest   EventType = "RETURN_REQUEST"
	EventCartAbandoned   EventType = "CART_ABANDONED"
)

var supportedEvents = []EventType{
	EventProductView,
	EventAddToCart,
	EventCheckoutStarted,
	EventOrderSuccess,
	EventOrderDelivered,
	EventReviewSubmitted,
	EventPageVisit,
	EventLowStock,
	EventRestock,
	EventNewUser,
	EventReturnRequest,
	EventCartAbandoned,
}

// SupportedEvents returns the fixed event vocabulary in declaration order.
func SupportedEvents() []EventType {
	out := make([]EventType, len(supportedEvents))
	copy(out, supportedEvents)
	return out
}

// SupportedEventNames returns the event vocabulary as plain strings.
func SupportedEventNames() []string {
	out := make([]string, 0, len(supportedEvents))
	for _, event := range supportedEvents {
		out = append(out, string(event))
	}
	return out
}

// Valid reports whether the event belongs to the supported vocabulary.
func (e EventType) Valid() bool {
	for _, candidate := range supportedEvents {
		if candidate == e {
			return true
		}
	}
	return false
}

// Action is a downstream marketing effect recommended by a decision. Values are wire-compatible
// with the routers that consume the automation response.
type Action string

const (
	ActionNothing             Action = "nothing"
	ActionStoreEvent          Action = "store_to_mongo"
	ActionRecommendProducts   Action = "recommend_products"
	ActionSendEmail           Action = "send_email"
	ActionSendInvoice         Action = "send_invoice"
	ActionSendVIPOffer        Action = "send_vip_offer"
	ActionLowStockAlert       Action = "low_stock_alert"
	ActionSendRestockAlert    Action = "send_restock_alert"
	ActionNotifyAdmin         Action = "notify_admin"
	ActionStartReturnProcess  Action = "start_return_process"
	ActionTriggerCartRecovery Action = "trigger_cart_recovery"
)

// NormalizedEvent is the canonical record produced from an incoming webhook payload.
// Empty identifier strings mean the identifier was absent or held a sentinel value.
type NormalizedEvent struct {
	Event          EventType
	UserID         string
	OrderID        string
	ProductID      string
	AdditionalData map[string]any
}

// User is the storefront customer or staff account.
type User struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Role      string
	IsActive  bool
	Wishlist  []string
	CreatedAt time.Time
}

// Product is a catalog item with its brand and category joined.
type Product struct {
	ID          string
	Name        string
	CategoryID  string
	Category    string
	BrandID     string
	Brand       string
	Stock       int
	SkinType    []string
	SkinConcern []string
	Price       float64
	SalePrice   float64
	Images      []string
	SalesCount  int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderShipping is the contact snapshot captured at checkout.
type OrderShipping struct {
	Email    string
	FullName string
	Phone    string
}

// OrderPricing carries order totals.
type OrderPricing struct {
	Total float64
}

// OrderItem is a purchased line.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     float64
}

// Order is a placed storefront order. User is set when the customer is embedded in the order,
// otherwise UserID holds the reference.
type Order struct {
	ID        string
	OrderID   string
	UserID    string
	User      *User
	Shipping  OrderShipping
	Pricing   OrderPricing
	Items     []OrderItem
	CreatedAt time.Time
}

// PromoCode statuses and types.
const (
	PromoCodeStatusActive   = "active"
	PromoCodeStatusExpired  = "expired"
	PromoCodeTypePercentage = "percentage"
)

// PromoCode is a single-use discount issued by the automation pipeline.
type PromoCode struct {
	Code              string
	Name              string
	Description       string
	Type              string
	Value             int
	UsageLimit        int
	UsageLimitPerUser int
	ValidFrom         time.Time
	ValidUntil        time.Time
	ApplicableUsers   []string
	Status            string
	AutoApply         bool
	CreatedBy         string
	Context           string
	CreatedAt         time.Time
}

// ResolvedContext bundles the entities resolved for a single event.
type ResolvedContext struct {
	User      *User
	Product   *Product
	Order     *Order
	UserName  string
	UserEmail string
	UserPhone string
}

// ActionDecision is the classifier output. Message is always empty; text is produced downstream.
type ActionDecision struct {
	Actions []Action
	Message string
	Data    map[string]any
}

// ActionString joins the actions with single spaces, the format expected by downstream routers.
func (d ActionDecision) ActionString() string {
	if len(d.Actions) == 0 {
		return string(ActionNothing)
	}
	parts := make([]string, 0, len(d.Actions))
	for _, action := range d.Actions {
		if trimmed := strings.TrimSpace(string(action)); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return string(ActionNothing)
	}
	return strings.Join(parts, " ")
}

// Has reports whether the decision includes the action.
func (d ActionDecision) Has(action Action) bool {
	for _, candidate := range d.Actions {
		if candidate == action {
			return true
		}
	}
	return false
}

// DecisionRecord is the persisted and published trace of a decision.
type DecisionRecord struct {
	ID        string
	Event     EventType
	Actions   []Action
	UserID    string
	OrderID   string
	ProductID string
	Context   string
	DecidedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
