package repositories

import (
	"context"
	"time"

	"github.com/hanko-field/automation/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UserFilter narrows FindUsers. Zero values do not filter.
type UserFilter struct {
	Roles             []string
	ActiveOnly        bool
	WishlistProductID string
	Limit             int
}

// UserRepository reads storefront accounts.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// FindByEmail matches the address exactly, then lower-cased.
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindUsers(ctx context.Context, filter UserFilter) ([]domain.User, error)
}

// ProductFilter narrows FindProducts. Results are ordered by sales count, highest first.
type ProductFilter struct {
	CategoryID  string
	ExcludeID   string
	InStockOnly bool
	Limit       int
}

// ProductRepository reads the catalog with brand and category names joined.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
}

// OrderRepository reads placed orders.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByOrderID looks up the human-readable order number.
	FindByOrderID(ctx context.Context, humanID string) (domain.Order, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

// PromoCodeRepository persists issued discount codes keyed by code.
type PromoCodeRepository interface {
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
	// Create fails with a conflict RepositoryError when the code already exists.
	Create(ctx context.Context, code domain.PromoCode) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.PromoCode, error)
	// ListExpired returns active codes whose ValidUntil is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.PromoCode, error)
	MarkExpired(ctx context.Context, codes []string, at time.Time) (int, error)
}

// DecisionRepository is the append-only decision log.
type DecisionRepository interface {
	Append(ctx context.Context, record domain.DecisionRecord) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
