package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/hanko-field/automation/internal/platform/firestore"
	"github.com/hanko-field/automation/internal/repositories"
)

// Registry bundles the Firestore-backed repositories sharing one provider.
type Registry struct {
	provider   *pfirestore.Provider
	users      *UserRepository
	products   *ProductRepository
	orders     *OrderRepository
	promoCodes *PromoCodeRepository
	decisions  *DecisionRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on provider. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("user repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("product repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("order repository: %w", err)
	}
	promoCodes, err := NewPromoCodeRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("promo code repository: %w", err)
	}
	decisions, err := NewDecisionRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("decision repository: %w", err)
	}
	return &Registry{
		provider:   provider,
		users:      users,
		products:   products,
		orders:     orders,
		promoCodes: promoCodes,
		decisions:  decisions,
		health:     health,
	}, nil
}

func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) PromoCodes() repositories.PromoCodeRepository { return r.promoCodes }
func (r *Registry) Decisions() repositories.DecisionRepository   { return r.decisions }

// Health returns nil when no dependency checks were configured.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
