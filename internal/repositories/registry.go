package repositories

import "context"

// Registry exposes the repositories the service layer depends on.
type Registry interface {
	Users() UserRepository
	Products() ProductRepository
	Orders() OrderRepository
	PromoCodes() PromoCodeRepository
	Decisions() DecisionRepository
	Health() HealthRepository
	Close(ctx context.Context) error
}
