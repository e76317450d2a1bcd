package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/automation/internal/platform/config"
	"github.com/hanko-field/automation/internal/repositories"
	"github.com/hanko-field/automation/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Automation  services.AutomationService
	PromoCodes  services.PromoCodeService
	Maintenance services.MaintenanceService
	System      services.SystemService
}

// Infrastructure carries the optional collaborators built from cloud clients. Nil fields
// disable the matching feature.
type Infrastructure struct {
	Publisher   services.DecisionPublisher
	Metrics     services.DecisionMetrics
	Images      services.ImageURLSigner
	Cache       services.ProductListCache
	Idempotency services.IdempotencyCleaner
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Build       services.BuildInfo
	Clock       func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	resolver, err := services.NewEntityResolver(services.EntityResolverDeps{
		Users:    reg.Users(),
		Products: reg.Products(),
		Orders:   reg.Orders(),
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build entity resolver: %w", err)
	}

	issuer, err := services.NewDiscountCodeIssuer(services.DiscountCodeIssuerDeps{
		PromoCodes: reg.PromoCodes(),
		Users:      reg.Users(),
		Metrics:    infra.Metrics,
		Clock:      clock,
		Logger:     infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount code issuer: %w", err)
	}

	classifier, err := services.NewEventClassifier(services.EventClassifierDeps{
		Users:               reg.Users(),
		Products:            reg.Products(),
		Orders:              reg.Orders(),
		Issuer:              issuer,
		Images:              infra.Images,
		Cache:               infra.Cache,
		LowStockThreshold:   cfg.Automation.LowStockThreshold,
		CartValueThreshold:  cfg.Automation.CartValueThreshold,
		RecommendationLimit: cfg.Automation.RecommendationLimit,
		Logger:              infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build event classifier: %w", err)
	}

	svc.Automation, err = services.NewAutomationService(services.AutomationServiceDeps{
		Resolver:    resolver,
		Classifier:  classifier,
		Decisions:   reg.Decisions(),
		Publisher:   infra.Publisher,
		Metrics:     infra.Metrics,
		Clock:       clock,
		ServiceName: cfg.Automation.ServiceName,
		Version:     cfg.Automation.Version,
		Logger:      infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build automation service: %w", err)
	}

	svc.PromoCodes, err = services.NewPromoCodeService(services.PromoCodeServiceDeps{
		PromoCodes: reg.PromoCodes(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promo code service: %w", err)
	}

	svc.Maintenance, err = services.NewMaintenanceService(services.MaintenanceServiceDeps{
		PromoCodes:       reg.PromoCodes(),
		Idempotency:      infra.Idempotency,
		PromoExpiryBatch: cfg.Automation.PromoExpiryBatch,
		CleanupBatch:     cfg.Idempotency.CleanupBatchSize,
		Clock:            clock,
		Logger:           infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build maintenance service: %w", err)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
