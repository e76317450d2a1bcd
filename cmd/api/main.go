package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/automation/internal/di"
	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/handlers"
	"github.com/hanko-field/automation/internal/platform/auth"
	"github.com/hanko-field/automation/internal/platform/cache"
	"github.com/hanko-field/automation/internal/platform/config"
	pfirestore "github.com/hanko-field/automation/internal/platform/firestore"
	"github.com/hanko-field/automation/internal/platform/idempotency"
	"github.com/hanko-field/automation/internal/platform/jobs"
	"github.com/hanko-field/automation/internal/platform/observability"
	"github.com/hanko-field/automation/internal/platform/secrets"
	platformstorage "github.com/hanko-field/automation/internal/platform/storage"
	"github.com/hanko-field/automation/internal/repositories"
	firestoreRepo "github.com/hanko-field/automation/internal/repositories/firestore"
	"github.com/hanko-field/automation/internal/services"
)

const (
	secretHealthReference = "secret://system/healthz?version=latest"
	firestorePingTarget   = "users"
	meterName             = "github.com/hanko-field/automation"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("automation")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	publisher, stopPublisher, err := newDecisionPublisher(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise decision publisher", zap.Error(err))
	}
	defer stopPublisher()

	healthRepo, err := newHealthRepository(firestoreProvider, fetcher, publisher)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	metrics, err := observability.NewDecisionMetrics(otel.Meter(meterName))
	if err != nil {
		logger.Fatal("failed to register decision metrics", zap.Error(err))
	}

	productCache, err := cache.New[[]domain.Product](cfg.Cache.MaxEntries, cfg.Cache.RecommendationTTL)
	if err != nil {
		logger.Fatal("failed to initialise catalog cache", zap.Error(err))
	}
	defer productCache.Close()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider,
		idempotency.WithTransactionBudget(cfg.Idempotency.TxAttempts, cfg.Idempotency.TxTimeout),
	)

	infra := di.Infrastructure{
		Metrics:     metrics,
		Cache:       productCache,
		Idempotency: idempotencyStore,
		Logger:      observability.EventLogger(logger.Named("services")),
		Build:       buildInfo,
	}
	if publisher != nil {
		infra.Publisher = publisher
	}
	if images := newImageURLSigner(logger, cfg.Storage); images != nil {
		infra.Images = images
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	maintenanceCtx, maintenanceCancel := context.WithCancel(context.Background())
	var maintenanceWG sync.WaitGroup
	maintenanceWG.Add(1)
	go func() {
		defer maintenanceWG.Done()
		container.Services.Maintenance.Run(maintenanceCtx, cfg.Idempotency.CleanupInterval)
	}()

	webhookMiddlewares := make([]func(http.Handler) http.Handler, 0, 2)
	if hmacMiddleware != nil {
		webhookMiddlewares = append(webhookMiddlewares, hmacMiddleware)
	}
	webhookMiddlewares = append(webhookMiddlewares, idempotencyMiddleware)

	automationHandlers := handlers.NewAutomationHandlers(container.Services.Automation,
		handlers.WithAutomationRateLimit(cfg.RateLimits.WebhookPerMinute, cfg.RateLimits.WebhookBurst),
		handlers.WithAutomationMaxBodyBytes(cfg.Automation.MaxBodyBytes),
		handlers.WithAutomationMiddlewares(webhookMiddlewares...),
	)
	promoCodeHandlers := handlers.NewAdminPromoCodeHandlers(authenticator, container.Services.PromoCodes, cfg.RateLimits.AdminPerMinute)
	maintenanceHandlers := handlers.NewInternalMaintenanceHandlers(container.Services.Maintenance)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAutomationRoutes(automationHandlers.Routes),
		handlers.WithAdminRoutes(promoCodeHandlers.Routes),
		handlers.WithInternalRoutes(maintenanceHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("automation brain listening", zap.String("version", cfg.Automation.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	maintenanceCancel()
	maintenanceWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = strings.TrimSpace(cfg.Automation.Version)
	}
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newDecisionPublisher returns a nil publisher when no topic is configured.
func newDecisionPublisher(ctx context.Context, cfg config.PubSubConfig) (*jobs.PubSubDecisionPublisher, func(), error) {
	noop := func() {}
	topicID := strings.TrimSpace(cfg.DecisionTopic)
	if topicID == "" {
		return nil, noop, nil
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, noop, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubDecisionPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return publisher, func() {
		publisher.Stop()
		_ = client.Close()
	}, nil
}

// newImageURLSigner returns nil when signing is not configured, leaving image refs untouched.
func newImageURLSigner(logger *zap.Logger, cfg config.StorageConfig) *platformstorage.ImageURLSigner {
	key := strings.TrimSpace(cfg.ServiceAccountKey)
	if strings.TrimSpace(cfg.ImagesBucket) == "" || key == "" {
		return nil
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(key))
	if err != nil {
		logger.Warn("storage: signer key rejected; image urls will not be signed", zap.Error(err))
		return nil
	}
	images, err := platformstorage.NewImageURLSigner(signer, cfg.ImagesBucket, platformstorage.WithTTL(cfg.SignedURLTTL))
	if err != nil {
		logger.Warn("storage: image url signer unavailable", zap.Error(err))
		return nil
	}
	return images
}

func newHealthRepository(provider *pfirestore.Provider, fetcher *secrets.Fetcher, publisher *jobs.PubSubDecisionPublisher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return provider.Ping(ctx, firestorePingTarget)
			},
		})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				err := fetcher.Ping(ctx)
				if errors.Is(err, secrets.ErrClientUnavailable) {
					// Local runs resolve from the fallback file.
					return nil
				}
				return err
			},
		})
	}
	if publisher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check:   publisher.Ping,
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(jwks, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secret := strings.TrimSpace(cfg.Automation.SigningSecret)
	if secret == "" {
		logger.Warn("auth: automation signing secret not configured; webhook accepts unsigned requests")
		return nil
	}

	validator := auth.NewHMACValidator(secret, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireSignature()
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithProbeReference(secretHealthReference),
		secrets.WithMeter(otel.Meter(meterName)),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve. The signing secret becomes mandatory
// outside local environments.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	switch environment {
	case "", "local", "dev", "test":
		return nil
	}
	return []string{"Automation.SigningSecret"}
}
