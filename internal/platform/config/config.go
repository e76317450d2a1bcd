package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 60 * time.Second
	defaultServiceName          = "automation-brain"
	defaultServiceVersion       = "1.0.0"
	defaultDecisionTopic        = "automation-decisions"
	defaultMaxBodyBytes         = 1 << 20
	defaultLowStockThreshold    = 10
	defaultCartValueThreshold   = 2000
	defaultRecommendationLimit  = 4
	defaultPromoExpiryBatch     = 200
	defaultSignedURLTTL         = 24 * time.Hour
	defaultWebhookPerMinute     = 600
	defaultWebhookBurst         = 60
	defaultAdminPerMinute       = 120
	defaultCacheTTL             = 5 * time.Minute
	defaultCacheMaxEntries      = 1000
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultHMACSignatureHeader  = "X-Signature"
	defaultHMACTimestampHeader  = "X-Signature-Timestamp"
	defaultHMACNonceHeader      = "X-Signature-Nonce"
	defaultHMACClockSkew        = 5 * time.Minute
	defaultHMACNonceTTL         = 5 * time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultIdempotencyTxTries   = 5
	defaultIdempotencyTxTimeout = 10 * time.Second
)

// Config is the full runtime configuration grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Automation  AutomationConfig
	RateLimits  RateLimitConfig
	Cache       CacheConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// FirebaseConfig identifies the Firebase project used for admin tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig identifies the document store.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig controls product image URL signing. An empty ImagesBucket disables signing.
type StorageConfig struct {
	ImagesBucket      string
	SignedURLTTL      time.Duration
	ServiceAccountKey string
}

// PubSubConfig controls decision fan-out. An empty DecisionTopic disables publishing.
type PubSubConfig struct {
	ProjectID     string
	DecisionTopic string
	EmulatorHost  string
}

// AutomationConfig holds the webhook and decision tunables.
type AutomationConfig struct {
	ServiceName         string
	Version             string
	SigningSecret       string
	MaxBodyBytes        int64
	LowStockThreshold   int
	CartValueThreshold  float64
	RecommendationLimit int
	PromoExpiryBatch    int
}

// RateLimitConfig throttles callers per client IP.
type RateLimitConfig struct {
	WebhookPerMinute int
	WebhookBurst     int
	AdminPerMinute   int
}

// CacheConfig sizes the in-process catalog cache.
type CacheConfig struct {
	RecommendationTTL time.Duration
	MaxEntries        int64
}

// SecurityConfig groups service-to-service and webhook authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls verification of Google-signed tokens on internal routes.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// HMACConfig names the signature headers and replay window.
type HMACConfig struct {
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls webhook replay storage.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	// TxAttempts and TxTimeout bound each reservation transaction.
	TxAttempts int
	TxTimeout  time.Duration
}

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load builds Config from defaults, the .env file, the process environment and explicit
// overrides, resolving secret:// and sm:// references through the configured resolver.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ImagesBucket:      stringWithDefault(lookup, "API_STORAGE_IMAGES_BUCKET", ""),
			SignedURLTTL:      durationWithDefault(lookup, "API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
			ServiceAccountKey: stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:     stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			DecisionTopic: stringWithDefault(lookup, "API_PUBSUB_DECISION_TOPIC", defaultDecisionTopic),
			EmulatorHost:  stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
		},
		Automation: AutomationConfig{
			ServiceName:         stringWithDefault(lookup, "API_AUTOMATION_SERVICE_NAME", defaultServiceName),
			Version:             stringWithDefault(lookup, "API_AUTOMATION_VERSION", defaultServiceVersion),
			SigningSecret:       stringWithDefault(lookup, "API_AUTOMATION_SIGNING_SECRET", ""),
			MaxBodyBytes:        int64(intWithDefault(lookup, "API_AUTOMATION_MAX_BODY_BYTES", defaultMaxBodyBytes)),
			LowStockThreshold:   intWithDefault(lookup, "API_AUTOMATION_LOW_STOCK_THRESHOLD", defaultLowStockThreshold),
			CartValueThreshold:  floatWithDefault(lookup, "API_AUTOMATION_CART_VALUE_THRESHOLD", defaultCartValueThreshold),
			RecommendationLimit: intWithDefault(lookup, "API_AUTOMATION_RECOMMENDATION_LIMIT", defaultRecommendationLimit),
			PromoExpiryBatch:    intWithDefault(lookup, "API_AUTOMATION_PROMO_EXPIRY_BATCH", defaultPromoExpiryBatch),
		},
		RateLimits: RateLimitConfig{
			WebhookPerMinute: intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_PER_MIN", defaultWebhookPerMinute),
			WebhookBurst:     intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_BURST", defaultWebhookBurst),
			AdminPerMinute:   intWithDefault(lookup, "API_RATELIMIT_ADMIN_PER_MIN", defaultAdminPerMinute),
		},
		Cache: CacheConfig{
			RecommendationTTL: durationWithDefault(lookup, "API_CACHE_RECOMMENDATION_TTL", defaultCacheTTL),
			MaxEntries:        int64(intWithDefault(lookup, "API_CACHE_MAX_ENTRIES", defaultCacheMaxEntries)),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				SignatureHeader: stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       durationWithDefault(lookup, "API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        durationWithDefault(lookup, "API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			TxAttempts:       intWithDefault(lookup, "API_IDEMPOTENCY_TX_ATTEMPTS", defaultIdempotencyTxTries),
			TxTimeout:        durationWithDefault(lookup, "API_IDEMPOTENCY_TX_TIMEOUT", defaultIdempotencyTxTimeout),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, strings.TrimPrefix(defaultSecurityIssuer, "https://")}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Automation.SigningSecret", &cfg.Automation.SigningSecret},
		{"Storage.ServiceAccountKey", &cfg.Storage.ServiceAccountKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.RequestTimeout <= 0 {
		missing = append(missing, "Server.RequestTimeout")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Automation.MaxBodyBytes <= 0 {
		missing = append(missing, "Automation.MaxBodyBytes")
	}
	if cfg.Automation.RecommendationLimit <= 0 {
		missing = append(missing, "Automation.RecommendationLimit")
	}
	if cfg.Automation.PromoExpiryBatch <= 0 {
		missing = append(missing, "Automation.PromoExpiryBatch")
	}
	if cfg.RateLimits.WebhookPerMinute < 0 || cfg.RateLimits.WebhookBurst < 0 {
		missing = append(missing, "RateLimits.Webhook")
	}
	if cfg.Cache.MaxEntries <= 0 {
		missing = append(missing, "Cache.MaxEntries")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.Idempotency.TxAttempts <= 0 {
		missing = append(missing, "Idempotency.TxAttempts")
	}
	if cfg.Idempotency.TxTimeout <= 0 {
		missing = append(missing, "Idempotency.TxTimeout")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
