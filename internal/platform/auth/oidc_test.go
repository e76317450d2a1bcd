package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

type recordingMetrics struct {
	mu      sync.Mutex
	records []verificationRecord
}

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

func (m *recordingMetrics) last() verificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return verificationRecord{}
	}
	return m.records[len(m.records)-1]
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string, requests *int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			mu.Lock()
			*requests++
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestJWKSCache_KeyCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var requests int
	server := newJWKSServer(t, key, "key1", &requests)

	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(noopLogger{}),
		WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }),
	)

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}
	if requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", requests)
	}
}

func TestJWKSCache_UnknownKidRefetches(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var requests int
	server := newJWKSServer(t, key, "key1", &requests)
	cache := NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{}))

	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, err := cache.Key(context.Background(), "rotated"); err == nil {
		t.Fatalf("expected missing key error")
	}
	if requests != 2 {
		t.Fatalf("expected refetch for unknown kid, got %d fetches", requests)
	}
}

func TestParseMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"max-age=60":              time.Minute,
		"public, max-age=3600, x": time.Hour,
		"no-cache":                0,
		"max-age=abc":             0,
		"":                        0,
	}
	for header, want := range cases {
		if got := parseMaxAge(header); got != want {
			t.Fatalf("parseMaxAge(%q) = %s, want %s", header, got, want)
		}
	}
}

func TestOIDCRequireOIDC_Success(t *testing.T) {
	validator, metrics, token := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC("https://automation.example.com", []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected service identity in context")
		}
		if identity.Email != "scheduler@example.iam.gserviceaccount.com" {
			t.Fatalf("unexpected email %q", identity.Email)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if record := metrics.last(); !record.success || record.kind != "oidc" || record.reason != "ok" {
		t.Fatalf("unexpected metric record: %+v", record)
	}
}

func TestOIDCRequireOIDC_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(jwt.MapClaims)
		header   string
		audience string
		reason   string
	}{
		{name: "audience mismatch", audience: "https://other.example.com", reason: "audience_mismatch"},
		{name: "issuer mismatch", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, reason: "issuer_mismatch"},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Unix(1_600_000_000, 0).Unix()) }, reason: "token_invalid"},
		{name: "missing token", header: "-", reason: "token_missing"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			validator, metrics, token := setupOIDCTest(t, tc.mutate)
			audience := tc.audience
			if audience == "" {
				audience = "https://automation.example.com"
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/test", nil)
			if tc.header != "-" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			validator.RequireOIDC(audience, []string{"https://accounts.google.com"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			})).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rr.Code)
			}
			if record := metrics.last(); record.success || record.reason != tc.reason {
				t.Fatalf("expected %s metric, got %+v", tc.reason, record)
			}
		})
	}
}

func TestOIDCRequireOIDC_JWKSUnavailable(t *testing.T) {
	validator, metrics, token := setupOIDCTest(t, nil)
	validator.cache.url = "http://127.0.0.1:1/unreachable"

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC("https://automation.example.com", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if record := metrics.last(); record.reason != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable metric, got %+v", record)
	}
}

func setupOIDCTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*OIDCValidator, *recordingMetrics, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := newJWKSServer(t, key, "svc-key", nil)

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	metrics := &recordingMetrics{}
	validator := NewOIDCValidator(
		NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{}), WithJWKSClock(func() time.Time { return now })),
		WithOIDCLogger(noopLogger{}),
		WithOIDCMetrics(metrics),
		WithOIDCClock(func() time.Time { return now }),
	)

	claims := jwt.MapClaims{
		"aud":   "https://automation.example.com",
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@example.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return validator, metrics, signed
}
