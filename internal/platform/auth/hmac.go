package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultClockSkew       = 5 * time.Minute
	defaultNonceTTL        = 5 * time.Minute
	webhookNonceScope      = "automation-webhook"
)

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen within the scope. It returns false for a replay.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore is a process-local nonce registry. Replays across instances are not detected.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

// UseNonce records the nonce until expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, k)
		}
	}
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// HMACValidator verifies webhook deliveries signed with a shared secret.
type HMACValidator struct {
	secret  []byte
	nonces  NonceStore
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator. An empty secret disables verification.
func NewHMACValidator(secret string, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secret:          []byte(strings.TrimSpace(secret)),
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.nonces == nil {
		v.nonces = NewInMemoryNonceStore()
	}
	return v
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) {
		v.metrics = metrics
	}
}

// WithHMACClock injects a custom clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders customises the header names. Empty values keep the defaults.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL customises the nonce retention duration.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// Enabled reports whether a signing secret is configured.
func (v *HMACValidator) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// RequireSignature verifies the signature headers on mutating requests. GET, HEAD and OPTIONS
// pass through, as does every request when no secret is configured.
func (v *HMACValidator) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.Enabled() || isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			start := v.now()
			ctx := r.Context()

			signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if signatureValue == "" {
				v.reject(ctx, w, start, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			}
			timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
			timestamp, err := parseSignatureTimestamp(timestampValue)
			if err != nil {
				v.reject(ctx, w, start, http.StatusUnauthorized, "timestamp_invalid", "signature timestamp missing or invalid")
				return
			}
			if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
				v.reject(ctx, w, start, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
				return
			}
			nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
			if nonce == "" {
				v.reject(ctx, w, start, http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					v.reject(ctx, w, start, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
					return
				}
				v.reject(ctx, w, start, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}

			signature, err := decodeSignature(signatureValue)
			if err != nil || !hmac.Equal(signature, SignRequest(v.secret, r.Method, r.URL.EscapedPath(), timestampValue, nonce, body)) {
				v.reject(ctx, w, start, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			stored, err := v.nonces.UseNonce(ctx, webhookNonceScope, nonce, v.now().Add(v.nonceTTL))
			if err != nil {
				v.logger.Printf("auth: nonce store error: %v", err)
				v.reject(ctx, w, start, http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
				return
			}
			if !stored {
				v.reject(ctx, w, start, http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r)
		})
	}
}

func (v *HMACValidator) reject(ctx context.Context, w http.ResponseWriter, start time.Time, status int, code, message string) {
	v.record(ctx, false, code, start)
	respondAuthError(w, status, code, message)
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
}

// SignRequest computes the raw HMAC-SHA256 over METHOD, PATH, TIMESTAMP, NONCE and the hex
// SHA-256 of the body, joined by newlines.
func SignRequest(secret []byte, method, path, timestamp, nonce string, body []byte) []byte {
	bodyHash := sha256.Sum256(body)
	canonical := strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(bodyHash[:]),
	}, "\n")
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical))
	return mac.Sum(nil)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// parseSignatureTimestamp accepts RFC 3339 or unix seconds.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(seconds, 0), nil
}

// decodeSignature accepts hex or standard/URL base64, with an optional "sha256=" prefix.
func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "sha256=")
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil && len(decoded) == sha256.Size {
			return decoded, nil
		}
	}
	return nil, errors.New("auth: signature encoding invalid")
}
