package auth

import (
	"context"
	"net/http"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const defaultRoleClaim = "role"

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator guards admin routes with Firebase ID tokens.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs a Firebase Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:  verifier,
		roleClaim: defaultRoleClaim,
		timeout:   defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the bearer token and requires one of the allowed roles.
// With no roles listed any authenticated identity passes.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
			cancel()
			if err != nil {
				if firebaseauth.IsIDTokenExpired(err) {
					respondAuthError(w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
					return
				}
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: claimString(token.Claims, "email"),
				Roles: rolesFromClaims(token.Claims, a.roleClaim),
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleUser}
			}
			if len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// rolesFromClaims accepts a single role string, a list of roles, or a map of role flags.
func rolesFromClaims(claims map[string]any, key string) []string {
	var candidates []string
	switch v := claims[key].(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for role, flag := range v {
			if on, ok := flag.(bool); ok && on {
				candidates = append(candidates, role)
			}
		}
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}
