package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/httpx"
	"github.com/foodcourt/api/internal/platform/requestctx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired signals that the presented bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the presented bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrVerifierUnavailable signals that key material could not be fetched.
	ErrVerifierUnavailable = errors.New("auth: verifier unavailable")
)

// Verifier turns a raw bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*Identity, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Identity, error) {
	return f(ctx, token)
}

// Authenticator wires token verification into HTTP middleware.
type Authenticator struct {
	verifier     Verifier
	fallbackRole domain.Role
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithFallbackRole sets the role granted when a token carries none. An empty role disables it.
func WithFallbackRole(role domain.Role) Option {
	return func(a *Authenticator) {
		a.fallbackRole = role
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator. Tokens without roles are treated as customers.
func NewAuthenticator(verifier Verifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		fallbackRole: domain.RoleCustomer,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token. When roles are given the identity must
// carry at least one of them.
func (a *Authenticator) RequireAuth(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(r.Context(), w, http.StatusServiceUnavailable, "verification_unavailable", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			identity, err := a.verifier.Verify(ctx, tokenStr)
			cancel()
			if err != nil {
				respondVerificationError(r.Context(), w, err)
				return
			}
			if identity == nil || strings.TrimSpace(identity.UID) == "" {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "invalid_token", "token has no subject")
				return
			}
			if len(identity.Roles) == 0 && a.fallbackRole != "" {
				identity.Roles = []domain.Role{a.fallbackRole}
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			ctx = WithIdentity(r.Context(), identity)
			ctx = requestctx.WithActor(ctx, requestctx.Actor{UserID: identity.UID, Username: identity.Username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose authenticated identity carries none of roles. It must run
// after RequireAuth.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if !identity.HasAnyRole(roles...) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "bearer token expired")
	case errors.Is(err, ErrVerifierUnavailable):
		respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "token verification unavailable")
	default:
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "bearer token verification failed")
	}
}
