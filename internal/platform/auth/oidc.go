package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSFetchTimeout    = 5 * time.Second
)

// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the key set.
var ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")

// JWKSCache fetches a JSON Web Key Set and keeps it until the response's max-age lapses.
// An unknown kid forces one refetch so rotated keys are picked up early.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time
	logger *zap.Logger

	fallbackTTL time.Duration

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used to fetch key sets.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock injects a time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithJWKSLogger sets the logger used for refresh events.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewJWKSCache constructs a cache for the key set at url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:         url,
		client:      &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
		logger:      zap.NewNop(),
		fallbackTTL: defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Key resolves the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := len(c.keys) == 0 || !c.now().Before(c.expiry)
	if stale {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	if !stale {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
		if jwk, ok := c.keys[kid]; ok {
			return jwk.Key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultJWKSFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetch jwks: %v", ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: jwks status %d", ErrVerifierUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrVerifierUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrVerifierUnavailable)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = c.fallbackTTL
	}
	c.keys = keys
	c.expiry = c.now().Add(ttl)
	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return nil
}

func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// OIDCValidator verifies RS256 bearer tokens against a JWKS cache, an audience and an issuer list.
// Roles come from the "roles" claim and the username from "preferred_username" or "email".
type OIDCValidator struct {
	cache    *JWKSCache
	audience string
	issuers  []string
}

// NewOIDCValidator constructs a validator. An empty issuers list accepts any issuer.
func NewOIDCValidator(cache *JWKSCache, audience string, issuers []string) *OIDCValidator {
	trimmed := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			trimmed = append(trimmed, issuer)
		}
	}
	return &OIDCValidator{
		cache:    cache,
		audience: strings.TrimSpace(audience),
		issuers:  trimmed,
	}
}

// Verify parses and validates token.
func (v *OIDCValidator) Verify(ctx context.Context, token string) (*Identity, error) {
	if v == nil || v.cache == nil || v.audience == "" {
		return nil, fmt.Errorf("%w: oidc validator not configured", ErrVerifierUnavailable)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.cache.Key(ctx, kid)
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		switch {
		case errors.Is(err, ErrVerifierUnavailable):
			return nil, err
		case errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0:
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	issuer := claimAsString(claims, "iss")
	if len(v.issuers) > 0 && !slices.Contains(v.issuers, issuer) {
		return nil, fmt.Errorf("%w: issuer %q not accepted", ErrTokenInvalid, issuer)
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	email := claimAsString(claims, "email")
	username := claimAsString(claims, "preferred_username")
	if username == "" {
		username = email
	}
	return &Identity{
		UID:      claimAsString(claims, "sub"),
		Username: username,
		Email:    email,
		Roles:    rolesFromClaims(claims, "roles"),
		Source:   "oidc",
	}, nil
}
