package auth

import (
	"context"
	"slices"
	"strings"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/services"
)

// Identity is the authenticated caller extracted from a verified bearer token.
type Identity struct {
	UID      string
	Username string
	Email    string
	Roles    []domain.Role
	Source   string
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role domain.Role) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, role)
}

// HasAnyRole reports whether the identity carries any of roles.
func (i *Identity) HasAnyRole(roles ...domain.Role) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// Principal converts the identity into the caller representation used by the services.
func (i *Identity) Principal() services.Principal {
	if i == nil {
		return services.Principal{}
	}
	return services.Principal{
		UserID:   i.UID,
		Username: i.Username,
		Roles:    slices.Clone(i.Roles),
	}
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// ParseRole maps a claim value onto a known role. Case, surrounding space and a ROLE_ prefix
// are ignored; unknown values return false.
func ParseRole(raw string) (domain.Role, bool) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "ROLE_")
	value = strings.ReplaceAll(value, "-", "_")
	switch domain.Role(value) {
	case domain.RoleCustomer, domain.RoleRestaurantAdmin, domain.RoleAdmin:
		return domain.Role(value), true
	}
	return "", false
}

// rolesFromClaims reads roles from the first claim key present. Values may be a string, a list,
// or a map of role to bool.
func rolesFromClaims(claims map[string]any, keys ...string) []domain.Role {
	for _, key := range keys {
		raw, ok := claims[key]
		if !ok {
			continue
		}
		var values []string
		switch v := raw.(type) {
		case string:
			values = strings.Split(v, ",")
		case []string:
			values = v
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
		case map[string]any:
			for name, flag := range v {
				if enabled, ok := flag.(bool); ok && enabled {
					values = append(values, name)
				}
			}
		}
		roles := make([]domain.Role, 0, len(values))
		for _, value := range values {
			role, ok := ParseRole(value)
			if ok && !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		}
		slices.Sort(roles)
		return roles
	}
	return nil
}

func claimAsString(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
