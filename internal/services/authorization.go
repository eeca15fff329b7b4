package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/foodcourt/api/internal/domain"
)

var (
	// ErrUnauthenticated indicates the caller could not be resolved to a known user.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrOrderForbidden indicates the caller lacks the role or ownership for the operation.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderNotAuthorized indicates the caller is not an admin of the order's restaurant.
	ErrOrderNotAuthorized = errors.New("order: not authorized")
)

type authorizationGate struct {
	identity IdentityAccess
}

// NewAuthorizationGate builds the role and membership checks used by the order engine.
func NewAuthorizationGate(identity IdentityAccess) (AuthorizationGate, error) {
	if identity == nil {
		return nil, errors.New("authorization gate: identity access is required")
	}
	return &authorizationGate{identity: identity}, nil
}

func (g *authorizationGate) AuthorizeActForUser(_ context.Context, principal Principal, targetUsername string) error {
	if principal.UserID == "" && principal.Username == "" {
		return fmt.Errorf("%w: authentication required", ErrUnauthenticated)
	}
	if principal.IsAdmin() {
		return nil
	}
	if principal.HasRole(domain.RoleCustomer) && principal.Username != "" && principal.Username == targetUsername {
		return nil
	}
	return fmt.Errorf("%w: You are not authorized to act for user %s.", ErrOrderForbidden, targetUsername)
}

func (g *authorizationGate) AuthorizeRestaurantAdmin(ctx context.Context, principal Principal, restaurantID string) (User, error) {
	restaurant, err := g.identity.FindRestaurant(ctx, restaurantID)
	if err != nil {
		return User{}, err
	}
	if principal.UserID == "" {
		return User{}, fmt.Errorf("%w: authentication required", ErrUnauthenticated)
	}
	user, err := g.identity.FindUserByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, fmt.Errorf("%w: authenticated user %s is not registered", ErrUnauthenticated, principal.UserID)
		}
		return User{}, err
	}
	if !restaurant.IsAdmin(user.ID) {
		return User{}, fmt.Errorf("%w: User %s is not authorized to manage orders for restaurant ID %s", ErrOrderNotAuthorized, user.Username, restaurant.ID)
	}
	return user, nil
}

func (g *authorizationGate) AuthorizeOrderRead(ctx context.Context, principal Principal, order Order) error {
	if principal.UserID == "" {
		return fmt.Errorf("%w: authentication required", ErrUnauthenticated)
	}
	if principal.IsAdmin() || principal.UserID == order.CustomerID {
		return nil
	}
	if principal.HasRole(domain.RoleRestaurantAdmin) {
		_, err := g.AuthorizeRestaurantAdmin(ctx, principal, order.RestaurantID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrOrderNotAuthorized) {
			return err
		}
	}
	return fmt.Errorf("%w: You are not authorized to view order %s.", ErrOrderForbidden, order.ID)
}
