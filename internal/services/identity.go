package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foodcourt/api/internal/repositories"
)

var (
	// ErrUserNotFound indicates no user matches the username or id.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrRestaurantNotFound indicates no restaurant matches the id.
	ErrRestaurantNotFound = errors.New("identity: restaurant not found")
	// ErrIdentityUnavailable indicates the identity backend could not be reached.
	ErrIdentityUnavailable = errors.New("identity: unavailable")
)

type repositoryIdentity struct {
	users       repositories.UserRepository
	restaurants repositories.RestaurantRepository
}

// NewIdentityAccess resolves users and restaurant admin sets from the repositories.
func NewIdentityAccess(users repositories.UserRepository, restaurants repositories.RestaurantRepository) (IdentityAccess, error) {
	if users == nil {
		return nil, errors.New("identity: user repository is required")
	}
	if restaurants == nil {
		return nil, errors.New("identity: restaurant repository is required")
	}
	return &repositoryIdentity{users: users, restaurants: restaurants}, nil
}

func (r *repositoryIdentity) ResolveUser(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("%w: User with username %s not found.", ErrUserNotFound, username)
	}
	user, err := r.users.FindByUsername(ctx, username)
	if err != nil {
		if repositories.IsNotFound(err) {
			return User{}, fmt.Errorf("%w: User with username %s not found.", ErrUserNotFound, username)
		}
		return User{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return user, nil
}

func (r *repositoryIdentity) FindUserByID(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: User not found with id: %s", ErrUserNotFound, userID)
	}
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return User{}, fmt.Errorf("%w: User not found with id: %s", ErrUserNotFound, userID)
		}
		return User{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return user, nil
}

func (r *repositoryIdentity) FindRestaurant(ctx context.Context, restaurantID string) (Restaurant, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return Restaurant{}, fmt.Errorf("%w: Restaurant not found with ID: %s", ErrRestaurantNotFound, restaurantID)
	}
	restaurant, err := r.restaurants.FindByID(ctx, restaurantID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Restaurant{}, fmt.Errorf("%w: Restaurant not found with ID: %s", ErrRestaurantNotFound, restaurantID)
		}
		return Restaurant{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return restaurant, nil
}
