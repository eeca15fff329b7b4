package memory

import (
	"context"
	"strings"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/repositories"
)

// RestaurantRepository stores restaurant directory entries keyed by id.
type RestaurantRepository struct {
	store *Store
}

var _ repositories.RestaurantRepository = (*RestaurantRepository)(nil)

func (r *RestaurantRepository) FindByID(ctx context.Context, restaurantID string) (domain.Restaurant, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	var (
		restaurant domain.Restaurant
		ok         bool
	)
	r.store.locked(ctx, func() {
		restaurant, ok = r.store.restaurants[restaurantID]
	})
	if !ok {
		return domain.Restaurant{}, repositories.NewNotFoundError("memory.restaurants.get", "restaurant %s not found", restaurantID)
	}
	restaurant.AdminUserIDs = append([]string(nil), restaurant.AdminUserIDs...)
	return restaurant, nil
}

func (r *RestaurantRepository) Upsert(ctx context.Context, restaurant domain.Restaurant) error {
	id := strings.TrimSpace(restaurant.ID)
	if id == "" {
		return repositories.NewConflictError("memory.restaurants.upsert", "restaurant id is required")
	}
	restaurant.ID = id
	restaurant.AdminUserIDs = append([]string(nil), restaurant.AdminUserIDs...)
	r.store.locked(ctx, func() {
		r.store.restaurants[id] = restaurant
	})
	return nil
}
