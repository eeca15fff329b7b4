package firestore

import (
	"context"
	"strings"

	domain "github.com/foodcourt/api/internal/domain"
	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/repositories"
)

// RestaurantRepository stores restaurant directory entries with their admin sets.
type RestaurantRepository struct {
	docs *pfirestore.Collection[restaurantDocument]
}

var _ repositories.RestaurantRepository = (*RestaurantRepository)(nil)

func (r *RestaurantRepository) FindByID(ctx context.Context, restaurantID string) (domain.Restaurant, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return domain.Restaurant{}, repositories.NewNotFoundError("firestore.restaurants.get", "restaurant id is required")
	}
	doc, err := r.docs.Get(ctx, restaurantID)
	if err != nil {
		return domain.Restaurant{}, err
	}
	return domain.Restaurant{
		ID:           doc.ID,
		Name:         doc.Data.Name,
		ContactEmail: doc.Data.ContactEmail,
		AdminUserIDs: append([]string(nil), doc.Data.AdminUserIDs...),
	}, nil
}

func (r *RestaurantRepository) Upsert(ctx context.Context, restaurant domain.Restaurant) error {
	id := strings.TrimSpace(restaurant.ID)
	if id == "" {
		return repositories.NewConflictError("firestore.restaurants.upsert", "restaurant id is required")
	}
	return r.docs.Set(ctx, id, restaurantDocument{
		Name:         strings.TrimSpace(restaurant.Name),
		ContactEmail: strings.TrimSpace(restaurant.ContactEmail),
		AdminUserIDs: append([]string{}, restaurant.AdminUserIDs...),
	})
}
