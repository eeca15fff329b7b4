package firestore

import (
	"context"
	"strings"

	domain "github.com/foodcourt/api/internal/domain"
	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/repositories"
)

// CartRepository stores one document per user keyed by the user id.
type CartRepository struct {
	docs *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, repositories.NewNotFoundError("firestore.carts.get", "user id is required")
	}
	doc, err := r.docs.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	return fromCartDocument(doc.ID, doc.Data)
}

func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) error {
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" {
		return repositories.NewConflictError("firestore.carts.save", "cart user id is required")
	}
	return r.docs.Set(ctx, userID, toCartDocument(cart))
}

func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	return r.docs.Delete(ctx, userID)
}
