package memory

import (
	"context"
	"strings"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/repositories"
)

// CartRepository stores carts keyed by user id.
type CartRepository struct {
	store *Store
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	var (
		cart domain.Cart
		ok   bool
	)
	r.store.locked(ctx, func() {
		cart, ok = r.store.carts[userID]
	})
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("memory.carts.get", "cart for user %s not found", userID)
	}
	return cart.Clone(), nil
}

func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) error {
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" {
		return repositories.NewConflictError("memory.carts.save", "cart user id is required")
	}
	cart.UserID = userID
	r.store.locked(ctx, func() {
		r.store.carts[userID] = cart.Clone()
	})
	return nil
}

func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	r.store.locked(ctx, func() {
		delete(r.store.carts, userID)
	})
	return nil
}
