// Package memory provides in-process repository implementations used by tests and local mode.
package memory

import (
	"context"
	"sync"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/repositories"
)

type txKey struct{}

// Store holds every collection behind one mutex. RunInTx holds the mutex for the whole callback so
// read-modify-write sequences are serialised.
type Store struct {
	mu          sync.Mutex
	carts       map[string]domain.Cart
	orders      map[string]domain.Order
	users       map[string]domain.User
	restaurants map[string]domain.Restaurant
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		carts:       make(map[string]domain.Cart),
		orders:      make(map[string]domain.Order),
		users:       make(map[string]domain.User),
		restaurants: make(map[string]domain.Restaurant),
	}
}

// RunInTx executes fn while holding the store lock. Nested calls reuse the outer lock.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, s))
}

// Close is a no-op for the in-memory store.
func (s *Store) Close(context.Context) error { return nil }

// Carts returns the cart repository view of the store.
func (s *Store) Carts() repositories.CartRepository { return &CartRepository{store: s} }

// Orders returns the order repository view of the store.
func (s *Store) Orders() repositories.OrderRepository { return &OrderRepository{store: s} }

// Users returns the user repository view of the store.
func (s *Store) Users() repositories.UserRepository { return &UserRepository{store: s} }

// Restaurants returns the restaurant repository view of the store.
func (s *Store) Restaurants() repositories.RestaurantRepository {
	return &RestaurantRepository{store: s}
}

func (s *Store) locked(ctx context.Context, fn func()) {
	if s.inTx(ctx) {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Store) inTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}
