// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/repositories"
)

const (
	cartCollection       = "carts"
	orderCollection      = "orders"
	userCollection       = "users"
	restaurantCollection = "restaurants"
)

// Store is the Firestore repositories.Registry. RunInTx binds a Firestore transaction to ctx and
// every repository below reads and writes through it.
type Store struct {
	provider    *pfirestore.Provider
	carts       *CartRepository
	orders      *OrderRepository
	users       *UserRepository
	restaurants *RestaurantRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore builds every repository on top of provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	return &Store{
		provider:    provider,
		carts:       &CartRepository{docs: pfirestore.NewCollection[cartDocument](provider, cartCollection)},
		orders:      &OrderRepository{provider: provider, docs: pfirestore.NewCollection[orderDocument](provider, orderCollection)},
		users:       &UserRepository{docs: pfirestore.NewCollection[userDocument](provider, userCollection)},
		restaurants: &RestaurantRepository{docs: pfirestore.NewCollection[restaurantDocument](provider, restaurantCollection)},
	}, nil
}

// RunInTx runs fn inside one Firestore transaction. Firestore may retry fn on contention.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.provider.RunInTx(ctx, fn)
}

// Close releases the shared client.
func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }

func (s *Store) Carts() repositories.CartRepository { return s.carts }

func (s *Store) Orders() repositories.OrderRepository { return s.orders }

func (s *Store) Users() repositories.UserRepository { return s.users }

func (s *Store) Restaurants() repositories.RestaurantRepository { return s.restaurants }
