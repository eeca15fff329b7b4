package repositories

import (
	"context"
	"time"

	domain "github.com/foodcourt/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Users() UserRepository
	Restaurants() RestaurantRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories participating in the same backend pick up the transaction from ctx.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists one cart per user.
type CartRepository interface {
	// GetCart returns a RepositoryError with IsNotFound when the user has no cart.
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// SaveCart upserts the whole cart document including its lines.
	SaveCart(ctx context.Context, cart domain.Cart) error
	// DeleteCart removes the cart. Missing carts are not an error.
	DeleteCart(ctx context.Context, userID string) error
}

// OrderRepository persists orders. Orders are never deleted.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// UpdateStatus persists order only if the stored status still equals expected. A mismatch
	// returns a RepositoryError with IsConflict.
	UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListAllByCustomer returns every order for a customer ordered by createdAt ascending.
	ListAllByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
}

// UserRepository resolves identity records.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (domain.User, error)
	FindByID(ctx context.Context, userID string) (domain.User, error)
	Upsert(ctx context.Context, user domain.User) error
}

// RestaurantRepository resolves restaurant directory entries and their admin sets.
type RestaurantRepository interface {
	FindByID(ctx context.Context, restaurantID string) (domain.Restaurant, error)
	Upsert(ctx context.Context, restaurant domain.Restaurant) error
}

// HealthRepository reports dependency health for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows order history queries. Results are ordered by createdAt descending.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
