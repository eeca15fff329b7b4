package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role names recognised by the identity layer.
type Role string

const (
	// RoleCustomer is granted to end users ordering food.
	RoleCustomer Role = "CUSTOMER"
	// RoleRestaurantAdmin is granted to restaurant staff; membership is checked per restaurant.
	RoleRestaurantAdmin Role = "RESTAURANT_ADMIN"
	// RoleAdmin is the platform-wide administrator role.
	RoleAdmin Role = "ADMIN"
)

// User is the identity record resolved from a principal or username.
type User struct {
	ID       string
	Username string
	Email    string
	Roles    []Role
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Restaurant carries the fields the ordering core needs from the restaurant directory.
type Restaurant struct {
	ID           string
	Name         string
	ContactEmail string
	AdminUserIDs []string
}

// IsAdmin reports whether userID belongs to the restaurant's admin set.
func (r Restaurant) IsAdmin(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range r.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MenuItemDetails is the catalog view of an item at lookup time.
type MenuItemDetails struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	RestaurantID   string
	RestaurantName string
	Available      bool
}

// Cart is the per-user staging area scoped to at most one restaurant.
type Cart struct {
	UserID         string
	RestaurantID   string
	RestaurantName string
	Items          []CartItem
	TotalPrice     decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// CartItem is a single cart line. Name and unit price are snapshots taken on first add.
type CartItem struct {
	MenuItemID   string
	MenuItemName string
	Quantity     int
	UnitPrice    decimal.Decimal
	TotalPrice   decimal.Decimal
}

// DeliveryDetails holds the optional delivery data supplied at placement.
type DeliveryDetails struct {
	AddressLine1        string
	AddressLine2        string
	City                string
	State               string
	PostalCode          string
	Country             string
	ContactNumber       string
	SpecialInstructions string
}

// Order is a placed purchase against a single restaurant. Items never change after creation.
type Order struct {
	ID                  string
	CustomerID          string
	RestaurantID        string
	Status              OrderStatus
	TotalPrice          decimal.Decimal
	Items               []OrderItem
	Delivery            DeliveryDetails
	PaymentIntentID     string
	PaymentStatusDetail string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	PlacedAt            *time.Time
	ConfirmedAt         *time.Time
	PreparingAt         *time.Time
	ReadyAt             *time.Time
	OutForDeliveryAt    *time.Time
	DeliveredAt         *time.Time
	CancelledAt         *time.Time
}

// OrderItem is an immutable snapshot of a cart line.
type OrderItem struct {
	MenuItemID     string
	MenuItemName   string
	Quantity       int
	UnitPrice      decimal.Decimal
	ItemTotalPrice decimal.Decimal
}

// OrderStatistics summarises a customer's order history.
type OrderStatistics struct {
	CustomerID                 string
	TotalOrders                int
	TotalSpent                 decimal.Decimal
	AverageOrderAmount         decimal.Decimal
	OrdersByStatus             map[OrderStatus]int
	FirstOrderDate             *time.Time
	LastOrderDate              *time.Time
	RestaurantCount            int
	MostOrderedRestaurantID    string
	MostOrderedRestaurantName  string
	MostOrderedRestaurantCount int
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = append([]CartItem(nil), c.Items...)
	}
	return out
}

// Clone returns a deep copy of the order including its milestone pointers.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	out.PlacedAt = cloneTime(o.PlacedAt)
	out.ConfirmedAt = cloneTime(o.ConfirmedAt)
	out.PreparingAt = cloneTime(o.PreparingAt)
	out.ReadyAt = cloneTime(o.ReadyAt)
	out.OutForDeliveryAt = cloneTime(o.OutForDeliveryAt)
	out.DeliveredAt = cloneTime(o.DeliveredAt)
	out.CancelledAt = cloneTime(o.CancelledAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
