package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderStatus     = domain.OrderStatus
	OrderStatistics = domain.OrderStatistics
	DeliveryDetails = domain.DeliveryDetails
	MenuItemDetails = domain.MenuItemDetails
	User            = domain.User
	Restaurant      = domain.Restaurant
	Role            = domain.Role
)

// Principal is the authenticated caller as seen by services.
type Principal struct {
	UserID   string
	Username string
	Roles    []Role
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal is a platform administrator.
func (p Principal) IsAdmin() bool {
	return p.HasRole(domain.RoleAdmin)
}

// CartService manages the per-user single-restaurant cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
	// ReleaseOrderedItems subtracts lines that were turned into an order, leaving anything added
	// after the order snapshot in place.
	ReleaseOrderedItems(ctx context.Context, cmd ReleaseCartItemsCommand) error
}

// OrderService drives cart-to-order conversion and the order status state machine.
type OrderService interface {
	PlaceOrderFromCart(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	// ProcessPaymentSuccess reports applied=false when the callback repeats one already recorded.
	ProcessPaymentSuccess(ctx context.Context, cmd PaymentSuccessCommand) (order Order, applied bool, err error)
	ProcessPaymentFailure(ctx context.Context, cmd PaymentFailureCommand) (Order, error)

	ConfirmOrder(ctx context.Context, cmd StaffTransitionCommand) (Order, error)
	MarkAsPreparing(ctx context.Context, cmd StaffTransitionCommand) (Order, error)
	MarkAsReadyForPickup(ctx context.Context, cmd StaffTransitionCommand) (Order, error)
	MarkAsPickedUp(ctx context.Context, cmd StaffTransitionCommand) (Order, error)
	MarkAsOutForDelivery(ctx context.Context, cmd StaffTransitionCommand) (Order, error)
	CompleteDelivery(ctx context.Context, cmd StaffTransitionCommand) (Order, error)
	CancelByCustomer(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	CancelByRestaurant(ctx context.Context, cmd CancelOrderCommand) (Order, error)

	GetOrder(ctx context.Context, orderID string, principal Principal) (Order, error)
	ListOrdersForUser(ctx context.Context, query OrderHistoryQuery) ([]Order, error)
	ListOrdersForUserPaged(ctx context.Context, query OrderHistoryQuery) (domain.CursorPage[Order], error)
	ListFilteredOrdersForUser(ctx context.Context, query OrderHistoryQuery) (domain.CursorPage[Order], error)
}

// OrderStatisticsService derives read-only aggregates over a customer's orders.
type OrderStatisticsService interface {
	GetOrderStatistics(ctx context.Context, query OrderStatisticsQuery) (OrderStatistics, error)
}

// PaymentService creates payment intents and applies verified gateway callbacks.
type PaymentService interface {
	PublishableKey() string
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// AuthorizationGate answers role and ownership questions for the order engine.
type AuthorizationGate interface {
	// AuthorizeActForUser allows ADMIN or the CUSTOMER whose username equals targetUsername.
	AuthorizeActForUser(ctx context.Context, principal Principal, targetUsername string) error
	// AuthorizeRestaurantAdmin returns the acting user when it belongs to the restaurant's admin set.
	AuthorizeRestaurantAdmin(ctx context.Context, principal Principal, restaurantID string) (User, error)
	// AuthorizeOrderRead allows the owning customer, ADMIN, or an admin of the order's restaurant.
	AuthorizeOrderRead(ctx context.Context, principal Principal, order Order) error
}

// IdentityAccess resolves users and restaurant admin sets.
type IdentityAccess interface {
	ResolveUser(ctx context.Context, username string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	FindRestaurant(ctx context.Context, restaurantID string) (Restaurant, error)
}

// CatalogLookup answers menu item detail queries. Missing items return ErrCatalogItemNotFound.
type CatalogLookup interface {
	GetItem(ctx context.Context, menuItemID, restaurantID string) (MenuItemDetails, error)
}

// PaymentGateway creates intents with the PSP and verifies its webhook payloads.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	// ParseWebhook verifies signature and decodes the event. Bad signatures return ErrPaymentSignatureInvalid.
	ParseWebhook(payload []byte, signature string) (PaymentWebhookEvent, error)
}

// Notifier sends fire-and-forget messages to customers and restaurants.
type Notifier interface {
	SendPaymentSuccess(ctx context.Context, order Order, customer User) error
	SendPaymentFailure(ctx context.Context, order Order, customer User, reason string) error
	NotifyRestaurantNewOrder(ctx context.Context, order Order, restaurant Restaurant) error
}

// MessagePublisher delivers outbound messages onto a transport (Pub/Sub, AMQP, log).
type MessagePublisher interface {
	Publish(ctx context.Context, msg OutboundMessage) (string, error)
}

// Metrics records service counters.
type Metrics interface {
	RecordOrderTransition(ctx context.Context, from, to string)
	RecordPaymentCallback(ctx context.Context, outcome string)
	RecordCartMutation(ctx context.Context, operation string)
}

// Command and query DTOs ------------------------------------------------------

// AddCartItemCommand adds quantity units of an item to the user's cart.
type AddCartItemCommand struct {
	UserID       string
	RestaurantID string
	MenuItemID   string
	Quantity     int
}

// UpdateCartItemCommand sets the quantity of an existing line.
type UpdateCartItemCommand struct {
	UserID     string
	MenuItemID string
	Quantity   int
}

// RemoveCartItemCommand drops a line from the cart.
type RemoveCartItemCommand struct {
	UserID     string
	MenuItemID string
}

// ReleaseCartItemsCommand names the cart lines an order consumed.
type ReleaseCartItemsCommand struct {
	UserID       string
	RestaurantID string
	Items        []CartItem
}

// PlaceOrderCommand converts the target user's cart into an order.
type PlaceOrderCommand struct {
	TargetUsername string
	Principal      Principal
	Delivery       *DeliveryDetails
}

// PaymentSuccessCommand applies a successful gateway callback.
type PaymentSuccessCommand struct {
	OrderID         string
	PaymentIntentID string
}

// PaymentFailureCommand applies a failed gateway callback. Both optional fields may be empty.
type PaymentFailureCommand struct {
	OrderID         string
	PaymentIntentID string
	Reason          string
}

// StaffTransitionCommand advances an order on behalf of restaurant staff.
type StaffTransitionCommand struct {
	OrderID   string
	Principal Principal
}

// CancelOrderCommand cancels an order on behalf of its customer or restaurant.
type CancelOrderCommand struct {
	OrderID   string
	Principal Principal
	Reason    string
}

// OrderHistoryQuery lists a user's orders. Statuses and the date range are optional filters.
type OrderHistoryQuery struct {
	TargetUsername string
	Principal      Principal
	Statuses       []OrderStatus
	From           *time.Time
	To             *time.Time
	Pagination     Pagination
}

// OrderStatisticsQuery requests aggregates for the target user.
type OrderStatisticsQuery struct {
	TargetUsername string
	Principal      Principal
}

// CreatePaymentIntentCommand requests a PSP intent for a pending order.
type CreatePaymentIntentCommand struct {
	OrderID   string
	Principal Principal
}

// PaymentIntentResult is returned to the client to complete payment.
type PaymentIntentResult struct {
	ClientSecret    string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
}

// PaymentIntentRequest is what the gateway needs to create an intent.
type PaymentIntentRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
}

// PaymentIntent is the gateway's view of a created intent.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	AmountMinor  int64
	Currency     string
}

// PaymentWebhookEvent is a verified gateway callback.
type PaymentWebhookEvent struct {
	ID             string
	Type           string
	IntentID       string
	OrderID        string
	FailureMessage string
}

// OutboundMessage is the transport-neutral envelope for notifications and order events.
type OutboundMessage struct {
	Kind       string            `json:"kind"`
	OrderID    string            `json:"orderId,omitempty"`
	Recipient  string            `json:"recipient,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// OrderListFilter re-exports the repository filter for handler convenience.
type OrderListFilter = repositories.OrderListFilter
