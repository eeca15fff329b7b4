package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/observability"
	"github.com/foodcourt/api/internal/platform/pagination"
	"github.com/foodcourt/api/internal/platform/textutil"
	"github.com/foodcourt/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"

	orderIDPrefix = "ord_"

	paymentSuccessDetail      = "Payment successful."
	paymentFailureDetail      = "Payment failed: "
	paymentUnknownReason      = "Unknown reason."
	maxDeliveryAddressLength  = 255
	maxDeliveryContactLength  = 32
	maxDeliveryInstructLength = 500
	maxCancelReasonLength     = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an operation was attempted from the wrong status.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent update won the status compare-and-swap, or a duplicate id.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
	// ErrEmptyCart indicates the cart has no lines to convert.
	ErrEmptyCart = errors.New("order: cart is empty")
	// ErrNoRestaurantAssociated indicates the cart has lines but no restaurant.
	ErrNoRestaurantAssociated = errors.New("order: cart has no restaurant")
)

// transitionRule names an operation, the statuses it may start from, and the status it produces.
type transitionRule struct {
	name   string
	action string
	from   []OrderStatus
	to     OrderStatus
}

func (r transitionRule) allows(current OrderStatus) bool {
	return slices.Contains(r.from, current)
}

func (r transitionRule) stateError(current OrderStatus) error {
	expected := make([]string, len(r.from))
	for i, status := range r.from {
		expected[i] = string(status)
	}
	return fmt.Errorf("%w: Order cannot be %s. Expected status %s, but was %s.",
		ErrOrderInvalidState, r.action, strings.Join(expected, " or "), current)
}

var (
	confirmRule = transitionRule{
		name: "ConfirmOrder", action: "confirmed",
		from: []OrderStatus{domain.OrderStatusPlaced}, to: domain.OrderStatusConfirmed,
	}
	preparingRule = transitionRule{
		name: "MarkAsPreparing", action: "marked as preparing",
		from: []OrderStatus{domain.OrderStatusConfirmed}, to: domain.OrderStatusPreparing,
	}
	readyForPickupRule = transitionRule{
		name: "MarkAsReadyForPickup", action: "marked as ready for pickup",
		from: []OrderStatus{domain.OrderStatusPreparing}, to: domain.OrderStatusReadyForPickup,
	}
	pickedUpRule = transitionRule{
		name: "MarkAsPickedUp", action: "marked as picked up",
		from: []OrderStatus{domain.OrderStatusReadyForPickup}, to: domain.OrderStatusDelivered,
	}
	outForDeliveryRule = transitionRule{
		name: "MarkAsOutForDelivery", action: "marked as out for delivery",
		from: []OrderStatus{domain.OrderStatusReadyForPickup, domain.OrderStatusPreparing}, to: domain.OrderStatusOutForDelivery,
	}
	completeDeliveryRule = transitionRule{
		name: "CompleteDelivery", action: "marked as delivered",
		from: []OrderStatus{domain.OrderStatusOutForDelivery}, to: domain.OrderStatusDelivered,
	}
	customerCancelRule = transitionRule{
		name: "CancelByCustomer", action: "cancelled",
		from: []OrderStatus{domain.OrderStatusPendingPayment, domain.OrderStatusPlaced}, to: domain.OrderStatusCancelledByUser,
	}
	restaurantCancelRule = transitionRule{
		name: "CancelByRestaurant", action: "rejected",
		from: []OrderStatus{domain.OrderStatusPlaced, domain.OrderStatusConfirmed, domain.OrderStatusPreparing}, to: domain.OrderStatusCancelledByRestaurant,
	}
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	CustomerID     string
	RestaurantID   string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Carts         CartService
	Identity      IdentityAccess
	Authorization AuthorizationGate
	UnitOfWork    repositories.UnitOfWork
	Metrics       Metrics
	Clock         func() time.Time
	IDGenerator   func() string
	Events        OrderEventPublisher
	Logger        func(ctx context.Context, event string, fields map[string]any)

	// CartUnitOfWork is the cart backend's transaction scope. When nil, carts share UnitOfWork.
	// SeparateCartStore reports that CartUnitOfWork does not span the order store.
	CartUnitOfWork    repositories.UnitOfWork
	SeparateCartStore bool
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      CartService
	identity   IdentityAccess
	authz      AuthorizationGate
	unitOfWork repositories.UnitOfWork
	cartUnit   repositories.UnitOfWork
	cartsApart bool
	metrics    Metrics
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("order service: identity access is required")
	}
	if deps.Authorization == nil {
		return nil, errors.New("order service: authorization gate is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	cartUnit := deps.CartUnitOfWork
	cartsApart := deps.SeparateCartStore
	if cartUnit == nil {
		cartUnit, cartsApart = unit, false
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		identity:   deps.Identity,
		authz:      deps.Authorization,
		unitOfWork: unit,
		cartUnit:   cartUnit,
		cartsApart: cartsApart,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) PlaceOrderFromCart(ctx context.Context, cmd PlaceOrderCommand) (result Order, err error) {
	target := strings.TrimSpace(cmd.TargetUsername)
	if target == "" {
		return Order{}, fmt.Errorf("%w: username is required", ErrOrderInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "order.PlaceOrderFromCart", attribute.String("order.target_username", target))
	defer func() { observability.EndSpan(span, err) }()

	if err := s.authz.AuthorizeActForUser(ctx, cmd.Principal, target); err != nil {
		if errors.Is(err, ErrOrderForbidden) {
			return Order{}, fmt.Errorf("%w: You are not authorized to place an order for this user.", ErrOrderForbidden)
		}
		return Order{}, err
	}

	customer, err := s.identity.ResolveUser(ctx, target)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:         s.nextOrderID(),
		CustomerID: customer.ID,
		Status:     domain.OrderStatusPendingPayment,
		Delivery:   sanitizeDelivery(cmd.Delivery),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if s.cartsApart {
		order, err = s.placeAcrossStores(ctx, order)
	} else {
		order, err = s.placeInOneTx(ctx, order)
	}
	if err != nil {
		return Order{}, err
	}

	s.metrics.RecordOrderTransition(ctx, "", string(order.Status))
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		RestaurantID:  order.RestaurantID,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.Principal.UserID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total": order.TotalPrice.StringFixed(domain.MoneyScale),
			"items": len(order.Items),
		},
	})
	return order, nil
}

// placeInOneTx reads the cart, clears it and inserts the order inside one transaction of the
// shared backend. A failed clear is logged and the order still commits.
func (s *orderService) placeInOneTx(ctx context.Context, order Order) (Order, error) {
	var (
		placed   Order
		clearErr error
	)
	err := s.cartUnit.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.GetCart(txCtx, order.CustomerID)
		if err != nil {
			return err
		}
		placed, err = fillFromCart(order, cart)
		if err != nil {
			return err
		}
		clearErr = s.carts.ClearCart(txCtx, order.CustomerID)
		if err := s.orders.Insert(txCtx, placed); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if clearErr != nil {
		s.logCartReleaseFailure(ctx, placed, clearErr)
	}
	return placed, nil
}

// placeAcrossStores is used when carts and orders live in different backends. The cart is read
// in its own transaction, the order is inserted, and only the ordered lines are taken out of the
// cart afterwards so concurrent additions survive.
func (s *orderService) placeAcrossStores(ctx context.Context, order Order) (Order, error) {
	var cart Cart
	err := s.cartUnit.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		cart, err = s.carts.GetCart(txCtx, order.CustomerID)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	placed, err := fillFromCart(order, cart)
	if err != nil {
		return Order{}, err
	}

	if err := s.runInTx(ctx, func(txCtx context.Context) error {
		return s.orders.Insert(txCtx, placed)
	}); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := s.carts.ReleaseOrderedItems(ctx, ReleaseCartItemsCommand{
		UserID:       placed.CustomerID,
		RestaurantID: placed.RestaurantID,
		Items:        cart.Items,
	}); err != nil {
		s.logCartReleaseFailure(ctx, placed, err)
	}
	return placed, nil
}

func fillFromCart(order Order, cart Cart) (Order, error) {
	if cart.IsEmpty() {
		return Order{}, fmt.Errorf("%w: Cannot place order: Cart is empty.", ErrEmptyCart)
	}
	if strings.TrimSpace(cart.RestaurantID) == "" {
		return Order{}, fmt.Errorf("%w: Cannot place order: Cart is not associated with a restaurant.", ErrNoRestaurantAssociated)
	}
	order.RestaurantID = cart.RestaurantID
	order.TotalPrice = domain.RoundMoney(cart.TotalPrice)
	order.Items = snapshotCartItems(cart.Items)
	return order, nil
}

func (s *orderService) logCartReleaseFailure(ctx context.Context, order Order, err error) {
	s.logger(ctx, "order.cart.clear.failed", map[string]any{
		"orderId":    order.ID,
		"customerId": order.CustomerID,
		"error":      err.Error(),
	})
}

func (s *orderService) ProcessPaymentSuccess(ctx context.Context, cmd PaymentSuccessCommand) (result Order, changed bool, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	intentID := strings.TrimSpace(cmd.PaymentIntentID)
	if orderID == "" {
		return Order{}, false, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if intentID == "" {
		return Order{}, false, fmt.Errorf("%w: payment intent id is required", ErrOrderInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "order.ProcessPaymentSuccess",
		attribute.String("order.id", orderID),
		attribute.String("payment.intent_id", intentID),
	)
	defer func() { observability.EndSpan(span, err) }()

	var (
		previous       OrderStatus
		previousIntent string
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		changed = false
		order, err := s.loadOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusPlaced && order.PaymentIntentID == intentID {
			result = order
			return nil
		}

		next := domain.ApplyTransition(order, domain.OrderStatusPlaced, s.now())
		next.PaymentIntentID = intentID
		next.PaymentStatusDetail = paymentSuccessDetail
		if err := s.orders.UpdateStatus(txCtx, next, order.Status); err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status
		previousIntent = order.PaymentIntentID
		changed = true
		result = next
		return nil
	})
	if err != nil {
		return Order{}, false, err
	}

	if !changed {
		s.metrics.RecordPaymentCallback(ctx, "duplicate")
		return result, false, nil
	}
	if previous != domain.OrderStatusPendingPayment {
		s.logger(ctx, "order.payment.success.unexpected_status", map[string]any{
			"orderId":        orderID,
			"status":         string(previous),
			"intentId":       intentID,
			"previousIntent": previousIntent,
		})
	}
	s.metrics.RecordPaymentCallback(ctx, "succeeded")
	s.afterTransition(ctx, result, previous, "", map[string]any{"paymentIntentId": intentID})
	return result, true, nil
}

func (s *orderService) ProcessPaymentFailure(ctx context.Context, cmd PaymentFailureCommand) (result Order, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	intentID := strings.TrimSpace(cmd.PaymentIntentID)
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = paymentUnknownReason
	}

	ctx, span := observability.StartSpan(ctx, "order.ProcessPaymentFailure", attribute.String("order.id", orderID))
	defer func() { observability.EndSpan(span, err) }()

	var previous OrderStatus
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		next := domain.ApplyTransition(order, domain.OrderStatusFailed, s.now())
		if intentID != "" {
			next.PaymentIntentID = intentID
		}
		next.PaymentStatusDetail = paymentFailureDetail + reason
		if err := s.orders.UpdateStatus(txCtx, next, order.Status); err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status
		result = next
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.RecordPaymentCallback(ctx, "failed")
	s.afterTransition(ctx, result, previous, "", map[string]any{"reason": reason})
	return result, nil
}

func (s *orderService) ConfirmOrder(ctx context.Context, cmd StaffTransitionCommand) (Order, error) {
	return s.staffTransition(ctx, cmd.OrderID, cmd.Principal, confirmRule, nil)
}

func (s *orderService) MarkAsPreparing(ctx context.Context, cmd StaffTransitionCommand) (Order, error) {
	return s.staffTransition(ctx, cmd.OrderID, cmd.Principal, preparingRule, nil)
}

func (s *orderService) MarkAsReadyForPickup(ctx context.Context, cmd StaffTransitionCommand) (Order, error) {
	return s.staffTransition(ctx, cmd.OrderID, cmd.Principal, readyForPickupRule, nil)
}

func (s *orderService) MarkAsPickedUp(ctx context.Context, cmd StaffTransitionCommand) (Order, error) {
	return s.staffTransition(ctx, cmd.OrderID, cmd.Principal, pickedUpRule, nil)
}

func (s *orderService) MarkAsOutForDelivery(ctx context.Context, cmd StaffTransitionCommand) (Order, error) {
	return s.staffTransition(ctx, cmd.OrderID, cmd.Principal, outForDeliveryRule, nil)
}

func (s *orderService) CompleteDelivery(ctx context.Context, cmd StaffTransitionCommand) (Order, error) {
	return s.staffTransition(ctx, cmd.OrderID, cmd.Principal, completeDeliveryRule, nil)
}

func (s *orderService) CancelByRestaurant(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	metadata := cancelMetadata(cmd.Reason)
	return s.staffTransition(ctx, cmd.OrderID, cmd.Principal, restaurantCancelRule, metadata)
}

func (s *orderService) CancelByCustomer(ctx context.Context, cmd CancelOrderCommand) (result Order, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "order."+customerCancelRule.name, attribute.String("order.id", orderID))
	defer func() { observability.EndSpan(span, err) }()

	current, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if cmd.Principal.UserID == "" {
		return Order{}, fmt.Errorf("%w: authentication required", ErrUnauthenticated)
	}
	if !cmd.Principal.IsAdmin() && cmd.Principal.UserID != current.CustomerID {
		return Order{}, fmt.Errorf("%w: You are not authorized to cancel this order.", ErrOrderForbidden)
	}

	next, previous, err := s.transition(ctx, orderID, customerCancelRule)
	if err != nil {
		return Order{}, err
	}
	s.afterTransition(ctx, next, previous, cmd.Principal.UserID, cancelMetadata(cmd.Reason))
	return next, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, principal Principal) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authz.AuthorizeOrderRead(ctx, principal, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrdersForUser(ctx context.Context, query OrderHistoryQuery) ([]Order, error) {
	customer, err := s.historyCustomer(ctx, query)
	if err != nil {
		return nil, err
	}
	orders, err := s.orders.ListAllByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	slices.Reverse(orders)
	return orders, nil
}

func (s *orderService) ListOrdersForUserPaged(ctx context.Context, query OrderHistoryQuery) (domain.CursorPage[Order], error) {
	customer, err := s.historyCustomer(ctx, query)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}
	return s.listOrders(ctx, OrderListFilter{
		CustomerID: customer.ID,
		Pagination: query.Pagination,
	})
}

func (s *orderService) ListFilteredOrdersForUser(ctx context.Context, query OrderHistoryQuery) (domain.CursorPage[Order], error) {
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: Start date must be before end date.", ErrOrderInvalidInput)
	}
	customer, err := s.historyCustomer(ctx, query)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}

	filter := OrderListFilter{
		CustomerID: customer.ID,
		Status:     slices.Clone(query.Statuses),
		Pagination: query.Pagination,
	}
	if query.From != nil {
		from := query.From.UTC()
		filter.DateRange.From = &from
	}
	if query.To != nil {
		to := query.To.UTC()
		filter.DateRange.To = &to
	}
	return s.listOrders(ctx, filter)
}

func (s *orderService) listOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) historyCustomer(ctx context.Context, query OrderHistoryQuery) (User, error) {
	target := strings.TrimSpace(query.TargetUsername)
	if target == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrOrderInvalidInput)
	}
	if err := s.authz.AuthorizeActForUser(ctx, query.Principal, target); err != nil {
		if errors.Is(err, ErrOrderForbidden) {
			return User{}, fmt.Errorf("%w: You are not authorized to view orders for this user.", ErrOrderForbidden)
		}
		return User{}, err
	}
	return s.identity.ResolveUser(ctx, target)
}

// staffTransition authorizes the principal as an admin of the order's restaurant and applies rule.
func (s *orderService) staffTransition(ctx context.Context, orderID string, principal Principal, rule transitionRule, metadata map[string]any) (result Order, err error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "order."+rule.name,
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", string(rule.to)),
	)
	defer func() { observability.EndSpan(span, err) }()

	current, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	actor, err := s.authz.AuthorizeRestaurantAdmin(ctx, principal, current.RestaurantID)
	if err != nil {
		return Order{}, err
	}

	next, previous, err := s.transition(ctx, orderID, rule)
	if err != nil {
		return Order{}, err
	}
	s.afterTransition(ctx, next, previous, actor.ID, metadata)
	return next, nil
}

// transition re-reads the order inside a transaction, checks the rule, and swaps the status.
func (s *orderService) transition(ctx context.Context, orderID string, rule transitionRule) (Order, OrderStatus, error) {
	var (
		result   Order
		previous OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if !rule.allows(order.Status) {
			return rule.stateError(order.Status)
		}
		next := domain.ApplyTransition(order, rule.to, s.now())
		if err := s.orders.UpdateStatus(txCtx, next, order.Status); err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status
		result = next
		return nil
	})
	if err != nil {
		return Order{}, "", err
	}
	return result, previous, nil
}

func (s *orderService) afterTransition(ctx context.Context, order Order, previous OrderStatus, actorID string, metadata map[string]any) {
	s.metrics.RecordOrderTransition(ctx, string(previous), string(order.Status))
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		RestaurantID:   order.RestaurantID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Order{}, fmt.Errorf("%w: Order not found with id: %s", ErrOrderNotFound, orderID)
		}
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type noopMetrics struct{}

func (noopMetrics) RecordOrderTransition(context.Context, string, string) {}
func (noopMetrics) RecordPaymentCallback(context.Context, string) {}
func (noopMetrics) RecordCartMutation(context.Context, string) {}

func snapshotCartItems(items []CartItem) []OrderItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItem{
			MenuItemID:     item.MenuItemID,
			MenuItemName:   item.MenuItemName,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			ItemTotalPrice: item.TotalPrice,
		})
	}
	return out
}

// sanitizeDelivery copies address fields only when the first address line is present.
func sanitizeDelivery(details *DeliveryDetails) DeliveryDetails {
	if details == nil {
		return DeliveryDetails{}
	}
	var out DeliveryDetails
	if line1 := textutil.PlainText(details.AddressLine1, maxDeliveryAddressLength); line1 != "" {
		out.AddressLine1 = line1
		out.AddressLine2 = textutil.PlainText(details.AddressLine2, maxDeliveryAddressLength)
		out.City = textutil.PlainText(details.City, maxDeliveryAddressLength)
		out.State = textutil.PlainText(details.State, maxDeliveryAddressLength)
		out.PostalCode = textutil.PlainText(details.PostalCode, maxDeliveryContactLength)
		out.Country = textutil.PlainText(details.Country, maxDeliveryAddressLength)
	}
	out.ContactNumber = textutil.PlainText(details.ContactNumber, maxDeliveryContactLength)
	out.SpecialInstructions = textutil.PlainText(details.SpecialInstructions, maxDeliveryInstructLength)
	return out
}

func cancelMetadata(reason string) map[string]any {
	reason = textutil.PlainText(reason, maxCancelReasonLength)
	if reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}
