package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/observability"
)

const (
	// PaymentEventIntentSucceeded is the gateway event type for a captured payment.
	PaymentEventIntentSucceeded = "payment_intent.succeeded"
	// PaymentEventIntentFailed is the gateway event type for a declined payment.
	PaymentEventIntentFailed = "payment_intent.payment_failed"
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid input.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentSignatureInvalid indicates the webhook payload failed signature verification.
	ErrPaymentSignatureInvalid = errors.New("payment: invalid webhook signature")
	// ErrPaymentUnavailable indicates the payment gateway could not be reached.
	ErrPaymentUnavailable = errors.New("payment: gateway unavailable")
)

// PaymentServiceDeps wires the payment service.
type PaymentServiceDeps struct {
	Gateway        PaymentGateway
	Orders         OrderService
	Identity       IdentityAccess
	Notifier       Notifier
	PublishableKey string
	Currency       string
	Logger         func(context.Context, string, map[string]any)
}

type paymentService struct {
	gateway        PaymentGateway
	orders         OrderService
	identity       IdentityAccess
	notifier       Notifier
	publishableKey string
	currency       string
	logger         func(context.Context, string, map[string]any)
}

// NewPaymentService constructs the payment intent and webhook service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("payment service: identity access is required")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		gateway:        deps.Gateway,
		orders:         deps.Orders,
		identity:       deps.Identity,
		notifier:       deps.Notifier,
		publishableKey: strings.TrimSpace(deps.PublishableKey),
		currency:       currency,
		logger:         logger,
	}, nil
}

func (s *paymentService) PublishableKey() string {
	return s.publishableKey
}

func (s *paymentService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (result PaymentIntentResult, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "payment.CreatePaymentIntent", attribute.String("order.id", orderID))
	defer func() { observability.EndSpan(span, err) }()

	order, err := s.orders.GetOrder(ctx, orderID, cmd.Principal)
	if err != nil {
		return PaymentIntentResult{}, err
	}
	if !cmd.Principal.IsAdmin() && cmd.Principal.UserID != order.CustomerID {
		return PaymentIntentResult{}, fmt.Errorf("%w: You are not authorized to pay for this order.", ErrOrderForbidden)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return PaymentIntentResult{}, fmt.Errorf("%w: Order cannot be paid. Expected status %s, but was %s.",
			ErrOrderInvalidState, domain.OrderStatusPendingPayment, order.Status)
	}
	if !order.TotalPrice.IsPositive() {
		return PaymentIntentResult{}, fmt.Errorf("%w: order total must be positive", ErrPaymentInvalidInput)
	}

	email := ""
	if customer, err := s.identity.FindUserByID(ctx, order.CustomerID); err == nil {
		email = customer.Email
	} else if !errors.Is(err, ErrUserNotFound) {
		return PaymentIntentResult{}, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, PaymentIntentRequest{
		OrderID:       order.ID,
		Amount:        order.TotalPrice,
		Currency:      s.currency,
		CustomerEmail: email,
	})
	if err != nil {
		return PaymentIntentResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	s.logger(ctx, "payment.intent.created", map[string]any{
		"orderId":  order.ID,
		"intentId": intent.ID,
		"amount":   intent.AmountMinor,
	})
	return PaymentIntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          order.TotalPrice,
		Currency:        s.currency,
	}, nil
}

// HandleWebhook verifies and applies a gateway callback. Once the signature is valid every
// processing problem is logged and swallowed so the gateway does not retry.
func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"eventId":  event.ID,
		"type":     event.Type,
		"intentId": event.IntentID,
		"orderId":  event.OrderID,
	}

	switch event.Type {
	case PaymentEventIntentSucceeded, PaymentEventIntentFailed:
	default:
		s.logger(ctx, "payment.webhook.ignored", fields)
		return nil
	}
	if strings.TrimSpace(event.OrderID) == "" {
		s.logger(ctx, "payment.webhook.order_id.missing", fields)
		return nil
	}

	if event.Type == PaymentEventIntentSucceeded {
		s.applySuccess(ctx, event, fields)
		return nil
	}
	s.applyFailure(ctx, event, fields)
	return nil
}

func (s *paymentService) applySuccess(ctx context.Context, event PaymentWebhookEvent, fields map[string]any) {
	order, applied, err := s.orders.ProcessPaymentSuccess(ctx, PaymentSuccessCommand{
		OrderID:         event.OrderID,
		PaymentIntentID: event.IntentID,
	})
	if err != nil {
		s.logFailure(ctx, "payment.webhook.process.failed", fields, err)
		return
	}
	if !applied {
		s.logger(ctx, "payment.webhook.duplicate", fields)
		return
	}
	if s.notifier == nil {
		return
	}

	if restaurant, err := s.identity.FindRestaurant(ctx, order.RestaurantID); err != nil {
		s.logFailure(ctx, "payment.notify.restaurant.lookup.failed", fields, err)
	} else if err := s.notifier.NotifyRestaurantNewOrder(ctx, order, restaurant); err != nil {
		s.logFailure(ctx, "payment.notify.restaurant.failed", fields, err)
	}

	if customer, err := s.identity.FindUserByID(ctx, order.CustomerID); err != nil {
		s.logFailure(ctx, "payment.notify.customer.lookup.failed", fields, err)
	} else if err := s.notifier.SendPaymentSuccess(ctx, order, customer); err != nil {
		s.logFailure(ctx, "payment.notify.customer.failed", fields, err)
	}
}

func (s *paymentService) applyFailure(ctx context.Context, event PaymentWebhookEvent, fields map[string]any) {
	order, err := s.orders.ProcessPaymentFailure(ctx, PaymentFailureCommand{
		OrderID:         event.OrderID,
		PaymentIntentID: event.IntentID,
		Reason:          event.FailureMessage,
	})
	if err != nil {
		s.logFailure(ctx, "payment.webhook.process.failed", fields, err)
		return
	}
	if s.notifier == nil {
		return
	}
	customer, err := s.identity.FindUserByID(ctx, order.CustomerID)
	if err != nil {
		s.logFailure(ctx, "payment.notify.customer.lookup.failed", fields, err)
		return
	}
	if err := s.notifier.SendPaymentFailure(ctx, order, customer, event.FailureMessage); err != nil {
		s.logFailure(ctx, "payment.notify.customer.failed", fields, err)
	}
}

func (s *paymentService) logFailure(ctx context.Context, event string, fields map[string]any, err error) {
	out := maps.Clone(fields)
	out["error"] = err.Error()
	s.logger(ctx, event, out)
}
