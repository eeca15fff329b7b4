package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/foodcourt/api/internal/domain"
)

const (
	// MessageKindPaymentSucceeded tells the customer the payment went through.
	MessageKindPaymentSucceeded = "notification.payment_succeeded"
	// MessageKindPaymentFailed tells the customer the payment was declined.
	MessageKindPaymentFailed = "notification.payment_failed"
	// MessageKindRestaurantNewOrder tells the restaurant a paid order is waiting.
	MessageKindRestaurantNewOrder = "notification.restaurant_new_order"
)

// ErrNotificationRecipientMissing indicates the target has no contact address on file.
var ErrNotificationRecipientMissing = errors.New("notification: recipient address missing")

// NotifierDeps wires the message-based notifier.
type NotifierDeps struct {
	Publisher MessagePublisher
	Currency  string
	Language  string
	Clock     func() time.Time
}

type messageNotifier struct {
	publisher MessagePublisher
	currency  currency.Unit
	printer   *message.Printer
	clock     func() time.Time
}

// NewNotifier renders notifications and hands them to publisher.
func NewNotifier(deps NotifierDeps) (Notifier, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notifier: publisher is required")
	}
	code := strings.TrimSpace(deps.Currency)
	if code == "" {
		code = "USD"
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("notifier: unsupported currency %q: %w", code, err)
	}
	tag := language.AmericanEnglish
	if raw := strings.TrimSpace(deps.Language); raw != "" {
		parsed, err := language.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("notifier: invalid language %q: %w", raw, err)
		}
		tag = parsed
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &messageNotifier{
		publisher: deps.Publisher,
		currency:  unit,
		printer:   message.NewPrinter(tag),
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (n *messageNotifier) SendPaymentSuccess(ctx context.Context, order Order, customer User) error {
	if strings.TrimSpace(customer.Email) == "" {
		return fmt.Errorf("%w: customer %s", ErrNotificationRecipientMissing, customer.ID)
	}
	amount := n.formatAmount(order.TotalPrice)
	return n.publish(ctx, OutboundMessage{
		Kind:      MessageKindPaymentSucceeded,
		OrderID:   order.ID,
		Recipient: customer.Email,
		Subject:   fmt.Sprintf("Payment received for order %s", order.ID),
		Body:      n.printer.Sprintf("Hi %s, we received your payment of %s for order %s.", displayName(customer), amount, order.ID),
		Data: map[string]string{
			"customerId": customer.ID,
			"amount":     order.TotalPrice.StringFixed(domain.MoneyScale),
			"currency":   n.currency.String(),
		},
	})
}

func (n *messageNotifier) SendPaymentFailure(ctx context.Context, order Order, customer User, reason string) error {
	if strings.TrimSpace(customer.Email) == "" {
		return fmt.Errorf("%w: customer %s", ErrNotificationRecipientMissing, customer.ID)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = paymentUnknownReason
	}
	return n.publish(ctx, OutboundMessage{
		Kind:      MessageKindPaymentFailed,
		OrderID:   order.ID,
		Recipient: customer.Email,
		Subject:   fmt.Sprintf("Payment failed for order %s", order.ID),
		Body: n.printer.Sprintf("Hi %s, your payment of %s for order %s could not be completed: %s",
			displayName(customer), n.formatAmount(order.TotalPrice), order.ID, reason),
		Data: map[string]string{
			"customerId": customer.ID,
			"reason":     reason,
		},
	})
}

func (n *messageNotifier) NotifyRestaurantNewOrder(ctx context.Context, order Order, restaurant Restaurant) error {
	if strings.TrimSpace(restaurant.ContactEmail) == "" {
		return fmt.Errorf("%w: restaurant %s", ErrNotificationRecipientMissing, restaurant.ID)
	}
	quantity := 0
	for _, item := range order.Items {
		quantity += item.Quantity
	}
	return n.publish(ctx, OutboundMessage{
		Kind:      MessageKindRestaurantNewOrder,
		OrderID:   order.ID,
		Recipient: restaurant.ContactEmail,
		Subject:   fmt.Sprintf("New order %s", order.ID),
		Body: n.printer.Sprintf("%s has a new paid order %s: %d items, total %s.",
			restaurant.Name, order.ID, quantity, n.formatAmount(order.TotalPrice)),
		Data: map[string]string{
			"restaurantId": restaurant.ID,
			"items":        strconv.Itoa(quantity),
			"amount":       order.TotalPrice.StringFixed(domain.MoneyScale),
		},
	})
}

func (n *messageNotifier) publish(ctx context.Context, msg OutboundMessage) error {
	msg.OccurredAt = n.clock()
	if _, err := n.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("notifier: publish %s: %w", msg.Kind, err)
	}
	return nil
}

func (n *messageNotifier) formatAmount(amount decimal.Decimal) string {
	value, _ := domain.RoundMoney(amount).Float64()
	return n.currency.String() + " " + n.printer.Sprint(number.Decimal(value, number.Scale(domain.MoneyScale)))
}

func displayName(user User) string {
	if name := strings.TrimSpace(user.Username); name != "" {
		return name
	}
	return "there"
}

type messageEventPublisher struct {
	publisher MessagePublisher
}

// NewOrderEventPublisher publishes order events as outbound messages on publisher.
func NewOrderEventPublisher(publisher MessagePublisher) (OrderEventPublisher, error) {
	if publisher == nil {
		return nil, errors.New("order events: publisher is required")
	}
	return &messageEventPublisher{publisher: publisher}, nil
}

func (p *messageEventPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	data := map[string]string{
		"customerId":   event.CustomerID,
		"restaurantId": event.RestaurantID,
		"status":       event.CurrentStatus,
	}
	if event.PreviousStatus != "" {
		data["previousStatus"] = event.PreviousStatus
	}
	if event.ActorID != "" {
		data["actorId"] = event.ActorID
	}
	for key, value := range event.Metadata {
		data["meta."+key] = fmt.Sprint(value)
	}

	_, err := p.publisher.Publish(ctx, OutboundMessage{
		Kind:       event.Type,
		OrderID:    event.OrderID,
		Data:       data,
		OccurredAt: event.OccurredAt,
	})
	return err
}
