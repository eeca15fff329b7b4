package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits the payment callback.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPlaced indicates payment succeeded and the restaurant can accept the order.
	OrderStatusPlaced OrderStatus = "PLACED"
	// OrderStatusConfirmed indicates the restaurant accepted the order.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusPreparing indicates the kitchen is preparing the order.
	OrderStatusPreparing OrderStatus = "PREPARING"
	// OrderStatusReadyForPickup indicates the order is ready to be collected.
	OrderStatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	// OrderStatusOutForDelivery indicates a courier has the order.
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelledByUser indicates the customer cancelled the order.
	OrderStatusCancelledByUser OrderStatus = "CANCELLED_BY_USER"
	// OrderStatusCancelledByRestaurant indicates the restaurant rejected the order.
	OrderStatusCancelledByRestaurant OrderStatus = "CANCELLED_BY_RESTAURANT"
	// OrderStatusFailed indicates the payment failed.
	OrderStatusFailed OrderStatus = "FAILED"
)

var knownOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPlaced,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReadyForPickup,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelledByUser,
	OrderStatusCancelledByRestaurant,
	OrderStatusFailed,
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(knownOrderStatuses))
	copy(out, knownOrderStatuses)
	return out
}

// ParseOrderStatus normalises raw input (case and separators) into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	normalised := strings.ToUpper(strings.TrimSpace(raw))
	normalised = strings.ReplaceAll(normalised, "-", "_")
	for _, status := range knownOrderStatuses {
		if string(status) == normalised {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further lifecycle transitions apply.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelledByUser, OrderStatusCancelledByRestaurant, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// ApplyTransition returns a copy of order moved to status at now. The milestone timestamp for the
// status is recorded only when it is not already set.
func ApplyTransition(order Order, status OrderStatus, now time.Time) Order {
	next := order
	next.Status = status
	next.UpdatedAt = now

	stamp := func(current *time.Time) *time.Time {
		if current != nil {
			return current
		}
		ts := now
		return &ts
	}

	switch status {
	case OrderStatusPlaced:
		next.PlacedAt = stamp(order.PlacedAt)
	case OrderStatusConfirmed:
		next.ConfirmedAt = stamp(order.ConfirmedAt)
	case OrderStatusPreparing:
		next.PreparingAt = stamp(order.PreparingAt)
	case OrderStatusReadyForPickup:
		next.ReadyAt = stamp(order.ReadyAt)
	case OrderStatusOutForDelivery:
		next.OutForDeliveryAt = stamp(order.OutForDeliveryAt)
	case OrderStatusDelivered:
		next.DeliveredAt = stamp(order.DeliveredAt)
	case OrderStatusCancelledByUser, OrderStatusCancelledByRestaurant:
		next.CancelledAt = stamp(order.CancelledAt)
	}
	return next
}
