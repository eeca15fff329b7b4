package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records ordering counters through an OpenTelemetry meter. Without a configured
// MeterProvider the global no-op provider drops every measurement.
type Metrics struct {
	transitions metric.Int64Counter
	payments    metric.Int64Counter
	carts       metric.Int64Counter
}

// NewMetrics registers the counters on meter. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions"),
		metric.WithUnit("{transition}"))
	if err != nil {
		return nil, fmt.Errorf("observability: register orders.transitions: %w", err)
	}
	payments, err := meter.Int64Counter("payments.callbacks",
		metric.WithDescription("Payment gateway callbacks by outcome"),
		metric.WithUnit("{callback}"))
	if err != nil {
		return nil, fmt.Errorf("observability: register payments.callbacks: %w", err)
	}
	carts, err := meter.Int64Counter("carts.mutations",
		metric.WithDescription("Cart mutations by operation"),
		metric.WithUnit("{mutation}"))
	if err != nil {
		return nil, fmt.Errorf("observability: register carts.mutations: %w", err)
	}
	return &Metrics{transitions: transitions, payments: payments, carts: carts}, nil
}

// RecordOrderTransition counts a persisted status change.
func (m *Metrics) RecordOrderTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordPaymentCallback counts a processed gateway callback.
func (m *Metrics) RecordPaymentCallback(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCartMutation counts a committed cart mutation.
func (m *Metrics) RecordCartMutation(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.carts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
