package jobs

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/foodcourt/api/internal/platform/observability"
	"github.com/foodcourt/api/internal/platform/requestctx"
	"github.com/foodcourt/api/internal/services"
)

// LogPublisher writes outbound messages to the structured log. It backs local development and
// the memory deployment profile.
type LogPublisher struct {
	fallback *zap.Logger
}

// NewLogPublisher returns a publisher that logs through the request logger, or fallback when
// the context carries none.
func NewLogPublisher(fallback *zap.Logger) *LogPublisher {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return &LogPublisher{fallback: fallback}
}

// Publish logs msg and returns a locally generated id.
func (p *LogPublisher) Publish(ctx context.Context, msg services.OutboundMessage) (string, error) {
	id := ulid.Make().String()
	logger := p.fallback
	if requestctx.HasLogger(ctx) {
		logger = observability.FromContext(ctx)
	}
	logger.Info("message.published",
		zap.String("messageId", id),
		zap.String("kind", msg.Kind),
		zap.String("orderId", msg.OrderID),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.Any("data", msg.Data),
		zap.Time("occurredAt", msg.OccurredAt),
	)
	return id, nil
}
