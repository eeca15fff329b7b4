package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/foodcourt/api/internal/services"
)

// PubSubPublisher sends order notifications to a Pub/Sub topic. Messages of one order share an
// ordering key, so subscribers with ordering enabled see an order's events in sequence.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher enables message ordering on topic and wraps it.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}, nil
}

// Publish sends msg and waits for the server-assigned id. The JSON body carries the full message;
// routing fields are copied into attributes so subscriptions can filter on them.
func (p *PubSubPublisher) Publish(ctx context.Context, msg services.OutboundMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("pubsub publisher: encode %s: %w", msg.Kind, err)
	}

	orderingKey := strings.TrimSpace(msg.OrderID)
	id, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  routingAttributes(msg),
		OrderingKey: orderingKey,
	}).Get(ctx)
	if err != nil {
		if orderingKey != "" {
			// A failed publish pauses its ordering key until resumed.
			p.topic.ResumePublish(orderingKey)
		}
		return "", fmt.Errorf("pubsub publisher: publish %s for order %s: %w", msg.Kind, msg.OrderID, err)
	}
	return id, nil
}

// Close flushes buffered messages.
func (p *PubSubPublisher) Close() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func routingAttributes(msg services.OutboundMessage) map[string]string {
	attrs := map[string]string{}
	for key, value := range map[string]string{
		"kind":         msg.Kind,
		"orderId":      msg.OrderID,
		"restaurantId": msg.Data["restaurantId"],
		"status":       msg.Data["status"],
	} {
		if value = strings.TrimSpace(value); value != "" {
			attrs[key] = value
		}
	}
	return attrs
}
