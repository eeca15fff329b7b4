package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/foodcourt/api/internal/services"
)

const amqpPublishTimeout = 10 * time.Second

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes outbound messages to a RabbitMQ topic exchange keyed by message kind.
type AMQPPublisher struct {
	channel  amqpChannel
	conn     *amqp.Connection
	exchange string
	clock    func() time.Time
	newID    func() string
}

// DialAMQP connects to url, declares a durable topic exchange and returns a publisher bound to it.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("amqp publisher: exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp publisher: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp publisher: declare exchange %s: %w", exchange, err)
	}
	publisher, err := newAMQPPublisher(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string) (*AMQPPublisher, error) {
	if ch == nil {
		return nil, errors.New("amqp publisher: channel is required")
	}
	return &AMQPPublisher{
		channel:  ch,
		exchange: exchange,
		clock:    time.Now,
		newID: func() string {
			return ulid.Make().String()
		},
	}, nil
}

// Publish sends msg as a persistent JSON message routed by its kind.
func (p *AMQPPublisher) Publish(ctx context.Context, msg services.OutboundMessage) (string, error) {
	if p == nil || p.channel == nil {
		return "", errors.New("amqp publisher: not initialised")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", msg.Kind, err)
	}

	id := p.newID()
	headers := amqp.Table{}
	for key, value := range routingAttributes(msg) {
		headers[key] = value
	}

	ctx, cancel := context.WithTimeout(ctx, amqpPublishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchange, msg.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    p.clock().UTC(),
		Type:         msg.Kind,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("publish %s message: %w", msg.Kind, err)
	}
	return id, nil
}

// Close releases the channel and, when dialled, the connection.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
