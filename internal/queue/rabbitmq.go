package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"voxscribe/pkg/logger"
	"voxscribe/pkg/resilience"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	QueueNameJobEvents = "job_events"
	ExchangeName       = "voxscribe"
)

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

// NewRabbitMQ connects to url, retrying with exponential backoff, and declares
// the exchange and the job events queue.
func NewRabbitMQ(ctx context.Context, url string, retry *resilience.RetryConfig) (*RabbitMQ, error) {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}

	var conn *amqp.Connection
	attempt := 0
	err := resilience.RetryWithExponentialBackoff(ctx, retry, func() error {
		attempt++
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			logger.Warn("RabbitMQ connection attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("RabbitMQ connected successfully")

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		ExchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		QueueNameJobEvents, // name
		true,               // durable
		false,              // delete when unused
		false,              // exclusive
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		QueueNameJobEvents, // queue name
		QueueNameJobEvents, // routing key
		ExchangeName,       // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Publish sends body to the exchange under routingKey.
func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r.mu.Lock()
	err := r.channel.PublishWithContext(
		ctx,
		ExchangeName, // exchange
		routingKey,   // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Debug("Message published",
		zap.String("routing_key", routingKey),
		zap.Int("size", len(body)))

	return nil
}

// PublishEvent publishes a JobEvent to the job events queue
func (r *RabbitMQ) PublishEvent(ctx context.Context, event *JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.Publish(ctx, QueueNameJobEvents, body)
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
