package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// HandlerFunc processes one message body. Returning an error NACKs the
// message; errors wrapping ErrRetry requeue it, anything else dead-letters it.
type HandlerFunc func(ctx context.Context, body []byte) error

// ErrRetry marks a failure that should succeed if the message is redelivered.
var ErrRetry = errors.New("retry later")

func DialRabbit(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// Consumer delivers messages bound to one routing key to a handler.
type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger zerolog.Logger
	done   chan struct{}
}

// StartConsumer declares a durable queue for routingKey on the events
// exchange, with rejected messages routed to the dead-letter exchange, and
// consumes it until ctx is cancelled.
func StartConsumer(ctx context.Context, conn *amqp.Connection, routingKey string, handler HandlerFunc, logger zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	if err := declareDeadLetterExchange(ch); err != nil {
		return nil, fmt.Errorf("declare dead letter exchange: %w", err)
	}

	queue := stockEngineQueueName(routingKey)
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, routingKey, DeadLetterExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", dlq, err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{"x-dead-letter-exchange": DeadLetterExchange},
	)
	if err != nil {
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, EventsExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", queue, err)
	}

	if err := ch.Qos(16, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		stockEngineServiceName, // consumer tag
		false,                  // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	c := &Consumer{ch: ch, queue: queue, logger: logger.With().Str("queue", queue).Logger(), done: make(chan struct{})}
	go c.loop(ctx, msgs, handler)
	return c, nil
}

func (c *Consumer) loop(ctx context.Context, msgs <-chan amqp.Delivery, handler HandlerFunc) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("stopping consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn().Msg("messages channel closed")
				return
			}
			c.handle(ctx, msg, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery, handler HandlerFunc) {
	err := handler(ctx, msg.Body)
	if err == nil {
		_ = msg.Ack(false)
		return
	}
	requeue := errors.Is(err, ErrRetry) && !msg.Redelivered
	c.logger.Error().Err(err).Bool("requeue", requeue).Str("message_id", msg.MessageId).Msg("handle message")
	_ = msg.Nack(false, requeue)
}

// Close stops delivery and waits for the loop to exit.
func (c *Consumer) Close() error {
	err := c.ch.Close()
	<-c.done
	return err
}
