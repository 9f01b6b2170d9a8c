package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Producer представляет продюсера сообщений
type Producer struct {
	conn     *Connection
	config   *Config
	confirms chan amqp091.Confirmation
}

// NewProducer создает нового продюсера. Канал переводится в confirm mode,
// чтобы публикация возвращала ошибку при отказе брокера.
func NewProducer(conn *Connection, config *Config) (*Producer, error) {
	if conn.Channel() == nil {
		return nil, fmt.Errorf("rabbitmq channel is not initialized")
	}
	if err := conn.Channel().Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable confirm mode: %w", err)
	}
	confirms := conn.Channel().NotifyPublish(make(chan amqp091.Confirmation, 1))
	return &Producer{conn: conn, config: config, confirms: confirms}, nil
}

// Publish публикует сообщение в RabbitMQ и ждет подтверждения брокера
func (p *Producer) Publish(ctx context.Context, body []byte) error {
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	if err := p.conn.Channel().PublishWithContext(ctx,
		p.config.Exchange,
		p.config.RoutingKey,
		false, // mandatory
		false, // immediate
		msg,
	); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	// Ожидаем подтверждение
	select {
	case confirm := <-p.confirms:
		if !confirm.Ack {
			return fmt.Errorf("message rejected by broker")
		}
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for confirmation: %w", ctx.Err())
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout waiting for confirmation")
	}

	return nil
}

// PublishWithRetry публикует сообщение с retry логикой
func (p *Producer) PublishWithRetry(ctx context.Context, body []byte, maxRetries int, retryInterval time.Duration) error {
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		err := p.Publish(ctx, body)
		if err == nil {
			return nil
		}

		lastErr = err
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}

	return fmt.Errorf("failed to publish message after %d retries: %w", maxRetries, lastErr)
}
