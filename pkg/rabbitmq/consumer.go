package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer представляет консьюмера сообщений
type Consumer struct {
	conn     *Connection
	config   *Config
	handlers map[string]MessageHandler
}

// MessageHandler функция для обработки сообщения
type MessageHandler func(context.Context, amqp091.Delivery) error

// NewConsumer создает нового консьюмера
func NewConsumer(conn *Connection, config *Config) *Consumer {
	return &Consumer{
		conn:     conn,
		config:   config,
		handlers: make(map[string]MessageHandler),
	}
}

// RegisterHandler регистрирует обработчик для конкретной очереди
func (c *Consumer) RegisterHandler(queueName string, handler MessageHandler) {
	c.handlers[queueName] = handler
}

// Start запускает консьюмера для всех зарегистрированных очередей.
// Блокируется до отмены контекста.
func (c *Consumer) Start(ctx context.Context) error {
	for queueName, handler := range c.handlers {
		go func(queue string, h MessageHandler) {
			// Цикл с переподключением при ошибках канала
			for {
				select {
				case <-ctx.Done():
					return
				default:
					if err := c.consume(ctx, queue, h); err != nil && ctx.Err() == nil {
						time.Sleep(c.config.ReconnectInterval)
					}
				}
			}
		}(queueName, handler)
	}

	<-ctx.Done()
	return ctx.Err()
}

// consume обрабатывает сообщения из очереди
func (c *Consumer) consume(ctx context.Context, queueName string, handler MessageHandler) error {
	if c.conn.Channel() == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}

	// Объявляем очередь
	_, err := c.conn.Channel().QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	// Привязываем очередь к exchange, если задан
	if c.config.Exchange != "" {
		err = c.conn.Channel().QueueBind(
			queueName,
			c.config.RoutingKey,
			c.config.Exchange,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue %s to exchange %s: %w", queueName, c.config.Exchange, err)
		}
	}

	msgs, err := c.conn.Channel().Consume(
		queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for msg := range msgs {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := handler(msgCtx, msg)
		cancel()

		// Отправляем ack/nack в зависимости от результата
		if err == nil {
			msg.Ack(false)
			continue
		}

		// Повторяем до трех раз, затем отбрасываем
		retryCount := 0
		if xDeath, ok := msg.Headers["x-death"]; ok {
			if deaths, ok := xDeath.([]interface{}); ok {
				retryCount = len(deaths)
			}
		}
		if retryCount < 3 {
			msg.Nack(false, true)
		} else {
			msg.Nack(false, false)
		}
	}

	return fmt.Errorf("delivery channel closed for queue %s", queueName)
}
