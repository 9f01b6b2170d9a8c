package recorder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/logger"
	"TweetStreamPlatform/pkg/rabbitmq"
)

// Consumer вычитывает конверты из очереди записи и дописывает их
// содержимое в хранилище
type Consumer struct {
	tweets repository.TweetRepository
	logger logger.Logger
}

// NewConsumer создает нового потребителя очереди записи
func NewConsumer(tweets repository.TweetRepository, log logger.Logger) *Consumer {
	return &Consumer{
		tweets: tweets,
		logger: log,
	}
}

// Register привязывает обработчик к очереди
func (c *Consumer) Register(consumer *rabbitmq.Consumer, queueName string) {
	consumer.RegisterHandler(queueName, c.handle)
}

// handle обрабатывает одно сообщение очереди. Ошибка приводит к nack
// и повтору на стороне брокера.
func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) error {
	var envelope recordedBatch
	if err := json.Unmarshal(msg.Body, &envelope); err != nil {
		// Нечитаемое сообщение не станет читаемым при повторе
		c.logger.Error("failed to decode recorded batch",
			logger.Error(err),
		)
		return nil
	}

	if envelope.RecordID == "" || envelope.TenantID == "" {
		c.logger.Error("recorded batch without record or tenant id")
		return nil
	}

	err := c.tweets.Append(ctx, envelope.TenantID, envelope.RecordID, envelope.Batch)
	if err != nil {
		return fmt.Errorf("failed to append recorded batch: %w", err)
	}

	c.logger.Debug("recorded batch stored",
		logger.String("record_id", envelope.RecordID),
		logger.String("tenant_id", envelope.TenantID),
		logger.String("keyword", envelope.Batch.Keyword),
		logger.Int("tweets", len(envelope.Batch.AnalyzedTweets)),
	)
	return nil
}
