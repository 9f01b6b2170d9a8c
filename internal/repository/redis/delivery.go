package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/logger"
)

const deliveryChannelPrefix = "tweets:"

// DeliveryChannel реализация канала доставки поверх Redis pub/sub.
// Канал адресуется парой (tenantID, userID); публикация с любой реплики
// достигает подписчика на той реплике, где он подключен.
type DeliveryChannel struct {
	client *redis.Client
	logger logger.Logger

	mu            sync.Mutex
	subscriptions map[string]*redis.PubSub
}

// NewDeliveryChannel создает новый DeliveryChannel
func NewDeliveryChannel(client *redis.Client, log logger.Logger) repository.DeliveryChannel {
	return &DeliveryChannel{
		client:        client,
		logger:        log,
		subscriptions: make(map[string]*redis.PubSub),
	}
}

func deliveryKey(tenantID, userID string) string {
	return deliveryChannelPrefix + tenantID + ":" + userID
}

// Publish отправляет пачку подписчику. Если подписчиков нет, сообщение
// пропадает: доставка best-effort, потеря после разрыва подключения допустима.
func (d *DeliveryChannel) Publish(ctx context.Context, tenantID, userID string, batch domain.AnalyzedBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal analyzed batch: %w", err)
	}
	if err := d.client.Publish(ctx, deliveryKey(tenantID, userID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish analyzed batch: %w", err)
	}
	return nil
}

// Subscribe подписывает на пачки для (tenantID, userID).
// Повторная подписка той же пары заменяет предыдущую.
func (d *DeliveryChannel) Subscribe(ctx context.Context, tenantID, userID string, handler func(domain.AnalyzedBatch)) error {
	key := deliveryKey(tenantID, userID)

	pubsub := d.client.Subscribe(ctx, key)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to delivery channel: %w", err)
	}

	d.mu.Lock()
	if previous, ok := d.subscriptions[key]; ok {
		previous.Close()
	}
	d.subscriptions[key] = pubsub
	d.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			var batch domain.AnalyzedBatch
			if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
				d.logger.Warn("Dropping malformed analyzed batch",
					logger.String("channel", key),
					logger.Error(err))
				continue
			}
			handler(batch)
		}
	}()

	return nil
}

// Unsubscribe завершает подписку пары (tenantID, userID)
func (d *DeliveryChannel) Unsubscribe(tenantID, userID string) error {
	key := deliveryKey(tenantID, userID)

	d.mu.Lock()
	pubsub, ok := d.subscriptions[key]
	if ok {
		delete(d.subscriptions, key)
	}
	d.mu.Unlock()

	if !ok {
		return nil
	}
	if err := pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close delivery subscription: %w", err)
	}
	return nil
}
