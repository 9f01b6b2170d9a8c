package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"TweetStreamPlatform/internal/events"
	"TweetStreamPlatform/pkg/logger"
)

// EventStream подписывается на события членства (pub/sub канал) и на
// keyspace-уведомления об истечении ключей (presence тенанта, аренда) и
// транслирует их в локальный events.Bus реплики.
type EventStream struct {
	client *redis.Client
	bus    *events.Bus
	logger logger.Logger
	db     int
}

// NewEventStream создает новый EventStream. db должен совпадать с номером
// базы клиента: от него зависит имя канала keyspace-уведомлений.
func NewEventStream(client *redis.Client, bus *events.Bus, db int, log logger.Logger) *EventStream {
	return &EventStream{
		client: client,
		bus:    bus,
		logger: log,
		db:     db,
	}
}

// Run запускает подписку и блокируется до отмены контекста
func (s *EventStream) Run(ctx context.Context) error {
	expiredChannel := fmt.Sprintf("__keyevent@%d__:expired", s.db)

	pubsub := s.client.Subscribe(ctx, eventsChannel, expiredChannel)
	defer pubsub.Close()

	// Дожидаемся подтверждения подписки, чтобы не терять ранние события
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("event subscription closed")
			}
			if msg.Channel == expiredChannel {
				s.handleExpiredKey(msg.Payload)
				continue
			}
			s.handleEvent(msg.Payload)
		}
	}
}

// handleEvent разбирает событие членства и рассылает его слушателям
func (s *EventStream) handleEvent(payload string) {
	var event events.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warn("Dropping malformed event",
			logger.String("payload", payload),
			logger.Error(err))
		return
	}
	s.bus.Dispatch(event)
}

// handleExpiredKey преобразует истечение ключа в типизированное событие.
// Истекший battle-ключ означает, что владелец перестал продлевать аренду;
// истекший presence-ключ - что ни одна реплика больше не держит тенанта.
func (s *EventStream) handleExpiredKey(key string) {
	switch {
	case strings.HasPrefix(key, battleKeyPrefix):
		tenantID := strings.TrimPrefix(key, battleKeyPrefix)
		s.bus.Dispatch(events.Event{Type: events.LeaseExpired, TenantID: tenantID})
	case strings.HasPrefix(key, tenantKeyPrefix):
		tenantID := strings.TrimPrefix(key, tenantKeyPrefix)
		// Служебные ключи вида tenant:<id>:users не имеют TTL и сюда не попадают,
		// но отфильтровываем их на случай ручного вмешательства
		if strings.Contains(tenantID, ":") {
			return
		}
		s.bus.Dispatch(events.Event{Type: events.PresenceExpired, TenantID: tenantID})
	}
}
