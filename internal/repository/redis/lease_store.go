package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"TweetStreamPlatform/internal/events"
	"TweetStreamPlatform/internal/repository"
)

const battleKeyPrefix = "battle:"

// Скрипты выполняются атомарно на стороне Redis: продление и снятие аренды
// проверяют владельца и меняют ключ за один шаг, исключая гонку между
// сравнением и записью.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaseStore реализация протокола аренды для Redis
type LeaseStore struct {
	client *redis.Client
}

// NewLeaseStore создает новый экземпляр LeaseStore
func NewLeaseStore(client *redis.Client) repository.LeaseStore {
	return &LeaseStore{client: client}
}

func battleKey(tenantID string) string {
	return battleKeyPrefix + tenantID
}

// Acquire пытается захватить аренду через SET NX PX.
// Redis принимает ровно одну из конкурирующих попыток; остальные видят false.
func (s *LeaseStore) Acquire(ctx context.Context, tenantID, ownerID string, ttl time.Duration) (bool, error) {
	won, err := s.client.SetNX(ctx, battleKey(tenantID), ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return won, nil
}

// Refresh продлевает аренду, только если она все еще принадлежит ownerID
func (s *LeaseStore) Refresh(ctx context.Context, tenantID, ownerID string, ttl time.Duration) (bool, error) {
	extended, err := refreshScript.Run(ctx, s.client,
		[]string{battleKey(tenantID)},
		ownerID, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lease: %w", err)
	}
	return extended == 1, nil
}

// Release снимает аренду, только если она принадлежит ownerID.
// DEL ключа не порождает expired-уведомления, поэтому о явном снятии
// остальные реплики узнают из типизированного события: без него тенант
// остался бы без владельца до истечения presence-ключа.
func (s *LeaseStore) Release(ctx context.Context, tenantID, ownerID string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, s.client,
		[]string{battleKey(tenantID)},
		ownerID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lease: %w", err)
	}
	if deleted != 1 {
		return false, nil
	}

	payload, err := json.Marshal(events.Event{
		Type:     events.LeaseReleased,
		TenantID: tenantID,
		OwnerID:  ownerID,
	})
	if err != nil {
		return true, fmt.Errorf("failed to marshal release event: %w", err)
	}
	if err := s.client.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return true, fmt.Errorf("failed to publish release event: %w", err)
	}
	return true, nil
}

// Owner возвращает текущего владельца аренды или пустую строку
func (s *LeaseStore) Owner(ctx context.Context, tenantID string) (string, error) {
	owner, err := s.client.Get(ctx, battleKey(tenantID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to get lease owner: %w", err)
	}
	return owner, nil
}
