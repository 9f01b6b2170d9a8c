package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/events"
	"TweetStreamPlatform/internal/repository"
)

// Ключи и каналы, используемые хранилищем. Раскладка повторяет исходную
// схему: presence-ключ тенанта с TTL, наборы пользователей и ключевых слов.
const (
	tenantKeyPrefix   = "tenant:"
	keywordsKeyPrefix = "keywords:"
	eventsChannel     = "tenant-events"
)

// TenantStore реализация репозитория членства для Redis
type TenantStore struct {
	client      *redis.Client
	presenceTTL time.Duration
}

// NewTenantStore создает новый экземпляр TenantStore.
// presenceTTL задает время жизни presence-ключа тенанта; реплики с живыми
// подключениями обязаны продлевать его чаще, чем оно истекает.
func NewTenantStore(client *redis.Client, presenceTTL time.Duration) repository.TenantStore {
	return &TenantStore{client: client, presenceTTL: presenceTTL}
}

func tenantKey(tenantID string) string {
	return tenantKeyPrefix + tenantID
}

func usersKey(tenantID string) string {
	return tenantKeyPrefix + tenantID + ":users"
}

func keywordsKey(tenantID, userID string) string {
	return keywordsKeyPrefix + tenantID + ":" + userID
}

// publish рассылает событие всем репликам через pub/sub
func (s *TenantStore) publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// CreateTenant сохраняет учетные данные тенанта с presence-TTL
func (s *TenantStore) CreateTenant(ctx context.Context, credentials domain.Credentials) (bool, error) {
	data, err := json.Marshal(credentials)
	if err != nil {
		return false, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tenantID := credentials.ID()
	created, err := s.client.SetNX(ctx, tenantKey(tenantID), data, s.presenceTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create tenant: %w", err)
	}

	if created {
		if err := s.publish(ctx, events.Event{Type: events.TenantCreated, TenantID: tenantID}); err != nil {
			return created, err
		}
	}
	return created, nil
}

// GetTenant возвращает учетные данные тенанта
func (s *TenantStore) GetTenant(ctx context.Context, tenantID string) (domain.Credentials, error) {
	data, err := s.client.Get(ctx, tenantKey(tenantID)).Result()
	if err != nil {
		if err == redis.Nil {
			return domain.Credentials{}, fmt.Errorf("tenant not found: %s", tenantID)
		}
		return domain.Credentials{}, fmt.Errorf("failed to get tenant: %w", err)
	}

	var credentials domain.Credentials
	if err := json.Unmarshal([]byte(data), &credentials); err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return credentials, nil
}

// RefreshTenantExpiration продлевает presence-ключ тенанта
func (s *TenantStore) RefreshTenantExpiration(ctx context.Context, tenantID string) error {
	if err := s.client.PExpire(ctx, tenantKey(tenantID), s.presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh tenant expiration: %w", err)
	}
	return nil
}

// RemoveTenant удаляет тенанта и все его наборы
func (s *TenantStore) RemoveTenant(ctx context.Context, tenantID string) error {
	userIDs, err := s.client.SMembers(ctx, usersKey(tenantID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to list tenant users: %w", err)
	}

	keys := []string{tenantKey(tenantID), usersKey(tenantID)}
	for _, userID := range userIDs {
		keys = append(keys, keywordsKey(tenantID, userID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to remove tenant: %w", err)
	}

	return s.publish(ctx, events.Event{Type: events.TenantRemoved, TenantID: tenantID})
}

// AddUser регистрирует пользователя тенанта
func (s *TenantStore) AddUser(ctx context.Context, tenantID, userID string) error {
	added, err := s.client.SAdd(ctx, usersKey(tenantID), userID).Result()
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	if added == 0 {
		return nil
	}
	return s.publish(ctx, events.Event{Type: events.UserAdded, TenantID: tenantID, UserID: userID})
}

// RemoveUser удаляет пользователя и его ключевые слова.
// Возвращает true, если у тенанта не осталось пользователей.
func (s *TenantStore) RemoveUser(ctx context.Context, tenantID, userID string) (bool, error) {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, usersKey(tenantID), userID)
	pipe.Del(ctx, keywordsKey(tenantID, userID))
	remaining := pipe.SCard(ctx, usersKey(tenantID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to remove user: %w", err)
	}

	if err := s.publish(ctx, events.Event{Type: events.UserRemoved, TenantID: tenantID, UserID: userID}); err != nil {
		return false, err
	}
	return remaining.Val() == 0, nil
}

// AddKeyword добавляет ключевое слово пользователю
func (s *TenantStore) AddKeyword(ctx context.Context, tenantID, userID, keyword string) error {
	added, err := s.client.SAdd(ctx, keywordsKey(tenantID, userID), keyword).Result()
	if err != nil {
		return fmt.Errorf("failed to add keyword: %w", err)
	}
	if added == 0 {
		return nil
	}
	return s.publish(ctx, events.Event{
		Type:     events.KeywordAdded,
		TenantID: tenantID,
		UserID:   userID,
		Keyword:  keyword,
	})
}

// RemoveKeyword удаляет ключевое слово пользователя
func (s *TenantStore) RemoveKeyword(ctx context.Context, tenantID, userID, keyword string) error {
	removed, err := s.client.SRem(ctx, keywordsKey(tenantID, userID), keyword).Result()
	if err != nil {
		return fmt.Errorf("failed to remove keyword: %w", err)
	}
	if removed == 0 {
		return nil
	}
	return s.publish(ctx, events.Event{
		Type:     events.KeywordRemoved,
		TenantID: tenantID,
		UserID:   userID,
		Keyword:  keyword,
	})
}

// KeywordsByTenant возвращает объединение ключевых слов тенанта
func (s *TenantStore) KeywordsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	userIDs, err := s.client.SMembers(ctx, usersKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant users: %w", err)
	}
	if len(userIDs) == 0 {
		return []string{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = keywordsKey(tenantID, userID)
	}
	keywords, err := s.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to compute keyword union: %w", err)
	}
	return keywords, nil
}

// UsersByTenant возвращает пользователей тенанта вместе с их ключевыми словами
func (s *TenantStore) UsersByTenant(ctx context.Context, tenantID string) (map[string][]string, error) {
	userIDs, err := s.client.SMembers(ctx, usersKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant users: %w", err)
	}

	users := make(map[string][]string, len(userIDs))
	for _, userID := range userIDs {
		keywords, err := s.client.SMembers(ctx, keywordsKey(tenantID, userID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list user keywords: %w", err)
		}
		users[userID] = keywords
	}
	return users, nil
}

// HasUsers проверяет, остались ли у тенанта пользователи
func (s *TenantStore) HasUsers(ctx context.Context, tenantID string) (bool, error) {
	count, err := s.client.SCard(ctx, usersKey(tenantID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count tenant users: %w", err)
	}
	return count > 0, nil
}

// TenantIDs возвращает идентификаторы всех тенантов с живым presence-ключом.
// Обход через SCAN: KEYS блокирует Redis на все пространство ключей, а
// вызывается это только на старте реплики, где задержка не критична.
func (s *TenantStore) TenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, tenantKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant keys: %w", err)
		}
		for _, key := range keys {
			id := strings.TrimPrefix(key, tenantKeyPrefix)
			// Пропускаем служебные ключи вида tenant:<id>:users
			if strings.Contains(id, ":") {
				continue
			}
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}
