package repository

import (
	"context"
	"time"

	"TweetStreamPlatform/internal/domain"
)

// TenantStore представляет общее для всего флота хранилище членства:
// тенанты, их пользователи и ключевые слова. Каждая мутация дополнительно
// публикует событие, по которому остальные реплики обновляют свои локальные
// реестры (eventual consistency, см. events.Bus).
type TenantStore interface {
	// CreateTenant сохраняет учетные данные тенанта с presence-TTL.
	// Возвращает true, если тенант был создан впервые.
	CreateTenant(ctx context.Context, credentials domain.Credentials) (bool, error)
	// GetTenant возвращает учетные данные тенанта
	GetTenant(ctx context.Context, tenantID string) (domain.Credentials, error)
	// RefreshTenantExpiration продлевает presence-ключ тенанта.
	// Вызывается каждой репликой, держащей живое подключение этого тенанта.
	RefreshTenantExpiration(ctx context.Context, tenantID string) error
	// RemoveTenant удаляет тенанта и все его наборы
	RemoveTenant(ctx context.Context, tenantID string) error

	// AddUser регистрирует пользователя тенанта
	AddUser(ctx context.Context, tenantID, userID string) error
	// RemoveUser удаляет пользователя и его ключевые слова.
	// Возвращает true, если после удаления у тенанта не осталось пользователей.
	RemoveUser(ctx context.Context, tenantID, userID string) (bool, error)
	// AddKeyword добавляет ключевое слово пользователю
	AddKeyword(ctx context.Context, tenantID, userID, keyword string) error
	// RemoveKeyword удаляет ключевое слово пользователя
	RemoveKeyword(ctx context.Context, tenantID, userID, keyword string) error

	// KeywordsByTenant возвращает объединение ключевых слов тенанта
	KeywordsByTenant(ctx context.Context, tenantID string) ([]string, error)
	// UsersByTenant возвращает пользователей тенанта вместе с их ключевыми словами
	UsersByTenant(ctx context.Context, tenantID string) (map[string][]string, error)
	// HasUsers проверяет, остались ли у тенанта пользователи
	HasUsers(ctx context.Context, tenantID string) (bool, error)
	// TenantIDs возвращает идентификаторы всех тенантов с живым presence-ключом
	TenantIDs(ctx context.Context) ([]string, error)
}

// LeaseStore представляет протокол аренды ("битвы") за фид тенанта.
// Все операции атомарны на стороне хранилища; ровно одна из конкурирующих
// реплик выигрывает Acquire.
type LeaseStore interface {
	// Acquire пытается захватить аренду, если ее нет или она истекла.
	// Возвращает true при победе. Проигрыш не является ошибкой.
	Acquire(ctx context.Context, tenantID, ownerID string, ttl time.Duration) (bool, error)
	// Refresh продлевает аренду, только если она все еще принадлежит ownerID.
	// Возвращает false, если аренда потеряна.
	Refresh(ctx context.Context, tenantID, ownerID string, ttl time.Duration) (bool, error)
	// Release снимает аренду, только если она принадлежит ownerID.
	// Явное снятие позволяет другой реплике захватить тенанта немедленно,
	// не дожидаясь истечения TTL.
	Release(ctx context.Context, tenantID, ownerID string) (bool, error)
	// Owner возвращает текущего владельца аренды или пустую строку
	Owner(ctx context.Context, tenantID string) (string, error)
}

// DeliveryChannel представляет канал доставки проанализированных пачек,
// адресуемый парой (tenantID, userID) и работающий поверх всего флота:
// публикация с любой реплики достигает подписчика, где бы он ни был подключен.
type DeliveryChannel interface {
	// Publish отправляет пачку подписчику. Отсутствие подписчика не ошибка.
	Publish(ctx context.Context, tenantID, userID string, batch domain.AnalyzedBatch) error
	// Subscribe подписывает на пачки для (tenantID, userID). Обработчик
	// вызывается последовательно для каждого сообщения.
	Subscribe(ctx context.Context, tenantID, userID string, handler func(domain.AnalyzedBatch)) error
	// Unsubscribe завершает подписку; дальнейшие публикации отбрасываются
	Unsubscribe(tenantID, userID string) error
}

// RecordRepository представляет хранилище запланированных записей
type RecordRepository interface {
	Insert(ctx context.Context, record *domain.Record) error
	GetByID(ctx context.Context, recordID string) (*domain.Record, error)
	GetByTenant(ctx context.Context, tenantID string) ([]*domain.Record, error)
	// GetPending возвращает записи, у которых конец еще впереди
	GetPending(ctx context.Context, now time.Time) ([]*domain.Record, error)
	// GetActive возвращает записи тенанта, активные в момент now
	GetActive(ctx context.Context, tenantID string, now time.Time) ([]*domain.Record, error)
	UpdateStatus(ctx context.Context, recordID string, status domain.RecordStatus) error
}

// TweetRepository представляет хранилище проанализированных пачек по записям
type TweetRepository interface {
	// Append дописывает проанализированные сообщения к записи по ключевому слову
	Append(ctx context.Context, tenantID, recordID string, batch domain.AnalyzedBatch) error
	// QueryByRecord возвращает накопленные сообщения записи, сгруппированные по ключевому слову
	QueryByRecord(ctx context.Context, tenantID, recordID string) (map[string][]domain.AnalyzedTweet, error)
}
