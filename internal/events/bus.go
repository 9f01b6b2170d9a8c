package events

import (
	"sync"
)

// Type представляет тип события изменения членства или владения
type Type string

// Типы событий, рассылаемых по всему флоту
const (
	TenantCreated   Type = "tenant_created"
	TenantRemoved   Type = "tenant_removed"
	UserAdded       Type = "user_added"
	UserRemoved     Type = "user_removed"
	KeywordAdded    Type = "keyword_added"
	KeywordRemoved  Type = "keyword_removed"
	LeaseExpired    Type = "lease_expired"
	LeaseReleased   Type = "lease_released"
	PresenceExpired Type = "presence_expired"
)

// Event представляет одно событие. UserID, Keyword и OwnerID заполняются
// только для событий соответствующих типов.
type Event struct {
	Type     Type   `json:"type"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	Keyword  string `json:"keyword,omitempty"`
	OwnerID  string `json:"owner_id,omitempty"`
}

// Listener представляет набор типизированных обработчиков. Незаполненные
// обработчики пропускаются.
type Listener struct {
	OnTenantCreated   func(tenantID string)
	OnTenantRemoved   func(tenantID string)
	OnUserAdded       func(tenantID, userID string)
	OnUserRemoved     func(tenantID, userID string)
	OnKeywordAdded    func(tenantID, userID, keyword string)
	OnKeywordRemoved  func(tenantID, userID, keyword string)
	OnLeaseExpired    func(tenantID string)
	OnLeaseReleased   func(tenantID, ownerID string)
	OnPresenceExpired func(tenantID string)
}

// Bus представляет локальный диспетчер событий. Источник событий (Redis
// pub/sub, in-memory фейк в тестах) вызывает Dispatch, слушатели регистрируются
// через Add и снимаются возвращенной функцией.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]*Listener
}

// NewBus создает новый пустой диспетчер
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[int]*Listener),
	}
}

// Add регистрирует слушателя и возвращает функцию отписки
func (b *Bus) Add(listener *Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = listener

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Dispatch доставляет событие всем зарегистрированным слушателям.
// Обработчики вызываются синхронно в горутине источника.
func (b *Bus) Dispatch(event Event) {
	b.mu.RLock()
	listeners := make([]*Listener, 0, len(b.listeners))
	for _, listener := range b.listeners {
		listeners = append(listeners, listener)
	}
	b.mu.RUnlock()

	for _, listener := range listeners {
		switch event.Type {
		case TenantCreated:
			if listener.OnTenantCreated != nil {
				listener.OnTenantCreated(event.TenantID)
			}
		case TenantRemoved:
			if listener.OnTenantRemoved != nil {
				listener.OnTenantRemoved(event.TenantID)
			}
		case UserAdded:
			if listener.OnUserAdded != nil {
				listener.OnUserAdded(event.TenantID, event.UserID)
			}
		case UserRemoved:
			if listener.OnUserRemoved != nil {
				listener.OnUserRemoved(event.TenantID, event.UserID)
			}
		case KeywordAdded:
			if listener.OnKeywordAdded != nil {
				listener.OnKeywordAdded(event.TenantID, event.UserID, event.Keyword)
			}
		case KeywordRemoved:
			if listener.OnKeywordRemoved != nil {
				listener.OnKeywordRemoved(event.TenantID, event.UserID, event.Keyword)
			}
		case LeaseExpired:
			if listener.OnLeaseExpired != nil {
				listener.OnLeaseExpired(event.TenantID)
			}
		case LeaseReleased:
			if listener.OnLeaseReleased != nil {
				listener.OnLeaseReleased(event.TenantID, event.OwnerID)
			}
		case PresenceExpired:
			if listener.OnPresenceExpired != nil {
				listener.OnPresenceExpired(event.TenantID)
			}
		}
	}
}
