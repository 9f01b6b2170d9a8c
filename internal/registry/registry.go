package registry

import (
	"sort"
	"sync"

	"TweetStreamPlatform/internal/domain"
)

// Registry представляет локальный реестр тенантов, их пользователей и ключевых слов.
// Чисто in-memory структура без побочных эффектов; создается явно и внедряется
// в компоненты, которым нужна, чтобы в тестах можно было поднимать изолированные
// экземпляры.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*tenantEntry
}

// tenantEntry хранит учетные данные тенанта и наборы ключевых слов его пользователей
type tenantEntry struct {
	credentials domain.Credentials
	users       map[string]map[string]struct{}
}

// NewRegistry создает новый пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		tenants: make(map[string]*tenantEntry),
	}
}

// AddTenant регистрирует тенанта по его учетным данным. Повторная регистрация
// не затирает уже накопленных пользователей. Возвращает идентификатор тенанта.
func (r *Registry) AddTenant(credentials domain.Credentials) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenantID := credentials.ID()
	entry, ok := r.tenants[tenantID]
	if !ok {
		entry = &tenantEntry{
			credentials: credentials,
			users:       make(map[string]map[string]struct{}),
		}
		r.tenants[tenantID] = entry
		return tenantID
	}

	// Тенант мог быть создан как оболочка через AddUser: дозаполняем учетные данные
	if entry.credentials.IsZero() {
		entry.credentials = credentials
	}
	return tenantID
}

// AddUser добавляет пользователя с пустым набором ключевых слов. Идемпотентна.
// Если тенант неизвестен, создается оболочка без учетных данных - реестр
// никогда не выдумывает credential bundle.
func (r *Registry) AddUser(tenantID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.ensureTenant(tenantID)
	if _, ok := entry.users[userID]; !ok {
		entry.users[userID] = make(map[string]struct{})
	}
}

// AddKeyword добавляет ключевое слово пользователю. Тенант и пользователь
// создаются неявно, если их еще нет. Идемпотентна.
func (r *Registry) AddKeyword(tenantID, userID, keyword string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.ensureTenant(tenantID)
	keywords, ok := entry.users[userID]
	if !ok {
		keywords = make(map[string]struct{})
		entry.users[userID] = keywords
	}
	keywords[keyword] = struct{}{}
}

// RemoveKeyword удаляет ключевое слово пользователя. Отсутствие тенанта,
// пользователя или слова - no-op.
func (r *Registry) RemoveKeyword(tenantID, userID, keyword string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tenants[tenantID]
	if !ok {
		return
	}
	if keywords, ok := entry.users[userID]; ok {
		delete(keywords, keyword)
	}
}

// RemoveUser удаляет пользователя вместе с его ключевыми словами.
// Тенант при этом не удаляется, даже если пользователей не осталось.
func (r *Registry) RemoveUser(tenantID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.tenants[tenantID]; ok {
		delete(entry.users, userID)
	}
}

// RemoveTenant удаляет тенанта целиком
func (r *Registry) RemoveTenant(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tenants, tenantID)
}

// GetTenant возвращает учетные данные тенанта
func (r *Registry) GetTenant(tenantID string) (domain.Credentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tenants[tenantID]
	if !ok {
		return domain.Credentials{}, false
	}
	return entry.credentials, true
}

// KeywordUnion возвращает объединение ключевых слов всех пользователей тенанта.
// Для неизвестного тенанта возвращается пустой срез. Результат отсортирован,
// чтобы сравнение фильтров было детерминированным.
func (r *Registry) KeywordUnion(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tenants[tenantID]
	if !ok {
		return []string{}
	}

	union := make(map[string]struct{})
	for _, keywords := range entry.users {
		for keyword := range keywords {
			union[keyword] = struct{}{}
		}
	}
	return sortedKeys(union)
}

// KeywordsByUser возвращает ключевые слова одного пользователя
func (r *Registry) KeywordsByUser(tenantID, userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tenants[tenantID]
	if !ok {
		return []string{}
	}
	keywords, ok := entry.users[userID]
	if !ok {
		return []string{}
	}
	return sortedKeys(keywords)
}

// HasUsers проверяет, остались ли у тенанта зарегистрированные пользователи
func (r *Registry) HasUsers(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tenants[tenantID]
	return ok && len(entry.users) > 0
}

// TenantIDs возвращает идентификаторы всех известных тенантов
func (r *Registry) TenantIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tenants))
	for tenantID := range r.tenants {
		ids = append(ids, tenantID)
	}
	sort.Strings(ids)
	return ids
}

// UserIDs возвращает идентификаторы пользователей тенанта
func (r *Registry) UserIDs(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tenants[tenantID]
	if !ok {
		return []string{}
	}
	ids := make([]string, 0, len(entry.users))
	for userID := range entry.users {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// UserIDsByKeyword возвращает пользователей тенанта, отслеживающих указанное
// ключевое слово. Управляет адресацией fan-out: событие доставляется ровно
// этим пользователям.
func (r *Registry) UserIDsByKeyword(tenantID, keyword string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tenants[tenantID]
	if !ok {
		return []string{}
	}
	ids := make([]string, 0)
	for userID, keywords := range entry.users {
		if _, ok := keywords[keyword]; ok {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clear удаляет всех тенантов. Используется в тестах.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tenants = make(map[string]*tenantEntry)
}

// ensureTenant возвращает запись тенанта, создавая оболочку при необходимости.
// Вызывается под блокировкой записи.
func (r *Registry) ensureTenant(tenantID string) *tenantEntry {
	entry, ok := r.tenants[tenantID]
	if !ok {
		entry = &tenantEntry{
			users: make(map[string]map[string]struct{}),
		}
		r.tenants[tenantID] = entry
	}
	return entry
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
