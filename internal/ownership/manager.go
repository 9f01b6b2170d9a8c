package ownership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/events"
	"TweetStreamPlatform/internal/logging"
	"TweetStreamPlatform/internal/metrics"
	"TweetStreamPlatform/internal/registry"
	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/config"
)

// StreamController - часть контроллера стримов, нужная менеджеру владения
type StreamController interface {
	StartStream(ctx context.Context, credentials domain.Credentials, filter []string) error
	UpdateFilter(ctx context.Context, tenantID string, filter []string) error
	StopStream(tenantID, reason string)
	StopAll(reason string)
}

// Manager ведет битвы за тенантов и сопровождает выигранные аренды.
// Ровно одна реплика флота владеет фидом тенанта в каждый момент; проигранная
// битва - штатный исход, а не ошибка. Менеджер также сворачивает события
// хранилища в локальный реестр, поддерживая на каждой реплике общую для
// флота картину членства.
type Manager struct {
	replicaID string
	registry  *registry.Registry
	tenants   repository.TenantStore
	leases    repository.LeaseStore
	streams   StreamController
	bus       *events.Bus
	logger    *logging.StreamLogger
	metrics   *metrics.StreamMetrics
	config    config.StreamConfig

	mu    sync.RWMutex
	owned map[string]struct{}

	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}
}

// NewManager создает новый менеджер владения
func NewManager(
	replicaID string,
	reg *registry.Registry,
	tenants repository.TenantStore,
	leases repository.LeaseStore,
	streams StreamController,
	bus *events.Bus,
	streamLogger *logging.StreamLogger,
	streamMetrics *metrics.StreamMetrics,
	cfg config.StreamConfig,
) *Manager {
	return &Manager{
		replicaID: replicaID,
		registry:  reg,
		tenants:   tenants,
		leases:    leases,
		streams:   streams,
		bus:       bus,
		logger:    streamLogger,
		metrics:   streamMetrics,
		config:    cfg,
		owned:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// ReplicaID возвращает идентификатор этой реплики
func (m *Manager) ReplicaID() string {
	return m.replicaID
}

// Start подписывается на события флота, проводит битвы за всех известных
// тенантов и запускает цикл продления аренд
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	m.unsubscribe = m.bus.Add(&events.Listener{
		OnTenantCreated:   func(tenantID string) { m.onTenantCreated(runCtx, tenantID) },
		OnTenantRemoved:   func(tenantID string) { m.onTenantGone(runCtx, tenantID) },
		OnUserAdded:       func(tenantID, userID string) { m.onMembershipGrew(runCtx, tenantID, userID, "") },
		OnUserRemoved:     func(tenantID, userID string) { m.onMembershipShrank(runCtx, tenantID, userID, "") },
		OnKeywordAdded:    func(tenantID, userID, keyword string) { m.onMembershipGrew(runCtx, tenantID, userID, keyword) },
		OnKeywordRemoved:  func(tenantID, userID, keyword string) { m.onMembershipShrank(runCtx, tenantID, userID, keyword) },
		OnLeaseExpired:    func(tenantID string) { m.onLeaseExpired(runCtx, tenantID) },
		OnLeaseReleased:   func(tenantID, ownerID string) { m.onLeaseReleased(runCtx, tenantID, ownerID) },
		OnPresenceExpired: func(tenantID string) { m.onTenantGone(runCtx, tenantID) },
	})

	if err := m.battleForKnownTenants(ctx); err != nil {
		m.unsubscribe()
		cancel()
		return fmt.Errorf("failed to run initial battles: %w", err)
	}

	// cancel публикуется только вместе с запущенным циклом: Stop ждет done
	m.cancel = cancel
	go m.keepAliveLoop(runCtx)
	return nil
}

// Stop останавливает стримы и явно снимает все аренды, чтобы остальные
// реплики подхватили тенантов, не дожидаясь истечения TTL
func (m *Manager) Stop(ctx context.Context) {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.streams.StopAll("replica shutting down")

	for _, tenantID := range m.OwnedTenants() {
		if _, err := m.leases.Release(ctx, tenantID, m.replicaID); err != nil {
			m.logger.LogFeedError(tenantID, err, 0, 0)
		}
		m.logger.LogLeaseReleased(tenantID, m.replicaID)
		m.dropOwnership(tenantID)
	}
}

// OwnedTenants возвращает тенантов, которыми владеет эта реплика
func (m *Manager) OwnedTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.owned))
	for tenantID := range m.owned {
		ids = append(ids, tenantID)
	}
	return ids
}

// Owns сообщает, владеет ли эта реплика тенантом
func (m *Manager) Owns(tenantID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.owned[tenantID]
	return ok
}

// OnStreamFatal снимает аренду тенанта, чей фид отказал неустранимо.
// Сам стрим к этому моменту уже остановлен контроллером.
func (m *Manager) OnStreamFatal(tenantID string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, releaseErr := m.leases.Release(ctx, tenantID, m.replicaID); releaseErr != nil {
		m.logger.LogFeedError(tenantID, releaseErr, 0, 0)
	}
	m.logger.LogLeaseReleased(tenantID, m.replicaID)
	m.dropOwnership(tenantID)
}

// battleForKnownTenants проводит битвы за всех тенантов, известных хранилищу
func (m *Manager) battleForKnownTenants(ctx context.Context) error {
	tenantIDs, err := m.tenants.TenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenantID := range tenantIDs {
		m.battle(ctx, tenantID)
	}
	return nil
}

// battle проводит одну битву за тенанта. Побеждает ровно одна реплика;
// проигрыш - тишина, победа - синхронизация членства и запуск стрима.
func (m *Manager) battle(ctx context.Context, tenantID string) {
	if m.Owns(tenantID) {
		return
	}

	won, err := m.leases.Acquire(ctx, tenantID, m.replicaID, m.config.TTL())
	if err != nil {
		m.logger.LogFeedError(tenantID, err, 0, 0)
		return
	}
	m.metrics.RecordBattle(won)

	if !won {
		m.logger.LogBattleLost(tenantID, m.replicaID)
		return
	}
	m.logger.LogBattleWon(tenantID, m.replicaID)

	if err := m.takeOwnership(ctx, tenantID); err != nil {
		m.logger.LogFeedError(tenantID, err, 0, 0)
		if _, releaseErr := m.leases.Release(ctx, tenantID, m.replicaID); releaseErr != nil {
			m.logger.LogFeedError(tenantID, releaseErr, 0, 0)
		}
	}
}

// takeOwnership выполняет обязанности новой владеющей реплики:
// подтянуть членство из хранилища и запустить стрим с текущим объединением
// ключевых слов. Тенант без пользователей не удерживается.
func (m *Manager) takeOwnership(ctx context.Context, tenantID string) error {
	credentials, err := m.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant credentials: %w", err)
	}

	users, err := m.tenants.UsersByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to sync tenant membership: %w", err)
	}

	m.registry.AddTenant(credentials)
	for userID, keywords := range users {
		m.registry.AddUser(tenantID, userID)
		for _, keyword := range keywords {
			m.registry.AddKeyword(tenantID, userID, keyword)
		}
	}

	filter := m.registry.KeywordUnion(tenantID)
	if len(filter) == 0 {
		if _, err := m.leases.Release(ctx, tenantID, m.replicaID); err != nil {
			return fmt.Errorf("failed to release empty tenant: %w", err)
		}
		m.logger.LogLeaseReleased(tenantID, m.replicaID)
		return nil
	}

	if err := m.streams.StartStream(ctx, credentials, filter); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	m.mu.Lock()
	m.owned[tenantID] = struct{}{}
	count := len(m.owned)
	m.mu.Unlock()
	m.metrics.SetOwnedTenants(count)
	return nil
}

// keepAliveLoop продлевает аренды владеемых тенантов каждый интервал.
// Тенант, оставшийся без пользователей, отпускается; не продлившаяся
// аренда отдается без борьбы - останавливаем стрим и не рискуем двойным
// владением (fail open).
func (m *Manager) keepAliveLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.KeepAlive())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tenantID := range m.OwnedTenants() {
				m.keepAlive(ctx, tenantID)
			}
		}
	}
}

func (m *Manager) keepAlive(ctx context.Context, tenantID string) {
	if !m.registry.HasUsers(tenantID) {
		m.releaseTenant(ctx, tenantID, "no users left")
		return
	}

	extended, err := m.leases.Refresh(ctx, tenantID, m.replicaID, m.config.TTL())
	if err != nil || !extended {
		if err != nil {
			m.logger.LogFeedError(tenantID, err, 0, 0)
		}
		m.streams.StopStream(tenantID, "lease refresh failed")
		m.logger.LogLeaseLost(tenantID, m.replicaID)
		m.metrics.RecordLeaseLoss()
		m.dropOwnership(tenantID)
	}
}

// releaseTenant останавливает стрим и явно снимает аренду
func (m *Manager) releaseTenant(ctx context.Context, tenantID, reason string) {
	m.streams.StopStream(tenantID, reason)
	if _, err := m.leases.Release(ctx, tenantID, m.replicaID); err != nil {
		m.logger.LogFeedError(tenantID, err, 0, 0)
	}
	m.logger.LogLeaseReleased(tenantID, m.replicaID)
	m.dropOwnership(tenantID)
}

func (m *Manager) dropOwnership(tenantID string) {
	m.mu.Lock()
	delete(m.owned, tenantID)
	count := len(m.owned)
	m.mu.Unlock()
	m.metrics.SetOwnedTenants(count)
}

// onTenantCreated сворачивает событие в реестр и пробует захватить нового
// тенанта
func (m *Manager) onTenantCreated(ctx context.Context, tenantID string) {
	if credentials, err := m.tenants.GetTenant(ctx, tenantID); err == nil && !credentials.IsZero() {
		m.registry.AddTenant(credentials)
	}
	m.battle(ctx, tenantID)
}

// onTenantGone обрабатывает удаление тенанта или истечение его presence-ключа
func (m *Manager) onTenantGone(ctx context.Context, tenantID string) {
	if m.Owns(tenantID) {
		m.releaseTenant(ctx, tenantID, "tenant gone")
	}
	m.registry.RemoveTenant(tenantID)
}

// onMembershipGrew сворачивает прибавление членства в реестр. Владелец
// обновляет фильтр стрима на месте; остальные реплики пробуют битву на
// случай, если тенант ничейный.
func (m *Manager) onMembershipGrew(ctx context.Context, tenantID, userID, keyword string) {
	if keyword == "" {
		m.registry.AddUser(tenantID, userID)
	} else {
		m.registry.AddKeyword(tenantID, userID, keyword)
	}

	if m.Owns(tenantID) {
		m.refreshFilter(ctx, tenantID)
		return
	}
	m.battle(ctx, tenantID)
}

// onMembershipShrank сворачивает убыль членства в реестр. Владелец либо
// сужает фильтр, либо отпускает опустевшего тенанта.
func (m *Manager) onMembershipShrank(ctx context.Context, tenantID, userID, keyword string) {
	if keyword == "" {
		m.registry.RemoveUser(tenantID, userID)
	} else {
		m.registry.RemoveKeyword(tenantID, userID, keyword)
	}

	if !m.Owns(tenantID) {
		return
	}

	if !m.registry.HasUsers(tenantID) {
		m.releaseTenant(ctx, tenantID, "last user left")
		return
	}
	m.refreshFilter(ctx, tenantID)
}

// onLeaseExpired обрабатывает истечение чужой аренды: тенант снова ничейный
func (m *Manager) onLeaseExpired(ctx context.Context, tenantID string) {
	// Истечение собственной аренды уже обработано циклом продления
	if m.Owns(tenantID) {
		return
	}
	if m.registry.HasUsers(tenantID) {
		m.battle(ctx, tenantID)
	}
}

// onLeaseReleased обрабатывает явное снятие аренды владельцем: при штатной
// остановке реплики или отказе фида тенанта должен немедленно подхватить
// кто-то другой. Сама снявшая реплика не участвует, иначе отказавший фид
// перезапускался бы на том же месте. Пустое объединение ключевых слов
// обрывает цепочку: взяв такого тенанта, мы бы сразу отпустили его снова,
// и реплики перекидывали бы аренду друг другу без конца.
func (m *Manager) onLeaseReleased(ctx context.Context, tenantID, ownerID string) {
	if ownerID == m.replicaID || m.Owns(tenantID) {
		return
	}
	if len(m.registry.KeywordUnion(tenantID)) > 0 {
		m.battle(ctx, tenantID)
	}
}

func (m *Manager) refreshFilter(ctx context.Context, tenantID string) {
	filter := m.registry.KeywordUnion(tenantID)
	if len(filter) == 0 {
		m.releaseTenant(ctx, tenantID, "empty filter")
		return
	}
	if err := m.streams.UpdateFilter(ctx, tenantID, filter); err != nil {
		m.logger.LogFeedError(tenantID, err, 0, 0)
	}
}
