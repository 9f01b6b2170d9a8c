package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/logging"
	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/config"
	"TweetStreamPlatform/pkg/errors"
)

const (
	defaultBeginDelay = 3 * time.Second
	defaultDuration   = 60 * time.Second
)

// Publisher публикует тело сообщения в очередь записи
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// recordedBatch - конверт сообщения очереди записи
type recordedBatch struct {
	TenantID string               `json:"tenant_id"`
	RecordID string               `json:"record_id"`
	Batch    domain.AnalyzedBatch `json:"batch"`
}

// Service ведет запланированные записи: в момент начала регистрирует
// синтетического пользователя записи с ее ключевыми словами, чтобы стрим
// тенанта подхватил их через обычный путь членства, и пересылает
// доставленные этому пользователю пачки в очередь на сохранение.
// В момент конца запись разбирается тем же путем.
type Service struct {
	records  repository.RecordRepository
	store    repository.TenantStore
	delivery repository.DeliveryChannel
	producer Publisher
	logger   *logging.StreamLogger
	stream   config.StreamConfig

	cron *cron.Cron

	mu     sync.Mutex
	active map[string]*domain.Record
}

// NewService создает новый сервис записи
func NewService(
	records repository.RecordRepository,
	store repository.TenantStore,
	delivery repository.DeliveryChannel,
	producer Publisher,
	streamLogger *logging.StreamLogger,
	streamCfg config.StreamConfig,
) *Service {
	return &Service{
		records:  records,
		store:    store,
		delivery: delivery,
		producer: producer,
		logger:   streamLogger,
		stream:   streamCfg,
		cron:     cron.New(),
		active:   make(map[string]*domain.Record),
	}
}

// recordUserID возвращает идентификатор синтетического пользователя записи
func recordUserID(recordID string) string {
	return "record-" + recordID
}

// Start восстанавливает расписания незавершенных записей и запускает
// планировщик. Запись, активная прямо сейчас, включается немедленно.
func (s *Service) Start(ctx context.Context) error {
	now := time.Now()

	pending, err := s.records.GetPending(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to load pending records: %w", err)
	}

	for _, record := range pending {
		if record.Active(now) {
			s.activate(ctx, record)
		} else {
			s.scheduleBegin(record)
		}
		s.scheduleEnd(record)
	}

	s.cron.Start()
	go s.presenceLoop(ctx)
	return nil
}

// Stop останавливает планировщик и разбирает активные записи
func (s *Service) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	active := make([]*domain.Record, 0, len(s.active))
	for _, record := range s.active {
		active = append(active, record)
	}
	s.mu.Unlock()

	for _, record := range active {
		s.unregister(ctx, record)
	}
}

// CreateRecord заполняет запись значениями по умолчанию, проверяет
// интервал, сохраняет ее и ставит в расписание
func (s *Service) CreateRecord(ctx context.Context, record *domain.Record) error {
	now := time.Now()

	if err := validateRecord(record, now); err != nil {
		return err
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Begin.IsZero() {
		record.Begin = now.Add(defaultBeginDelay)
		record.End = record.Begin.Add(defaultDuration)
	}
	record.TenantID = record.Tenant.ID()
	record.Status = domain.RecordStatusPending
	record.CreatedAt = now

	if err := s.records.Insert(ctx, record); err != nil {
		return err
	}

	s.scheduleBegin(record)
	s.scheduleEnd(record)
	return nil
}

// validateRecord проверяет правила интервала: оба времени или ни одного,
// начало в будущем, конец после начала, непустые ключевые слова
func validateRecord(record *domain.Record, now time.Time) error {
	if len(record.Keywords) == 0 {
		return errors.New(errors.ErrValidation, "keywords must be a non-empty array")
	}
	for _, keyword := range record.Keywords {
		if keyword == "" {
			return errors.New(errors.ErrValidation, "keywords must not contain empty strings")
		}
	}

	if record.Begin.IsZero() != record.End.IsZero() {
		return errors.New(errors.ErrValidation, "begin and end must be provided together")
	}
	if !record.Begin.IsZero() {
		if !record.Begin.After(now) {
			return errors.New(errors.ErrValidation, "begin must be in the future")
		}
		if !record.End.After(record.Begin) {
			return errors.New(errors.ErrValidation, "end must be after begin")
		}
	}

	return nil
}

func (s *Service) scheduleBegin(record *domain.Record) {
	captured := *record
	s.cron.Schedule(onceAt(record.Begin), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.activate(ctx, &captured)
	}))
}

func (s *Service) scheduleEnd(record *domain.Record) {
	captured := *record
	s.cron.Schedule(onceAt(record.End), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.finish(ctx, &captured)
	}))
}

// activate включает запись: пользователь записи попадает в общее хранилище
// членства, и владеющая тенантом реплика расширяет фильтр его стрима
func (s *Service) activate(ctx context.Context, record *domain.Record) {
	userID := recordUserID(record.ID)

	if _, err := s.store.CreateTenant(ctx, record.Tenant); err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
		return
	}
	if err := s.store.AddUser(ctx, record.TenantID, userID); err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
		return
	}
	for _, keyword := range record.Keywords {
		if err := s.store.AddKeyword(ctx, record.TenantID, userID, keyword); err != nil {
			s.logger.LogFeedError(record.TenantID, err, 0, 0)
			return
		}
	}

	err := s.delivery.Subscribe(ctx, record.TenantID, userID, func(batch domain.AnalyzedBatch) {
		s.forward(record, batch)
	})
	if err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
		return
	}

	if err := s.records.UpdateStatus(ctx, record.ID, domain.RecordStatusActive); err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
	}

	s.mu.Lock()
	s.active[record.ID] = record
	s.mu.Unlock()
}

// forward пересылает пачку в очередь записи
func (s *Service) forward(record *domain.Record, batch domain.AnalyzedBatch) {
	body, err := json.Marshal(recordedBatch{
		TenantID: record.TenantID,
		RecordID: record.ID,
		Batch:    batch,
	})
	if err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.producer.Publish(ctx, body); err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
	}
}

// finish завершает запись по расписанию
func (s *Service) finish(ctx context.Context, record *domain.Record) {
	s.unregister(ctx, record)
	if err := s.records.UpdateStatus(ctx, record.ID, domain.RecordStatusFinished); err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
	}
}

// unregister снимает пользователя записи с доставки и членства
func (s *Service) unregister(ctx context.Context, record *domain.Record) {
	userID := recordUserID(record.ID)

	if err := s.delivery.Unsubscribe(record.TenantID, userID); err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
	}
	if _, err := s.store.RemoveUser(ctx, record.TenantID, userID); err != nil {
		s.logger.LogFeedError(record.TenantID, err, 0, 0)
	}

	s.mu.Lock()
	delete(s.active, record.ID)
	s.mu.Unlock()
}

// presenceLoop продлевает presence-ключи тенантов с активной записью:
// у такого тенанта может не быть ни одного живого подключения
func (s *Service) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.stream.KeepAlive())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			tenantIDs := make(map[string]struct{})
			for _, record := range s.active {
				tenantIDs[record.TenantID] = struct{}{}
			}
			s.mu.Unlock()

			for tenantID := range tenantIDs {
				if err := s.store.RefreshTenantExpiration(ctx, tenantID); err != nil {
					s.logger.LogFeedError(tenantID, err, 0, 0)
				}
			}
		}
	}
}

// onceAt возвращает расписание, срабатывающее один раз в указанный момент
func onceAt(at time.Time) cron.Schedule {
	return onceSchedule{at: at}
}

type onceSchedule struct {
	at time.Time
}

// Next возвращает момент срабатывания, пока он не прошел; нулевое время
// заставляет cron снять задание
func (s onceSchedule) Next(t time.Time) time.Time {
	if s.at.After(t) {
		return s.at
	}
	return time.Time{}
}
