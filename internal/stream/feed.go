package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"TweetStreamPlatform/internal/domain"
)

// BatchHandler вызывается фидом для каждой совпавшей пачки сообщений
type BatchHandler func(domain.RawBatch)

// FeedClient представляет подключение к внешнему фильтруемому фиду.
// Реализация обязана поддерживать смену фильтра без разрыва подключения.
type FeedClient interface {
	// Start открывает фид с указанным фильтром. Пачки приходят в onBatch,
	// сбои подключения - в канал Errors.
	Start(ctx context.Context, credentials domain.Credentials, filter []string, onBatch BatchHandler) error
	// UpdateFilter заменяет фильтр работающего фида на месте
	UpdateFilter(ctx context.Context, filter []string) error
	// Stop закрывает фид. Повторный вызов безопасен.
	Stop() error
	// Errors возвращает канал асинхронных ошибок фида
	Errors() <-chan error
}

// FeedFactory создает новое подключение к фиду для одного тенанта
type FeedFactory func() FeedClient

// FatalError помечает ошибку фида, которую не исправит переподключение:
// отозванные учетные данные, отказ в доступе к фильтру и т.п.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal feed error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal проверяет, является ли ошибка фида неустранимой
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// SimulatedFeed - внутрипроцессная реализация фида для тестов и локальных
// запусков. Сообщения подаются через Inject и раскладываются по пачкам:
// одна пачка на каждое ключевое слово фильтра, встретившееся в тексте.
type SimulatedFeed struct {
	mu       sync.Mutex
	running  bool
	tenantID string
	filter   []string
	onBatch  BatchHandler
	errs     chan error
}

// NewSimulatedFeed создает новый симулированный фид
func NewSimulatedFeed() *SimulatedFeed {
	return &SimulatedFeed{
		errs: make(chan error, 1),
	}
}

// Start запускает фид
func (f *SimulatedFeed) Start(ctx context.Context, credentials domain.Credentials, filter []string, onBatch BatchHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("feed already started")
	}
	if credentials.IsZero() {
		return &FatalError{Err: fmt.Errorf("empty credentials")}
	}

	f.running = true
	f.tenantID = credentials.ID()
	f.filter = append([]string(nil), filter...)
	f.onBatch = onBatch
	return nil
}

// UpdateFilter заменяет фильтр на месте
func (f *SimulatedFeed) UpdateFilter(ctx context.Context, filter []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return fmt.Errorf("feed not started")
	}
	f.filter = append([]string(nil), filter...)
	return nil
}

// Stop останавливает фид
func (f *SimulatedFeed) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.running = false
	f.onBatch = nil
	return nil
}

// Errors возвращает канал ошибок фида
func (f *SimulatedFeed) Errors() <-chan error {
	return f.errs
}

// Inject подает сообщения в работающий фид. Каждое ключевое слово фильтра,
// найденное в тексте, порождает отдельную пачку с этим словом.
func (f *SimulatedFeed) Inject(tweets ...domain.Tweet) {
	f.mu.Lock()
	if !f.running || f.onBatch == nil {
		f.mu.Unlock()
		return
	}
	tenantID := f.tenantID
	filter := append([]string(nil), f.filter...)
	onBatch := f.onBatch
	f.mu.Unlock()

	for _, keyword := range filter {
		var matched []domain.Tweet
		for _, tweet := range tweets {
			if strings.Contains(tweet.Text, keyword) {
				matched = append(matched, tweet)
			}
		}
		if len(matched) == 0 {
			continue
		}
		onBatch(domain.RawBatch{
			TenantID: tenantID,
			Keyword:  keyword,
			Tweets:   matched,
		})
	}
}

// Fail имитирует сбой подключения. Фид останавливается, ошибка уходит
// в канал Errors, как это сделал бы обрыв реального транспорта.
func (f *SimulatedFeed) Fail(err error) {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	select {
	case f.errs <- err:
	default:
	}
}

// Running сообщает, открыт ли фид в данный момент
func (f *SimulatedFeed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Filter возвращает текущий фильтр фида
func (f *SimulatedFeed) Filter() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.filter...)
}

var _ FeedClient = (*SimulatedFeed)(nil)
