package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TweetStreamPlatform/internal/analyzer"
	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/logging"
	"TweetStreamPlatform/internal/metrics"
	"TweetStreamPlatform/pkg/backoff"
	"TweetStreamPlatform/pkg/config"
)

// Sink потребляет проанализированные пачки, сошедшие с конвейера стрима
type Sink interface {
	Deliver(ctx context.Context, batch domain.AnalyzedBatch) error
}

// FatalHandler вызывается, когда фид тенанта отказал неустранимо.
// Владелец стрима по этому сигналу снимает аренду.
type FatalHandler func(tenantID string, err error)

// Controller управляет жизненным циклом стримов тенантов на одной реплике:
// запуск фида с текущим объединением ключевых слов, смена фильтра на месте,
// переподключение с экспоненциальной задержкой при временных сбоях,
// остановка при потере аренды или уходе последнего пользователя.
type Controller struct {
	feeds    FeedFactory
	analyzer analyzer.Analyzer
	sink     Sink
	onFatal  FatalHandler
	logger   *logging.StreamLogger
	metrics  *metrics.StreamMetrics
	config   config.StreamConfig

	mu      sync.RWMutex
	streams map[string]*tenantStream
}

// tenantStream хранит состояние одного работающего стрима
type tenantStream struct {
	credentials domain.Credentials
	feed        FeedClient
	cancel      context.CancelFunc

	mu     sync.Mutex
	filter []string
	state  domain.StreamState
}

// NewController создает новый контроллер стримов
func NewController(
	feeds FeedFactory,
	analyzer analyzer.Analyzer,
	sink Sink,
	onFatal FatalHandler,
	streamLogger *logging.StreamLogger,
	streamMetrics *metrics.StreamMetrics,
	cfg config.StreamConfig,
) *Controller {
	return &Controller{
		feeds:    feeds,
		analyzer: analyzer,
		sink:     sink,
		onFatal:  onFatal,
		logger:   streamLogger,
		metrics:  streamMetrics,
		config:   cfg,
		streams:  make(map[string]*tenantStream),
	}
}

// StartStream запускает стрим тенанта с указанным фильтром.
// Повторный запуск для уже работающего тенанта - ошибка вызывающего.
func (c *Controller) StartStream(ctx context.Context, credentials domain.Credentials, filter []string) error {
	tenantID := credentials.ID()

	c.mu.Lock()
	if _, exists := c.streams[tenantID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("stream for tenant %s already running", tenantID)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	ts := &tenantStream{
		credentials: credentials,
		feed:        c.feeds(),
		cancel:      cancel,
		filter:      append([]string(nil), filter...),
		state:       domain.StreamStateStarting,
	}
	c.streams[tenantID] = ts
	c.mu.Unlock()

	if err := ts.feed.Start(streamCtx, credentials, filter, c.batchHandler(streamCtx, tenantID)); err != nil {
		c.remove(tenantID)
		cancel()
		return fmt.Errorf("failed to start feed: %w", err)
	}

	ts.setState(domain.StreamStateRunning)
	c.logger.LogStreamStart(tenantID, filter)
	c.metrics.SetFilterKeywords(tenantID, len(filter))

	go c.watch(streamCtx, tenantID, ts)
	return nil
}

// UpdateFilter заменяет фильтр работающего стрима на месте, без перезапуска
func (c *Controller) UpdateFilter(ctx context.Context, tenantID string, filter []string) error {
	ts := c.get(tenantID)
	if ts == nil {
		return fmt.Errorf("no stream for tenant %s", tenantID)
	}

	ts.mu.Lock()
	ts.filter = append([]string(nil), filter...)
	ts.mu.Unlock()

	if err := ts.feed.UpdateFilter(ctx, filter); err != nil {
		return fmt.Errorf("failed to update filter: %w", err)
	}

	c.logger.LogFilterUpdate(tenantID, filter)
	c.metrics.SetFilterKeywords(tenantID, len(filter))
	return nil
}

// StopStream останавливает стрим тенанта. Остановка отсутствующего
// стрима безопасна: потеря аренды и уход пользователя могут гоняться.
func (c *Controller) StopStream(tenantID, reason string) {
	ts := c.remove(tenantID)
	if ts == nil {
		return
	}

	ts.cancel()
	if err := ts.feed.Stop(); err != nil {
		c.logger.LogFeedError(tenantID, err, 0, 0)
	}
	ts.setState(domain.StreamStateStopped)

	c.logger.LogStreamStop(tenantID, reason)
	c.metrics.DeleteFilterKeywords(tenantID)
}

// StopAll останавливает все стримы реплики при завершении работы
func (c *Controller) StopAll(reason string) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.streams))
	for tenantID := range c.streams {
		ids = append(ids, tenantID)
	}
	c.mu.RUnlock()

	for _, tenantID := range ids {
		c.StopStream(tenantID, reason)
	}
}

// State возвращает состояние стрима тенанта
func (c *Controller) State(tenantID string) domain.StreamState {
	ts := c.get(tenantID)
	if ts == nil {
		return domain.StreamStateStopped
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state
}

// Filter возвращает текущий фильтр стрима тенанта
func (c *Controller) Filter(tenantID string) []string {
	ts := c.get(tenantID)
	if ts == nil {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.filter...)
}

// TenantIDs возвращает тенантов с работающим стримом
func (c *Controller) TenantIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.streams))
	for tenantID := range c.streams {
		ids = append(ids, tenantID)
	}
	return ids
}

// watch следит за асинхронными ошибками фида и переподключает его
// с экспоненциальной задержкой. Неустранимая ошибка переводит стрим
// в деградированное состояние и отдает тенанта обратно флоту.
func (c *Controller) watch(ctx context.Context, tenantID string, ts *tenantStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-ts.feed.Errors():
			if IsFatal(err) {
				c.degrade(tenantID, ts, err)
				return
			}
			if !c.reconnect(ctx, tenantID, ts, err) {
				return
			}
		}
	}
}

// reconnect восстанавливает фид после временного сбоя.
// Возвращает false, если стрим остановлен или деградировал.
func (c *Controller) reconnect(ctx context.Context, tenantID string, ts *tenantStream, cause error) bool {
	backoffCfg := backoff.Config{
		InitialDelay: c.config.MinDelay(),
		MaxDelay:     c.config.MaxDelay(),
		Multiplier:   2.0,
		Jitter:       true,
	}

	for attempt := 1; ; attempt++ {
		delay := backoff.Delay(attempt, backoffCfg)
		c.logger.LogFeedError(tenantID, cause, attempt, delay)
		c.metrics.RecordStreamRestart(tenantID)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		ts.mu.Lock()
		filter := append([]string(nil), ts.filter...)
		ts.mu.Unlock()

		err := ts.feed.Start(ctx, ts.credentials, filter, c.batchHandler(ctx, tenantID))
		if err == nil {
			ts.setState(domain.StreamStateRunning)
			c.logger.LogStreamStart(tenantID, filter)
			return true
		}
		if IsFatal(err) {
			c.degrade(tenantID, ts, err)
			return false
		}
		cause = err
	}
}

// degrade помечает стрим деградированным и сообщает владельцу,
// чтобы тот снял аренду и не держал тенанта мертвым
func (c *Controller) degrade(tenantID string, ts *tenantStream, err error) {
	ts.setState(domain.StreamStateDegraded)
	c.logger.LogStreamDegraded(tenantID, err)

	c.remove(tenantID)
	ts.cancel()
	c.metrics.DeleteFilterKeywords(tenantID)

	if c.onFatal != nil {
		c.onFatal(tenantID, err)
	}
}

// batchHandler возвращает обработчик сырых пачек одного стрима:
// анализ с таймаутом и передача результата в приемник
func (c *Controller) batchHandler(ctx context.Context, tenantID string) BatchHandler {
	return func(batch domain.RawBatch) {
		err := c.metrics.TracePipeline(ctx, "analyze_and_deliver", tenantID, batch.Keyword, func(spanCtx context.Context) error {
			analyzeCtx, cancel := context.WithTimeout(spanCtx, c.config.Timeout())
			defer cancel()

			analyzed, err := c.analyzer.Analyze(analyzeCtx, batch)
			if err != nil {
				c.metrics.RecordBatchAnalyzed(false)
				return fmt.Errorf("failed to analyze batch: %w", err)
			}
			c.metrics.RecordBatchAnalyzed(true)

			if err := c.sink.Deliver(spanCtx, analyzed); err != nil {
				return fmt.Errorf("failed to deliver batch: %w", err)
			}
			return nil
		})
		if err != nil {
			c.logger.LogFeedError(tenantID, err, 0, 0)
		}
	}
}

func (c *Controller) get(tenantID string) *tenantStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[tenantID]
}

func (c *Controller) remove(tenantID string) *tenantStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.streams[tenantID]
	delete(c.streams, tenantID)
	return ts
}

func (ts *tenantStream) setState(state domain.StreamState) {
	ts.mu.Lock()
	ts.state = state
	ts.mu.Unlock()
}
