package logging

import (
	"time"

	"TweetStreamPlatform/pkg/logger"
)

// StreamLogger обертка над pkg/logger для событий жизненного цикла стримов
// и протокола владения
type StreamLogger struct {
	base logger.Logger
}

// NewStreamLogger создает новый экземпляр логгера стримов
func NewStreamLogger(baseLogger logger.Logger) *StreamLogger {
	return &StreamLogger{
		base: baseLogger,
	}
}

// LogBattleWon логирует победу в битве за тенанта
func (sl *StreamLogger) LogBattleWon(tenantID, replicaID string) {
	sl.base.With(
		logger.String("event", "battle_won"),
		logger.String("tenant_id", tenantID),
		logger.String("replica_id", replicaID),
		logger.String("component", "ownership"),
	).Info("Won ownership battle for tenant")
}

// LogBattleLost логирует проигранную битву. Это штатная ситуация,
// поэтому уровень debug.
func (sl *StreamLogger) LogBattleLost(tenantID, replicaID string) {
	sl.base.With(
		logger.String("event", "battle_lost"),
		logger.String("tenant_id", tenantID),
		logger.String("replica_id", replicaID),
		logger.String("component", "ownership"),
	).Debug("Lost ownership battle for tenant")
}

// LogLeaseLost логирует потерю аренды владеющей репликой
func (sl *StreamLogger) LogLeaseLost(tenantID, replicaID string) {
	sl.base.With(
		logger.String("event", "lease_lost"),
		logger.String("tenant_id", tenantID),
		logger.String("replica_id", replicaID),
		logger.String("component", "ownership"),
	).Warn("Lease lost, stopping local stream")
}

// LogLeaseReleased логирует явное снятие аренды
func (sl *StreamLogger) LogLeaseReleased(tenantID, replicaID string) {
	sl.base.With(
		logger.String("event", "lease_released"),
		logger.String("tenant_id", tenantID),
		logger.String("replica_id", replicaID),
		logger.String("component", "ownership"),
	).Info("Lease released for tenant")
}

// LogStreamStart логирует запуск стрима тенанта
func (sl *StreamLogger) LogStreamStart(tenantID string, keywords []string) {
	sl.base.With(
		logger.String("event", "stream_started"),
		logger.String("tenant_id", tenantID),
		logger.Strings("keywords", keywords),
		logger.Int("keyword_count", len(keywords)),
		logger.String("component", "stream_controller"),
	).Info("Stream started for tenant")
}

// LogStreamStop логирует остановку стрима тенанта
func (sl *StreamLogger) LogStreamStop(tenantID, reason string) {
	sl.base.With(
		logger.String("event", "stream_stopped"),
		logger.String("tenant_id", tenantID),
		logger.String("reason", reason),
		logger.String("component", "stream_controller"),
	).Info("Stream stopped for tenant")
}

// LogFilterUpdate логирует обновление фильтра живого стрима
func (sl *StreamLogger) LogFilterUpdate(tenantID string, keywords []string) {
	sl.base.With(
		logger.String("event", "filter_updated"),
		logger.String("tenant_id", tenantID),
		logger.Strings("keywords", keywords),
		logger.Int("keyword_count", len(keywords)),
		logger.String("component", "stream_controller"),
	).Info("Stream filter updated")
}

// LogFeedError логирует ошибку внешнего фида
func (sl *StreamLogger) LogFeedError(tenantID string, err error, attempt int, nextDelay time.Duration) {
	sl.base.With(
		logger.String("event", "feed_error"),
		logger.String("tenant_id", tenantID),
		logger.Error(err),
		logger.Int("attempt", attempt),
		logger.Duration("next_delay", nextDelay),
		logger.String("component", "stream_controller"),
	).Warn("Feed error, reconnecting")
}

// LogStreamDegraded логирует переход стрима в деградированное состояние
func (sl *StreamLogger) LogStreamDegraded(tenantID string, err error) {
	sl.base.With(
		logger.String("event", "stream_degraded"),
		logger.String("tenant_id", tenantID),
		logger.Error(err),
		logger.String("component", "stream_controller"),
	).Error("Stream degraded after repeated feed failures")
}

// LogBatchPublished логирует fan-out одной пачки
func (sl *StreamLogger) LogBatchPublished(tenantID, keyword string, subscribers int, duration time.Duration) {
	sl.base.With(
		logger.String("event", "batch_published"),
		logger.String("tenant_id", tenantID),
		logger.String("keyword", keyword),
		logger.Int("subscribers", subscribers),
		logger.Float64("duration_seconds", duration.Seconds()),
		logger.String("component", "fanout"),
	).Debug("Analyzed batch published to subscribers")
}

// LogConnectionOpened логирует новое подключение шлюза
func (sl *StreamLogger) LogConnectionOpened(userID string) {
	sl.base.With(
		logger.String("event", "connection_opened"),
		logger.String("user_id", userID),
		logger.String("component", "gateway"),
	).Info("Client connection opened")
}

// LogConnectionClosed логирует закрытие подключения шлюза
func (sl *StreamLogger) LogConnectionClosed(userID, tenantID string) {
	sl.base.With(
		logger.String("event", "connection_closed"),
		logger.String("user_id", userID),
		logger.String("tenant_id", tenantID),
		logger.String("component", "gateway"),
	).Info("Client connection closed")
}
