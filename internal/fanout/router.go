package fanout

import (
	"context"
	"time"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/logging"
	"TweetStreamPlatform/internal/metrics"
	"TweetStreamPlatform/internal/registry"
	"TweetStreamPlatform/internal/repository"
)

// Router маршрутизирует проанализированные пачки подписчикам. Адресаты
// определяются по ключевому слову пачки через общую для флота картину
// членства; доставка идет по каналу, который дотягивается до пользователя
// на любой реплике. Промах доставки отбрасывается, а не повторяется:
// следующая пачка все равно уже в пути.
type Router struct {
	registry *registry.Registry
	delivery repository.DeliveryChannel
	logger   *logging.StreamLogger
	metrics  *metrics.StreamMetrics
}

// NewRouter создает новый маршрутизатор
func NewRouter(
	reg *registry.Registry,
	delivery repository.DeliveryChannel,
	streamLogger *logging.StreamLogger,
	streamMetrics *metrics.StreamMetrics,
) *Router {
	return &Router{
		registry: reg,
		delivery: delivery,
		logger:   streamLogger,
		metrics:  streamMetrics,
	}
}

// Deliver публикует пачку каждому пользователю тенанта, подписанному на ее
// ключевое слово, ровно по одному разу. Пачка без адресатов не ошибка:
// члены могли уйти, пока она была в анализе.
func (r *Router) Deliver(ctx context.Context, batch domain.AnalyzedBatch) error {
	started := time.Now()

	userIDs := r.registry.UserIDsByKeyword(batch.TenantID, batch.Keyword)
	for _, userID := range userIDs {
		if err := r.delivery.Publish(ctx, batch.TenantID, userID, batch); err != nil {
			r.logger.LogFeedError(batch.TenantID, err, 0, 0)
			r.metrics.RecordDelivery(false)
			continue
		}
		r.metrics.RecordDelivery(true)
	}

	duration := time.Since(started)
	r.metrics.ObserveFanout(duration)
	r.logger.LogBatchPublished(batch.TenantID, batch.Keyword, len(userIDs), duration)
	return nil
}
