package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"TweetStreamPlatform/pkg/metrics"
)

// StreamMetrics содержит метрики протокола владения и fan-out
type StreamMetrics struct {
	// Базовые метрики из pkg
	base *metrics.Metrics

	// Метрики владения
	ownedTenants prometheus.Gauge
	battlesTotal *prometheus.CounterVec
	leaseLosses  prometheus.Counter

	// Метрики стримов
	streamRestarts  *prometheus.CounterVec
	filterKeywords  *prometheus.GaugeVec
	degradedStreams prometheus.Gauge

	// Метрики конвейера
	batchesAnalyzed *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	fanoutDuration  prometheus.Histogram
}

// NewStreamMetrics создает новый экземпляр метрик
func NewStreamMetrics(serviceName string) *StreamMetrics {
	base := metrics.NewMetrics(serviceName)

	ownedTenants := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "ownership",
			Name:      "owned_tenants",
			Help:      "Number of tenants currently owned by this replica",
		},
	)

	battlesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ownership",
			Name:      "battles_total",
			Help:      "Total number of ownership battles attempted",
		},
		[]string{"outcome"},
	)

	leaseLosses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ownership",
			Name:      "lease_losses_total",
			Help:      "Total number of leases lost after a failed refresh",
		},
	)

	streamRestarts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "stream",
			Name:      "restarts_total",
			Help:      "Total number of stream reconnect attempts",
		},
		[]string{"tenant_id"},
	)

	filterKeywords := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "stream",
			Name:      "filter_keywords",
			Help:      "Number of keywords in the active stream filter",
		},
		[]string{"tenant_id"},
	)

	degradedStreams := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "stream",
			Name:      "degraded",
			Help:      "Number of streams currently in degraded state",
		},
	)

	batchesAnalyzed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "pipeline",
			Name:      "batches_analyzed_total",
			Help:      "Total number of raw batches passed through analysis",
		},
		[]string{"status"},
	)

	deliveriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "pipeline",
			Name:      "deliveries_total",
			Help:      "Total number of per-user deliveries",
		},
		[]string{"result"},
	)

	fanoutDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "pipeline",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of the fan-out of one analyzed batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// Регистрируем метрики в Prometheus
	metrics.RegisterCollector(ownedTenants)
	metrics.RegisterCollector(battlesTotal)
	metrics.RegisterCollector(leaseLosses)
	metrics.RegisterCollector(streamRestarts)
	metrics.RegisterCollector(filterKeywords)
	metrics.RegisterCollector(degradedStreams)
	metrics.RegisterCollector(batchesAnalyzed)
	metrics.RegisterCollector(deliveriesTotal)
	metrics.RegisterCollector(fanoutDuration)

	return &StreamMetrics{
		base:            base,
		ownedTenants:    ownedTenants,
		battlesTotal:    battlesTotal,
		leaseLosses:     leaseLosses,
		streamRestarts:  streamRestarts,
		filterKeywords:  filterKeywords,
		degradedStreams: degradedStreams,
		batchesAnalyzed: batchesAnalyzed,
		deliveriesTotal: deliveriesTotal,
		fanoutDuration:  fanoutDuration,
	}
}

// SetOwnedTenants обновляет количество тенантов во владении реплики
func (sm *StreamMetrics) SetOwnedTenants(count int) {
	sm.ownedTenants.Set(float64(count))
}

// RecordBattle учитывает исход одной битвы
func (sm *StreamMetrics) RecordBattle(won bool) {
	outcome := "lost"
	if won {
		outcome = "won"
	}
	sm.battlesTotal.WithLabelValues(outcome).Inc()
}

// RecordLeaseLoss учитывает потерю аренды после неудачного продления
func (sm *StreamMetrics) RecordLeaseLoss() {
	sm.leaseLosses.Inc()
}

// RecordStreamRestart учитывает попытку переподключения фида
func (sm *StreamMetrics) RecordStreamRestart(tenantID string) {
	sm.streamRestarts.WithLabelValues(tenantID).Inc()
}

// SetFilterKeywords обновляет размер фильтра стрима тенанта
func (sm *StreamMetrics) SetFilterKeywords(tenantID string, count int) {
	sm.filterKeywords.WithLabelValues(tenantID).Set(float64(count))
}

// DeleteFilterKeywords убирает метрику фильтра остановленного стрима
func (sm *StreamMetrics) DeleteFilterKeywords(tenantID string) {
	sm.filterKeywords.DeleteLabelValues(tenantID)
}

// SetDegradedStreams обновляет количество деградированных стримов
func (sm *StreamMetrics) SetDegradedStreams(count int) {
	sm.degradedStreams.Set(float64(count))
}

// RecordBatchAnalyzed учитывает результат анализа пачки
func (sm *StreamMetrics) RecordBatchAnalyzed(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	sm.batchesAnalyzed.WithLabelValues(status).Inc()
}

// RecordDelivery учитывает одну адресную доставку
func (sm *StreamMetrics) RecordDelivery(delivered bool) {
	result := "dropped"
	if delivered {
		result = "delivered"
	}
	sm.deliveriesTotal.WithLabelValues(result).Inc()
}

// ObserveFanout учитывает длительность fan-out одной пачки
func (sm *StreamMetrics) ObserveFanout(duration time.Duration) {
	sm.fanoutDuration.Observe(duration.Seconds())
}

// SetActiveConnections обновляет количество живых подключений шлюза
func (sm *StreamMetrics) SetActiveConnections(count int) {
	sm.base.ActiveConnections.WithLabelValues("websocket").Set(float64(count))
}

// GetBaseMetrics возвращает базовые метрики из pkg
func (sm *StreamMetrics) GetBaseMetrics() *metrics.Metrics {
	return sm.base
}

// TracePipeline выполняет трассировку этапа конвейера с использованием OpenTelemetry
func (sm *StreamMetrics) TracePipeline(ctx context.Context, stage, tenantID, keyword string, fn func(context.Context) error) error {
	spanCtx, span := sm.base.Tracer.Start(ctx, stage)
	defer span.End()

	span.SetAttributes(
		attribute.String("pipeline.stage", stage),
		attribute.String("pipeline.tenant_id", tenantID),
		attribute.String("pipeline.keyword", keyword),
	)

	err := fn(spanCtx)

	if err != nil {
		span.SetAttributes(
			attribute.String("pipeline.status", "failure"),
			attribute.String("pipeline.error", err.Error()),
		)
	} else {
		span.SetAttributes(attribute.String("pipeline.status", "success"))
	}

	return err
}
