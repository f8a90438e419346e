package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики messaging-слоя и воркера.
// Экспортируются на /metrics каждым бинарником через promhttp.
var (
	// PublishedTotal — опубликованные сообщения по имени publisher'а.
	PublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinobilet_mq_published_total",
		Help: "Messages successfully published, by publisher name.",
	}, []string{"publisher"})

	// PublishFailuresTotal — публикации, провалившиеся после всех попыток.
	PublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinobilet_mq_publish_failures_total",
		Help: "Publishes that failed after exhausting retries, by publisher name.",
	}, []string{"publisher"})

	// ReturnedTotal — сообщения, возвращённые брокером (basic.return).
	ReturnedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinobilet_mq_returned_total",
		Help: "Messages returned by the broker as undeliverable, by publisher name.",
	}, []string{"publisher"})

	// ConsumedTotal — обработанные сообщения по очереди и решению (ack/drop/requeue).
	ConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinobilet_mq_consumed_total",
		Help: "Messages consumed, by queue and acknowledgment decision.",
	}, []string{"queue", "decision"})

	// ConsumerErrorsTotal — паники и ошибки внутри handler'ов.
	ConsumerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinobilet_mq_consumer_errors_total",
		Help: "Handler panics/errors caught at the consumer boundary, by queue.",
	}, []string{"queue"})

	// HandlerDuration — длительность обработки сообщения handler'ом.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kinobilet_worker_handler_duration_seconds",
		Help:    "Duration of a single handler invocation, by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// PendingOperations — размер таблицы ожидающих операций на стороне API.
	PendingOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kinobilet_gateway_pending_operations",
		Help: "Requests awaiting a correlated reply in the in-memory pending table.",
	})

	// ExpiredReservationsTotal — бронирования, переведённые janitor'ом в EXPIRED.
	ExpiredReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kinobilet_janitor_expired_reservations_total",
		Help: "Stale pending reservations expired by the janitor sweep.",
	})
)
