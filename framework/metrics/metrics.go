// Package metrics предоставляет систему метрик на основе OpenTelemetry,
// адаптированную под инструменты шины событий.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics собирает метрики диспетчера, подписчиков и планировщика шины
// событий. Реализует интерфейс events.MetricsRecorder структурно, без
// импорта пакета events, чтобы не создавать цикл metrics<->events.
type Metrics struct {
	meter                 metric.Meter
	queueSize             metric.Int64Histogram
	subscriberCount       metric.Int64Histogram
	eventsDispatchedTotal metric.Int64Counter
	handlerErrorsTotal    metric.Int64Counter
	schedulerHandles      metric.Int64Histogram

	mu            sync.RWMutex
	customMetrics map[string]interface{}
}

// NewMetrics создает новый сборщик метрик под именем меры "eventcore".
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("eventcore")

	queueSize, err := meter.Int64Histogram(
		"dispatcher_queue_size",
		metric.WithDescription("Observed depth of the dispatcher's global FIFO queue at publish time"),
	)
	if err != nil {
		return nil, err
	}

	subscriberCount, err := meter.Int64Histogram(
		"dispatcher_subscriber_count",
		metric.WithDescription("Number of subscribers an event was fanned out to"),
	)
	if err != nil {
		return nil, err
	}

	eventsDispatchedTotal, err := meter.Int64Counter(
		"events_dispatched_total",
		metric.WithDescription("Total number of events handed to subscribers, by event type"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrorsTotal, err := meter.Int64Counter(
		"handler_errors_total",
		metric.WithDescription("Total number of captured handler failures, by event type"),
	)
	if err != nil {
		return nil, err
	}

	schedulerHandles, err := meter.Int64Histogram(
		"scheduler_active_handles",
		metric.WithDescription("Number of live (not yet swept) scheduled task handles, observed after each sweep"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:                 meter,
		queueSize:             queueSize,
		subscriberCount:       subscriberCount,
		eventsDispatchedTotal: eventsDispatchedTotal,
		handlerErrorsTotal:    handlerErrorsTotal,
		schedulerHandles:      schedulerHandles,
		customMetrics:         make(map[string]interface{}),
	}, nil
}

// RecordQueueSize reports the dispatcher's current global queue depth as
// a point-in-time sample.
func (m *Metrics) RecordQueueSize(ctx context.Context, size int) {
	m.queueSize.Record(ctx, int64(size))
}

// RecordSubscriberCount reports how many subscribers the most recent
// dispatch fanned out to.
func (m *Metrics) RecordSubscriberCount(ctx context.Context, count int) {
	m.subscriberCount.Record(ctx, int64(count))
}

// RecordDispatch counts one event delivered to subscribers, labeled by
// its concrete payload type name.
func (m *Metrics) RecordDispatch(ctx context.Context, eventType string) {
	m.eventsDispatchedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("eventType", eventType),
	))
}

// RecordHandlerError counts one captured handler failure, labeled by the
// failing event's concrete payload type name.
func (m *Metrics) RecordHandlerError(ctx context.Context, eventType string) {
	m.handlerErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("eventType", eventType),
	))
}

// RecordSchedulerHandles reports the number of live handles held by a
// ScheduledTaskRegistry immediately after a sweep.
func (m *Metrics) RecordSchedulerHandles(ctx context.Context, count int) {
	m.schedulerHandles.Record(ctx, int64(count))
}

// Register регистрирует кастомную метрику для диагностики/экспорта за
// пределами зафиксированного набора инструментов выше.
func (m *Metrics) Register(name string, metric interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customMetrics[name] = metric
	return nil
}

// Unregister удаляет кастомную метрику.
func (m *Metrics) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customMetrics, name)
	return nil
}
