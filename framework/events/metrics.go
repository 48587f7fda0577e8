package events

import "context"

// MetricsRecorder is the optional instrumentation hook accepted by
// Dispatcher.WithMetrics and the scheduler. framework/metrics.Metrics
// implements this interface; tests and callers that don't need metrics
// simply never attach one (a nil MetricsRecorder is always safe to call
// through, since every call site checks for nil first).
type MetricsRecorder interface {
	// RecordQueueSize reports the dispatcher's current global queue depth.
	RecordQueueSize(ctx context.Context, size int)
	// RecordSubscriberCount reports how many subscribers a dispatched
	// event fanned out to.
	RecordSubscriberCount(ctx context.Context, count int)
	// RecordDispatch counts one event handed to subscribers, labeled by
	// its concrete payload type name.
	RecordDispatch(ctx context.Context, eventType string)
	// RecordHandlerError counts one captured handler failure, labeled by
	// the failing event's concrete payload type name.
	RecordHandlerError(ctx context.Context, eventType string)
	// RecordSchedulerHandles reports the number of live (not yet swept)
	// handles held by a ScheduledTaskRegistry.
	RecordSchedulerHandles(ctx context.Context, count int)
}
