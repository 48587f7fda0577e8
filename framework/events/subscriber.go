package events

import (
	"context"
	"reflect"
	"sync"

	"github.com/flowmesh/eventcore/framework/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subscriberBase is the shared building block for every Subscriber
// variant: an identity, a lifecycle, a local priority queue, and optional
// observability hooks.
type subscriberBase struct {
	id      string
	lc      *lifecycle
	queue   *PriorityQueue
	logger  zerolog.Logger
	metrics MetricsRecorder
}

func newSubscriberBase() *subscriberBase {
	return &subscriberBase{
		id:     uuid.NewString(),
		lc:     newLifecycle(),
		queue:  NewPriorityQueue(),
		logger: zerolog.Nop(),
	}
}

// WithLogger attaches a logger for lifecycle and processing diagnostics.
func (b *subscriberBase) WithLogger(l zerolog.Logger) *subscriberBase {
	b.logger = l
	return b
}

// WithMetrics attaches a metrics sink; nil detaches it.
func (b *subscriberBase) WithMetrics(m MetricsRecorder) *subscriberBase {
	b.metrics = m
	return b
}

// OnEvent buffers e into the subscriber's local priority queue; it never
// blocks and never runs handler code itself.
func (b *subscriberBase) OnEvent(e *Event) {
	if e == nil {
		return
	}
	b.queue.Push(e)
}

// Status returns the current lifecycle status.
func (b *subscriberBase) Status() Status { return b.lc.Status() }

// QueueSize returns the number of events currently buffered locally.
func (b *subscriberBase) QueueSize() int { return b.queue.Len() }

// lifecycleRun transitions CREATED/PAUSED/STOPPED -> RUNNING and
// subscribes s to d.
func lifecycleRun(s Subscriber, b *subscriberBase, d *Dispatcher) error {
	if err := b.lc.transition(StatusRunning); err != nil {
		return err
	}
	if d != nil {
		if err := d.Subscribe(s); err != nil {
			return err
		}
	}
	return nil
}

// lifecyclePause transitions RUNNING -> PAUSED and unsubscribes s from d,
// leaving the local queue and handler tables intact.
func lifecyclePause(s Subscriber, b *subscriberBase, d *Dispatcher) error {
	if err := b.lc.transition(StatusPaused); err != nil {
		return err
	}
	if d != nil {
		_ = d.Unsubscribe(s)
	}
	return nil
}

// lifecycleStop transitions RUNNING/PAUSED -> STOPPED, unsubscribes s from
// d, clears the local queue, and runs clear (handler tables/error stats)
// if provided.
func lifecycleStop(s Subscriber, b *subscriberBase, d *Dispatcher, clear func()) error {
	if err := b.lc.transition(StatusStopped); err != nil {
		return err
	}
	if d != nil {
		_ = d.Unsubscribe(s)
	}
	b.queue.Clear()
	if clear != nil {
		clear()
	}
	return nil
}

// lifecycleShutdown transitions any non-SHUTDOWN state to SHUTDOWN,
// unsubscribes s from d, clears the local queue, and runs clear if
// provided.
func lifecycleShutdown(s Subscriber, b *subscriberBase, d *Dispatcher, clear func()) error {
	if err := b.lc.transition(StatusShutdown); err != nil {
		return err
	}
	if d != nil {
		_ = d.Unsubscribe(s)
	}
	b.queue.Close()
	b.queue.Clear()
	if clear != nil {
		clear()
	}
	return nil
}

// BufferedSubscriber buffers raw events with no handler dispatch. An
// optional type filter restricts what drainFiltered returns.
type BufferedSubscriber struct {
	*subscriberBase
	dispatcher *Dispatcher

	filterMu sync.RWMutex
	filter   map[TypeKey]struct{}
}

// NewBufferedSubscriber constructs a BufferedSubscriber bound to d.
func NewBufferedSubscriber(d *Dispatcher) *BufferedSubscriber {
	return &BufferedSubscriber{
		subscriberBase: newSubscriberBase(),
		dispatcher:     d,
		filter:         make(map[TypeKey]struct{}),
	}
}

// WithLogger attaches a logger.
func (s *BufferedSubscriber) WithLogger(l zerolog.Logger) *BufferedSubscriber {
	s.logger = l
	return s
}

// WithMetrics attaches a metrics sink.
func (s *BufferedSubscriber) WithMetrics(m MetricsRecorder) *BufferedSubscriber {
	s.metrics = m
	return s
}

// AllowEventType adds T to the accepted-type filter used by DrainFiltered.
func AllowEventType[T any](s *BufferedSubscriber) {
	s.filterMu.Lock()
	s.filter[reflect.TypeOf((*T)(nil)).Elem()] = struct{}{}
	s.filterMu.Unlock()
}

// ClearFilter empties the accepted-type filter.
func (s *BufferedSubscriber) ClearFilter() {
	s.filterMu.Lock()
	s.filter = make(map[TypeKey]struct{})
	s.filterMu.Unlock()
}

// DrainAll removes and returns every buffered event in priority order.
func (s *BufferedSubscriber) DrainAll() []*Event { return s.queue.DrainAll() }

// DrainFiltered removes and returns buffered events whose type is in the
// accepted-type filter, discarding the rest. An empty filter accepts
// nothing.
func (s *BufferedSubscriber) DrainFiltered() []*Event {
	all := s.queue.DrainAll()
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	out := make([]*Event, 0, len(all))
	for _, e := range all {
		if _, ok := s.filter[e.typeKey]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (s *BufferedSubscriber) Run() error      { return lifecycleRun(s, s.subscriberBase, s.dispatcher) }
func (s *BufferedSubscriber) Pause() error    { return lifecyclePause(s, s.subscriberBase, s.dispatcher) }
func (s *BufferedSubscriber) Stop() error     { return lifecycleStop(s, s.subscriberBase, s.dispatcher, nil) }
func (s *BufferedSubscriber) Shutdown() error {
	return lifecycleShutdown(s, s.subscriberBase, s.dispatcher, nil)
}

// ProcessingSingleEventSubscriber is the shared base for subscribers that
// dispatch single-value events to type-keyed handlers (no error handling
// or statistics of its own; ProcessingSingleEventErrorSubscriber adds
// those).
type ProcessingSingleEventSubscriber struct {
	*subscriberBase

	handlersMu sync.RWMutex
	handlers   map[TypeKey]erasedHandler
}

func newProcessingSingleEventSubscriber() *ProcessingSingleEventSubscriber {
	return &ProcessingSingleEventSubscriber{
		subscriberBase: newSubscriberBase(),
		handlers:       make(map[TypeKey]erasedHandler),
	}
}

func (s *ProcessingSingleEventSubscriber) subscribeErased(key TypeKey, h erasedHandler) error {
	s.handlersMu.Lock()
	s.handlers[key] = h
	s.handlersMu.Unlock()
	return nil
}

// UnsubscribeEvent removes T's registered handler, if any.
func UnsubscribeEvent[T any](s *ProcessingSingleEventSubscriber) {
	s.handlersMu.Lock()
	delete(s.handlers, reflect.TypeOf((*T)(nil)).Elem())
	s.handlersMu.Unlock()
}

// ClearSubscribeEvents removes every registered handler.
func (s *ProcessingSingleEventSubscriber) ClearSubscribeEvents() {
	s.handlersMu.Lock()
	s.handlers = make(map[TypeKey]erasedHandler)
	s.handlersMu.Unlock()
}

// HandlerCount returns the number of distinct types with a registered
// handler.
func (s *ProcessingSingleEventSubscriber) HandlerCount() int {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers)
}

// processEvent looks up e's handler by TypeKey and invokes it. An event
// with no registered handler is silently dropped.
func (s *ProcessingSingleEventSubscriber) processEvent(ctx context.Context, e *Event) error {
	s.handlersMu.RLock()
	h, ok := s.handlers[e.typeKey]
	s.handlersMu.RUnlock()
	if !ok {
		return nil
	}
	return h(ctx, e)
}

// SubscribeEvent registers handler for single-value events of concrete
// type T, keyed by TypeKey::of(T). Re-subscribing T replaces the previous
// handler.
func SubscribeEvent[T any](s *ProcessingSingleEventSubscriber, handler SingleHandler[T]) error {
	if handler == nil {
		return core.NewError(core.ErrInvalidArgument, "handler must not be nil")
	}
	return s.subscribeErased(reflect.TypeOf((*T)(nil)).Elem(), eraseSingleHandler(handler))
}
