package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/flowmesh/eventcore/framework/core"
)

// ProcessingSingleEventErrorSubscriber adds per-type error handlers and
// running error statistics on top of ProcessingSingleEventSubscriber. A
// handler panic is recovered and treated like a returned error.
type ProcessingSingleEventErrorSubscriber struct {
	*ProcessingSingleEventSubscriber

	errHandlersMu sync.RWMutex
	errorHandlers map[TypeKey]ErrorHandler

	totalErrors     atomic.Int64
	lastMu          sync.RWMutex
	lastException   error
	lastFailedEvent *Event
}

func newProcessingSingleEventErrorSubscriber() *ProcessingSingleEventErrorSubscriber {
	return &ProcessingSingleEventErrorSubscriber{
		ProcessingSingleEventSubscriber: newProcessingSingleEventSubscriber(),
		errorHandlers:                   make(map[TypeKey]ErrorHandler),
	}
}

// SubscribeErrorHandler registers an error handler invoked whenever a
// handler for event type T fails, keyed the same way as SubscribeEvent.
func SubscribeErrorHandler[T any](s *ProcessingSingleEventErrorSubscriber, handler ErrorHandler) error {
	if handler == nil {
		return core.NewError(core.ErrInvalidArgument, "error handler must not be nil")
	}
	s.errHandlersMu.Lock()
	s.errorHandlers[reflect.TypeOf((*T)(nil)).Elem()] = handler
	s.errHandlersMu.Unlock()
	return nil
}

// TotalErrorCount returns the number of handler failures recorded since
// construction or the last ClearErrorStatistics/Stop/Shutdown.
func (s *ProcessingSingleEventErrorSubscriber) TotalErrorCount() int64 {
	return s.totalErrors.Load()
}

// LastException returns the most recently captured handler failure, or
// nil if none has occurred.
func (s *ProcessingSingleEventErrorSubscriber) LastException() error {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastException
}

// LastFailedEvent returns the event whose handler most recently failed.
func (s *ProcessingSingleEventErrorSubscriber) LastFailedEvent() *Event {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastFailedEvent
}

// ClearErrorStatistics resets the error counter and last-failure record
// without touching registered handlers.
func (s *ProcessingSingleEventErrorSubscriber) ClearErrorStatistics() {
	s.totalErrors.Store(0)
	s.lastMu.Lock()
	s.lastException = nil
	s.lastFailedEvent = nil
	s.lastMu.Unlock()
}

// clearAll resets both handler tables and error statistics, the uniform
// behavior STOP/SHUTDOWN apply to every error-aware subscriber variant.
func (s *ProcessingSingleEventErrorSubscriber) clearAll() {
	s.ClearSubscribeEvents()
	s.errHandlersMu.Lock()
	s.errorHandlers = make(map[TypeKey]ErrorHandler)
	s.errHandlersMu.Unlock()
	s.ClearErrorStatistics()
}

// processEventWithRecovery runs e's handler, recovering a panic as an
// error, and on failure records statistics and invokes e's error handler
// (if any) with its own panic recovery so a broken error handler cannot
// take down the consumer loop.
func (s *ProcessingSingleEventErrorSubscriber) processEventWithRecovery(ctx context.Context, e *Event) {
	err := s.runProtected(ctx, e)
	if err == nil {
		return
	}
	s.totalErrors.Add(1)
	s.lastMu.Lock()
	s.lastException = err
	s.lastFailedEvent = e
	s.lastMu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordHandlerError(ctx, e.typeKey.String())
	}
	s.logger.Warn().Err(err).Str("eventType", e.typeKey.String()).Msg("event handler failed")

	s.errHandlersMu.RLock()
	h, ok := s.errorHandlers[e.typeKey]
	s.errHandlersMu.RUnlock()
	if !ok {
		return
	}
	s.runErrorHandler(ctx, e, err, h)
}

func (s *ProcessingSingleEventErrorSubscriber) runProtected(ctx context.Context, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler panic: %v", r)
		}
	}()
	return s.processEvent(ctx, e)
}

func (s *ProcessingSingleEventErrorSubscriber) runErrorHandler(ctx context.Context, e *Event, err error, h ErrorHandler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("eventType", e.typeKey.String()).Msg("error handler panicked")
		}
	}()
	h(ctx, e, err)
}

// SyncSingleSubscriber buffers events locally and processes them on the
// caller's own goroutine via ProcessEvents, rather than a background loop.
type SyncSingleSubscriber struct {
	*ProcessingSingleEventErrorSubscriber
	dispatcher *Dispatcher
}

// NewSyncSingleSubscriber constructs a SyncSingleSubscriber bound to d.
func NewSyncSingleSubscriber(d *Dispatcher) *SyncSingleSubscriber {
	return &SyncSingleSubscriber{
		ProcessingSingleEventErrorSubscriber: newProcessingSingleEventErrorSubscriber(),
		dispatcher:                           d,
	}
}

func (s *SyncSingleSubscriber) Run() error   { return lifecycleRun(s, s.subscriberBase, s.dispatcher) }
func (s *SyncSingleSubscriber) Pause() error { return lifecyclePause(s, s.subscriberBase, s.dispatcher) }
func (s *SyncSingleSubscriber) Stop() error {
	return lifecycleStop(s, s.subscriberBase, s.dispatcher, s.clearAll)
}
func (s *SyncSingleSubscriber) Shutdown() error {
	return lifecycleShutdown(s, s.subscriberBase, s.dispatcher, s.clearAll)
}

// ProcessEvents drains and processes every currently buffered event on the
// calling goroutine, returning how many it processed.
func (s *SyncSingleSubscriber) ProcessEvents(ctx context.Context) int {
	n := 0
	for {
		e, ok := s.queue.TryPop()
		if !ok {
			return n
		}
		s.processEventWithRecovery(ctx, e)
		n++
	}
}

// AsyncSingleSubscriber processes buffered events on its own background
// goroutine, started by Run and stopped by Pause/Stop/Shutdown.
type AsyncSingleSubscriber struct {
	*ProcessingSingleEventErrorSubscriber
	dispatcher *Dispatcher

	loopMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAsyncSingleSubscriber constructs an AsyncSingleSubscriber bound to d.
func NewAsyncSingleSubscriber(d *Dispatcher) *AsyncSingleSubscriber {
	return &AsyncSingleSubscriber{
		ProcessingSingleEventErrorSubscriber: newProcessingSingleEventErrorSubscriber(),
		dispatcher:                           d,
	}
}

func (s *AsyncSingleSubscriber) Run() error {
	if err := lifecycleRun(s, s.subscriberBase, s.dispatcher); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopMu.Lock()
	s.cancel = cancel
	s.loopMu.Unlock()
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *AsyncSingleSubscriber) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		e, ok := s.queue.Pop(ctx)
		if !ok {
			return
		}
		s.processEventWithRecovery(ctx, e)
	}
}

func (s *AsyncSingleSubscriber) stopLoop() {
	s.loopMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.loopMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *AsyncSingleSubscriber) Pause() error {
	s.stopLoop()
	return lifecyclePause(s, s.subscriberBase, s.dispatcher)
}

func (s *AsyncSingleSubscriber) Stop() error {
	s.stopLoop()
	return lifecycleStop(s, s.subscriberBase, s.dispatcher, s.clearAll)
}

func (s *AsyncSingleSubscriber) Shutdown() error {
	s.stopLoop()
	return lifecycleShutdown(s, s.subscriberBase, s.dispatcher, s.clearAll)
}
