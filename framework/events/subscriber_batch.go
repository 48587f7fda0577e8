package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/flowmesh/eventcore/framework/core"
)

// DefaultBatchWorkers is the number of concurrent list-handler workers a
// BatchListSubscriber starts when none is requested explicitly.
const DefaultBatchWorkers = 2

type batchJob struct {
	handler erasedListHandler
	errKey  TypeKey
	list    *Event
}

// BatchListSubscriber accumulates events per concrete type into pending
// lists of up to batchSize; when a type's list fills it is wrapped as a
// ListEvent and handed to a worker pool running that type's list handler.
type BatchListSubscriber struct {
	*subscriberBase
	dispatcher *Dispatcher
	batchSize  int
	workers    int

	handlersMu sync.RWMutex
	handlers   map[TypeKey]erasedListHandler

	errHandlersMu sync.RWMutex
	errorHandlers map[TypeKey]ErrorHandler

	pendingMu sync.Mutex
	pending   map[TypeKey][]*Event

	totalErrors     atomic.Int64
	lastMu          sync.RWMutex
	lastException   error
	lastFailedEvent *Event

	jobs   chan batchJob
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBatchListSubscriber constructs a BatchListSubscriber bound to d with
// the given per-type batch size and DefaultBatchWorkers concurrent
// workers.
func NewBatchListSubscriber(d *Dispatcher, batchSize int) (*BatchListSubscriber, error) {
	return NewBatchListSubscriberWithWorkers(d, batchSize, DefaultBatchWorkers)
}

// NewBatchListSubscriberWithWorkers is NewBatchListSubscriber with an
// explicit worker pool size.
func NewBatchListSubscriberWithWorkers(d *Dispatcher, batchSize, workers int) (*BatchListSubscriber, error) {
	if batchSize <= 0 {
		return nil, core.NewError(core.ErrInvalidArgument, "batchSize must be positive")
	}
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	return &BatchListSubscriber{
		subscriberBase: newSubscriberBase(),
		dispatcher:     d,
		batchSize:      batchSize,
		workers:        workers,
		handlers:       make(map[TypeKey]erasedListHandler),
		errorHandlers:  make(map[TypeKey]ErrorHandler),
		pending:        make(map[TypeKey][]*Event),
	}, nil
}

// SubscribeListEvent registers handler for list events accumulated from
// single-value events of concrete type T.
func SubscribeListEvent[T any](s *BatchListSubscriber, handler ListHandler[T]) error {
	if handler == nil {
		return core.NewError(core.ErrInvalidArgument, "handler must not be nil")
	}
	s.handlersMu.Lock()
	s.handlers[reflect.TypeOf((*T)(nil)).Elem()] = eraseListHandler(handler)
	s.handlersMu.Unlock()
	return nil
}

// SubscribeListErrorHandler registers an error handler invoked whenever
// T's list handler fails.
func SubscribeListErrorHandler[T any](s *BatchListSubscriber, handler ErrorHandler) error {
	if handler == nil {
		return core.NewError(core.ErrInvalidArgument, "error handler must not be nil")
	}
	s.errHandlersMu.Lock()
	s.errorHandlers[reflect.TypeOf((*T)(nil)).Elem()] = handler
	s.errHandlersMu.Unlock()
	return nil
}

// TotalErrorCount returns the number of list-handler failures recorded.
func (s *BatchListSubscriber) TotalErrorCount() int64 { return s.totalErrors.Load() }

// LastException returns the most recently captured list-handler failure.
func (s *BatchListSubscriber) LastException() error {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastException
}

// LastFailedEvent returns the ListEvent whose handler most recently
// failed.
func (s *BatchListSubscriber) LastFailedEvent() *Event {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastFailedEvent
}

// ClearErrorStatistics resets the error counter and last-failure record.
func (s *BatchListSubscriber) ClearErrorStatistics() {
	s.totalErrors.Store(0)
	s.lastMu.Lock()
	s.lastException = nil
	s.lastFailedEvent = nil
	s.lastMu.Unlock()
}

func (s *BatchListSubscriber) clearAll() {
	s.handlersMu.Lock()
	s.handlers = make(map[TypeKey]erasedListHandler)
	s.handlersMu.Unlock()
	s.errHandlersMu.Lock()
	s.errorHandlers = make(map[TypeKey]ErrorHandler)
	s.errHandlersMu.Unlock()
	s.pendingMu.Lock()
	s.pending = make(map[TypeKey][]*Event)
	s.pendingMu.Unlock()
	s.ClearErrorStatistics()
}

func (s *BatchListSubscriber) Run() error {
	if err := lifecycleRun(s, s.subscriberBase, s.dispatcher); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.jobs = make(chan batchJob, s.workers*4)
	jobs := s.jobs
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, jobs)
	}
	s.wg.Add(1)
	go s.collectLoop(ctx)
	return nil
}

func (s *BatchListSubscriber) stopLoops() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	jobs := s.jobs
	s.jobs = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if jobs != nil {
		close(jobs)
	}
}

func (s *BatchListSubscriber) Pause() error {
	s.stopLoops()
	return lifecyclePause(s, s.subscriberBase, s.dispatcher)
}

func (s *BatchListSubscriber) Stop() error {
	s.stopLoops()
	return lifecycleStop(s, s.subscriberBase, s.dispatcher, s.clearAll)
}

func (s *BatchListSubscriber) Shutdown() error {
	s.stopLoops()
	return lifecycleShutdown(s, s.subscriberBase, s.dispatcher, s.clearAll)
}

// collectLoop drains the local priority queue, appending each event to its
// type's pending list and submitting a job once that list reaches
// batchSize.
func (s *BatchListSubscriber) collectLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		e, ok := s.queue.Pop(ctx)
		if !ok {
			return
		}
		s.accumulate(ctx, e)
	}
}

func (s *BatchListSubscriber) accumulate(ctx context.Context, e *Event) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[e.typeKey]
	s.handlersMu.RUnlock()
	if !ok {
		return
	}

	s.pendingMu.Lock()
	s.pending[e.typeKey] = append(s.pending[e.typeKey], e)
	var flushed []*Event
	if len(s.pending[e.typeKey]) >= s.batchSize {
		flushed = s.pending[e.typeKey]
		delete(s.pending, e.typeKey)
	}
	s.pendingMu.Unlock()

	if flushed != nil {
		s.submit(ctx, e.typeKey, handler, flushed)
	}
}

func (s *BatchListSubscriber) submit(ctx context.Context, key TypeKey, handler erasedListHandler, items []*Event) {
	listEvent := &Event{data: items, typeKey: key, priority: items[0].priority, createdAt: items[0].createdAt, isList: true}
	job := batchJob{handler: handler, errKey: key, list: listEvent}
	s.mu.Lock()
	jobs := s.jobs
	s.mu.Unlock()
	if jobs == nil {
		return
	}
	select {
	case jobs <- job:
	case <-ctx.Done():
	}
}

// Flush submits every non-empty pending list immediately, regardless of
// whether it has reached batchSize. While the subscriber is not running
// there are no workers to hand lists to, so Flush leaves the pending
// lists in place for after resume.
func (s *BatchListSubscriber) Flush(ctx context.Context) {
	s.mu.Lock()
	running := s.jobs != nil
	s.mu.Unlock()
	if !running {
		return
	}

	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[TypeKey][]*Event)
	s.pendingMu.Unlock()

	for key, items := range pending {
		if len(items) == 0 {
			continue
		}
		s.handlersMu.RLock()
		handler, ok := s.handlers[key]
		s.handlersMu.RUnlock()
		if !ok {
			continue
		}
		s.submit(ctx, key, handler, items)
	}
}

func (s *BatchListSubscriber) worker(ctx context.Context, jobs chan batchJob) {
	defer s.wg.Done()
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			s.runJob(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (s *BatchListSubscriber) runJob(ctx context.Context, job batchJob) {
	err := s.runProtected(ctx, job)
	if err == nil {
		return
	}
	s.totalErrors.Add(1)
	s.lastMu.Lock()
	s.lastException = err
	s.lastFailedEvent = job.list
	s.lastMu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordHandlerError(ctx, job.errKey.String())
	}
	s.logger.Warn().Err(err).Str("eventType", job.errKey.String()).Msg("list event handler failed")

	s.errHandlersMu.RLock()
	h, ok := s.errorHandlers[job.errKey]
	s.errHandlersMu.RUnlock()
	if !ok {
		return
	}
	s.runErrorHandler(ctx, job, err, h)
}

func (s *BatchListSubscriber) runProtected(ctx context.Context, job batchJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: list handler panic: %v", r)
		}
	}()
	return job.handler(ctx, job.list)
}

func (s *BatchListSubscriber) runErrorHandler(ctx context.Context, job batchJob, err error, h ErrorHandler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("eventType", job.errKey.String()).Msg("list error handler panicked")
		}
	}()
	h(ctx, job.list, err)
}
