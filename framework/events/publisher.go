package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowmesh/eventcore/framework/core"
	"github.com/rs/zerolog"
)

// publisherBase is shared by every Publisher variant: a reference to the
// dispatcher it forwards to and a one-way shut-down flag. Unlike
// subscribers, publishers have no RUNNING/PAUSED lifecycle of their own —
// only "accepting work" or "shut down".
type publisherBase struct {
	dispatcher *Dispatcher
	shutdown   atomic.Bool
	logger     zerolog.Logger
}

func newPublisherBase(d *Dispatcher) *publisherBase {
	return &publisherBase{dispatcher: d, logger: zerolog.Nop()}
}

func (p *publisherBase) checkShutdown() error {
	if p.shutdown.Load() {
		return core.NewError(core.ErrInvalidState, "publisher is shut down")
	}
	return nil
}

func (p *publisherBase) publishEvent(ctx context.Context, e *Event) error {
	return p.dispatcher.Publish(ctx, e)
}

func requireEvent(e *Event) error {
	if e == nil {
		return core.NewError(core.ErrInvalidArgument, "event must not be nil")
	}
	return nil
}

// SyncPublisher publishes directly on the caller's goroutine.
type SyncPublisher struct {
	*publisherBase
}

// NewSyncPublisher constructs a SyncPublisher forwarding to d.
func NewSyncPublisher(d *Dispatcher) *SyncPublisher {
	return &SyncPublisher{publisherBase: newPublisherBase(d)}
}

// WithLogger attaches a logger.
func (p *SyncPublisher) WithLogger(l zerolog.Logger) *SyncPublisher {
	p.logger = l
	return p
}

// Publish forwards e to the dispatcher and returns its result.
func (p *SyncPublisher) Publish(ctx context.Context, e *Event) error {
	if err := requireEvent(e); err != nil {
		return err
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	return p.publishEvent(ctx, e)
}

// Shutdown marks the publisher as no longer accepting work. Idempotent.
func (p *SyncPublisher) Shutdown() error {
	p.shutdown.Store(true)
	return nil
}

// DefaultAsyncWorkers is the worker count NewAsyncPublisher uses when none
// is requested explicitly. A single worker keeps events flowing into the
// dispatcher in the order they were published.
const DefaultAsyncWorkers = 1

type asyncJob struct {
	ctx   context.Context
	event *Event
}

// AsyncPublisher hands events to a fixed worker pool, returning to the
// caller before the event is actually forwarded to the dispatcher.
type AsyncPublisher struct {
	*publisherBase
	jobs chan asyncJob
	wg   sync.WaitGroup
}

// NewAsyncPublisher constructs an AsyncPublisher with DefaultAsyncWorkers
// workers.
func NewAsyncPublisher(d *Dispatcher) *AsyncPublisher {
	return NewAsyncPublisherWithWorkers(d, DefaultAsyncWorkers)
}

// NewAsyncPublisherWithWorkers is NewAsyncPublisher with an explicit
// worker pool size.
func NewAsyncPublisherWithWorkers(d *Dispatcher, workers int) *AsyncPublisher {
	if workers <= 0 {
		workers = DefaultAsyncWorkers
	}
	p := &AsyncPublisher{
		publisherBase: newPublisherBase(d),
		jobs:          make(chan asyncJob, workers*64),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// WithLogger attaches a logger.
func (p *AsyncPublisher) WithLogger(l zerolog.Logger) *AsyncPublisher {
	p.logger = l
	return p
}

func (p *AsyncPublisher) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.publishEvent(job.ctx, job.event); err != nil {
			p.logger.Warn().Err(err).Msg("async publish failed")
		}
	}
}

// Publish queues e for a worker to forward; it blocks only if the internal
// queue is full, until ctx is done.
func (p *AsyncPublisher) Publish(ctx context.Context, e *Event) error {
	if err := requireEvent(e); err != nil {
		return err
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	select {
	case p.jobs <- asyncJob{ctx: ctx, event: e}:
		return nil
	case <-ctx.Done():
		return core.NewError(core.ErrInterrupted, "publish was interrupted waiting for worker capacity")
	}
}

// Shutdown stops accepting new work and waits for queued events to drain.
func (p *AsyncPublisher) Shutdown() error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(p.jobs)
	p.wg.Wait()
	return nil
}

// BatchPublisher accumulates events into a mutex-protected batch and
// forwards them on a background goroutine once the batch reaches
// batchSize, or immediately on Flush.
type BatchPublisher struct {
	*publisherBase
	batchSize int

	mu    sync.Mutex
	batch []*Event
	wg    sync.WaitGroup
}

// NewBatchPublisher constructs a BatchPublisher with the given batch
// size.
func NewBatchPublisher(d *Dispatcher, batchSize int) (*BatchPublisher, error) {
	if batchSize <= 0 {
		return nil, core.NewError(core.ErrInvalidArgument, "batchSize must be positive")
	}
	return &BatchPublisher{publisherBase: newPublisherBase(d), batchSize: batchSize}, nil
}

// WithLogger attaches a logger.
func (p *BatchPublisher) WithLogger(l zerolog.Logger) *BatchPublisher {
	p.logger = l
	return p
}

// Publish appends e to the current batch, flushing it on a background
// goroutine once it reaches batchSize.
func (p *BatchPublisher) Publish(ctx context.Context, e *Event) error {
	if err := requireEvent(e); err != nil {
		return err
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	p.mu.Lock()
	p.batch = append(p.batch, e)
	var flushed []*Event
	if len(p.batch) >= p.batchSize {
		flushed = p.batch
		p.batch = nil
	}
	p.mu.Unlock()
	if flushed != nil {
		p.launch(ctx, flushed)
	}
	return nil
}

func (p *BatchPublisher) launch(ctx context.Context, items []*Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, e := range items {
			if err := p.publishEvent(ctx, e); err != nil {
				p.logger.Warn().Err(err).Msg("batch publish failed")
			}
		}
	}()
}

// Flush forwards whatever is currently batched, regardless of size.
func (p *BatchPublisher) Flush(ctx context.Context) {
	p.mu.Lock()
	items := p.batch
	p.batch = nil
	p.mu.Unlock()
	if len(items) > 0 {
		p.launch(ctx, items)
	}
}

// PendingCount returns the number of events currently batched but not yet
// flushed.
func (p *BatchPublisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batch)
}

// Shutdown flushes any partial batch and waits for it to drain.
func (p *BatchPublisher) Shutdown() error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	p.Flush(context.Background())
	p.wg.Wait()
	return nil
}

// Predicate decides whether a ConditionalSyncPublisher/ConditionalAsyncPublisher
// forwards an event.
type Predicate func(e *Event) bool

// ConditionalSyncPublisher forwards an event synchronously only if its
// current predicate accepts it; rejected events are silently discarded.
type ConditionalSyncPublisher struct {
	*SyncPublisher
	condMu sync.RWMutex
	cond   Predicate
}

// NewConditionalSyncPublisher constructs a ConditionalSyncPublisher with
// the given initial predicate.
func NewConditionalSyncPublisher(d *Dispatcher, cond Predicate) (*ConditionalSyncPublisher, error) {
	if cond == nil {
		return nil, core.NewError(core.ErrInvalidArgument, "condition must not be nil")
	}
	return &ConditionalSyncPublisher{SyncPublisher: NewSyncPublisher(d), cond: cond}, nil
}

// SetCondition replaces the predicate used by future Publish calls.
func (p *ConditionalSyncPublisher) SetCondition(cond Predicate) error {
	if cond == nil {
		return core.NewError(core.ErrInvalidArgument, "condition must not be nil")
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	p.condMu.Lock()
	p.cond = cond
	p.condMu.Unlock()
	return nil
}

// Publish forwards e only if the current predicate accepts it.
func (p *ConditionalSyncPublisher) Publish(ctx context.Context, e *Event) error {
	if err := requireEvent(e); err != nil {
		return err
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	p.condMu.RLock()
	cond := p.cond
	p.condMu.RUnlock()
	if !cond(e) {
		return nil
	}
	return p.publishEvent(ctx, e)
}

// ConditionalAsyncPublisher is the asynchronous analogue of
// ConditionalSyncPublisher.
type ConditionalAsyncPublisher struct {
	*AsyncPublisher
	condMu sync.RWMutex
	cond   Predicate
}

// NewConditionalAsyncPublisher constructs a ConditionalAsyncPublisher with
// DefaultAsyncWorkers workers and the given initial predicate.
func NewConditionalAsyncPublisher(d *Dispatcher, cond Predicate) (*ConditionalAsyncPublisher, error) {
	if cond == nil {
		return nil, core.NewError(core.ErrInvalidArgument, "condition must not be nil")
	}
	return &ConditionalAsyncPublisher{AsyncPublisher: NewAsyncPublisher(d), cond: cond}, nil
}

// SetCondition replaces the predicate used by future Publish calls.
func (p *ConditionalAsyncPublisher) SetCondition(cond Predicate) error {
	if cond == nil {
		return core.NewError(core.ErrInvalidArgument, "condition must not be nil")
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	p.condMu.Lock()
	p.cond = cond
	p.condMu.Unlock()
	return nil
}

// Publish queues e for async forwarding only if the current predicate
// accepts it.
func (p *ConditionalAsyncPublisher) Publish(ctx context.Context, e *Event) error {
	if err := requireEvent(e); err != nil {
		return err
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	p.condMu.RLock()
	cond := p.cond
	p.condMu.RUnlock()
	if !cond(e) {
		return nil
	}
	select {
	case p.jobs <- asyncJob{ctx: ctx, event: e}:
		return nil
	case <-ctx.Done():
		return core.NewError(core.ErrInterrupted, "publish was interrupted waiting for worker capacity")
	}
}
