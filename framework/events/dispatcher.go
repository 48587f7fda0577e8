package events

import (
	"context"
	"sync"

	"github.com/flowmesh/eventcore/framework/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscriber is anything the Dispatcher can fan events out to. OnEvent must
// never block the dispatcher's delivery loop for long — implementations
// buffer into their own local queue and process asynchronously or on
// demand.
type Subscriber interface {
	OnEvent(event *Event)
	Run() error
	Pause() error
	Stop() error
	Shutdown() error
	Status() Status
}

// Dispatcher is the process-wide event router: publishers push onto its
// unbounded global FIFO queue, a single background goroutine drains that
// queue and fans each event out to every currently subscribed Subscriber.
type Dispatcher struct {
	id    string
	lc    *lifecycle
	queue *FIFOQueue

	subMu       sync.RWMutex
	subscribers map[Subscriber]struct{}

	ctxMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc

	startOnce sync.Once
	wg        sync.WaitGroup

	logger  zerolog.Logger
	metrics MetricsRecorder
}

var (
	instance     *Dispatcher
	instanceOnce sync.Once
)

// Instance returns the process-wide Dispatcher singleton, constructing it
// on first access. Most programs use only this; NewDispatcher is exposed
// separately for tests that need isolated instances.
func Instance() *Dispatcher {
	instanceOnce.Do(func() {
		instance = NewDispatcher()
	})
	return instance
}

// NewDispatcher constructs a standalone Dispatcher in StatusCreated. Use
// Instance() for the shared process-wide singleton; use NewDispatcher
// directly for test isolation.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		id:          uuid.NewString(),
		lc:          newLifecycle(),
		queue:       NewFIFOQueue(),
		subscribers: make(map[Subscriber]struct{}),
		logger:      zerolog.Nop(),
	}
}

// WithLogger attaches a logger for lifecycle and delivery diagnostics.
func (d *Dispatcher) WithLogger(l zerolog.Logger) *Dispatcher {
	d.logger = l
	return d
}

// WithMetrics attaches a metrics sink; nil detaches it.
func (d *Dispatcher) WithMetrics(m MetricsRecorder) *Dispatcher {
	d.metrics = m
	return d
}

// ID returns this dispatcher instance's identifier.
func (d *Dispatcher) ID() string { return d.id }

// Status returns the current lifecycle status.
func (d *Dispatcher) Status() Status { return d.lc.Status() }

// SubscriberCount returns the number of currently registered subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	return len(d.subscribers)
}

// QueueSize returns the current depth of the global FIFO queue.
func (d *Dispatcher) QueueSize() int { return d.queue.Len() }

// Publish enqueues e for delivery. It fails with InvalidArgument if e is
// nil and InvalidState unless the dispatcher is RUNNING.
func (d *Dispatcher) Publish(ctx context.Context, e *Event) error {
	if e == nil {
		return core.NewError(core.ErrInvalidArgument, "event must not be nil")
	}
	if d.Status() != StatusRunning {
		return core.NewError(core.ErrInvalidState, "dispatcher is not running")
	}
	d.queue.Push(e)
	if d.metrics != nil {
		d.metrics.RecordQueueSize(ctx, d.queue.Len())
	}
	return nil
}

// Subscribe registers s to receive future dispatched events. It does not
// change s's own lifecycle status; Subscriber implementations call this
// from their own Run().
func (d *Dispatcher) Subscribe(s Subscriber) error {
	if s == nil {
		return core.NewError(core.ErrInvalidArgument, "subscriber must not be nil")
	}
	d.subMu.Lock()
	d.subscribers[s] = struct{}{}
	d.subMu.Unlock()
	return nil
}

// Unsubscribe removes s from the registry. Safe to call even if s was
// never subscribed.
func (d *Dispatcher) Unsubscribe(s Subscriber) error {
	if s == nil {
		return core.NewError(core.ErrInvalidArgument, "subscriber must not be nil")
	}
	d.subMu.Lock()
	delete(d.subscribers, s)
	d.subMu.Unlock()
	return nil
}

// Run transitions CREATED/PAUSED/STOPPED -> RUNNING and, on first entry,
// starts the background dispatch loop.
func (d *Dispatcher) Run() error {
	if err := d.lc.transition(StatusRunning); err != nil {
		return err
	}
	d.ctxMu.Lock()
	d.runCtx, d.runCancel = context.WithCancel(context.Background())
	d.ctxMu.Unlock()
	d.logger.Debug().Str("dispatcher", d.id).Msg("dispatcher running")
	d.queue.Wake()
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.loop()
	})
	return nil
}

// Pause transitions RUNNING -> PAUSED: the dispatch loop stops pulling
// from the queue but queued events and subscribers are preserved.
func (d *Dispatcher) Pause() error {
	if err := d.lc.transition(StatusPaused); err != nil {
		return err
	}
	d.logger.Debug().Str("dispatcher", d.id).Msg("dispatcher paused")
	d.cancelRunCtx()
	d.queue.Wake()
	return nil
}

// Stop transitions RUNNING/PAUSED -> STOPPED: the queue is cleared and
// subscribers are dropped, but the dispatcher can Run() again.
func (d *Dispatcher) Stop() error {
	if err := d.lc.transition(StatusStopped); err != nil {
		return err
	}
	d.logger.Debug().Str("dispatcher", d.id).Msg("dispatcher stopped")
	d.cancelRunCtx()
	d.queue.Clear()
	d.resetSubscribers()
	d.queue.Wake()
	return nil
}

// Shutdown transitions to SHUTDOWN, an absorbing terminal state: the queue
// is cleared, closed, subscribers dropped, and the dispatch loop exits.
// Shutdown blocks until the loop has returned.
func (d *Dispatcher) Shutdown() error {
	if err := d.lc.transition(StatusShutdown); err != nil {
		return err
	}
	d.logger.Debug().Str("dispatcher", d.id).Msg("dispatcher shutting down")
	d.cancelRunCtx()
	d.queue.Clear()
	d.resetSubscribers()
	d.queue.Wake()
	d.queue.Close()
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) resetSubscribers() {
	d.subMu.Lock()
	d.subscribers = make(map[Subscriber]struct{})
	d.subMu.Unlock()
}

func (d *Dispatcher) cancelRunCtx() {
	d.ctxMu.Lock()
	if d.runCancel != nil {
		d.runCancel()
	}
	d.ctxMu.Unlock()
}

func (d *Dispatcher) currentRunCtx() context.Context {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if d.runCtx == nil {
		return context.Background()
	}
	return d.runCtx
}

// loop is the single background dispatch goroutine, started once on first
// Run() and running until Shutdown().
func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		status := d.Status()
		if status == StatusShutdown {
			return
		}
		if status != StatusRunning {
			d.queue.WaitForChange()
			continue
		}
		e, ok := d.queue.Pop(d.currentRunCtx())
		if !ok {
			continue
		}
		d.deliver(context.Background(), e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e *Event) {
	d.subMu.RLock()
	subs := make([]Subscriber, 0, len(d.subscribers))
	for s := range d.subscribers {
		subs = append(subs, s)
	}
	d.subMu.RUnlock()

	for _, s := range subs {
		d.deliverOne(s, e)
	}

	if d.metrics != nil {
		d.metrics.RecordDispatch(ctx, e.typeKey.String())
		d.metrics.RecordSubscriberCount(ctx, len(subs))
	}
}

func (d *Dispatcher) deliverOne(s Subscriber, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("dispatcher", d.id).Msg("subscriber panicked receiving event")
		}
	}()
	s.OnEvent(e)
}
