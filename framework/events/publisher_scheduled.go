package events

import (
	"context"
	"sync"
	"time"

	"github.com/flowmesh/eventcore/framework/core"
	"github.com/google/uuid"
)

// DelayedPublisher publishes a single event once, after a fixed delay,
// via a ScheduledTaskRegistry. Each call to Publish schedules an
// independent one-shot task.
type DelayedPublisher struct {
	*publisherBase
	registry *ScheduledTaskRegistry

	mu      sync.Mutex
	handles []*TaskHandle
}

// NewDelayedPublisher constructs a DelayedPublisher that registers its
// scheduled tasks with registry.
func NewDelayedPublisher(d *Dispatcher, registry *ScheduledTaskRegistry) *DelayedPublisher {
	return &DelayedPublisher{publisherBase: newPublisherBase(d), registry: registry}
}

// Publish schedules e to be forwarded to the dispatcher after delay,
// returning a handle that can be used to cancel it before it fires.
func (p *DelayedPublisher) Publish(ctx context.Context, e *Event, delay time.Duration) (*TaskHandle, error) {
	if err := requireEvent(e); err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, core.NewError(core.ErrInvalidArgument, "delay must not be negative")
	}
	if err := p.checkShutdown(); err != nil {
		return nil, err
	}

	handle := &TaskHandle{id: uuid.NewString()}
	timer := time.AfterFunc(delay, func() {
		_ = p.publishEvent(ctx, e)
		handle.markDone()
	})
	handle.cancel = func() { timer.Stop() }
	if err := p.registry.Add(handle); err != nil {
		timer.Stop()
		return nil, err
	}
	p.mu.Lock()
	p.handles = append(p.handles, handle)
	p.mu.Unlock()
	return handle, nil
}

// CancelAllPending cancels every delayed publish scheduled by this
// publisher that has not yet fired.
func (p *DelayedPublisher) CancelAllPending() {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// PendingCount returns the number of scheduled publishes that have
// neither fired nor been cancelled.
func (p *DelayedPublisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.handles {
		if !h.Done() {
			n++
		}
	}
	return n
}

// Shutdown cancels every pending delayed publish and stops accepting new
// work.
func (p *DelayedPublisher) Shutdown() error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	p.CancelAllPending()
	return nil
}

// PeriodicPublisher republishes an event at a fixed period, keyed by a
// caller-supplied ID so a later Publish with the same ID replaces the
// earlier schedule.
type PeriodicPublisher struct {
	*publisherBase
	registry *ScheduledTaskRegistry

	mu    sync.Mutex
	tasks map[string]*TaskHandle
}

// NewPeriodicPublisher constructs a PeriodicPublisher that registers its
// scheduled tasks with registry.
func NewPeriodicPublisher(d *Dispatcher, registry *ScheduledTaskRegistry) *PeriodicPublisher {
	return &PeriodicPublisher{
		publisherBase: newPublisherBase(d),
		registry:      registry,
		tasks:         make(map[string]*TaskHandle),
	}
}

// Publish (re)schedules e to be forwarded to the dispatcher every period,
// starting one period from now, under id. A prior schedule under the same
// id is cancelled and replaced.
func (p *PeriodicPublisher) Publish(ctx context.Context, e *Event, id string, period time.Duration) (*TaskHandle, error) {
	if err := requireEvent(e); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, core.NewError(core.ErrInvalidArgument, "id must not be empty")
	}
	if period <= 0 {
		return nil, core.NewError(core.ErrInvalidArgument, "period must be positive")
	}
	if err := p.checkShutdown(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.tasks[id]; ok {
		existing.Cancel()
	}
	p.mu.Unlock()

	ticker := time.NewTicker(period)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = p.publishEvent(ctx, e)
			}
		}
	}()

	var once sync.Once
	handle, err := p.registry.NewHandle(func() { once.Do(func() { close(done) }) })
	if err != nil {
		once.Do(func() { close(done) })
		return nil, err
	}
	p.mu.Lock()
	p.tasks[id] = handle
	p.mu.Unlock()
	return handle, nil
}

// Cancel stops the periodic publish scheduled under id, if any.
func (p *PeriodicPublisher) Cancel(id string) {
	p.mu.Lock()
	h, ok := p.tasks[id]
	if ok {
		delete(p.tasks, id)
	}
	p.mu.Unlock()
	if ok {
		h.Cancel()
	}
}

// ActiveTaskIDs returns the IDs of periodic publishes not yet cancelled.
func (p *PeriodicPublisher) ActiveTaskIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.tasks))
	for id, h := range p.tasks {
		if !h.Done() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown cancels every active periodic publish and stops accepting new
// work.
func (p *PeriodicPublisher) Shutdown() error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = make(map[string]*TaskHandle)
	p.mu.Unlock()
	for _, h := range tasks {
		h.Cancel()
	}
	return nil
}
