package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowmesh/eventcore/framework/core"
	"github.com/google/uuid"
)

// DefaultSweepPeriod is the sweeper interval DefaultScheduledTaskRegistry
// uses.
const DefaultSweepPeriod = time.Second

var (
	sharedMu    sync.Mutex
	sharedUsers int
)

func acquireSharedScheduler() {
	sharedMu.Lock()
	sharedUsers++
	sharedMu.Unlock()
}

func releaseSharedScheduler() {
	sharedMu.Lock()
	if sharedUsers > 0 {
		sharedUsers--
	}
	sharedMu.Unlock()
}

// SharedSchedulerUsers returns the current reference count on the
// process-wide shared scheduler.
func SharedSchedulerUsers() int {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return sharedUsers
}

// SharedSchedulerActive reports whether the process-wide shared scheduler
// is currently in use by at least one ScheduledTaskRegistry.
func SharedSchedulerActive() bool {
	return SharedSchedulerUsers() > 0
}

// TaskHandle identifies and controls a single scheduled delayed or
// periodic publish, registered with a ScheduledTaskRegistry for sweeping
// once it finishes or is cancelled.
type TaskHandle struct {
	id     string
	done   atomic.Bool
	cancel func()
}

// ID returns the handle's generated identifier. For periodic tasks this is
// not the caller-supplied id the task is keyed under.
func (h *TaskHandle) ID() string { return h.id }

// Done reports whether the task has fired (one-shot) or been cancelled.
func (h *TaskHandle) Done() bool { return h.done.Load() }

// Cancel stops the underlying timer/ticker. Idempotent.
func (h *TaskHandle) Cancel() {
	if h.done.CompareAndSwap(false, true) {
		h.cancel()
	}
}

// markDone flags a one-shot handle as finished after it has fired, without
// invoking cancel (there is nothing left to stop).
func (h *TaskHandle) markDone() {
	h.done.Store(true)
}

// ScheduledTaskRegistry is a process-wide shared scheduling resource: each
// registry instance holds its own list of outstanding TaskHandles and runs
// its own background sweeper that periodically drops finished/cancelled
// ones, while contributing one reference to the process-wide shared
// scheduler for as long as it is alive.
type ScheduledTaskRegistry struct {
	mu      sync.Mutex
	handles []*TaskHandle
	period  time.Duration
	stopped bool

	periodCh chan time.Duration
	doneCh   chan struct{}
	released atomic.Bool

	metrics MetricsRecorder
}

// NewScheduledTaskRegistry constructs a ScheduledTaskRegistry whose
// sweeper runs at the given period and acquires one reference on the
// shared scheduler.
func NewScheduledTaskRegistry(period time.Duration) (*ScheduledTaskRegistry, error) {
	if period <= 0 {
		return nil, core.NewError(core.ErrInvalidArgument, "period must be positive")
	}
	acquireSharedScheduler()
	r := &ScheduledTaskRegistry{
		period:   period,
		periodCh: make(chan time.Duration, 1),
		doneCh:   make(chan struct{}),
	}
	go r.sweepLoop()
	return r, nil
}

// DefaultScheduledTaskRegistry constructs a ScheduledTaskRegistry swept at
// DefaultSweepPeriod.
func DefaultScheduledTaskRegistry() (*ScheduledTaskRegistry, error) {
	return NewScheduledTaskRegistry(DefaultSweepPeriod)
}

// WithMetrics attaches a metrics sink reporting live handle counts after
// each sweep.
func (r *ScheduledTaskRegistry) WithMetrics(m MetricsRecorder) *ScheduledTaskRegistry {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
	return r
}

func (r *ScheduledTaskRegistry) getPeriod() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.period
}

// SetPeriod changes the sweeper's interval, taking effect on its next
// wait without losing any registered handle.
func (r *ScheduledTaskRegistry) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return core.NewError(core.ErrInvalidArgument, "period must be positive")
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return core.NewError(core.ErrInvalidState, "registry is stopped")
	}
	r.period = period
	r.mu.Unlock()
	select {
	case r.periodCh <- period:
	default:
	}
	return nil
}

func (r *ScheduledTaskRegistry) sweepLoop() {
	timer := time.NewTimer(r.getPeriod())
	defer timer.Stop()
	for {
		select {
		case <-r.doneCh:
			return
		case newPeriod := <-r.periodCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(newPeriod)
		case <-timer.C:
			r.sweep()
			timer.Reset(r.getPeriod())
		}
	}
}

func (r *ScheduledTaskRegistry) sweep() {
	r.mu.Lock()
	kept := r.handles[:0]
	for _, h := range r.handles {
		if !h.Done() {
			kept = append(kept, h)
		}
	}
	r.handles = kept
	n := len(r.handles)
	m := r.metrics
	r.mu.Unlock()
	if m != nil {
		m.RecordSchedulerHandles(context.Background(), n)
	}
}

// Add registers h with this registry so it is dropped once finished.
func (r *ScheduledTaskRegistry) Add(h *TaskHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return core.NewError(core.ErrInvalidState, "registry is stopped")
	}
	r.handles = append(r.handles, h)
	return nil
}

// NewHandle allocates a fresh TaskHandle with a generated ID and the given
// cancel function, already registered with this registry.
func (r *ScheduledTaskRegistry) NewHandle(cancel func()) (*TaskHandle, error) {
	h := &TaskHandle{id: uuid.NewString(), cancel: cancel}
	if err := r.Add(h); err != nil {
		return nil, err
	}
	return h, nil
}

// GetHandles returns a snapshot of the currently registered (not yet
// swept) handles.
func (r *ScheduledTaskRegistry) GetHandles() ([]*TaskHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, core.NewError(core.ErrInvalidState, "registry is stopped")
	}
	out := make([]*TaskHandle, len(r.handles))
	copy(out, r.handles)
	return out, nil
}

// CancelAll cancels every currently registered handle without stopping
// the registry itself.
func (r *ScheduledTaskRegistry) CancelAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return core.NewError(core.ErrInvalidState, "registry is stopped")
	}
	for _, h := range r.handles {
		h.Cancel()
	}
	return nil
}

// release drops this registry's single reference to the shared
// scheduler. Guarded so repeated calls (e.g. Stop followed by
// StopAndShutdown) never double-decrement.
func (r *ScheduledTaskRegistry) release() {
	if r.released.CompareAndSwap(false, true) {
		releaseSharedScheduler()
	}
}

// Stop halts the sweeper and releases this registry's shared-scheduler
// reference, returning the handles that were still registered without
// cancelling them.
func (r *ScheduledTaskRegistry) Stop() ([]*TaskHandle, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, core.NewError(core.ErrInvalidState, "registry is already stopped")
	}
	r.stopped = true
	out := make([]*TaskHandle, len(r.handles))
	copy(out, r.handles)
	r.mu.Unlock()
	close(r.doneCh)
	r.release()
	return out, nil
}

// StopAndShutdown cancels every registered handle, halts the sweeper, and
// releases this registry's shared-scheduler reference.
func (r *ScheduledTaskRegistry) StopAndShutdown() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	handles := r.handles
	r.handles = nil
	r.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
	close(r.doneCh)
	r.release()
	return nil
}
