package events

import (
	"sync"
	"sync/atomic"

	"github.com/flowmesh/eventcore/framework/core"
)

// Status is the lifecycle state of a dispatcher or subscriber.
type Status int32

const (
	StatusCreated Status = iota
	StatusRunning
	StatusPaused
	StatusStopped
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusStopped:
		return "STOPPED"
	case StatusShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// legalTransition reports whether from -> to is an allowed lifecycle move.
// SHUTDOWN is absorbing: nothing leaves it, and everything else but SHUTDOWN
// itself can reach it directly.
func legalTransition(from, to Status) bool {
	if from == StatusShutdown {
		return false
	}
	if to == StatusShutdown {
		return true
	}
	switch from {
	case StatusCreated:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusPaused || to == StatusStopped
	case StatusPaused:
		return to == StatusRunning || to == StatusStopped
	case StatusStopped:
		return to == StatusRunning
	default:
		return false
	}
}

// lifecycle is the shared state-machine building block embedded by the
// Dispatcher and every Subscriber variant: an atomically readable Status
// guarded for transitions by a mutex, so Status() is lock-free on the
// read path while transition() serializes writers.
type lifecycle struct {
	mu     sync.Mutex
	status atomic.Int32
}

func newLifecycle() *lifecycle {
	l := &lifecycle{}
	l.status.Store(int32(StatusCreated))
	return l
}

func (l *lifecycle) Status() Status {
	return Status(l.status.Load())
}

func (l *lifecycle) transition(to Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := Status(l.status.Load())
	if !legalTransition(from, to) {
		return core.NewError(core.ErrInvalidState, "illegal transition "+from.String()+" -> "+to.String())
	}
	l.status.Store(int32(to))
	return nil
}
