package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowmesh/eventcore/framework/core"
)

// SilentTimeoutPublisher publishes on a background goroutine bounded by a
// per-call timeout: if the deadline passes before the publish completes,
// Publish has already returned nil and the background attempt is simply
// abandoned (its context is cancelled) with no error surfaced to anyone.
type SilentTimeoutPublisher struct {
	*publisherBase
}

// NewSilentTimeoutPublisher constructs a SilentTimeoutPublisher.
func NewSilentTimeoutPublisher(d *Dispatcher) *SilentTimeoutPublisher {
	return &SilentTimeoutPublisher{publisherBase: newPublisherBase(d)}
}

// Publish starts forwarding e in the background bounded by timeout and
// returns immediately; no error is ever surfaced for a timeout, matching
// the "silent" variant's contract.
func (p *SilentTimeoutPublisher) Publish(ctx context.Context, e *Event, timeout time.Duration) error {
	if err := requireEvent(e); err != nil {
		return err
	}
	if timeout < 0 {
		return core.NewError(core.ErrInvalidArgument, "timeout must not be negative")
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	go func() {
		defer cancel()
		if cctx.Err() != nil {
			p.logger.Debug().Err(cctx.Err()).Msg("silent-timeout publish abandoned at deadline")
			return
		}
		if err := p.publishEvent(cctx, e); err != nil {
			p.logger.Debug().Err(err).Msg("silent-timeout publish did not complete")
		}
	}()
	return nil
}

// ExceptionTimeoutPublisher publishes synchronously bounded by a per-call
// timeout: Publish blocks until the event is forwarded or the deadline
// passes, returning a Timeout error in the latter case (or Interrupted if
// the caller's own context was cancelled first).
type ExceptionTimeoutPublisher struct {
	*publisherBase
}

// NewExceptionTimeoutPublisher constructs an ExceptionTimeoutPublisher.
func NewExceptionTimeoutPublisher(d *Dispatcher) *ExceptionTimeoutPublisher {
	return &ExceptionTimeoutPublisher{publisherBase: newPublisherBase(d)}
}

// Publish forwards e, blocking until it completes or timeout elapses.
func (p *ExceptionTimeoutPublisher) Publish(ctx context.Context, e *Event, timeout time.Duration) error {
	if err := requireEvent(e); err != nil {
		return err
	}
	if timeout < 0 {
		return core.NewError(core.ErrInvalidArgument, "timeout must not be negative")
	}
	if err := p.checkShutdown(); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A zero or sub-scheduler-tick timeout (or an already-cancelled caller
	// context) expires before the worker goroutine can run at all.
	if cctx.Err() != nil {
		return deadlineError(cctx, timeout)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.publishEvent(cctx, e)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return deadlineError(cctx, timeout)
	}
}

func deadlineError(cctx context.Context, timeout time.Duration) error {
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return core.NewError(core.ErrTimeout, fmt.Sprintf("publish exceeded timeout of %s", timeout))
	}
	return core.NewError(core.ErrInterrupted, "publish was interrupted")
}
