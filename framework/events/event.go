// Package events implements the in-process priority event bus: typed
// events flow from a family of publishers through a singleton dispatcher
// to a family of subscribers.
package events

import (
	"fmt"
	"reflect"
	"time"
)

// Priority orders events within a subscriber's local queue. Higher values
// are dequeued first; events of equal priority are delivered FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// DefaultPriority is used by NewEvent/NewListEvent when no priority is given.
const DefaultPriority = PriorityMedium

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// TypeKey identifies an event's concrete payload type. reflect.Type values
// are interned by the runtime and comparable, which makes them a cheap,
// stable key for handler tables without a bespoke type-ID registry.
type TypeKey = reflect.Type

// Event is an immutable envelope around a typed payload, a priority, and a
// creation timestamp. Event values are produced by NewEvent/NewListEvent and
// are safe to share across goroutines.
type Event struct {
	data      any
	typeKey   TypeKey
	priority  Priority
	createdAt time.Time
	isList    bool
}

// NewEvent wraps data as a single-payload event of concrete type T, tagged
// with priority (DefaultPriority if omitted).
func NewEvent[T any](data T, priority ...Priority) *Event {
	p := DefaultPriority
	if len(priority) > 0 {
		p = priority[0]
	}
	return &Event{
		data:      data,
		typeKey:   reflect.TypeOf((*T)(nil)).Elem(),
		priority:  p,
		createdAt: time.Now(),
	}
}

// NewListEvent wraps an ordered sequence of Event[T] values as a single
// event whose TypeKey is still T, not []T — the list payload is a single
// logical unit delivered to handlers registered for T via
// SubscribeListEvent.
func NewListEvent[T any](items []*Event, priority ...Priority) *Event {
	p := DefaultPriority
	if len(priority) > 0 {
		p = priority[0]
	}
	return &Event{
		data:      items,
		typeKey:   reflect.TypeOf((*T)(nil)).Elem(),
		priority:  p,
		createdAt: time.Now(),
		isList:    true,
	}
}

// Data returns the raw payload. For a list event this is a []*Event; use
// ListPayload[T] to recover the typed slice.
func (e *Event) Data() any { return e.data }

// TypeKey returns the concrete payload type used to key handler tables.
func (e *Event) TypeKey() TypeKey { return e.typeKey }

// Priority returns the event's dispatch priority.
func (e *Event) Priority() Priority { return e.priority }

// CreatedAt returns the time the event was constructed.
func (e *Event) CreatedAt() time.Time { return e.createdAt }

// Age returns how long ago the event was constructed.
func (e *Event) Age() time.Duration { return time.Since(e.createdAt) }

// IsList reports whether this event wraps a sequence of Event[T] rather
// than a single T.
func (e *Event) IsList() bool { return e.isList }

// EventData extracts the typed payload of a single-value event. ok is false
// if the event's runtime payload type does not match T.
func EventData[T any](e *Event) (data T, ok bool) {
	v, ok := e.data.(T)
	return v, ok
}

// ListPayload extracts the typed slice backing a list event built with
// NewListEvent[T]. ok is false if e is not a list event or any member's
// payload type does not match T.
func ListPayload[T any](e *Event) (items []T, ok bool) {
	if !e.isList {
		return nil, false
	}
	raw, ok := e.data.([]*Event)
	if !ok {
		return nil, false
	}
	out := make([]T, 0, len(raw))
	for _, inner := range raw {
		v, ok := EventData[T](inner)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
