package events

import (
	"context"
	"fmt"
	"reflect"
)

// SingleHandler processes the payload of a single-value event of type T.
type SingleHandler[T any] func(ctx context.Context, data T) error

// ListHandler processes a list event whose items are all of type T. The
// handler receives the wrapping *Event; ListPayload[T] recovers the typed
// slice from it.
type ListHandler[T any] func(ctx context.Context, list *Event) error

// ErrorHandler observes a handler failure for the event that triggered it.
// It runs after the failing handler has already returned/panicked and its
// failure has been recorded in the subscriber's error statistics.
type ErrorHandler func(ctx context.Context, event *Event, err error)

// erasedHandler is a SingleHandler[T] with its type parameter erased to a
// runtime type check, so it can live in a map[TypeKey]erasedHandler.
type erasedHandler func(ctx context.Context, event *Event) error

// erasedListHandler is the list-event analogue of erasedHandler.
type erasedListHandler func(ctx context.Context, event *Event) error

func eraseSingleHandler[T any](handler SingleHandler[T]) erasedHandler {
	key := reflect.TypeOf((*T)(nil)).Elem()
	return func(ctx context.Context, e *Event) error {
		data, ok := EventData[T](e)
		if !ok {
			return fmt.Errorf("eventbus: event payload is %T, want %s", e.Data(), key)
		}
		return handler(ctx, data)
	}
}

func eraseListHandler[T any](handler ListHandler[T]) erasedListHandler {
	return func(ctx context.Context, e *Event) error {
		return handler(ctx, e)
	}
}
