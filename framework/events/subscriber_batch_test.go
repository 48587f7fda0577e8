package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBatchListSubscriber_FlushesOnceBatchSizeReached(t *testing.T) {
	d := NewDispatcher()
	s, err := NewBatchListSubscriber(d, 3)
	if err != nil {
		t.Fatalf("NewBatchListSubscriber failed: %v", err)
	}
	batches := make(chan []string, 4)
	if err := SubscribeListEvent[string](s, func(ctx context.Context, e *Event) error {
		items, _ := ListPayload[string](e)
		batches <- items
		return nil
	}); err != nil {
		t.Fatalf("SubscribeListEvent failed: %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer s.Shutdown()

	s.OnEvent(NewEvent("a"))
	s.OnEvent(NewEvent("b"))

	select {
	case <-batches:
		t.Fatal("handler ran before batch reached its size")
	case <-time.After(50 * time.Millisecond):
	}

	s.OnEvent(NewEvent("c"))

	select {
	case got := <-batches:
		if len(got) != 3 {
			t.Fatalf("expected a batch of 3, got %d", len(got))
		}
		want := map[string]bool{"a": true, "b": true, "c": true}
		for _, v := range got {
			if !want[v] {
				t.Errorf("unexpected item %q in batch", v)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("batch handler never ran")
	}
}

func TestBatchListSubscriber_MixedTypesHeldUntilOwnBatchOrFlush(t *testing.T) {
	d := NewDispatcher()
	s, err := NewBatchListSubscriber(d, 3)
	if err != nil {
		t.Fatalf("NewBatchListSubscriber failed: %v", err)
	}
	strBatches := make(chan []string, 2)
	intBatches := make(chan []int, 2)
	if err := SubscribeListEvent[string](s, func(ctx context.Context, e *Event) error {
		items, _ := ListPayload[string](e)
		strBatches <- items
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := SubscribeListEvent[int](s, func(ctx context.Context, e *Event) error {
		items, _ := ListPayload[int](e)
		intBatches <- items
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer s.Shutdown()

	s.OnEvent(NewEvent("a"))
	s.OnEvent(NewEvent("b"))
	s.OnEvent(NewEvent("c"))
	s.OnEvent(NewEvent(7))

	select {
	case got := <-strBatches:
		if len(got) != 3 {
			t.Fatalf("expected exactly one 3-element string batch, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("string batch handler never ran")
	}

	select {
	case <-intBatches:
		t.Fatal("the lone int event must be held, not flushed automatically")
	case <-time.After(50 * time.Millisecond):
	}

	s.Flush(context.Background())
	select {
	case got := <-intBatches:
		if len(got) != 1 || got[0] != 7 {
			t.Errorf("expected Flush to emit a 1-element int batch, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush never submitted the held int event")
	}
}

func TestBatchListSubscriber_Flush(t *testing.T) {
	d := NewDispatcher()
	s, err := NewBatchListSubscriber(d, 10)
	if err != nil {
		t.Fatalf("NewBatchListSubscriber failed: %v", err)
	}
	batches := make(chan []string, 1)
	if err := SubscribeListEvent[string](s, func(ctx context.Context, e *Event) error {
		items, _ := ListPayload[string](e)
		batches <- items
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer s.Shutdown()

	s.OnEvent(NewEvent("only-one"))
	time.Sleep(20 * time.Millisecond)
	s.Flush(context.Background())

	select {
	case got := <-batches:
		if len(got) != 1 || got[0] != "only-one" {
			t.Errorf("expected forced flush of the partial batch, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush never submitted the partial batch")
	}
}

func TestBatchListSubscriber_ErrorIsolation(t *testing.T) {
	d := NewDispatcher()
	s, err := NewBatchListSubscriber(d, 1)
	if err != nil {
		t.Fatalf("NewBatchListSubscriber failed: %v", err)
	}
	wantErr := errors.New("batch boom")
	if err := SubscribeListEvent[string](s, func(ctx context.Context, e *Event) error {
		return wantErr
	}); err != nil {
		t.Fatal(err)
	}
	captured := make(chan error, 1)
	if err := SubscribeListErrorHandler[string](s, func(ctx context.Context, e *Event, err error) {
		captured <- err
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer s.Shutdown()

	s.OnEvent(NewEvent("trigger"))

	select {
	case got := <-captured:
		if !errors.Is(got, wantErr) {
			t.Errorf("expected error handler to receive %v, got %v", wantErr, got)
		}
	case <-time.After(time.Second):
		t.Fatal("error handler never ran")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.TotalErrorCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if s.TotalErrorCount() != 1 {
		t.Errorf("expected 1 recorded error, got %d", s.TotalErrorCount())
	}
	if s.LastFailedEvent() == nil {
		t.Error("expected LastFailedEvent to be set")
	}
}

func TestBatchListSubscriber_StopClearsPendingAndHandlers(t *testing.T) {
	d := NewDispatcher()
	s, err := NewBatchListSubscriber(d, 5)
	if err != nil {
		t.Fatalf("NewBatchListSubscriber failed: %v", err)
	}
	if err := SubscribeListEvent[string](s, func(ctx context.Context, e *Event) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s.OnEvent(NewEvent("partial"))
	time.Sleep(20 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	s.pendingMu.Lock()
	pendingLen := len(s.pending)
	s.pendingMu.Unlock()
	if pendingLen != 0 {
		t.Errorf("expected pending map cleared after Stop, got %d entries", pendingLen)
	}
	s.handlersMu.RLock()
	handlerCount := len(s.handlers)
	s.handlersMu.RUnlock()
	if handlerCount != 0 {
		t.Errorf("expected handlers cleared after Stop, got %d", handlerCount)
	}
}

func TestBatchListSubscriber_FlushWhilePausedKeepsPendingForResume(t *testing.T) {
	d := NewDispatcher()
	s, err := NewBatchListSubscriber(d, 5)
	if err != nil {
		t.Fatalf("NewBatchListSubscriber failed: %v", err)
	}
	batches := make(chan []string, 1)
	if err := SubscribeListEvent[string](s, func(ctx context.Context, e *Event) error {
		items, _ := ListPayload[string](e)
		batches <- items
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s.OnEvent(NewEvent("held"))
	time.Sleep(20 * time.Millisecond)

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	s.Flush(context.Background())
	select {
	case <-batches:
		t.Fatal("Flush must not run the handler while paused")
	case <-time.After(50 * time.Millisecond):
	}

	if err := s.Run(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	defer s.Shutdown()
	s.Flush(context.Background())

	select {
	case got := <-batches:
		if len(got) != 1 || got[0] != "held" {
			t.Errorf("expected the held event to survive the paused Flush, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("the held event was lost across pause/resume")
	}
}

func TestNewBatchListSubscriber_RejectsNonPositiveBatchSize(t *testing.T) {
	d := NewDispatcher()
	if _, err := NewBatchListSubscriber(d, 0); err == nil {
		t.Error("expected an error for a zero batch size")
	}
	if _, err := NewBatchListSubscriber(d, -1); err == nil {
		t.Error("expected an error for a negative batch size")
	}
}
