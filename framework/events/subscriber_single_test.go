package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyncSingleSubscriber_ErrorIsolation(t *testing.T) {
	d := NewDispatcher()
	s := NewSyncSingleSubscriber(d)

	counter := 0
	failOn := "bad"
	wantErr := errors.New("boom")
	if err := SubscribeEvent(s.ProcessingSingleEventSubscriber, func(ctx context.Context, v string) error {
		counter++
		if v == failOn {
			return wantErr
		}
		return nil
	}); err != nil {
		t.Fatalf("SubscribeEvent failed: %v", err)
	}

	var capturedErr error
	var capturedEvent *Event
	if err := SubscribeErrorHandler[string](s.ProcessingSingleEventErrorSubscriber, func(ctx context.Context, e *Event, err error) {
		capturedErr = err
		capturedEvent = e
	}); err != nil {
		t.Fatalf("SubscribeErrorHandler failed: %v", err)
	}

	s.OnEvent(NewEvent("ok-1"))
	s.OnEvent(NewEvent(failOn))
	s.OnEvent(NewEvent("ok-2"))

	n := s.ProcessEvents(context.Background())
	if n != 3 {
		t.Fatalf("expected 3 events processed, got %d", n)
	}
	if counter != 3 {
		t.Errorf("expected handler invoked 3 times, got %d", counter)
	}
	if s.TotalErrorCount() != 1 {
		t.Errorf("expected exactly 1 recorded error, got %d", s.TotalErrorCount())
	}
	if !errors.Is(s.LastException(), wantErr) {
		t.Errorf("expected LastException to wrap %v, got %v", wantErr, s.LastException())
	}
	if s.LastFailedEvent() == nil {
		t.Fatal("expected LastFailedEvent to be set")
	}
	if data, _ := EventData[string](s.LastFailedEvent()); data != failOn {
		t.Errorf("expected LastFailedEvent payload %q, got %q", failOn, data)
	}
	if capturedErr == nil || capturedEvent == nil {
		t.Error("expected error handler to be invoked with the failure")
	}
}

func TestSyncSingleSubscriber_PriorityOrderSurvivesPauseAndResume(t *testing.T) {
	d := NewDispatcher()
	s := NewSyncSingleSubscriber(d)

	var output string
	if err := SubscribeEvent(s.ProcessingSingleEventSubscriber, func(ctx context.Context, v string) error {
		output += v
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	s.OnEvent(NewEvent("L", PriorityLow))
	s.OnEvent(NewEvent("H", PriorityHigh))
	s.OnEvent(NewEvent("M", PriorityMedium))

	if err := s.Run(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	n := s.ProcessEvents(context.Background())
	if n != 3 {
		t.Fatalf("expected 3 events processed, got %d", n)
	}
	if output != "HML" {
		t.Errorf("expected priority-ordered output %q, got %q", "HML", output)
	}
}

func TestSyncSingleSubscriber_HandlerPanicRecovered(t *testing.T) {
	d := NewDispatcher()
	s := NewSyncSingleSubscriber(d)
	if err := SubscribeEvent(s.ProcessingSingleEventSubscriber, func(ctx context.Context, v string) error {
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}
	s.OnEvent(NewEvent("x"))
	n := s.ProcessEvents(context.Background())
	if n != 1 {
		t.Fatalf("expected 1 event processed despite panic, got %d", n)
	}
	if s.TotalErrorCount() != 1 {
		t.Errorf("expected panic to be recorded as a handler error, got count=%d", s.TotalErrorCount())
	}
}

func TestClearErrorStatistics(t *testing.T) {
	d := NewDispatcher()
	s := NewSyncSingleSubscriber(d)
	if err := SubscribeEvent(s.ProcessingSingleEventSubscriber, func(ctx context.Context, v string) error {
		return errors.New("fail")
	}); err != nil {
		t.Fatal(err)
	}
	s.OnEvent(NewEvent("x"))
	s.ProcessEvents(context.Background())
	if s.TotalErrorCount() == 0 {
		t.Fatal("expected an error to be recorded")
	}
	s.ClearErrorStatistics()
	if s.TotalErrorCount() != 0 || s.LastException() != nil || s.LastFailedEvent() != nil {
		t.Error("expected ClearErrorStatistics to reset all error state")
	}
}

func TestSyncSingleSubscriber_StopClearsHandlersAndStats(t *testing.T) {
	d := NewDispatcher()
	if err := d.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer d.Shutdown()

	s := NewSyncSingleSubscriber(d)
	if err := SubscribeEvent(s.ProcessingSingleEventSubscriber, func(ctx context.Context, v string) error {
		return errors.New("fail")
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s.OnEvent(NewEvent("x"))
	s.ProcessEvents(context.Background())
	if s.TotalErrorCount() == 0 {
		t.Fatal("expected an error recorded before Stop")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.HandlerCount() != 0 {
		t.Errorf("expected Stop to clear handler table, got %d handlers", s.HandlerCount())
	}
	if s.TotalErrorCount() != 0 {
		t.Errorf("expected Stop to clear error statistics, got count=%d", s.TotalErrorCount())
	}
}

func TestAsyncSingleSubscriber_ProcessesOnBackgroundLoop(t *testing.T) {
	d := NewDispatcher()
	if err := d.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer d.Shutdown()

	s := NewAsyncSingleSubscriber(d)
	received := make(chan string, 1)
	if err := SubscribeEvent(s.ProcessingSingleEventSubscriber, func(ctx context.Context, v string) error {
		received <- v
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer s.Shutdown()

	s.OnEvent(NewEvent("async"))
	select {
	case got := <-received:
		if got != "async" {
			t.Errorf("expected 'async', got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestAsyncSingleSubscriber_PauseStopsBackgroundLoop(t *testing.T) {
	d := NewDispatcher()
	if err := d.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer d.Shutdown()

	s := NewAsyncSingleSubscriber(d)
	received := make(chan string, 2)
	if err := SubscribeEvent(s.ProcessingSingleEventSubscriber, func(ctx context.Context, v string) error {
		received <- v
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	s.OnEvent(NewEvent("while-paused"))

	select {
	case <-received:
		t.Fatal("handler ran while subscriber was paused")
	case <-time.After(50 * time.Millisecond):
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
