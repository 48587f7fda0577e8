package events

import (
	"context"
	"testing"
	"time"
)

func TestDelayedPublisher_PublishesAfterDelay(t *testing.T) {
	d := NewDispatcher()
	if err := d.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer d.Shutdown()

	registry, err := NewScheduledTaskRegistry(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewScheduledTaskRegistry failed: %v", err)
	}
	defer registry.StopAndShutdown()

	buf := attachBuffer(t, d)
	defer buf.Shutdown()

	p := NewDelayedPublisher(d, registry)
	handle, err := p.Publish(context.Background(), NewEvent("later"), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if p.PendingCount() != 1 {
		t.Fatalf("expected 1 pending delayed publish, got %d", p.PendingCount())
	}

	awaitEvents(t, buf, 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !handle.Done() {
		time.Sleep(5 * time.Millisecond)
	}
	if !handle.Done() {
		t.Error("expected the handle to report Done once it has fired")
	}
	if p.PendingCount() != 0 {
		t.Errorf("expected 0 pending after firing, got %d", p.PendingCount())
	}
}

func TestDelayedPublisher_CancelAllPending(t *testing.T) {
	d := NewDispatcher()
	if err := d.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer d.Shutdown()

	registry, err := NewScheduledTaskRegistry(time.Hour)
	if err != nil {
		t.Fatalf("NewScheduledTaskRegistry failed: %v", err)
	}
	defer registry.StopAndShutdown()

	buf := attachBuffer(t, d)
	defer buf.Shutdown()

	p := NewDelayedPublisher(d, registry)
	if _, err := p.Publish(context.Background(), NewEvent("x"), time.Hour); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if _, err := p.Publish(context.Background(), NewEvent("y"), time.Hour); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if p.PendingCount() != 2 {
		t.Fatalf("expected 2 pending, got %d", p.PendingCount())
	}

	p.CancelAllPending()
	if p.PendingCount() != 0 {
		t.Errorf("expected 0 pending after CancelAllPending, got %d", p.PendingCount())
	}
	assertNothingDelivered(t, buf)
}

func TestDelayedPublisher_RejectsNegativeDelay(t *testing.T) {
	d := NewDispatcher()
	registry, err := NewScheduledTaskRegistry(time.Hour)
	if err != nil {
		t.Fatalf("NewScheduledTaskRegistry failed: %v", err)
	}
	defer registry.StopAndShutdown()

	p := NewDelayedPublisher(d, registry)
	if _, err := p.Publish(context.Background(), NewEvent("x"), -time.Second); err == nil {
		t.Error("expected a negative delay to be rejected")
	}
}

func TestPeriodicPublisher_RepublishesUntilCancelled(t *testing.T) {
	d := NewDispatcher()
	if err := d.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer d.Shutdown()

	registry, err := NewScheduledTaskRegistry(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewScheduledTaskRegistry failed: %v", err)
	}
	defer registry.StopAndShutdown()

	buf := attachBuffer(t, d)
	defer buf.Shutdown()

	p := NewPeriodicPublisher(d, registry)
	if _, err := p.Publish(context.Background(), NewEvent("tick"), "heartbeat", 15*time.Millisecond); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got := p.ActiveTaskIDs(); len(got) != 1 || got[0] != "heartbeat" {
		t.Fatalf("expected active task id 'heartbeat', got %v", got)
	}

	awaitEvents(t, buf, 2)

	p.Cancel("heartbeat")
	if got := p.ActiveTaskIDs(); len(got) != 0 {
		t.Errorf("expected no active tasks after Cancel, got %v", got)
	}

	// One tick may already be in flight at the moment of Cancel; after that
	// the stream must go quiet.
	time.Sleep(40 * time.Millisecond)
	buf.DrainAll()
	time.Sleep(60 * time.Millisecond)
	if got := buf.DrainAll(); len(got) != 0 {
		t.Errorf("expected no further ticks after Cancel, got %d", len(got))
	}
}

func TestPeriodicPublisher_PublishUnderSameIDReplacesPrior(t *testing.T) {
	d := NewDispatcher()
	registry, err := NewScheduledTaskRegistry(time.Hour)
	if err != nil {
		t.Fatalf("NewScheduledTaskRegistry failed: %v", err)
	}
	defer registry.StopAndShutdown()

	p := NewPeriodicPublisher(d, registry)
	first, err := p.Publish(context.Background(), NewEvent("a"), "job", time.Hour)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	second, err := p.Publish(context.Background(), NewEvent("b"), "job", time.Hour)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !first.Done() {
		t.Error("expected the first schedule under the same id to be cancelled")
	}
	if second.Done() {
		t.Error("expected the replacement schedule to still be active")
	}
	if got := p.ActiveTaskIDs(); len(got) != 1 {
		t.Errorf("expected exactly 1 active task after replacement, got %d", len(got))
	}
}

func TestPeriodicPublisher_RejectsInvalidArguments(t *testing.T) {
	d := NewDispatcher()
	registry, err := NewScheduledTaskRegistry(time.Hour)
	if err != nil {
		t.Fatalf("NewScheduledTaskRegistry failed: %v", err)
	}
	defer registry.StopAndShutdown()

	p := NewPeriodicPublisher(d, registry)
	if _, err := p.Publish(context.Background(), NewEvent("x"), "", time.Second); err == nil {
		t.Error("expected an empty id to be rejected")
	}
	if _, err := p.Publish(context.Background(), NewEvent("x"), "id", 0); err == nil {
		t.Error("expected a non-positive period to be rejected")
	}
}

func TestPeriodicPublisher_ShutdownCancelsEverything(t *testing.T) {
	d := NewDispatcher()
	registry, err := NewScheduledTaskRegistry(time.Hour)
	if err != nil {
		t.Fatalf("NewScheduledTaskRegistry failed: %v", err)
	}
	defer registry.StopAndShutdown()

	p := NewPeriodicPublisher(d, registry)
	if _, err := p.Publish(context.Background(), NewEvent("x"), "a", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Publish(context.Background(), NewEvent("x"), "b", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := p.ActiveTaskIDs(); len(got) != 0 {
		t.Errorf("expected Shutdown to cancel every task, got %v active", got)
	}
	if _, err := p.Publish(context.Background(), NewEvent("x"), "c", time.Hour); err == nil {
		t.Error("expected Publish to fail after Shutdown")
	}
}
