package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe()

	event := NewTaskStartedEvent("proj-1", "task-1", "agent-1", "agent-agent-1")
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.EventType() != TypeTaskStarted {
			t.Errorf("expected %s, got %s", TypeTaskStarted, received.EventType())
		}
		if received.ProjectID() != "proj-1" {
			t.Errorf("expected proj-1, got %s", received.ProjectID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	mergeCh := bus.Subscribe(TypeMergeCompleted, TypeMergeConflict)
	allCh := bus.Subscribe()

	bus.Publish(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))
	bus.Publish(NewMergeCompletedEvent("proj-1", "task-1", "agent-a1", "main", "abc123"))

	// allCh should receive both
	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive task event")
	}
	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive merge event")
	}

	// mergeCh should only receive the merge event
	select {
	case received := <-mergeCh:
		if received.EventType() != TypeMergeCompleted {
			t.Errorf("expected merge_completed, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("mergeCh should receive merge event")
	}
}

func TestBus_PriorityNeverDrops(t *testing.T) {
	bus := NewBus(5) // Small buffer
	defer bus.Close()

	priorityCh := bus.SubscribePriority()

	// Saturate with many events
	for i := 0; i < 100; i++ {
		bus.Publish(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))
	}

	failedEvent := NewTaskFailedEvent("proj-1", "task-1", "agent-1", errors.New("boom"), false)
	bus.PublishPriority(failedEvent)

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeTaskFailed {
			t.Errorf("expected task_failed, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event was dropped")
	}
}

func TestBus_RingBufferDropsOldest(t *testing.T) {
	bus := NewBus(5)
	defer bus.Close()

	ch := bus.Subscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected some events to be dropped")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			goto done
		}
	}
done:

	if received == 0 {
		t.Error("should have received at least some events")
	}
	if received > 5 {
		t.Errorf("received %d events, buffer size is 5", received)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	// Channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic
	bus.Publish(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(10)
	ch := bus.Subscribe()
	bus.Close()

	// Should not panic
	bus.Publish(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))
	bus.PublishPriority(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))

	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(1000)
	defer bus.Close()

	ch := bus.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != 500 {
				t.Errorf("received %d events, want 500", received)
			}
			return
		}
	}
}

func TestRecorder_KeepsMostRecent(t *testing.T) {
	bus := NewBus(100)

	rec := NewRecorder(bus, 3)

	for i := 0; i < 5; i++ {
		bus.Publish(NewTaskStartedEvent("proj-1", "task-1", "agent-1", ""))
	}
	bus.Publish(NewMergeCompletedEvent("proj-1", "task-1", "agent-a1", "main", "abc"))

	bus.Close()
	rec.Wait()

	recent := rec.Recent()
	if len(recent) != 3 {
		t.Fatalf("Recent() = %d events, want 3", len(recent))
	}
	// Newest event is last
	if recent[2].EventType() != TypeMergeCompleted {
		t.Errorf("last event = %s, want %s", recent[2].EventType(), TypeMergeCompleted)
	}
}

func TestRecorder_PartialFill(t *testing.T) {
	bus := NewBus(100)

	rec := NewRecorder(bus, 10)
	bus.Publish(NewPlanCreatedEvent("proj-1", "demo", 4, 2, 12.5))

	bus.Close()
	rec.Wait()

	recent := rec.Recent()
	if len(recent) != 1 {
		t.Fatalf("Recent() = %d events, want 1", len(recent))
	}
	if recent[0].EventType() != TypePlanCreated {
		t.Errorf("event = %s, want %s", recent[0].EventType(), TypePlanCreated)
	}
}
