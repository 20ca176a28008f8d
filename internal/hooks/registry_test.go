package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(nil)

	called := false
	id := r.Register(string(EventRunStarted), func(ctx context.Context, e *Event) error {
		called = true
		return nil
	})

	if id == "" {
		t.Error("expected non-empty registration ID")
	}

	if r.HandlerCount(string(EventRunStarted)) != 1 {
		t.Errorf("expected 1 handler, got %d", r.HandlerCount(string(EventRunStarted)))
	}

	event := NewEvent(EventRunStarted, "")
	if err := r.Trigger(context.Background(), event); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if !called {
		t.Error("handler was not called")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(nil)

	id := r.Register(string(EventRunStarted), func(ctx context.Context, e *Event) error {
		return nil
	})

	if !r.Unregister(id) {
		t.Error("expected Unregister to return true")
	}

	if r.HandlerCount(string(EventRunStarted)) != 0 {
		t.Errorf("expected 0 handlers after unregister, got %d", r.HandlerCount(string(EventRunStarted)))
	}

	if r.Unregister(id) {
		t.Error("expected Unregister to return false for already-removed handler")
	}
}

func TestRegistryPriority(t *testing.T) {
	r := NewRegistry(nil)

	var order []int

	r.Register(string(EventToolCalled), func(ctx context.Context, e *Event) error {
		order = append(order, 2)
		return nil
	}, WithPriority(PriorityNormal))

	r.Register(string(EventToolCalled), func(ctx context.Context, e *Event) error {
		order = append(order, 1)
		return nil
	}, WithPriority(PriorityHigh))

	r.Register(string(EventToolCalled), func(ctx context.Context, e *Event) error {
		order = append(order, 3)
		return nil
	}, WithPriority(PriorityLow))

	event := NewEvent(EventToolCalled, "")
	r.Trigger(context.Background(), event)

	if len(order) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(order))
	}

	if order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected order [1,2,3], got %v", order)
	}
}

func TestRegistrySpecificAction(t *testing.T) {
	r := NewRegistry(nil)

	var generalCalled, specificCalled bool

	r.Register(string(EventScheduleFired), func(ctx context.Context, e *Event) error {
		generalCalled = true
		return nil
	})

	r.Register(string(EventScheduleFired)+":send_report", func(ctx context.Context, e *Event) error {
		specificCalled = true
		return nil
	})

	event := NewEvent(EventScheduleFired, "send_report")
	r.Trigger(context.Background(), event)

	if !generalCalled {
		t.Error("general handler should have been called")
	}
	if !specificCalled {
		t.Error("specific handler should have been called")
	}

	generalCalled = false
	specificCalled = false

	event = NewEvent(EventScheduleFired, "review_tasks")
	r.Trigger(context.Background(), event)

	if !generalCalled {
		t.Error("general handler should have been called for other action")
	}
	if specificCalled {
		t.Error("specific handler should not have been called for other action")
	}
}

func TestRegistryHandlerErrorDoesNotStopOthers(t *testing.T) {
	r := NewRegistry(nil)

	var secondCalled bool
	wantErr := errors.New("first failed")

	r.Register(string(EventRunFailed), func(ctx context.Context, e *Event) error {
		return wantErr
	}, WithPriority(PriorityHigh))

	r.Register(string(EventRunFailed), func(ctx context.Context, e *Event) error {
		secondCalled = true
		return nil
	}, WithPriority(PriorityLow))

	err := r.Trigger(context.Background(), NewEvent(EventRunFailed, ""))
	if !errors.Is(err, wantErr) {
		t.Errorf("expected first error returned, got %v", err)
	}
	if !secondCalled {
		t.Error("second handler should still run after first errors")
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(string(EventRunCompleted), func(ctx context.Context, e *Event) error {
		panic("boom")
	})

	err := r.Trigger(context.Background(), NewEvent(EventRunCompleted, ""))
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
}

func TestRegistryTriggerAsync(t *testing.T) {
	r := NewRegistry(nil)

	var count atomic.Int32
	r.Register(string(EventAgentMessage), func(ctx context.Context, e *Event) error {
		count.Add(1)
		return nil
	})

	r.TriggerAsync(context.Background(), NewEvent(EventAgentMessage, ""))

	deadline := time.After(time.Second)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("async handler never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRegistryNilEvent(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Trigger(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}
