package synclock

import (
	"context"
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	l := New()
	release, err := l.Acquire(context.Background(), "holder-a")
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		rel, err := l.Acquire(context.Background(), "holder-b")
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		rel()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked while first holder held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestLockReentrantSameToken(t *testing.T) {
	l := New()
	release1, err := l.Acquire(context.Background(), "holder-a")
	if err != nil {
		t.Fatal(err)
	}
	defer release1()

	release2, err := l.Acquire(context.Background(), "holder-a")
	if err != nil {
		t.Fatalf("expected re-entrant acquire by the same holder to succeed: %v", err)
	}
	release2()
}

func TestLockAcquireRespectsCancellation(t *testing.T) {
	l := New()
	release, err := l.Acquire(context.Background(), "holder-a")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "holder-b")
	if err == nil {
		t.Fatal("expected cancellation to surface from a blocked Acquire")
	}
}

func TestBusPublishDeliversToAllListeners(t *testing.T) {
	bus := NewBus()
	var got1, got2 Event
	bus.Subscribe(func(e Event) { got1 = e })
	bus.Subscribe(func(e Event) { got2 = e })

	bus.Publish(Event{Kind: EventPullStarted, QueryID: "Movie"})

	if got1.Kind != EventPullStarted || got2.Kind != EventPullStarted {
		t.Fatalf("expected both listeners to receive the event: %+v %+v", got1, got2)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsub := bus.Subscribe(func(e Event) { calls++ })
	unsub()
	bus.Publish(Event{Kind: EventPullEnded})
	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d calls", calls)
	}
}

func TestBusListenerPanicDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(func(e Event) { panic("boom") })
	bus.Subscribe(func(e Event) { delivered = true })
	bus.Publish(Event{Kind: EventLocalException})
	if !delivered {
		t.Fatal("expected second listener to still receive the event after the first panicked")
	}
}
