package broker

import (
	"testing"
	"time"
)

func TestPublishWithNoSubscribers(t *testing.T) {
	top := NewTopic[int]("test", 4)

	// Broadcasting to the empty set is a legal no-op.
	top.Publish(1)
	top.Publish(2)
}

func TestFanOutDeliversToAllSubscribers(t *testing.T) {
	top := NewTopic[int]("test", 4)

	a := top.Subscribe()
	b := top.Subscribe()
	defer a.Close()
	defer b.Close()

	top.Publish(42)

	for name, sub := range map[string]*Subscription[int]{"a": a, "b": b} {
		select {
		case got := <-sub.C():
			if got != 42 {
				t.Errorf("subscriber %s: expected 42, got %d", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: timed out waiting for event", name)
		}
	}
}

func TestSubscriberOnlySeesEventsAfterSubscribe(t *testing.T) {
	top := NewTopic[int]("test", 4)

	top.Publish(1) // nobody listening: permanently lost

	sub := top.Subscribe()
	defer sub.Close()
	top.Publish(2)

	select {
	case got := <-sub.C():
		if got != 2 {
			t.Fatalf("expected 2, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected extra event %d", got)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	top := NewTopic[int]("test", 1)

	slow := top.Subscribe()
	fast := top.Subscribe()
	defer slow.Close()
	defer fast.Close()

	// Drain fast after each publish; never read slow. Publish must return
	// every time even though slow's buffer fills after the first event.
	for i := 1; i <= 3; i++ {
		top.Publish(i)
		select {
		case got := <-fast.C():
			if got != i {
				t.Fatalf("fast subscriber: expected %d, got %d", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber: timed out on event %d", i)
		}
	}

	// Slow holds exactly its buffered first event; the rest were dropped
	// for it alone.
	if got := <-slow.C(); got != 1 {
		t.Fatalf("slow subscriber: expected buffered event 1, got %d", got)
	}
	select {
	case got := <-slow.C():
		t.Fatalf("slow subscriber: unexpected event %d", got)
	default:
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	top := NewTopic[int]("test", 4)

	a := top.Subscribe()
	b := top.Subscribe()
	defer b.Close()

	a.Close()
	top.Publish(7)

	// The closed subscription's channel is closed and never receives.
	if got, ok := <-a.C(); ok {
		t.Fatalf("closed subscriber received event %d", got)
	}

	// Other subscribers are unaffected.
	select {
	case got := <-b.C():
		if got != 7 {
			t.Fatalf("expected 7, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("live subscriber timed out")
	}

	// Close is idempotent.
	a.Close()
}

func TestCloseUnregistersSubscriber(t *testing.T) {
	top := NewTopic[int]("test", 4)

	a := top.Subscribe()
	b := top.Subscribe()
	if n := top.subscriberCount(); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	a.Close()
	if n := top.subscriberCount(); n != 1 {
		t.Fatalf("expected 1 subscriber after close, got %d", n)
	}

	b.Close()
	if n := top.subscriberCount(); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestDeliveryOrderPreserved(t *testing.T) {
	top := NewTopic[int]("test", 64)

	sub := top.Subscribe()
	defer sub.Close()

	for i := 0; i < 20; i++ {
		top.Publish(i)
	}
	for i := 0; i < 20; i++ {
		select {
		case got := <-sub.C():
			if got != i {
				t.Fatalf("out of order: expected %d, got %d", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}
