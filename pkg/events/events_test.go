package events

import (
	"testing"
	"time"
)

func TestPublishAndSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	if broker.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", broker.SubscriberCount())
	}

	broker.Publish(&Event{ID: "e-1", Type: EventAlertRaised, Message: "cpu high"})

	select {
	case event := <-sub:
		if event.Type != EventAlertRaised {
			t.Errorf("Expected %s, got %s", EventAlertRaised, event.Type)
		}
		if event.Timestamp.IsZero() {
			t.Error("Expected timestamp to be set on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("Event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	subs := []Subscriber{broker.Subscribe(), broker.Subscribe(), broker.Subscribe()}
	broker.Publish(&Event{ID: "e-2", Type: EventHealCompleted})

	for i, sub := range subs {
		select {
		case event := <-sub:
			if event.ID != "e-2" {
				t.Errorf("Subscriber %d: expected e-2, got %s", i, event.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d: event not delivered", i)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	if broker.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", broker.SubscriberCount())
	}

	// The channel is closed after unsubscribe
	if _, ok := <-sub; ok {
		t.Error("Expected closed channel after unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and later events are dropped for it
	slow := broker.Subscribe()
	fast := broker.Subscribe()

	for i := 0; i < 100; i++ {
		broker.Publish(&Event{ID: "flood", Type: EventPoolError})
	}

	received := 0
	deadline := time.After(time.Second)
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("Fast subscriber starved after %d events", received)
		}
	}
	_ = slow
}
