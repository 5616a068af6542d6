package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.status_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.status_changed" {
			t.Errorf("got kind %q, want sync.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("record.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.completed"})
	b.Publish(Event{Kind: "record.upserted"})

	select {
	case evt := <-ch:
		if evt.Kind != "record.upserted" {
			t.Errorf("got kind %q, want record.upserted", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure sync event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("record.", 10)
	unsub()

	b.Publish(Event{Kind: "record.upserted"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("record.", 1)
	defer unsub()

	// Second publish overflows the buffer; must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: "record.upserted"})
		b.Publish(Event{Kind: "record.upserted"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}
}
