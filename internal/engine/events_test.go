package engine_test

import (
	"testing"

	"github.com/tira-io/tirad/internal/engine"
)

func TestEventBrokerUserTopic(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("alice")
	defer unsub()

	b.Publish(engine.Event{User: "alice", Kind: "software", Outcome: "started"})
	b.Publish(engine.Event{User: "bob", Kind: "software", Outcome: "started"})
	b.Shutdown()

	var got []engine.Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].User != "alice" {
		t.Errorf("got %+v, want alice's event only", got)
	}
}

func TestEventBrokerAllUsers(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe(engine.AllUsers)
	defer unsub()

	b.Publish(engine.Event{User: "alice"})
	b.Publish(engine.Event{User: "bob"})
	b.Shutdown()

	n := 0
	for range ch {
		n++
	}
	if n != 2 {
		t.Errorf("got %d events, want 2", n)
	}
}

func TestEventBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("alice")
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	b.Publish(engine.Event{User: "alice"})
}

func TestEventBrokerSubscribeAfterShutdown(t *testing.T) {
	b := engine.NewEventBroker()
	b.Shutdown()

	ch, unsub := b.Subscribe("alice")
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("subscription after Shutdown should be closed")
	}
}

func TestEventBrokerDropsForSlowSubscriber(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("alice")
	defer unsub()

	// Publishing more than the buffer holds must not block.
	for i := 0; i < 200; i++ {
		b.Publish(engine.Event{User: "alice"})
	}

	if got := len(ch); got != 64 {
		t.Errorf("buffered %d events, want 64", got)
	}
}
