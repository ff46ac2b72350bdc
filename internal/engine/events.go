package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// AllUsers is the topic that receives every user's events.
const AllUsers = "*"

// Event reports the outcome of a submission, kill or VM request.
type Event struct {
	Kind    string    `json:"kind"`
	User    string    `json:"user"`
	TaskID  string    `json:"task_id,omitempty"`
	Dataset string    `json:"dataset,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Job     string    `json:"job,omitempty"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// EventBroker fans events out to per-user subscribers. It is safe for
// concurrent use.
//
// Topics live until Shutdown. After Shutdown every existing and future
// subscription receives a closed channel.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
	closed bool
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives the events of user, or of
// every user for AllUsers, and an unsubscribe function.
func (b *EventBroker) Subscribe(user string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	t, ok := b.topics[user]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[user] = t
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

// Publish sends ev to the subscribers of ev.User and of AllUsers.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, topic := range []string{ev.User, AllUsers} {
		t, ok := b.topics[topic]
		if !ok {
			continue
		}
		for _, ch := range t.subs {
			select {
			case ch <- ev:
			default:
				// Drop the event rather than block the submitter.
			}
		}
	}
}

// Shutdown closes every subscriber channel. Later Subscribe calls return a
// closed channel and Publish becomes a no-op.
func (b *EventBroker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, t := range b.topics {
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}
}
