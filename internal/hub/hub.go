// Package hub fans record-change events out to connected push subscribers.
//
// Delivery is best effort: there is no acknowledgement and no replay buffer.
// A client that is not subscribed at broadcast time permanently misses that
// event and is expected to re-sync through the snapshot endpoint.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber event queue depth. A subscriber that
// cannot drain this fast drops events rather than stalling the broadcaster.
const subscriberBuffer = 16

// Event is one record-change notification. Record is the fully expanded row,
// serialized once at broadcast time so every subscriber receives identical
// bytes.
type Event struct {
	TableID string          `json:"tableId"`
	Record  json.RawMessage `json:"record"`
}

// Subscriber is one live push connection. Events arrives in broadcast order;
// the channel is closed when the subscriber is removed or the hub shuts down.
type Subscriber struct {
	ID     string
	Events <-chan Event

	events chan Event
}

// Hub tracks the live subscriber set. All methods are safe for concurrent
// use.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[string]*Subscriber)}
}

// Subscribe registers a new push connection and returns it along with its
// unsubscribe function. Unsubscribing twice is harmless.
func (h *Hub) Subscribe() (*Subscriber, func()) {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		events: make(chan Event, subscriberBuffer),
	}
	sub.Events = sub.events

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.events)
		return sub, func() {}
	}
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	return sub, func() { h.remove(sub.ID) }
}

// Broadcast delivers an event to every currently-subscribed connection. Full
// subscriber queues drop the event for that subscriber only.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			// Slow consumer; it will catch up via the snapshot pull path.
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every subscriber and closes their channels. Subsequent
// Subscribe calls return an already-closed subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.events)
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.events)
	}
}
