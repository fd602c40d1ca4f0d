package broadcast

import (
	"context"
	"sort"
	"sync"
)

const subscriberBufferSize = 64

// Hub is an ephemeral at-most-once fan-out channel scoped to a single room.
// Delivery is non-blocking: a subscriber that falls behind loses events
// rather than stalling the publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	presence    map[int64]PresenceRecord
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewHub constructs an empty room channel.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int64]*subscriber),
		presence:    make(map[int64]PresenceRecord),
		bufferSize:  subscriberBufferSize,
	}
}

// Subscription is one client's attachment to a room channel.
type Subscription struct {
	hub     *Hub
	id      int64
	events  chan Event
	done    chan struct{}
	once    sync.Once
	tracked bool
	mu      sync.Mutex
}

// Subscribe attaches a new subscriber. The subscription is torn down when the
// context is cancelled or Close is called, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := &subscriber{
		id:     h.nextID,
		stream: make(chan Event, h.bufferSize),
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	subscription := &Subscription{
		hub:    h,
		id:     sub.id,
		events: sub.stream,
		done:   make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			subscription.Close()
		case <-subscription.done:
		}
	}()
	return subscription
}

// Events exposes the subscriber's delivery stream. The stream is never
// closed; a publisher holding a stale subscriber snapshot may still send
// into the buffer after teardown, so consumers watch Done instead.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Track publishes the client's presence record into the shared registry and
// emits join + sync events.
func (s *Subscription) Track(record PresenceRecord) {
	s.mu.Lock()
	s.tracked = true
	s.mu.Unlock()

	s.hub.mu.Lock()
	s.hub.presence[s.id] = record
	s.hub.mu.Unlock()

	s.hub.publishPresence(EventPresenceJoin)
	s.hub.publishPresence(EventPresenceSync)
}

// Untrack removes the client's presence registration and emits leave + sync.
func (s *Subscription) Untrack() {
	s.mu.Lock()
	wasTracked := s.tracked
	s.tracked = false
	s.mu.Unlock()
	if !wasTracked {
		return
	}

	s.hub.mu.Lock()
	delete(s.hub.presence, s.id)
	s.hub.mu.Unlock()

	s.hub.publishPresence(EventPresenceLeave)
	s.hub.publishPresence(EventPresenceSync)
}

// Close synchronously removes the subscriber and its presence registration.
// The event stream is left open: Publish snapshots subscriber pointers
// outside the hub lock, and a stale snapshot must be able to complete its
// send harmlessly. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.Untrack()
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s.id)
		s.hub.mu.Unlock()
		close(s.done)
	})
}

// Publish fans an event out to every current subscriber, including the
// sender. Subscribers with full buffers are skipped.
func (h *Hub) Publish(event Event) {
	if event.Type == "" {
		return
	}
	h.mu.RLock()
	copies := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		copies = append(copies, sub)
	}
	h.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// PresenceState returns the current registry contents ordered by user id.
func (h *Hub) PresenceState() []PresenceRecord {
	h.mu.RLock()
	records := make([]PresenceRecord, 0, len(h.presence))
	for _, record := range h.presence {
		records = append(records, record)
	}
	h.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool {
		return records[i].UserID < records[j].UserID
	})
	return records
}

func (h *Hub) publishPresence(eventType string) {
	event, err := NewEvent(eventType, PresencePayload{Records: h.PresenceState()})
	if err != nil {
		return
	}
	h.Publish(event)
}

// Registry hands out room hubs by name, creating them on first use.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Hub
}

// NewRegistry constructs an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Hub)}
}

// Room returns the hub for the named room.
func (r *Registry) Room(name string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	hub, ok := r.rooms[name]
	if !ok {
		hub = NewHub()
		r.rooms[name] = hub
	}
	return hub
}
