// Package events is the typed publish/subscribe hub that tells open views a
// household collection changed.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names a notification.
type Kind string

// Kind constants, one per persisted collection.
const (
	TasksUpdated         Kind = "tasksUpdated"
	MealsUpdated         Kind = "mealsUpdated"
	ShoppingItemsUpdated Kind = "shoppingItemsUpdated"
	RemindersUpdated     Kind = "remindersUpdated"
	AppointmentsUpdated  Kind = "appointmentsUpdated"
	FamilyMembersUpdated Kind = "familyMembersUpdated"
	PetsUpdated          Kind = "petsUpdated"
	NotesUpdated         Kind = "notesUpdated"
)

// DefaultBuffer is the channel size of a subscription.
const DefaultBuffer = 64

// Event is a single notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	Collection string    `json:"collection"`
	Count      int       `json:"count"`
	At         time.Time `json:"at"`
}

// Publisher is what writers depend on.
type Publisher interface {
	Publish(Event)
}

// Subscription delivers events of the kinds it was created for.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	kinds map[Kind]bool
	hub   *Hub
	once  sync.Once
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Int64
	buffer  int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
	}
}

// Subscribe registers interest in the given kinds; no kinds means all.
// Subscribing to a closed hub returns an already closed subscription.
func (h *Hub) Subscribe(kinds ...Kind) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, kinds: make(map[Kind]bool, len(kinds))}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers e to every matching subscriber.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	h.subs = make(map[*Subscription]struct{})
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
	s.once.Do(func() { close(s.ch) })
}
