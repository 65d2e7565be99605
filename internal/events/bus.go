// Package events implements the fan-out event bus connecting the console
// session, the scene store, and the export/import orchestrators to
// out-of-core observers such as the WebSocket hub.
//
// Delivery is best-effort: each subscriber owns a bounded queue and a slow
// consumer loses events past the queue depth, receiving a subscriber-lagged
// marker once the queue drains enough to accept it.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event category. Subscribers register by kind.
type Kind string

const (
	KindStateChange          Kind = "state_change"
	KindSceneLoaded          Kind = "scene_loaded"
	KindSceneListInvalidated Kind = "scene_list_invalidated"
	KindExportProgress       Kind = "export_progress"
	KindImportProgress       Kind = "import_progress"
	KindError                Kind = "error"
	KindSubscriberLagged     Kind = "subscriber_lagged"
)

// DefaultQueueDepth is the per-subscriber queue bound.
const DefaultQueueDepth = 256

// Event is one bus notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateChange is the payload for KindStateChange.
type StateChange struct {
	State string `json:"state"`
	Mode  string `json:"mode"`
}

// SceneLoaded is the payload for KindSceneLoaded.
// Source is "console" for spontaneous recalls reported by the console and
// "manager" for loads completed by the import orchestrator.
type SceneLoaded struct {
	Slot   int    `json:"slot"`
	Source string `json:"source"`
}

// Progress is the payload for export and import progress events.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Section   string `json:"section"`
}

// Error is the payload for KindError.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Subscriber receives events for its registered kinds on a bounded channel.
type Subscriber struct {
	id     string
	kinds  map[Kind]struct{} // empty means all kinds
	ch     chan Event
	lagged bool // guarded by the bus mutex
}

// Events returns the subscriber's delivery channel. The channel is closed
// when the subscriber is removed from the bus.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Bus fans events out to subscribers. The zero value is not usable; use NewBus.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	depth  int
	closed bool
}

// NewBus creates a bus with the given per-subscriber queue depth.
// Depth values < 1 fall back to DefaultQueueDepth.
func NewBus(depth int) *Bus {
	if depth < 1 {
		depth = DefaultQueueDepth
	}
	return &Bus{
		subs:  make(map[string]*Subscriber),
		depth: depth,
	}
}

// Subscribe registers a subscriber for the given kinds.
// With no kinds, the subscriber receives every event.
func (b *Bus) Subscribe(kinds ...Kind) *Subscriber {
	s := &Subscriber{
		id:    uuid.NewString(),
		kinds: make(map[Kind]struct{}, len(kinds)),
		ch:    make(chan Event, b.depth),
	}
	for _, k := range kinds {
		s.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
// Safe to call more than once.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

// Publish delivers an event to every subscriber registered for its kind.
// Delivery never blocks: a full queue drops the event and marks the
// subscriber lagged.
func (b *Bus) Publish(kind Kind, payload any) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		if len(s.kinds) > 0 {
			if _, ok := s.kinds[kind]; !ok {
				continue
			}
		}

		// A previously lagged subscriber gets the marker first, so it can
		// tell a gap occurred before this event.
		if s.lagged {
			marker := Event{
				ID:        uuid.NewString(),
				Kind:      KindSubscriberLagged,
				Timestamp: time.Now().UTC(),
			}
			select {
			case s.ch <- marker:
				s.lagged = false
			default:
				continue // still full, keep dropping
			}
		}

		select {
		case s.ch <- ev:
		default:
			s.lagged = true
		}
	}
}

// Close removes every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
