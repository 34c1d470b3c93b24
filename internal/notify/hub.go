package notify

import (
	"sync"
	"time"
)

// Event kinds broadcast on a session channel.
const (
	KindCredentialRotated = "credential-rotated"
	KindPresenceAccepted  = "presence-accepted"
	KindWindowClosed      = "window-closed"
	KindSessionEnded      = "session-ended"
)

// Event is a session-scoped broadcast. Data carries the kind-specific payload.
type Event struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Data      any    `json:"data,omitempty"`
}

// CredentialRotated is the payload for a rotation event.
type CredentialRotated struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresenceAccepted is the payload for an accepted claim or manual override.
type PresenceAccepted struct {
	AttendeeID string    `json:"attendee_id"`
	Status     string    `json:"status"`
	DistanceM  float64   `json:"distance_m"`
	MarkedAt   time.Time `json:"marked_at"`
	IsManual   bool      `json:"is_manual"`
}

// Hub fans events out to session subscribers. Delivery is at-most-once:
// there is no history, and a subscriber whose buffer is full misses the
// event rather than blocking the publisher. Late joiners query current
// state instead of replaying.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a listener for one session and returns its channel
// plus a cancel func. Cancel is idempotent and closes the channel.
func (h *Hub) Subscribe(sessionID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan Event)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if m := h.subs[sessionID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, sessionID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to current subscribers of its session.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribers returns the listener count for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
