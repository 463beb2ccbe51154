// internal/duel/events.go
package duel

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a duel lifecycle transition broadcast to collaborators.
type EventType string

const (
	EventDuelCreated       EventType = "duel_created"
	EventDuelAccepted      EventType = "duel_accepted"
	EventDuelInProgress    EventType = "duel_in_progress"
	EventSubmissionDecided EventType = "submission_decided"
	EventDuelCompleted     EventType = "duel_completed"
	EventDuelExpired       EventType = "duel_expired"
	EventDuelCancelled     EventType = "duel_cancelled"
)

// Event is emitted synchronously at each state transition. The notification
// collaborator consumes these from a queue; the core never talks to the
// delivery transport directly.
type Event struct {
	Type      EventType              `json:"type"`
	DuelID    uuid.UUID              `json:"duelId"`
	UserID    *uuid.UUID             `json:"userId,omitempty"`
	State     State                  `json:"state"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EmitFunc receives every emitted event. Implementations must be fast; the
// resolver calls them inline.
type EmitFunc func(Event)

// Feed fans duel events out to in-process subscribers (the WebSocket feed).
// Slow subscribers are skipped rather than blocked on.
type Feed struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[uuid.UUID]map[chan Event]struct{}),
	}
}

// Subscribe returns a buffered channel of events for one duel plus an
// unsubscribe func.
func (f *Feed) Subscribe(duelID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	f.mu.Lock()
	if f.subs[duelID] == nil {
		f.subs[duelID] = make(map[chan Event]struct{})
	}
	f.subs[duelID][ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if set, ok := f.subs[duelID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(f.subs, duelID)
			}
		}
	}
}

// Publish delivers ev to every subscriber of its duel without blocking.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[ev.DuelID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
