// Package events is the broadcast side channel for session state changes.
// Events are invalidation hints, not authoritative state: delivery is
// best-effort, publishing never blocks, and subscribers that fall behind are
// dropped rather than allowed to stall a state transition.
package events

import (
	"sync"

	"github.com/styleduel/styleduel/internal/storage"
)

// Type names what changed.
type Type string

const (
	TypeParticipantJoined Type = "participant_joined"
	TypeParticipantLeft   Type = "participant_left"
	TypeSessionActivated  Type = "session_activated"
	TypeRoundOpened       Type = "round_opened"
	TypeRoundClosed       Type = "round_closed"
	TypeRevealStarted     Type = "reveal_started"
	TypeSessionFinished   Type = "session_finished"
	TypeSessionAbandoned  Type = "session_abandoned"
)

// Event is a state-changed hint. Consumers re-fetch the snapshot; the fields
// here only say what moved.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	Status    storage.Status `json:"status"`
	Round     int            `json:"round,omitempty"`
}

type subscriber struct {
	id string
	ch chan Event
}

// Broker fans events out per session.
type Broker struct {
	mu   sync.Mutex
	subs map[string][]subscriber // sessionID -> subscribers
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]subscriber)}
}

// Subscribe registers a listener for one session's events. The returned
// channel is buffered; a full buffer at publish time drops the subscriber.
func (b *Broker) Subscribe(sessionID, subscriberID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16)
	b.subs[sessionID] = append(b.subs[sessionID], subscriber{id: subscriberID, ch: ch})
	return ch
}

// Unsubscribe removes the listener and closes its channel.
func (b *Broker) Unsubscribe(sessionID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[sessionID][:0]
	for _, sub := range b.subs[sessionID] {
		if sub.id == subscriberID {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	if len(kept) == 0 {
		delete(b.subs, sessionID)
	} else {
		b.subs[sessionID] = kept
	}
}

// Publish fans the event out to the session's subscribers. Slow subscribers
// are dropped so a state transition can never block on delivery.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[e.SessionID][:0]
	for _, sub := range b.subs[e.SessionID] {
		select {
		case sub.ch <- e:
			kept = append(kept, sub)
		default:
			close(sub.ch)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, e.SessionID)
	} else {
		b.subs[e.SessionID] = kept
	}
}
