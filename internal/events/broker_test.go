package events

import (
	"testing"
	"time"

	"github.com/styleduel/styleduel/internal/storage"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("s1", "sub-1")

	want := Event{Type: TypeRoundOpened, SessionID: "s1", Status: storage.StatusActive, Round: 2}
	b.Publish(want)

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishScopedToSession(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("s1", "sub-1")
	other := b.Subscribe("s2", "sub-2")

	b.Publish(Event{Type: TypeParticipantJoined, SessionID: "s1"})

	select {
	case ev := <-other:
		t.Fatalf("subscriber of s2 got s1 event: %+v", ev)
	default:
	}
	select {
	case <-ch:
	default:
		t.Fatal("subscriber of s1 should have the event buffered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("s1", "sub-1")
	b.Unsubscribe("s1", "sub-1")

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// Publishing to a session with no subscribers is a no-op.
	b.Publish(Event{Type: TypeSessionFinished, SessionID: "s1"})
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := NewBroker()
	slow := b.Subscribe("s1", "slow")
	fast := b.Subscribe("s1", "fast")

	// Overrun the buffer without draining the slow channel.
	for i := 0; i < cap(slow)+1; i++ {
		b.Publish(Event{Type: TypeRoundClosed, SessionID: "s1", Round: i})
		<-fast
	}

	drained := 0
	for range slow {
		drained++
	}
	if drained != cap(slow) {
		t.Fatalf("expected %d buffered events before the drop, got %d", cap(slow), drained)
	}

	// The fast subscriber keeps receiving after the drop.
	b.Publish(Event{Type: TypeSessionFinished, SessionID: "s1"})
	select {
	case ev := <-fast:
		if ev.Type != TypeSessionFinished {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("fast subscriber should outlive the slow one")
	}
}
