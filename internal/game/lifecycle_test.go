package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/styleduel/styleduel/internal/events"
	"github.com/styleduel/styleduel/internal/storage"
	"github.com/styleduel/styleduel/internal/storage/memory"
)

// pair seats two users and returns the active session's snapshot.
func pair(t *testing.T, e *Engine, store *memory.Store) storage.Snapshot {
	t.Helper()
	if _, err := e.Join(context.Background(), "user-x", ""); err != nil {
		t.Fatalf("join x: %v", err)
	}
	res, err := e.Join(context.Background(), "user-y", "")
	if err != nil {
		t.Fatalf("join y: %v", err)
	}
	snap, err := store.GetSnapshot(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMutualSubmissionClosesRound(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	snap := pair(t, e, store)
	sid := snap.Session.ID
	round1 := snap.Rounds[0]

	err := e.SubmitDesign(context.Background(), sid, round1.ID, "user-x", storage.RoleB, `{"top":"blazer"}`)
	if err != nil {
		t.Fatalf("submit x: %v", err)
	}

	// One design in: round stays open.
	snap, _ = store.GetSnapshot(context.Background(), sid)
	if !snap.Rounds[0].Open() {
		t.Fatal("round 1 should still be open after one design")
	}

	err = e.SubmitDesign(context.Background(), sid, round1.ID, "user-y", storage.RoleA, `{"top":"hoodie"}`)
	if err != nil {
		t.Fatalf("submit y: %v", err)
	}

	snap, _ = store.GetSnapshot(context.Background(), sid)
	if snap.Rounds[0].Open() {
		t.Fatal("round 1 should close on the second design")
	}
	if !snap.Rounds[1].Open() {
		t.Fatal("round 2 should open when round 1 closes")
	}
}

func TestSubmitDesignValidation(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	snap := pair(t, e, store)
	sid := snap.Session.ID
	round1 := snap.Rounds[0]

	// A design must target the counterpart.
	err := e.SubmitDesign(context.Background(), sid, round1.ID, "user-x", storage.RoleA, "{}")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}

	// Strangers cannot submit.
	err = e.SubmitDesign(context.Background(), sid, round1.ID, "user-z", storage.RoleB, "{}")
	if !errors.Is(err, storage.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	if err := e.SubmitDesign(context.Background(), sid, round1.ID, "user-x", storage.RoleB, "{}"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err = e.SubmitDesign(context.Background(), sid, round1.ID, "user-x", storage.RoleB, "{}")
	if !errors.Is(err, storage.ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}

	// Closing the round rejects further designs.
	if err := e.completeRound(context.Background(), round1.ID); err != nil {
		t.Fatalf("complete round: %v", err)
	}
	err = e.SubmitDesign(context.Background(), sid, round1.ID, "user-y", storage.RoleA, "{}")
	if !errors.Is(err, storage.ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed, got %v", err)
	}
}

func TestIdempotentRoundClose(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	snap := pair(t, e, store)
	sid := snap.Session.ID
	round1 := snap.Rounds[0]

	if err := e.completeRound(context.Background(), round1.ID); err != nil {
		t.Fatalf("first close: %v", err)
	}
	snap, _ = store.GetSnapshot(context.Background(), sid)
	endedAt := snap.Rounds[0].EndedAt
	if endedAt.IsZero() {
		t.Fatal("round 1 should be closed")
	}
	if !snap.Rounds[1].Open() {
		t.Fatal("round 2 should be open")
	}

	// The simulated double trigger: a late timer fire after a close.
	if err := e.completeRound(context.Background(), round1.ID); err != nil {
		t.Fatalf("second close: %v", err)
	}
	snap, _ = store.GetSnapshot(context.Background(), sid)
	if !snap.Rounds[0].EndedAt.Equal(endedAt) {
		t.Fatal("second close should not touch ended_at")
	}
	if !snap.Rounds[1].Open() || snap.Rounds[2].Open() {
		t.Fatal("second close should not advance the rounds")
	}
}

func TestTimerClosesRoundWithoutSubmissions(t *testing.T) {
	e, store := newTestEngine(t, Options{RoundTime: 30 * time.Millisecond})
	snap := pair(t, e, store)
	sid := snap.Session.ID

	waitFor(t, "round 1 to time out", func() bool {
		snap, err := store.GetSnapshot(context.Background(), sid)
		return err == nil && !snap.Rounds[0].EndedAt.IsZero()
	})

	// Timing out with zero designs is a normal close, not an error.
	snap, _ = store.GetSnapshot(context.Background(), sid)
	if len(snap.Designs) != 0 {
		t.Fatalf("expected no designs, got %d", len(snap.Designs))
	}
}

func TestTimerRecoveryClosesOverdueRound(t *testing.T) {
	store := memory.New()
	e := New(store, events.NewBroker(), Options{RoundTime: 50 * time.Millisecond, Logger: zerolog.Nop()})
	t.Cleanup(e.Stop)
	snap := pair(t, e, store)
	sid := snap.Session.ID

	// Simulate a crash: drop the pending timers, let the deadline lapse.
	e.Stop()
	time.Sleep(100 * time.Millisecond)

	snap, _ = store.GetSnapshot(context.Background(), sid)
	if !snap.Rounds[0].EndedAt.IsZero() {
		t.Fatal("round should still be open with timers stopped")
	}

	if err := e.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	waitFor(t, "recovered round to close", func() bool {
		snap, err := store.GetSnapshot(context.Background(), sid)
		return err == nil && !snap.Rounds[0].EndedAt.IsZero()
	})
}

func TestEndToEndScenario(t *testing.T) {
	e, store := newTestEngine(t, Options{RoundTime: 200 * time.Millisecond})
	ctx := context.Background()

	x, err := e.Join(ctx, "user-x", "")
	if err != nil {
		t.Fatalf("join x: %v", err)
	}
	if x.Status != storage.StatusSearching || x.Role != storage.RoleA {
		t.Fatalf("x should wait as role A, got %s/%s", x.Status, x.Role)
	}

	y, err := e.Join(ctx, "user-y", "")
	if err != nil {
		t.Fatalf("join y: %v", err)
	}
	if y.SessionID != x.SessionID || y.Role != storage.RoleB || y.Status != storage.StatusActive {
		t.Fatalf("y should activate x's session as role B, got %+v", y)
	}
	sid := x.SessionID

	snap, _ := store.GetSnapshot(ctx, sid)
	round1 := snap.Rounds[0]
	if !round1.Open() {
		t.Fatal("round 1 should be open")
	}

	// Round 1 closes early on mutual submission.
	if err := e.SubmitDesign(ctx, sid, round1.ID, "user-x", storage.RoleB, `{"look":"1x"}`); err != nil {
		t.Fatalf("submit x r1: %v", err)
	}
	if err := e.SubmitDesign(ctx, sid, round1.ID, "user-y", storage.RoleA, `{"look":"1y"}`); err != nil {
		t.Fatalf("submit y r1: %v", err)
	}
	snap, _ = store.GetSnapshot(ctx, sid)
	if snap.Rounds[0].Open() || !snap.Rounds[1].Open() {
		t.Fatal("round 1 should close early and round 2 open")
	}

	// Round 2 times out with no submissions.
	waitFor(t, "round 2 to time out", func() bool {
		snap, err := store.GetSnapshot(ctx, sid)
		return err == nil && !snap.Rounds[1].EndedAt.IsZero()
	})
	snap, _ = store.GetSnapshot(ctx, sid)
	round3 := snap.Rounds[2]
	if !round3.Open() {
		t.Fatal("round 3 should open after the timeout")
	}

	// Round 3 closes on mutual submission and the session reveals.
	if err := e.SubmitDesign(ctx, sid, round3.ID, "user-x", storage.RoleB, `{"look":"3x"}`); err != nil {
		t.Fatalf("submit x r3: %v", err)
	}
	if err := e.SubmitDesign(ctx, sid, round3.ID, "user-y", storage.RoleA, `{"look":"3y"}`); err != nil {
		t.Fatalf("submit y r3: %v", err)
	}
	snap, _ = store.GetSnapshot(ctx, sid)
	if snap.Session.Status != storage.StatusReveal {
		t.Fatalf("expected reveal, got %s", snap.Session.Status)
	}

	// Both vote for role A; the session finishes and A wins.
	if err := e.SubmitFeedback(ctx, sid, "user-x", storage.VoteA, ""); err != nil {
		t.Fatalf("vote x: %v", err)
	}
	if err := e.SubmitFeedback(ctx, sid, "user-y", storage.VoteA, "🔥"); err != nil {
		t.Fatalf("vote y: %v", err)
	}

	snap, _ = store.GetSnapshot(ctx, sid)
	if snap.Session.Status != storage.StatusFinished {
		t.Fatalf("expected finished, got %s", snap.Session.Status)
	}
	if snap.Session.EndedAt.IsZero() {
		t.Fatal("ended_at should be stamped on finish")
	}

	result := Aggregate(snap)
	if result.Tie {
		t.Fatal("unanimous vote should not tie")
	}
	var wantWinner string
	for _, p := range snap.Participants {
		if p.Role == storage.RoleA {
			wantWinner = p.ID
		}
	}
	if result.WinnerID != wantWinner {
		t.Fatalf("expected winner %s, got %s", wantWinner, result.WinnerID)
	}

	// The caller-scoped state carries the result too.
	st, err := e.GetState(ctx, sid, "user-x")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Result == nil || st.Result.WinnerID != wantWinner {
		t.Fatal("state should carry the aggregate after finish")
	}
}

func TestStateHidesCounterpartDesignsBeforeReveal(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	snap := pair(t, e, store)
	sid := snap.Session.ID
	round1 := snap.Rounds[0]

	if err := e.SubmitDesign(context.Background(), sid, round1.ID, "user-x", storage.RoleB, "{}"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	xs, err := e.GetState(context.Background(), sid, "user-x")
	if err != nil {
		t.Fatalf("state x: %v", err)
	}
	if len(xs.Designs) != 1 {
		t.Fatalf("author should see their own design, got %d", len(xs.Designs))
	}

	ys, err := e.GetState(context.Background(), sid, "user-y")
	if err != nil {
		t.Fatalf("state y: %v", err)
	}
	if len(ys.Designs) != 0 {
		t.Fatal("the look being made for you stays hidden until reveal")
	}

	_, err = e.GetState(context.Background(), sid, "user-z")
	if !errors.Is(err, storage.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}
