package game

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/styleduel/styleduel/internal/storage"
	"github.com/styleduel/styleduel/internal/storage/memory"
)

// toReveal seats two users and burns through every round so the session
// lands in reveal.
func toReveal(t *testing.T, e *Engine, store *memory.Store) string {
	t.Helper()
	snap := pair(t, e, store)
	sid := snap.Session.ID
	for _, r := range snap.Rounds {
		if err := e.completeRound(context.Background(), r.ID); err != nil {
			t.Fatalf("close round %d: %v", r.Number, err)
		}
	}
	snap, err := store.GetSnapshot(context.Background(), sid)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Session.Status != storage.StatusReveal {
		t.Fatalf("expected reveal, got %s", snap.Session.Status)
	}
	return sid
}

func revealSnapshot(participants []storage.ParticipantRecord, feedback []storage.FeedbackRecord) storage.Snapshot {
	return storage.Snapshot{
		Session:      storage.SessionRecord{ID: "s1", Status: storage.StatusReveal},
		Participants: participants,
		Feedback:     feedback,
	}
}

var testPair = []storage.ParticipantRecord{
	{ID: "p-a", SessionID: "s1", UserID: "user-x", Role: storage.RoleA, Alias: "Velvet Fox"},
	{ID: "p-b", SessionID: "s1", UserID: "user-y", Role: storage.RoleB, Alias: "Neon Heron"},
}

func TestAggregateIsDeterministic(t *testing.T) {
	snap := revealSnapshot(testPair, []storage.FeedbackRecord{
		{ParticipantID: "p-a", Vote: storage.VoteA, Reaction: "🔥"},
		{ParticipantID: "p-b", Vote: storage.VoteA},
	})

	first := Aggregate(snap)
	second := Aggregate(snap)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same snapshot aggregated twice differs:\n%+v\n%+v", first, second)
	}
	if first.Tie {
		t.Fatal("unanimous vote should not tie")
	}
	if first.WinnerID != "p-a" {
		t.Fatalf("expected p-a to win, got %q", first.WinnerID)
	}
}

func TestAggregateSplitVoteTies(t *testing.T) {
	snap := revealSnapshot(testPair, []storage.FeedbackRecord{
		{ParticipantID: "p-a", Vote: storage.VoteA},
		{ParticipantID: "p-b", Vote: storage.VoteB},
	})

	res := Aggregate(snap)
	if !res.Tie || res.WinnerID != "" {
		t.Fatalf("split vote should tie with no winner, got %+v", res)
	}
}

func TestAggregateExplicitTieVotes(t *testing.T) {
	snap := revealSnapshot(testPair, []storage.FeedbackRecord{
		{ParticipantID: "p-a", Vote: storage.VoteTie},
		{ParticipantID: "p-b", Vote: storage.VoteTie},
	})

	res := Aggregate(snap)
	if !res.Tie {
		t.Fatal("explicit tie votes should tie")
	}
	for _, s := range res.Scores {
		if s.Votes != 0 {
			t.Fatalf("tie votes should favor nobody, got %d for %s", s.Votes, s.Role)
		}
	}
}

func TestAggregateReactionAttribution(t *testing.T) {
	snap := revealSnapshot(testPair, []storage.FeedbackRecord{
		{ParticipantID: "p-a", Vote: storage.VoteB, Reaction: "🔥"},
		{ParticipantID: "p-b", Reaction: "💀"}, // reaction-only, no target
	})

	res := Aggregate(snap)
	var a, b ParticipantScore
	for _, s := range res.Scores {
		switch s.Role {
		case storage.RoleA:
			a = s
		case storage.RoleB:
			b = s
		}
	}
	if b.Votes != 1 || b.Reactions["🔥"] != 1 {
		t.Fatalf("vote and reaction should land on B, got %+v", b)
	}
	if a.Votes != 0 || len(a.Reactions) != 0 {
		t.Fatalf("reaction without a vote should favor nobody, got %+v", a)
	}
}

func TestSubmitFeedbackValidation(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	snap := pair(t, e, store)
	sid := snap.Session.ID

	// Voting before the reveal is rejected.
	err := e.SubmitFeedback(context.Background(), sid, "user-x", storage.VoteA, "")
	if !errors.Is(err, storage.ErrSessionNotInReveal) {
		t.Fatalf("expected ErrSessionNotInReveal, got %v", err)
	}

	for _, r := range snap.Rounds {
		if err := e.completeRound(context.Background(), r.ID); err != nil {
			t.Fatalf("close round %d: %v", r.Number, err)
		}
	}

	err = e.SubmitFeedback(context.Background(), sid, "user-x", "", "")
	if !errors.Is(err, ErrEmptyFeedback) {
		t.Fatalf("expected ErrEmptyFeedback, got %v", err)
	}

	err = e.SubmitFeedback(context.Background(), sid, "user-x", "C", "")
	if !errors.Is(err, ErrInvalidVote) {
		t.Fatalf("expected ErrInvalidVote, got %v", err)
	}

	err = e.SubmitFeedback(context.Background(), sid, "user-z", storage.VoteA, "")
	if !errors.Is(err, storage.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	if err := e.SubmitFeedback(context.Background(), sid, "user-x", storage.VoteA, ""); err != nil {
		t.Fatalf("vote: %v", err)
	}
	err = e.SubmitFeedback(context.Background(), sid, "user-x", storage.VoteB, "")
	if !errors.Is(err, storage.ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}
}

func TestAllVotesFinalizeSession(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	sid := toReveal(t, e, store)

	if err := e.SubmitFeedback(context.Background(), sid, "user-x", storage.VoteB, ""); err != nil {
		t.Fatalf("vote x: %v", err)
	}
	snap, _ := store.GetSnapshot(context.Background(), sid)
	if snap.Session.Status != storage.StatusReveal {
		t.Fatalf("one vote should not finish the session, got %s", snap.Session.Status)
	}

	if err := e.SubmitFeedback(context.Background(), sid, "user-y", storage.VoteB, ""); err != nil {
		t.Fatalf("vote y: %v", err)
	}
	snap, _ = store.GetSnapshot(context.Background(), sid)
	if snap.Session.Status != storage.StatusFinished {
		t.Fatalf("expected finished, got %s", snap.Session.Status)
	}
	if snap.Session.EndedAt.IsZero() {
		t.Fatal("ended_at should be stamped on finish")
	}
}

func TestAggregateZeroVotesTies(t *testing.T) {
	// A lone survivor with no votes on record is not a winner.
	snap := revealSnapshot(testPair[:1], nil)
	res := Aggregate(snap)
	if !res.Tie || res.WinnerID != "" {
		t.Fatalf("no votes should not produce a winner, got %+v", res)
	}

	// Reaction-only feedback counts no votes either.
	snap = revealSnapshot(testPair, []storage.FeedbackRecord{
		{ParticipantID: "p-a", Reaction: "🔥"},
		{ParticipantID: "p-b", Reaction: "💅"},
	})
	res = Aggregate(snap)
	if !res.Tie || res.WinnerID != "" {
		t.Fatalf("reaction-only feedback should tie, got %+v", res)
	}
}

func TestWalkoutBeforeVotingEndsInTie(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	sid := toReveal(t, e, store)

	if err := e.Leave(context.Background(), "user-y"); err != nil {
		t.Fatalf("leave y: %v", err)
	}

	snap, err := store.GetSnapshot(context.Background(), sid)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Session.Status != storage.StatusFinished {
		t.Fatalf("expected finished, got %s", snap.Session.Status)
	}
	res := Aggregate(snap)
	if !res.Tie || res.WinnerID != "" {
		t.Fatalf("walkout before any vote should tie, got %+v", res)
	}
}

func TestLeaveDuringRevealFinalizes(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	sid := toReveal(t, e, store)

	if err := e.SubmitFeedback(context.Background(), sid, "user-x", storage.VoteA, ""); err != nil {
		t.Fatalf("vote x: %v", err)
	}
	if err := e.Leave(context.Background(), "user-y"); err != nil {
		t.Fatalf("leave y: %v", err)
	}

	snap, _ := store.GetSnapshot(context.Background(), sid)
	if snap.Session.Status != storage.StatusFinished {
		t.Fatalf("survivor should not wait on a vote that cannot come, got %s", snap.Session.Status)
	}

	// The outcome stands on the feedback collected before the walkout.
	res := Aggregate(snap)
	if res.Tie {
		t.Fatal("single vote for A should decide the duel")
	}
	for _, p := range snap.Participants {
		if p.Role == storage.RoleA && res.WinnerID != p.ID {
			t.Fatalf("expected %s to win, got %s", p.ID, res.WinnerID)
		}
	}
}
