package game

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/styleduel/styleduel/internal/events"
	"github.com/styleduel/styleduel/internal/storage"
)

// ParticipantScore is one participant's reveal tally.
type ParticipantScore struct {
	ParticipantID string         `json:"participantId"`
	Role          storage.Role   `json:"role"`
	Alias         string         `json:"alias"`
	Votes         int            `json:"votes"`
	Reactions     map[string]int `json:"reactions,omitempty"`
}

// Result is the reveal outcome. WinnerID is empty when Tie is set.
type Result struct {
	Scores   []ParticipantScore `json:"scores"`
	WinnerID string             `json:"winnerId,omitempty"`
	Tie      bool               `json:"tie"`
}

// SubmitFeedback records a reveal-phase vote and/or reaction. Once every
// remaining participant has given feedback the session finalizes.
func (e *Engine) SubmitFeedback(ctx context.Context, sessionID, userID string, vote storage.Vote, reaction string) error {
	if vote == "" && reaction == "" {
		return ErrEmptyFeedback
	}
	switch vote {
	case "", storage.VoteA, storage.VoteB, storage.VoteTie:
	default:
		return ErrInvalidVote
	}

	p, err := e.store.FindParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	count, err := e.store.PutFeedback(ctx, storage.FeedbackRecord{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		ParticipantID: p.ID,
		Vote:          vote,
		Reaction:      reaction,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	e.log.Info().
		Str("session", sessionID).
		Str("role", string(p.Role)).
		Int("feedback", count).
		Msg("feedback submitted")

	snap, err := e.store.GetSnapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(snap.Feedback) >= len(snap.Participants) {
		return e.finalize(ctx, sessionID)
	}
	return nil
}

// finalize moves reveal to finished. The CAS transition makes concurrent
// last-vote and leave triggers resolve to exactly one finish.
func (e *Engine) finalize(ctx context.Context, sessionID string) error {
	ok, err := e.store.TransitionSession(ctx, sessionID, storage.StatusReveal, storage.StatusFinished, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.log.Info().Str("session", sessionID).Msg("session finished")
	e.broker.Publish(events.Event{
		Type:      events.TypeSessionFinished,
		SessionID: sessionID,
		Status:    storage.StatusFinished,
	})
	return nil
}

// Aggregate tallies feedback into per-participant scores and the winner.
// It is a pure function of the snapshot: re-running it against the same
// feedback set yields the same result, so finish-time and read-time callers
// agree without a stored copy.
func Aggregate(snap storage.Snapshot) Result {
	byRole := make(map[storage.Role]*ParticipantScore, len(snap.Participants))
	res := Result{Scores: make([]ParticipantScore, 0, len(snap.Participants))}
	for _, p := range snap.Participants {
		score := ParticipantScore{
			ParticipantID: p.ID,
			Role:          p.Role,
			Alias:         p.Alias,
			Reactions:     make(map[string]int),
		}
		res.Scores = append(res.Scores, score)
		byRole[p.Role] = &res.Scores[len(res.Scores)-1]
	}

	for _, f := range snap.Feedback {
		var target *ParticipantScore
		switch f.Vote {
		case storage.VoteA:
			target = byRole[storage.RoleA]
		case storage.VoteB:
			target = byRole[storage.RoleB]
		}
		if target == nil {
			// Tie votes and reaction-only feedback favor nobody.
			continue
		}
		target.Votes++
		if f.Reaction != "" {
			target.Reactions[f.Reaction]++
		}
	}

	var top *ParticipantScore
	tied := false
	for i := range res.Scores {
		s := &res.Scores[i]
		switch {
		case top == nil || s.Votes > top.Votes:
			top, tied = s, false
		case s.Votes == top.Votes:
			tied = true
		}
	}
	// No votes means no winner: a walkout or reaction-only feedback must
	// not decide the duel for whoever is left.
	if top != nil && !tied && top.Votes > 0 {
		res.WinnerID = top.ParticipantID
	}
	res.Tie = res.WinnerID == ""
	return res
}
