package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/styleduel/styleduel/internal/events"
	"github.com/styleduel/styleduel/internal/storage"
)

// JoinResult is what a caller needs after taking a seat.
type JoinResult struct {
	SessionID  string
	Role       storage.Role
	Alias      string
	Status     storage.Status
	InviteCode string // set for CreatePrivate only
}

// Join attaches the user to a session: by invite code when one is given,
// otherwise to the oldest searching public session, creating one when none
// has a free seat. When the second seat fills, the session activates and
// round 1 opens as part of the same call.
func (e *Engine) Join(ctx context.Context, userID, inviteCode string) (JoinResult, error) {
	p := storage.ParticipantRecord{
		ID:       uuid.NewString(),
		UserID:   userID,
		Alias:    randomAlias(),
		JoinedAt: time.Now().UTC(),
	}

	var (
		res storage.JoinResult
		err error
	)
	if inviteCode != "" {
		res, err = e.store.JoinByCode(ctx, NormalizeCode(inviteCode), p)
	} else {
		res, err = e.store.MatchPublic(ctx, p, uuid.NewString())
	}
	if err != nil {
		return JoinResult{}, err
	}

	e.log.Info().
		Str("session", res.Session.ID).
		Str("role", string(res.Participant.Role)).
		Int("seats", res.Seats).
		Msg("participant joined")
	e.broker.Publish(events.Event{
		Type:      events.TypeParticipantJoined,
		SessionID: res.Session.ID,
		Status:    res.Session.Status,
	})

	status := res.Session.Status
	if res.Seats == 2 {
		if err := e.activate(ctx, res.Session.ID); err != nil {
			return JoinResult{}, fmt.Errorf("activate session: %w", err)
		}
		status = storage.StatusActive
	}

	return JoinResult{
		SessionID: res.Session.ID,
		Role:      res.Participant.Role,
		Alias:     res.Participant.Alias,
		Status:    status,
	}, nil
}

// CreatePrivate opens an invite-only session with the caller seated as role
// A. Code generation retries a bounded number of times on collision.
func (e *Engine) CreatePrivate(ctx context.Context, userID string) (JoinResult, error) {
	p := storage.ParticipantRecord{
		ID:       uuid.NewString(),
		UserID:   userID,
		Alias:    randomAlias(),
		JoinedAt: time.Now().UTC(),
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		sess := storage.SessionRecord{
			ID:         uuid.NewString(),
			Status:     storage.StatusSearching,
			Visibility: storage.VisibilityPrivate,
			InviteCode: randomCode(inviteCodeLength),
			CreatedAt:  p.JoinedAt,
		}
		res, err := e.store.CreatePrivate(ctx, sess, p)
		if errors.Is(err, storage.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return JoinResult{}, err
		}

		e.log.Info().Str("session", res.Session.ID).Msg("private session created")
		e.broker.Publish(events.Event{
			Type:      events.TypeParticipantJoined,
			SessionID: res.Session.ID,
			Status:    res.Session.Status,
		})
		return JoinResult{
			SessionID:  res.Session.ID,
			Role:       res.Participant.Role,
			Alias:      res.Participant.Alias,
			Status:     res.Session.Status,
			InviteCode: res.Session.InviteCode,
		}, nil
	}
	return JoinResult{}, ErrCodeExhausted
}

// Leave gives up the caller's seat. An emptied session is abandoned; an
// active session falls back to searching and sheds its rounds; a reveal
// session stranded with one voter finalizes with the feedback on hand.
func (e *Engine) Leave(ctx context.Context, userID string) error {
	res, err := e.store.Leave(ctx, userID, time.Now().UTC())
	if err != nil {
		return err
	}

	e.log.Info().
		Str("session", res.Session.ID).
		Int("remaining", res.Remaining).
		Str("status", string(res.Session.Status)).
		Msg("participant left")

	switch {
	case res.Remaining == 0:
		e.broker.Publish(events.Event{
			Type:      events.TypeSessionAbandoned,
			SessionID: res.Session.ID,
			Status:    storage.StatusAbandoned,
		})
	case res.Session.Status == storage.StatusReveal:
		// The survivor should not wait on a vote that can never come.
		if err := e.finalize(ctx, res.Session.ID); err != nil {
			return fmt.Errorf("finalize after leave: %w", err)
		}
	default:
		e.broker.Publish(events.Event{
			Type:      events.TypeParticipantLeft,
			SessionID: res.Session.ID,
			Status:    res.Session.Status,
		})
	}
	return nil
}
