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

// activate moves a freshly filled session into play: status flips to active,
// the full round sequence is created from the topic list, and round 1 opens
// with its timer armed. The searching->active CAS makes a racing duplicate
// trigger a no-op.
func (e *Engine) activate(ctx context.Context, sessionID string) error {
	ok, err := e.store.TransitionSession(ctx, sessionID, storage.StatusSearching, storage.StatusActive, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	rounds := make([]storage.RoundRecord, len(e.topics))
	for i, topic := range e.topics {
		rounds[i] = storage.RoundRecord{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Number:    i + 1,
			Topic:     topic,
			TimeLimit: e.roundTime,
		}
	}
	if err := e.store.CreateRounds(ctx, rounds); err != nil {
		return fmt.Errorf("create rounds: %w", err)
	}

	e.broker.Publish(events.Event{
		Type:      events.TypeSessionActivated,
		SessionID: sessionID,
		Status:    storage.StatusActive,
	})
	return e.openNextRound(ctx, sessionID)
}

func (e *Engine) openNextRound(ctx context.Context, sessionID string) error {
	round, err := e.store.OpenNextRound(ctx, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("open round: %w", err)
	}
	e.scheduleRound(round)
	e.log.Info().
		Str("session", sessionID).
		Int("round", round.Number).
		Str("topic", round.Topic).
		Msg("round opened")
	e.broker.Publish(events.Event{
		Type:      events.TypeRoundOpened,
		SessionID: sessionID,
		Status:    storage.StatusActive,
		Round:     round.Number,
	})
	return nil
}

// SubmitDesign records a participant's look for their counterpart. When the
// second design of the round lands, the round closes without waiting for the
// timer.
func (e *Engine) SubmitDesign(ctx context.Context, sessionID, roundID, userID string, target storage.Role, payload string) error {
	p, err := e.store.FindParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if target != p.Role.Other() {
		return ErrInvalidTarget
	}

	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return err
	}
	if round.SessionID != sessionID {
		return storage.ErrNotFound
	}

	count, err := e.store.PutDesign(ctx, storage.DesignRecord{
		ID:            uuid.NewString(),
		RoundID:       roundID,
		SessionID:     sessionID,
		ParticipantID: p.ID,
		TargetRole:    target,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	e.log.Info().
		Str("session", sessionID).
		Int("round", round.Number).
		Int("designs", count).
		Msg("design submitted")

	if count >= 2 {
		return e.completeRound(ctx, roundID)
	}
	return nil
}

// completeRound is the single round-completion path, reached from mutual
// submission, a timer fire or restart recovery. The CAS close in the store
// makes every redundant trigger a no-op, including triggers for rounds that
// a leave already discarded.
func (e *Engine) completeRound(ctx context.Context, roundID string) error {
	closed, err := e.store.CloseRound(ctx, roundID, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !closed {
		return nil
	}
	e.timers.cancel(roundID)

	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return err
	}

	e.log.Info().
		Str("session", round.SessionID).
		Int("round", round.Number).
		Msg("round closed")
	e.broker.Publish(events.Event{
		Type:      events.TypeRoundClosed,
		SessionID: round.SessionID,
		Status:    storage.StatusActive,
		Round:     round.Number,
	})

	err = e.openNextRound(ctx, round.SessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	// No rounds left: move to reveal.
	ok, err := e.store.TransitionSession(ctx, round.SessionID, storage.StatusActive, storage.StatusReveal, time.Now().UTC())
	if err != nil {
		return err
	}
	if ok {
		e.log.Info().Str("session", round.SessionID).Msg("reveal started")
		e.broker.Publish(events.Event{
			Type:      events.TypeRevealStarted,
			SessionID: round.SessionID,
			Status:    storage.StatusReveal,
		})
	}
	return nil
}
