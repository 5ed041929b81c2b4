package game

import (
	"context"
	"sync"
	"time"

	"github.com/styleduel/styleduel/internal/storage"
)

// timerSet tracks the pending fire for each open round. Deadlines themselves
// are durable on the round rows; these registrations are just this process's
// wake-up calls and are rebuilt by Recover after a restart.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer // roundID -> pending fire
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

func (ts *timerSet) set(roundID string, t *time.Timer) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old := ts.timers[roundID]; old != nil {
		old.Stop()
	}
	ts.timers[roundID] = t
}

// cancel stops a pending fire. Purely an optimization: a fire that slips
// through lands on the idempotent close and does nothing.
func (ts *timerSet) cancel(roundID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t := ts.timers[roundID]; t != nil {
		t.Stop()
		delete(ts.timers, roundID)
	}
}

func (ts *timerSet) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, t := range ts.timers {
		t.Stop()
		delete(ts.timers, id)
	}
}

// scheduleRound arms the wake-up for an open round. An already-elapsed
// deadline fires immediately, which closes the round with whatever designs
// exist; a timeout is never an error condition.
func (e *Engine) scheduleRound(round storage.RoundRecord) {
	delay := time.Until(round.Deadline())
	if delay < 0 {
		delay = 0
	}
	roundID := round.ID
	t := time.AfterFunc(delay, func() {
		e.timers.cancel(roundID)
		if err := e.completeRound(context.Background(), roundID); err != nil {
			e.log.Error().Err(err).Str("round", roundID).Msg("timer close failed")
		}
	})
	e.timers.set(roundID, t)
}

// Recover rescans open rounds after a restart: overdue rounds close on the
// spot, future deadlines get fresh timers. Call once before serving traffic.
func (e *Engine) Recover(ctx context.Context) error {
	rounds, err := e.store.OpenRounds(ctx)
	if err != nil {
		return err
	}
	for _, round := range rounds {
		e.scheduleRound(round)
	}
	if len(rounds) > 0 {
		e.log.Info().Int("rounds", len(rounds)).Msg("recovered open round timers")
	}
	return nil
}
