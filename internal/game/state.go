package game

import (
	"context"
	"time"

	"github.com/styleduel/styleduel/internal/storage"
)

// ParticipantView hides the counterpart's user id; participants only ever
// see each other's alias and role.
type ParticipantView struct {
	ID       string       `json:"id"`
	Role     storage.Role `json:"role"`
	Alias    string       `json:"alias"`
	JoinedAt time.Time    `json:"joinedAt"`
	Revealed bool         `json:"revealed"`
	You      bool         `json:"you"`
}

type RoundView struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	Topic     string    `json:"topic"`
	Deadline  time.Time `json:"deadline,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Open      bool      `json:"open"`
}

type DesignView struct {
	ID            string       `json:"id"`
	RoundID       string       `json:"roundId"`
	ParticipantID string       `json:"participantId"`
	TargetRole    storage.Role `json:"targetRole"`
	Payload       string       `json:"payload"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// State is a session snapshot scoped to one caller.
type State struct {
	SessionID    string             `json:"sessionId"`
	Status       storage.Status     `json:"status"`
	Visibility   storage.Visibility `json:"visibility"`
	CreatedAt    time.Time          `json:"createdAt"`
	EndedAt      time.Time          `json:"endedAt,omitempty"`
	Participants []ParticipantView  `json:"participants"`
	Rounds       []RoundView        `json:"rounds"`
	Designs      []DesignView       `json:"designs"`
	You          ParticipantView    `json:"you"`
	Result       *Result            `json:"result,omitempty"`
}

// GetState returns the session snapshot as the caller may see it: designs
// authored by the counterpart stay hidden until reveal, and the aggregate
// appears once the session reaches reveal.
func (e *Engine) GetState(ctx context.Context, sessionID, userID string) (State, error) {
	caller, err := e.store.FindParticipant(ctx, sessionID, userID)
	if err != nil {
		return State{}, err
	}
	snap, err := e.store.GetSnapshot(ctx, sessionID)
	if err != nil {
		return State{}, err
	}

	st := State{
		SessionID:  snap.Session.ID,
		Status:     snap.Session.Status,
		Visibility: snap.Session.Visibility,
		CreatedAt:  snap.Session.CreatedAt,
		EndedAt:    snap.Session.EndedAt,
	}

	for _, p := range snap.Participants {
		view := ParticipantView{
			ID:       p.ID,
			Role:     p.Role,
			Alias:    p.Alias,
			JoinedAt: p.JoinedAt,
			Revealed: p.Revealed,
			You:      p.ID == caller.ID,
		}
		st.Participants = append(st.Participants, view)
		if view.You {
			st.You = view
		}
	}

	for _, r := range snap.Rounds {
		view := RoundView{
			ID:        r.ID,
			Number:    r.Number,
			Topic:     r.Topic,
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
			Open:      r.Open(),
		}
		if r.Open() {
			view.Deadline = r.Deadline()
		}
		st.Rounds = append(st.Rounds, view)
	}

	revealed := snap.Session.Status == storage.StatusReveal || snap.Session.Status == storage.StatusFinished
	for _, d := range snap.Designs {
		if !revealed && d.ParticipantID != caller.ID {
			continue
		}
		st.Designs = append(st.Designs, DesignView{
			ID:            d.ID,
			RoundID:       d.RoundID,
			ParticipantID: d.ParticipantID,
			TargetRole:    d.TargetRole,
			Payload:       d.Payload,
			CreatedAt:     d.CreatedAt,
		})
	}

	if revealed {
		result := Aggregate(snap)
		st.Result = &result
	}
	return st, nil
}
