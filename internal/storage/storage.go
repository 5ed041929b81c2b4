// Package storage defines the persistent records and the atomic store
// operations the duel engine runs on. Backends live in subpackages; each
// method on Store is a single atomic unit of work, so callers never compose
// reads and writes across calls to uphold an invariant.
package storage

import (
	"context"
	"errors"
	"time"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusSearching Status = "searching"
	StatusActive    Status = "active"
	StatusReveal    Status = "reveal"
	StatusFinished  Status = "finished"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAbandoned
}

// Visibility controls whether a session is matchable or invite-only.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Role is one of the two seats in a session.
type Role string

const (
	RoleA Role = "A"
	RoleB Role = "B"
)

// Other returns the counterpart seat.
func (r Role) Other() Role {
	if r == RoleA {
		return RoleB
	}
	return RoleA
}

// Vote is a reveal-phase verdict. VoteTie is a valid verdict, not an error.
type Vote string

const (
	VoteA   Vote = "A"
	VoteB   Vote = "B"
	VoteTie Vote = "tie"
)

var (
	// ErrNotFound covers sessions, rounds and invite codes that do not
	// resolve. Rows removed by the retention job surface as this too.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyJoined means the user is already in a non-terminal session.
	ErrAlreadyJoined = errors.New("already joined a session")
	// ErrSessionFull means both seats are taken.
	ErrSessionFull = errors.New("session is full")
	// ErrNotParticipant means the caller has no seat in the session.
	ErrNotParticipant = errors.New("not a participant")
	// ErrNotInSession means the caller has no seat anywhere.
	ErrNotInSession = errors.New("not in a session")
	// ErrRoundClosed means the round already has ended_at set.
	ErrRoundClosed = errors.New("round is closed")
	// ErrDuplicateSubmission means the participant already designed this round.
	ErrDuplicateSubmission = errors.New("design already submitted")
	// ErrDuplicateVote means the participant already gave feedback.
	ErrDuplicateVote = errors.New("feedback already submitted")
	// ErrSessionNotInReveal rejects feedback outside the reveal phase.
	ErrSessionNotInReveal = errors.New("session is not in reveal")
	// ErrCodeTaken signals an invite code collision; callers retry with a
	// fresh code a bounded number of times.
	ErrCodeTaken = errors.New("invite code taken")
)

// SessionRecord is one duel from matchmaking through finish.
type SessionRecord struct {
	ID         string
	Status     Status
	Visibility Visibility
	InviteCode string // empty unless private
	CreatedAt  time.Time
	EndedAt    time.Time // zero until terminal
}

// ParticipantRecord is one user's seat in a session.
type ParticipantRecord struct {
	ID        string
	SessionID string
	UserID    string
	Role      Role
	Alias     string
	JoinedAt  time.Time
	Revealed  bool
}

// RoundRecord is one timed phase. StartedAt is zero until the round opens;
// EndedAt is zero while it is open. StartedAt plus TimeLimit is the durable
// deadline the timer recovers after a restart.
type RoundRecord struct {
	ID        string
	SessionID string
	Number    int
	Topic     string
	TimeLimit time.Duration
	StartedAt time.Time
	EndedAt   time.Time
}

// Deadline returns when the round times out, valid only once opened.
func (r RoundRecord) Deadline() time.Time {
	return r.StartedAt.Add(r.TimeLimit)
}

// Open reports whether the round has started and not yet ended.
func (r RoundRecord) Open() bool {
	return !r.StartedAt.IsZero() && r.EndedAt.IsZero()
}

// DesignRecord is a styling submission for the counterpart's look.
// Payload is opaque to the engine.
type DesignRecord struct {
	ID            string
	RoundID       string
	SessionID     string
	ParticipantID string
	TargetRole    Role
	Payload       string
	CreatedAt     time.Time
}

// FeedbackRecord is a reveal-phase vote and/or reaction. At least one of
// Vote and Reaction is present.
type FeedbackRecord struct {
	ID            string
	SessionID     string
	ParticipantID string
	Vote          Vote   // empty if reaction-only
	Reaction      string // empty if vote-only
	CreatedAt     time.Time
}

// JoinResult is what an attach operation hands back to the matchmaker.
type JoinResult struct {
	Session     SessionRecord
	Participant ParticipantRecord
	Seats       int // participants after the insert
}

// LeaveResult describes the session transition a leave caused.
type LeaveResult struct {
	Session   SessionRecord // state after the leave
	Remaining int
	// RoundsDiscarded is set when an active session fell back to
	// searching and its rounds and designs were deleted.
	RoundsDiscarded bool
}

// Snapshot is the full authoritative state of one session.
type Snapshot struct {
	Session      SessionRecord
	Participants []ParticipantRecord
	Rounds       []RoundRecord
	Designs      []DesignRecord
	Feedback     []FeedbackRecord
}

// Store is the transactional session store. Implementations guarantee that
// each method is atomic and that no interleaving of calls can seat more than
// two participants or two holders of one role in a session.
type Store interface {
	// MatchPublic attaches the user to the oldest searching public session
	// with a free seat, creating a fresh one (with the given id) when none
	// exists. Fails with ErrAlreadyJoined if the user already holds a seat
	// in any non-terminal session.
	MatchPublic(ctx context.Context, p ParticipantRecord, newSessionID string) (JoinResult, error)

	// JoinByCode attaches the user to the non-terminal private session the
	// invite code resolves to. Fails with ErrNotFound, ErrSessionFull or
	// ErrAlreadyJoined.
	JoinByCode(ctx context.Context, code string, p ParticipantRecord) (JoinResult, error)

	// CreatePrivate creates a private searching session with the given
	// invite code and seats the creator as role A. Fails with ErrCodeTaken
	// on an invite code collision and ErrAlreadyJoined as above.
	CreatePrivate(ctx context.Context, s SessionRecord, p ParticipantRecord) (JoinResult, error)

	// Leave removes the user's seat from their non-terminal session and
	// applies the resulting transition: empty session to abandoned, active
	// session with one survivor back to searching (discarding rounds and
	// designs), reveal handled by the caller via the result.
	Leave(ctx context.Context, userID string, now time.Time) (LeaveResult, error)

	// TransitionSession moves the session from one status to another and is
	// the idempotency guard for lifecycle changes: it reports false, with no
	// state change, when the session is no longer in the from status.
	// Terminal statuses also stamp EndedAt with now.
	TransitionSession(ctx context.Context, sessionID string, from, to Status, now time.Time) (bool, error)

	// CreateRounds inserts the round sequence for a freshly activated
	// session, all unopened.
	CreateRounds(ctx context.Context, rounds []RoundRecord) error

	// OpenNextRound stamps StartedAt on the lowest-numbered unopened round
	// and returns it. ErrNotFound when no unopened round remains.
	OpenNextRound(ctx context.Context, sessionID string, now time.Time) (RoundRecord, error)

	// CloseRound stamps EndedAt if the round is still open. The bool
	// reports whether this call performed the close; a false return with a
	// nil error is the redundant-trigger no-op.
	CloseRound(ctx context.Context, roundID string, now time.Time) (bool, error)

	// OpenRounds lists every open round across all sessions, for timer
	// recovery at startup.
	OpenRounds(ctx context.Context) ([]RoundRecord, error)

	// PutDesign records a design; the round must be open and the
	// participant must not have designed this round yet. Returns the number
	// of designs the round now holds.
	PutDesign(ctx context.Context, d DesignRecord) (int, error)

	// PutFeedback records feedback; the session must be in reveal and the
	// participant must not have voted yet. Marks the participant revealed
	// and returns how many participants have now given feedback.
	PutFeedback(ctx context.Context, f FeedbackRecord) (int, error)

	// GetRound fetches one round.
	GetRound(ctx context.Context, roundID string) (RoundRecord, error)

	// FindParticipant resolves the caller's seat in a session.
	FindParticipant(ctx context.Context, sessionID, userID string) (ParticipantRecord, error)

	// GetSnapshot returns the full state of a session.
	GetSnapshot(ctx context.Context, sessionID string) (Snapshot, error)

	Close() error
}
