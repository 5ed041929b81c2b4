// Package memory is an in-process storage.Store. A single mutex makes every
// operation a serializable unit, which is the same contract the sqlite
// backend gets from transactions. It backs tests and storage-less runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/styleduel/styleduel/internal/storage"
)

type Store struct {
	mu           sync.Mutex
	sessions     map[string]*storage.SessionRecord
	participants map[string]*storage.ParticipantRecord
	rounds       map[string]*storage.RoundRecord
	designs      map[string]*storage.DesignRecord
	feedback     map[string]*storage.FeedbackRecord
}

func New() *Store {
	return &Store{
		sessions:     make(map[string]*storage.SessionRecord),
		participants: make(map[string]*storage.ParticipantRecord),
		rounds:       make(map[string]*storage.RoundRecord),
		designs:      make(map[string]*storage.DesignRecord),
		feedback:     make(map[string]*storage.FeedbackRecord),
	}
}

func (s *Store) Close() error { return nil }

// seatOf finds the user's participant row in any non-terminal session.
func (s *Store) seatOf(userID string) *storage.ParticipantRecord {
	for _, p := range s.participants {
		sess := s.sessions[p.SessionID]
		if p.UserID == userID && sess != nil && !sess.Status.Terminal() {
			return p
		}
	}
	return nil
}

func (s *Store) sessionSeats(sessionID string) []*storage.ParticipantRecord {
	var out []*storage.ParticipantRecord
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

func (s *Store) freeRole(sessionID string) storage.Role {
	for _, p := range s.sessionSeats(sessionID) {
		if p.Role == storage.RoleA {
			return storage.RoleB
		}
	}
	return storage.RoleA
}

func (s *Store) attach(sess *storage.SessionRecord, p storage.ParticipantRecord) (storage.JoinResult, error) {
	seats := s.sessionSeats(sess.ID)
	if len(seats) >= 2 {
		return storage.JoinResult{}, storage.ErrSessionFull
	}
	p.SessionID = sess.ID
	p.Role = s.freeRole(sess.ID)
	s.participants[p.ID] = &p
	return storage.JoinResult{Session: *sess, Participant: p, Seats: len(seats) + 1}, nil
}

func (s *Store) MatchPublic(ctx context.Context, p storage.ParticipantRecord, newSessionID string) (storage.JoinResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.JoinResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seatOf(p.UserID) != nil {
		return storage.JoinResult{}, storage.ErrAlreadyJoined
	}

	var oldest *storage.SessionRecord
	for _, sess := range s.sessions {
		if sess.Status != storage.StatusSearching || sess.Visibility != storage.VisibilityPublic {
			continue
		}
		if len(s.sessionSeats(sess.ID)) >= 2 {
			continue
		}
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		oldest = &storage.SessionRecord{
			ID:         newSessionID,
			Status:     storage.StatusSearching,
			Visibility: storage.VisibilityPublic,
			CreatedAt:  p.JoinedAt,
		}
		s.sessions[oldest.ID] = oldest
	}
	return s.attach(oldest, p)
}

func (s *Store) JoinByCode(ctx context.Context, code string, p storage.ParticipantRecord) (storage.JoinResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.JoinResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *storage.SessionRecord
	for _, sess := range s.sessions {
		if sess.Visibility == storage.VisibilityPrivate && sess.InviteCode == code && !sess.Status.Terminal() {
			target = sess
			break
		}
	}
	if target == nil {
		return storage.JoinResult{}, storage.ErrNotFound
	}
	if seat := s.seatOf(p.UserID); seat != nil {
		return storage.JoinResult{}, storage.ErrAlreadyJoined
	}
	return s.attach(target, p)
}

func (s *Store) CreatePrivate(ctx context.Context, sess storage.SessionRecord, p storage.ParticipantRecord) (storage.JoinResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.JoinResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seatOf(p.UserID) != nil {
		return storage.JoinResult{}, storage.ErrAlreadyJoined
	}
	for _, existing := range s.sessions {
		if existing.InviteCode == sess.InviteCode && !existing.Status.Terminal() {
			return storage.JoinResult{}, storage.ErrCodeTaken
		}
	}
	s.sessions[sess.ID] = &sess
	return s.attach(&sess, p)
}

func (s *Store) Leave(ctx context.Context, userID string, now time.Time) (storage.LeaveResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.LeaveResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatOf(userID)
	if seat == nil {
		return storage.LeaveResult{}, storage.ErrNotInSession
	}
	sess := s.sessions[seat.SessionID]
	delete(s.participants, seat.ID)

	res := storage.LeaveResult{Remaining: len(s.sessionSeats(sess.ID))}
	switch {
	case res.Remaining == 0:
		sess.Status = storage.StatusAbandoned
		sess.EndedAt = now
	case sess.Status == storage.StatusActive:
		// The pairing is broken; in-flight rounds are meaningless.
		sess.Status = storage.StatusSearching
		s.discardRounds(sess.ID)
		res.RoundsDiscarded = true
	}
	res.Session = *sess
	return res, nil
}

func (s *Store) discardRounds(sessionID string) {
	for id, r := range s.rounds {
		if r.SessionID == sessionID {
			delete(s.rounds, id)
		}
	}
	for id, d := range s.designs {
		if d.SessionID == sessionID {
			delete(s.designs, id)
		}
	}
}

func (s *Store) TransitionSession(ctx context.Context, sessionID string, from, to storage.Status, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[sessionID]
	if sess == nil {
		return false, storage.ErrNotFound
	}
	if sess.Status != from {
		return false, nil
	}
	sess.Status = to
	if to.Terminal() {
		sess.EndedAt = now
	}
	return true, nil
}

func (s *Store) CreateRounds(ctx context.Context, rounds []storage.RoundRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rounds {
		rr := r
		s.rounds[r.ID] = &rr
	}
	return nil
}

func (s *Store) OpenNextRound(ctx context.Context, sessionID string, now time.Time) (storage.RoundRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RoundRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *storage.RoundRecord
	for _, r := range s.rounds {
		if r.SessionID != sessionID || !r.StartedAt.IsZero() {
			continue
		}
		if next == nil || r.Number < next.Number {
			next = r
		}
	}
	if next == nil {
		return storage.RoundRecord{}, storage.ErrNotFound
	}
	next.StartedAt = now
	return *next, nil
}

func (s *Store) CloseRound(ctx context.Context, roundID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rounds[roundID]
	if r == nil {
		return false, storage.ErrNotFound
	}
	if !r.Open() {
		return false, nil
	}
	r.EndedAt = now
	return true, nil
}

func (s *Store) OpenRounds(ctx context.Context) ([]storage.RoundRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.RoundRecord
	for _, r := range s.rounds {
		if r.Open() {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) PutDesign(ctx context.Context, d storage.DesignRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rounds[d.RoundID]
	if r == nil {
		return 0, storage.ErrNotFound
	}
	if !r.Open() {
		return 0, storage.ErrRoundClosed
	}
	count := 0
	for _, existing := range s.designs {
		if existing.RoundID != d.RoundID {
			continue
		}
		if existing.ParticipantID == d.ParticipantID {
			return 0, storage.ErrDuplicateSubmission
		}
		count++
	}
	s.designs[d.ID] = &d
	return count + 1, nil
}

func (s *Store) PutFeedback(ctx context.Context, f storage.FeedbackRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[f.SessionID]
	if sess == nil {
		return 0, storage.ErrNotFound
	}
	if sess.Status != storage.StatusReveal {
		return 0, storage.ErrSessionNotInReveal
	}
	count := 0
	for _, existing := range s.feedback {
		if existing.SessionID != f.SessionID {
			continue
		}
		if existing.ParticipantID == f.ParticipantID {
			return 0, storage.ErrDuplicateVote
		}
		count++
	}
	s.feedback[f.ID] = &f
	if p := s.participants[f.ParticipantID]; p != nil {
		p.Revealed = true
	}
	return count + 1, nil
}

func (s *Store) GetRound(ctx context.Context, roundID string) (storage.RoundRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RoundRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rounds[roundID]
	if r == nil {
		return storage.RoundRecord{}, storage.ErrNotFound
	}
	return *r, nil
}

func (s *Store) FindParticipant(ctx context.Context, sessionID, userID string) (storage.ParticipantRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ParticipantRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.participants {
		if p.SessionID == sessionID && p.UserID == userID {
			return *p, nil
		}
	}
	return storage.ParticipantRecord{}, storage.ErrNotParticipant
}

func (s *Store) GetSnapshot(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[sessionID]
	if sess == nil {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	snap := storage.Snapshot{Session: *sess}
	for _, p := range s.sessionSeats(sessionID) {
		snap.Participants = append(snap.Participants, *p)
	}
	for _, r := range s.rounds {
		if r.SessionID == sessionID {
			snap.Rounds = append(snap.Rounds, *r)
		}
	}
	sort.Slice(snap.Rounds, func(i, j int) bool { return snap.Rounds[i].Number < snap.Rounds[j].Number })
	for _, d := range s.designs {
		if d.SessionID == sessionID {
			snap.Designs = append(snap.Designs, *d)
		}
	}
	sort.Slice(snap.Designs, func(i, j int) bool { return snap.Designs[i].CreatedAt.Before(snap.Designs[j].CreatedAt) })
	for _, f := range s.feedback {
		if f.SessionID == sessionID {
			snap.Feedback = append(snap.Feedback, *f)
		}
	}
	sort.Slice(snap.Feedback, func(i, j int) bool { return snap.Feedback[i].CreatedAt.Before(snap.Feedback[j].CreatedAt) })
	return snap, nil
}

var _ storage.Store = (*Store)(nil)
