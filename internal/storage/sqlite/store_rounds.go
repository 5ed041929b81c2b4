package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/styleduel/styleduel/internal/storage"
)

const roundColumns = "id, session_id, number, topic, time_limit_ms, started_at, ended_at"

type roundScanner interface {
	Scan(dest ...any) error
}

func scanRound(row roundScanner) (storage.RoundRecord, error) {
	var (
		rec         storage.RoundRecord
		timeLimitMS int64
		startedAt   sql.NullInt64
		endedAt     sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Number, &rec.Topic, &timeLimitMS, &startedAt, &endedAt)
	if err != nil {
		return storage.RoundRecord{}, err
	}
	rec.TimeLimit = time.Duration(timeLimitMS) * time.Millisecond
	rec.StartedAt = fromNullMillis(startedAt)
	rec.EndedAt = fromNullMillis(endedAt)
	return rec, nil
}

func (s *Store) CreateRounds(ctx context.Context, rounds []storage.RoundRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rounds {
		_, err := tx.ExecContext(ctx, `
INSERT INTO rounds (id, session_id, number, topic, time_limit_ms, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, NULL, NULL)`,
			r.ID, r.SessionID, r.Number, r.Topic, r.TimeLimit.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert round %d: %w", r.Number, err)
		}
	}
	return tx.Commit()
}

func (s *Store) OpenNextRound(ctx context.Context, sessionID string, now time.Time) (storage.RoundRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.RoundRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRound(tx.QueryRowContext(ctx, `
SELECT `+roundColumns+`
FROM rounds
WHERE session_id = ? AND started_at IS NULL
ORDER BY number ASC
LIMIT 1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RoundRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RoundRecord{}, fmt.Errorf("find next round: %w", err)
	}

	rec.StartedAt = now
	if _, err := tx.ExecContext(ctx, "UPDATE rounds SET started_at = ? WHERE id = ?", toMillis(now), rec.ID); err != nil {
		return storage.RoundRecord{}, fmt.Errorf("open round: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.RoundRecord{}, fmt.Errorf("commit tx: %w", err)
	}
	return rec, nil
}

// CloseRound is the idempotency guard for round completion: the ended_at IS
// NULL precondition means a submission race or a late timer fire becomes a
// no-op instead of a double close.
func (s *Store) CloseRound(ctx context.Context, roundID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE rounds SET ended_at = ? WHERE id = ? AND started_at IS NOT NULL AND ended_at IS NULL",
		toMillis(now), roundID)
	if err != nil {
		return false, fmt.Errorf("close round: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM rounds WHERE id = ?", roundID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check round: %w", err)
	}
	return false, nil
}

func (s *Store) OpenRounds(ctx context.Context) ([]storage.RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+roundColumns+`
FROM rounds
WHERE started_at IS NOT NULL AND ended_at IS NULL
ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list open rounds: %w", err)
	}
	defer rows.Close()

	var out []storage.RoundRecord
	for rows.Next() {
		rec, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutDesign(ctx context.Context, d storage.DesignRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	round, err := scanRound(tx.QueryRowContext(ctx,
		"SELECT "+roundColumns+" FROM rounds WHERE id = ?", d.RoundID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get round: %w", err)
	}
	if !round.Open() {
		return 0, storage.ErrRoundClosed
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO designs (id, round_id, session_id, participant_id, target_role, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RoundID, d.SessionID, d.ParticipantID, d.TargetRole, d.Payload, toMillis(d.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateSubmission
		}
		return 0, fmt.Errorf("insert design: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM designs WHERE round_id = ?", d.RoundID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count designs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return count, nil
}

func (s *Store) PutFeedback(ctx context.Context, f storage.FeedbackRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status storage.Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM sessions WHERE id = ?", f.SessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get session status: %w", err)
	}
	if status != storage.StatusReveal {
		return 0, storage.ErrSessionNotInReveal
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO feedback (id, session_id, participant_id, vote, reaction, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.SessionID, f.ParticipantID, nullString(string(f.Vote)), nullString(f.Reaction), toMillis(f.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateVote
		}
		return 0, fmt.Errorf("insert feedback: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE participants SET revealed = 1 WHERE id = ?", f.ParticipantID); err != nil {
		return 0, fmt.Errorf("mark revealed: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback WHERE session_id = ?", f.SessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return count, nil
}

func (s *Store) GetRound(ctx context.Context, roundID string) (storage.RoundRecord, error) {
	rec, err := scanRound(s.db.QueryRowContext(ctx,
		"SELECT "+roundColumns+" FROM rounds WHERE id = ?", roundID))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RoundRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RoundRecord{}, fmt.Errorf("get round: %w", err)
	}
	return rec, nil
}

func (s *Store) FindParticipant(ctx context.Context, sessionID, userID string) (storage.ParticipantRecord, error) {
	var (
		rec      storage.ParticipantRecord
		joinedAt int64
		revealed int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, session_id, user_id, role, alias, joined_at, revealed
FROM participants
WHERE session_id = ? AND user_id = ?`, sessionID, userID).
		Scan(&rec.ID, &rec.SessionID, &rec.UserID, &rec.Role, &rec.Alias, &joinedAt, &revealed)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ParticipantRecord{}, storage.ErrNotParticipant
	}
	if err != nil {
		return storage.ParticipantRecord{}, fmt.Errorf("find participant: %w", err)
	}
	rec.JoinedAt = fromMillis(joinedAt)
	rec.Revealed = revealed != 0
	return rec, nil
}

func (s *Store) GetSnapshot(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	var snap storage.Snapshot

	sess, err := scanSession(s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("get session: %w", err)
	}
	snap.Session = sess

	prows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, user_id, role, alias, joined_at, revealed
FROM participants WHERE session_id = ? ORDER BY role ASC`, sessionID)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("list participants: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var (
			rec      storage.ParticipantRecord
			joinedAt int64
			revealed int
		)
		if err := prows.Scan(&rec.ID, &rec.SessionID, &rec.UserID, &rec.Role, &rec.Alias, &joinedAt, &revealed); err != nil {
			return storage.Snapshot{}, fmt.Errorf("scan participant: %w", err)
		}
		rec.JoinedAt = fromMillis(joinedAt)
		rec.Revealed = revealed != 0
		snap.Participants = append(snap.Participants, rec)
	}
	if err := prows.Err(); err != nil {
		return storage.Snapshot{}, err
	}

	rrows, err := s.db.QueryContext(ctx,
		"SELECT "+roundColumns+" FROM rounds WHERE session_id = ? ORDER BY number ASC", sessionID)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("list rounds: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		rec, err := scanRound(rrows)
		if err != nil {
			return storage.Snapshot{}, fmt.Errorf("scan round: %w", err)
		}
		snap.Rounds = append(snap.Rounds, rec)
	}
	if err := rrows.Err(); err != nil {
		return storage.Snapshot{}, err
	}

	drows, err := s.db.QueryContext(ctx, `
SELECT id, round_id, session_id, participant_id, target_role, payload, created_at
FROM designs WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("list designs: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var (
			rec       storage.DesignRecord
			createdAt int64
		)
		if err := drows.Scan(&rec.ID, &rec.RoundID, &rec.SessionID, &rec.ParticipantID, &rec.TargetRole, &rec.Payload, &createdAt); err != nil {
			return storage.Snapshot{}, fmt.Errorf("scan design: %w", err)
		}
		rec.CreatedAt = fromMillis(createdAt)
		snap.Designs = append(snap.Designs, rec)
	}
	if err := drows.Err(); err != nil {
		return storage.Snapshot{}, err
	}

	frows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, participant_id, vote, reaction, created_at
FROM feedback WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("list feedback: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var (
			rec       storage.FeedbackRecord
			vote      sql.NullString
			reaction  sql.NullString
			createdAt int64
		)
		if err := frows.Scan(&rec.ID, &rec.SessionID, &rec.ParticipantID, &vote, &reaction, &createdAt); err != nil {
			return storage.Snapshot{}, fmt.Errorf("scan feedback: %w", err)
		}
		rec.Vote = storage.Vote(vote.String)
		rec.Reaction = reaction.String
		rec.CreatedAt = fromMillis(createdAt)
		snap.Feedback = append(snap.Feedback, rec)
	}
	return snap, frows.Err()
}
