package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/styleduel/styleduel/internal/storage"
)

const sessionColumns = "id, status, visibility, invite_code, created_at, ended_at"

func scanSession(row *sql.Row) (storage.SessionRecord, error) {
	var (
		rec        storage.SessionRecord
		inviteCode sql.NullString
		createdAt  int64
		endedAt    sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.Status, &rec.Visibility, &inviteCode, &createdAt, &endedAt)
	if err != nil {
		return storage.SessionRecord{}, err
	}
	rec.InviteCode = inviteCode.String
	rec.CreatedAt = fromMillis(createdAt)
	rec.EndedAt = fromNullMillis(endedAt)
	return rec, nil
}

// hasSeat reports whether the user already holds a seat in any non-terminal
// session. Must run inside the same transaction as the insert it guards.
func hasSeat(ctx context.Context, tx *sql.Tx, userID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM participants p
JOIN sessions s ON s.id = p.session_id
WHERE p.user_id = ? AND s.status NOT IN ('finished', 'abandoned')`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count seats: %w", err)
	}
	return n > 0, nil
}

// attach seats the participant in the session, assigning the free role. The
// seat-count read, the role pick and the insert share the caller's
// transaction; the UNIQUE(session_id, role) constraint backstops the check.
func attach(ctx context.Context, tx *sql.Tx, sess storage.SessionRecord, p storage.ParticipantRecord) (storage.JoinResult, error) {
	rows, err := tx.QueryContext(ctx, "SELECT role FROM participants WHERE session_id = ?", sess.ID)
	if err != nil {
		return storage.JoinResult{}, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	seats := 0
	role := storage.RoleA
	for rows.Next() {
		var taken storage.Role
		if err := rows.Scan(&taken); err != nil {
			return storage.JoinResult{}, fmt.Errorf("scan role: %w", err)
		}
		seats++
		if taken == storage.RoleA {
			role = storage.RoleB
		}
	}
	if err := rows.Err(); err != nil {
		return storage.JoinResult{}, fmt.Errorf("list roles: %w", err)
	}
	if seats >= 2 {
		return storage.JoinResult{}, storage.ErrSessionFull
	}

	p.SessionID = sess.ID
	p.Role = role
	_, err = tx.ExecContext(ctx, `
INSERT INTO participants (id, session_id, user_id, role, alias, joined_at, revealed)
VALUES (?, ?, ?, ?, ?, ?, 0)`,
		p.ID, p.SessionID, p.UserID, p.Role, p.Alias, toMillis(p.JoinedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.JoinResult{}, storage.ErrSessionFull
		}
		return storage.JoinResult{}, fmt.Errorf("insert participant: %w", err)
	}
	return storage.JoinResult{Session: sess, Participant: p, Seats: seats + 1}, nil
}

func (s *Store) MatchPublic(ctx context.Context, p storage.ParticipantRecord, newSessionID string) (storage.JoinResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.JoinResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	taken, err := hasSeat(ctx, tx, p.UserID)
	if err != nil {
		return storage.JoinResult{}, err
	}
	if taken {
		return storage.JoinResult{}, storage.ErrAlreadyJoined
	}

	sess, err := scanSession(tx.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions s
WHERE status = 'searching' AND visibility = 'public'
  AND (SELECT COUNT(*) FROM participants p WHERE p.session_id = s.id) < 2
ORDER BY created_at ASC, id ASC
LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		sess = storage.SessionRecord{
			ID:         newSessionID,
			Status:     storage.StatusSearching,
			Visibility: storage.VisibilityPublic,
			CreatedAt:  p.JoinedAt,
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (id, status, visibility, invite_code, created_at, ended_at)
VALUES (?, ?, ?, NULL, ?, NULL)`,
			sess.ID, sess.Status, sess.Visibility, toMillis(sess.CreatedAt))
		if err != nil {
			return storage.JoinResult{}, fmt.Errorf("insert session: %w", err)
		}
	} else if err != nil {
		return storage.JoinResult{}, fmt.Errorf("find searching session: %w", err)
	}

	res, err := attach(ctx, tx, sess, p)
	if err != nil {
		return storage.JoinResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.JoinResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func (s *Store) JoinByCode(ctx context.Context, code string, p storage.ParticipantRecord) (storage.JoinResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.JoinResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := scanSession(tx.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE visibility = 'private' AND invite_code = ?
  AND status NOT IN ('finished', 'abandoned')
LIMIT 1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.JoinResult{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.JoinResult{}, fmt.Errorf("resolve invite code: %w", err)
	}

	taken, err := hasSeat(ctx, tx, p.UserID)
	if err != nil {
		return storage.JoinResult{}, err
	}
	if taken {
		return storage.JoinResult{}, storage.ErrAlreadyJoined
	}

	res, err := attach(ctx, tx, sess, p)
	if err != nil {
		return storage.JoinResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.JoinResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func (s *Store) CreatePrivate(ctx context.Context, sess storage.SessionRecord, p storage.ParticipantRecord) (storage.JoinResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.JoinResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	taken, err := hasSeat(ctx, tx, p.UserID)
	if err != nil {
		return storage.JoinResult{}, err
	}
	if taken {
		return storage.JoinResult{}, storage.ErrAlreadyJoined
	}

	// The code must not resolve to any live session. Terminal sessions may
	// keep their code; the retention job clears them eventually.
	var n int
	err = tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM sessions
WHERE invite_code = ? AND status NOT IN ('finished', 'abandoned')`, sess.InviteCode).Scan(&n)
	if err != nil {
		return storage.JoinResult{}, fmt.Errorf("check invite code: %w", err)
	}
	if n > 0 {
		return storage.JoinResult{}, storage.ErrCodeTaken
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (id, status, visibility, invite_code, created_at, ended_at)
VALUES (?, ?, ?, ?, ?, NULL)`,
		sess.ID, sess.Status, sess.Visibility, nullString(sess.InviteCode), toMillis(sess.CreatedAt))
	if err != nil {
		return storage.JoinResult{}, fmt.Errorf("insert session: %w", err)
	}

	res, err := attach(ctx, tx, sess, p)
	if err != nil {
		return storage.JoinResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.JoinResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func (s *Store) Leave(ctx context.Context, userID string, now time.Time) (storage.LeaveResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.LeaveResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var participantID, sessionID string
	err = tx.QueryRowContext(ctx, `
SELECT p.id, p.session_id
FROM participants p
JOIN sessions s ON s.id = p.session_id
WHERE p.user_id = ? AND s.status NOT IN ('finished', 'abandoned')
LIMIT 1`, userID).Scan(&participantID, &sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.LeaveResult{}, storage.ErrNotInSession
	}
	if err != nil {
		return storage.LeaveResult{}, fmt.Errorf("find seat: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM participants WHERE id = ?", participantID); err != nil {
		return storage.LeaveResult{}, fmt.Errorf("delete participant: %w", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM participants WHERE session_id = ?", sessionID).Scan(&remaining); err != nil {
		return storage.LeaveResult{}, fmt.Errorf("count remaining: %w", err)
	}

	sess, err := scanSession(tx.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID))
	if err != nil {
		return storage.LeaveResult{}, fmt.Errorf("get session: %w", err)
	}

	res := storage.LeaveResult{Remaining: remaining}
	switch {
	case remaining == 0:
		sess.Status = storage.StatusAbandoned
		sess.EndedAt = now
		_, err = tx.ExecContext(ctx, "UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?",
			sess.Status, toMillis(now), sessionID)
		if err != nil {
			return storage.LeaveResult{}, fmt.Errorf("abandon session: %w", err)
		}
	case sess.Status == storage.StatusActive:
		// The pairing is broken; in-flight rounds and designs are
		// meaningless for the next pairing.
		sess.Status = storage.StatusSearching
		if _, err := tx.ExecContext(ctx, "UPDATE sessions SET status = ? WHERE id = ?", sess.Status, sessionID); err != nil {
			return storage.LeaveResult{}, fmt.Errorf("revert session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM designs WHERE session_id = ?", sessionID); err != nil {
			return storage.LeaveResult{}, fmt.Errorf("discard designs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM rounds WHERE session_id = ?", sessionID); err != nil {
			return storage.LeaveResult{}, fmt.Errorf("discard rounds: %w", err)
		}
		res.RoundsDiscarded = true
	}
	res.Session = sess

	if err := tx.Commit(); err != nil {
		return storage.LeaveResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func (s *Store) TransitionSession(ctx context.Context, sessionID string, from, to storage.Status, now time.Time) (bool, error) {
	var res sql.Result
	var err error
	if to.Terminal() {
		res, err = s.db.ExecContext(ctx,
			"UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND status = ?",
			to, toMillis(now), sessionID, from)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE sessions SET status = ? WHERE id = ? AND status = ?",
			to, sessionID, from)
	}
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return false, nil
}
