package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
	"github.com/hupe1980/agentvault/storage"
)

// SessionRepository translates core.Session records to and from rows of the
// sessions table. It is the sole writer of session timestamps.
type SessionRepository struct {
	engine *storage.Engine
	logger logging.Logger
}

// NewSessionRepository creates a repository bound to the given engine.
func NewSessionRepository(engine *storage.Engine, logger logging.Logger) *SessionRepository {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &SessionRepository{engine: engine, logger: logger}
}

// Create inserts a new session row. Fails with core.ErrSessionExists if the
// id is already taken, leaving the original row unmodified.
func (r *SessionRepository) Create(ctx context.Context, sessionID string, metadata json.RawMessage) (*core.Session, error) {
	var sess *core.Session
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		sess, err = insertSession(ctx, tx, sessionID, metadata, now())
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("created session", "session_id", sessionID)
	return sess, nil
}

// Get returns the session or core.ErrSessionNotFound.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	return getSession(ctx, r.engine.DB(), sessionID)
}

// Update replaces the metadata blob and bumps updated_at. Fails with
// core.ErrSessionNotFound if the session is absent.
func (r *SessionRepository) Update(ctx context.Context, sessionID string, metadata json.RawMessage) (*core.Session, error) {
	var sess *core.Session
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET metadata = ?, updated_at = ? WHERE session_id = ?`,
			normalizeBlob(metadata), formatTime(now()), sessionID)
		if err != nil {
			return fmt.Errorf("update session %q: %w", sessionID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update session %q: %w", sessionID, err)
		} else if n == 0 {
			return fmt.Errorf("update session %q: %w", sessionID, core.ErrSessionNotFound)
		}
		sess, err = getSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("updated session", "session_id", sessionID)
	return sess, nil
}

// Delete removes the session; agents, messages and multi-agent state cascade
// atomically. A missing session is reported as core.ErrSessionNotFound
// rather than silently succeeding.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("delete session %q: %w", sessionID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("delete session %q: %w", sessionID, err)
		} else if n == 0 {
			return fmt.Errorf("delete session %q: %w", sessionID, core.ErrSessionNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Debug("deleted session", "session_id", sessionID)
	return nil
}

// List returns all sessions ordered by creation time ascending. Re-querying
// yields current state; the result is a finite snapshot.
func (r *SessionRepository) List(ctx context.Context) ([]*core.Session, error) {
	rows, err := r.engine.Query(ctx,
		`SELECT session_id, metadata, created_at, updated_at FROM sessions ORDER BY created_at ASC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		var id, metadata, createdAt, updatedAt string
		if err := rows.Scan(&id, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess, err := sessionFromRow(id, metadata, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// insertSession writes a fresh session row through q. Shared by the
// repository and multi-step manager transactions.
func insertSession(ctx context.Context, q storage.DBTX, sessionID string, metadata json.RawMessage, ts time.Time) (*core.Session, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (session_id, metadata, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sessionID, normalizeBlob(metadata), formatTime(ts), formatTime(ts))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create session %q: %w", sessionID, core.ErrSessionExists)
		}
		if storage.IsConstraint(err) {
			return nil, fmt.Errorf("create session %q: %w: %s", sessionID, core.ErrIntegrity, err)
		}
		return nil, fmt.Errorf("create session %q: %w", sessionID, err)
	}
	return &core.Session{ID: sessionID, Metadata: blobOut(metadata), CreatedAt: ts, UpdatedAt: ts}, nil
}

func getSession(ctx context.Context, q storage.DBTX, sessionID string) (*core.Session, error) {
	var metadata, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT metadata, created_at, updated_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&metadata, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get session %q: %w", sessionID, core.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %q: %w", sessionID, err)
	}
	return sessionFromRow(sessionID, metadata, createdAt, updatedAt)
}

// touchSession bumps the session's updated_at inside a child-write
// transaction. Reports whether the row existed.
func touchSession(ctx context.Context, q storage.DBTX, sessionID string, ts time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`, formatTime(ts), sessionID)
	if err != nil {
		return false, fmt.Errorf("touch session %q: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch session %q: %w", sessionID, err)
	}
	return n > 0, nil
}

func sessionFromRow(id, metadata, createdAt, updatedAt string) (*core.Session, error) {
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &core.Session{
		ID:        id,
		Metadata:  json.RawMessage(metadata),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
