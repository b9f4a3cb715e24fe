package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
	"github.com/hupe1980/agentvault/storage"
)

// MultiAgentRepository persists orchestration-level coordination state,
// keyed by (session_id, multi_agent_id). Saves are upserts: created_at is
// preserved across overwrites.
type MultiAgentRepository struct {
	engine *storage.Engine
	logger logging.Logger
}

// NewMultiAgentRepository creates a repository bound to the given engine.
func NewMultiAgentRepository(engine *storage.Engine, logger logging.Logger) *MultiAgentRepository {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &MultiAgentRepository{engine: engine, logger: logger}
}

// Save creates or replaces the state blob for the group, bumping the owning
// session's updated_at. Fails with core.ErrSessionNotFound if the session is
// absent.
func (r *MultiAgentRepository) Save(ctx context.Context, sessionID, multiAgentID string, state json.RawMessage) (*core.MultiAgentState, error) {
	var stored *core.MultiAgentState
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		ts := now()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO multi_agents (session_id, multi_agent_id, state, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, multi_agent_id) DO UPDATE SET
			   state = excluded.state,
			   updated_at = excluded.updated_at`,
			sessionID, multiAgentID, normalizeBlob(state), formatTime(ts), formatTime(ts))
		if err != nil {
			if storage.IsForeignKeyViolation(err) {
				return fmt.Errorf("save multi-agent state %q/%q: %w", sessionID, multiAgentID, core.ErrSessionNotFound)
			}
			if storage.IsConstraint(err) {
				return fmt.Errorf("save multi-agent state %q/%q: %w: %s", sessionID, multiAgentID, core.ErrIntegrity, err)
			}
			return fmt.Errorf("save multi-agent state %q/%q: %w", sessionID, multiAgentID, err)
		}
		if _, err := touchSession(ctx, tx, sessionID, ts); err != nil {
			return err
		}
		stored, err = getMultiAgentState(ctx, tx, sessionID, multiAgentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("saved multi-agent state", "session_id", sessionID, "multi_agent_id", multiAgentID)
	return stored, nil
}

// Get returns the stored state or core.ErrMultiAgentNotFound.
func (r *MultiAgentRepository) Get(ctx context.Context, sessionID, multiAgentID string) (*core.MultiAgentState, error) {
	return getMultiAgentState(ctx, r.engine.DB(), sessionID, multiAgentID)
}

func getMultiAgentState(ctx context.Context, q storage.DBTX, sessionID, multiAgentID string) (*core.MultiAgentState, error) {
	var state, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT state, created_at, updated_at FROM multi_agents WHERE session_id = ? AND multi_agent_id = ?`,
		sessionID, multiAgentID).Scan(&state, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get multi-agent state %q/%q: %w", sessionID, multiAgentID, core.ErrMultiAgentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get multi-agent state %q/%q: %w", sessionID, multiAgentID, err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &core.MultiAgentState{
		SessionID: sessionID,
		ID:        multiAgentID,
		State:     json.RawMessage(state),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
