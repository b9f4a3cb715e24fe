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

// AgentRepository translates core.Agent records to and from rows of the
// agents table. Every write also bumps the owning session's updated_at in
// the same transaction.
type AgentRepository struct {
	engine *storage.Engine
	logger logging.Logger
}

// NewAgentRepository creates a repository bound to the given engine.
func NewAgentRepository(engine *storage.Engine, logger logging.Logger) *AgentRepository {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &AgentRepository{engine: engine, logger: logger}
}

// Create registers an agent inside an existing session. Fails with
// core.ErrSessionNotFound if the session is absent and core.ErrAgentExists
// if the (session, agent) pair is already taken.
func (r *AgentRepository) Create(ctx context.Context, sessionID, agentID string, config json.RawMessage) (*core.Agent, error) {
	var agent *core.Agent
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		agent, err = insertAgent(ctx, tx, sessionID, agentID, config, now())
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("created agent", "session_id", sessionID, "agent_id", agentID)
	return agent, nil
}

// Get returns the agent or core.ErrAgentNotFound.
func (r *AgentRepository) Get(ctx context.Context, sessionID, agentID string) (*core.Agent, error) {
	return getAgent(ctx, r.engine.DB(), sessionID, agentID)
}

// Update replaces the configuration blob and bumps updated_at on agent and
// session. Fails with core.ErrAgentNotFound if the pair is absent.
func (r *AgentRepository) Update(ctx context.Context, sessionID, agentID string, config json.RawMessage) (*core.Agent, error) {
	var agent *core.Agent
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		ts := now()
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET config = ?, updated_at = ? WHERE session_id = ? AND agent_id = ?`,
			normalizeBlob(config), formatTime(ts), sessionID, agentID)
		if err != nil {
			return fmt.Errorf("update agent %q/%q: %w", sessionID, agentID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update agent %q/%q: %w", sessionID, agentID, err)
		} else if n == 0 {
			return fmt.Errorf("update agent %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
		}
		if _, err := touchSession(ctx, tx, sessionID, ts); err != nil {
			return err
		}
		agent, err = getAgent(ctx, tx, sessionID, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("updated agent", "session_id", sessionID, "agent_id", agentID)
	return agent, nil
}

// Delete removes the agent; its messages cascade. Fails with
// core.ErrAgentNotFound if the pair is absent.
func (r *AgentRepository) Delete(ctx context.Context, sessionID, agentID string) error {
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM agents WHERE session_id = ? AND agent_id = ?`, sessionID, agentID)
		if err != nil {
			return fmt.Errorf("delete agent %q/%q: %w", sessionID, agentID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("delete agent %q/%q: %w", sessionID, agentID, err)
		} else if n == 0 {
			return fmt.Errorf("delete agent %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
		}
		_, err = touchSession(ctx, tx, sessionID, now())
		return err
	})
	if err != nil {
		return err
	}
	r.logger.Debug("deleted agent", "session_id", sessionID, "agent_id", agentID)
	return nil
}

// ListForSession returns the session's agents ordered by creation time
// ascending. An unknown session yields an empty slice.
func (r *AgentRepository) ListForSession(ctx context.Context, sessionID string) ([]*core.Agent, error) {
	rows, err := r.engine.Query(ctx,
		`SELECT agent_id, config, created_at, updated_at FROM agents WHERE session_id = ? ORDER BY created_at ASC, agent_id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list agents for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var agents []*core.Agent
	for rows.Next() {
		var id, config, createdAt, updatedAt string
		if err := rows.Scan(&id, &config, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agent, err := agentFromRow(sessionID, id, config, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

func insertAgent(ctx context.Context, q storage.DBTX, sessionID, agentID string, config json.RawMessage, ts time.Time) (*core.Agent, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO agents (session_id, agent_id, config, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, agentID, normalizeBlob(config), formatTime(ts), formatTime(ts))
	if err != nil {
		if storage.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("create agent %q/%q: %w", sessionID, agentID, core.ErrSessionNotFound)
		}
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create agent %q/%q: %w", sessionID, agentID, core.ErrAgentExists)
		}
		if storage.IsConstraint(err) {
			return nil, fmt.Errorf("create agent %q/%q: %w: %s", sessionID, agentID, core.ErrIntegrity, err)
		}
		return nil, fmt.Errorf("create agent %q/%q: %w", sessionID, agentID, err)
	}
	if _, err := touchSession(ctx, q, sessionID, ts); err != nil {
		return nil, err
	}
	return &core.Agent{SessionID: sessionID, ID: agentID, Config: blobOut(config), CreatedAt: ts, UpdatedAt: ts}, nil
}

func getAgent(ctx context.Context, q storage.DBTX, sessionID, agentID string) (*core.Agent, error) {
	var config, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT config, created_at, updated_at FROM agents WHERE session_id = ? AND agent_id = ?`,
		sessionID, agentID).Scan(&config, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get agent %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %q/%q: %w", sessionID, agentID, err)
	}
	return agentFromRow(sessionID, agentID, config, createdAt, updatedAt)
}

// touchAgent bumps the agent's updated_at. Reports whether the row existed,
// which doubles as the existence check for message appends.
func touchAgent(ctx context.Context, q storage.DBTX, sessionID, agentID string, ts time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE agents SET updated_at = ? WHERE session_id = ? AND agent_id = ?`,
		formatTime(ts), sessionID, agentID)
	if err != nil {
		return false, fmt.Errorf("touch agent %q/%q: %w", sessionID, agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch agent %q/%q: %w", sessionID, agentID, err)
	}
	return n > 0, nil
}

func agentFromRow(sessionID, agentID, config, createdAt, updatedAt string) (*core.Agent, error) {
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &core.Agent{
		SessionID: sessionID,
		ID:        agentID,
		Config:    json.RawMessage(config),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
