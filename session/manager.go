package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
	"github.com/hupe1980/agentvault/storage"
)

// LoadPolicy controls how Manager.LoadSession treats a missing session.
type LoadPolicy int

const (
	// LoadStrict reports core.ErrSessionNotFound for missing sessions.
	LoadStrict LoadPolicy = iota
	// LoadOrCreate creates the session on first load, with empty metadata.
	LoadOrCreate
)

// ManagerOptions configures Manager construction.
type ManagerOptions struct {
	// LoadPolicy selects the LoadSession behavior (default LoadStrict).
	LoadPolicy LoadPolicy
	// Logger receives manager diagnostics (defaults to NoOp if nil).
	Logger logging.Logger
}

// Manager is the SQLite-backed core.SessionManager. It composes the entity
// repositories over one storage engine; every multi-step operation runs
// inside a single engine transaction so partial application-level writes are
// never visible. The manager is stateless between calls: all state lives in
// the store, which makes it safe to construct several managers (even in
// separate processes) over the same database file.
type Manager struct {
	engine      *storage.Engine
	sessions    *SessionRepository
	agents      *AgentRepository
	messages    *MessageRepository
	multiAgents *MultiAgentRepository
	policy      LoadPolicy
	logger      logging.Logger
}

// Compile-time interface compliance.
var _ core.SessionManager = (*Manager)(nil)

// NewManager creates a Manager on top of an opened storage engine.
func NewManager(engine *storage.Engine, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		LoadPolicy: LoadStrict,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		engine:      engine,
		sessions:    NewSessionRepository(engine, opts.Logger),
		agents:      NewAgentRepository(engine, opts.Logger),
		messages:    NewMessageRepository(engine, opts.Logger),
		multiAgents: NewMultiAgentRepository(engine, opts.Logger),
		policy:      opts.LoadPolicy,
		logger:      opts.Logger,
	}
}

// CreateSession inserts a new session. An empty id is replaced by a
// generated UUID.
func (m *Manager) CreateSession(ctx context.Context, sessionID string, metadata json.RawMessage) (*core.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return m.sessions.Create(ctx, sessionID, metadata)
}

// LoadSession returns the session, honoring the configured load policy. With
// LoadOrCreate the lookup and the fallback insert share one transaction, so
// two concurrent loaders of the same fresh id converge on a single row.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) (*core.Session, error) {
	if m.policy == LoadStrict {
		return m.sessions.Get(ctx, sessionID)
	}

	var sess *core.Session
	err := m.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		sess, err = getSession(ctx, tx, sessionID)
		if errors.Is(err, core.ErrSessionNotFound) {
			sess, err = insertSession(ctx, tx, sessionID, nil, now())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateSession replaces the session metadata.
func (m *Manager) UpdateSession(ctx context.Context, sessionID string, metadata json.RawMessage) (*core.Session, error) {
	return m.sessions.Update(ctx, sessionID, metadata)
}

// ListSessions returns all sessions ordered by creation time ascending.
func (m *Manager) ListSessions(ctx context.Context) ([]*core.Session, error) {
	return m.sessions.List(ctx)
}

// DeleteSession removes the session and every dependent row atomically.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.sessions.Delete(ctx, sessionID)
}

// CreateAgent registers an agent inside an existing session.
func (m *Manager) CreateAgent(ctx context.Context, sessionID, agentID string, config json.RawMessage) (*core.Agent, error) {
	if agentID == "" {
		agentID = uuid.NewString()
	}
	return m.agents.Create(ctx, sessionID, agentID, config)
}

// GetAgent returns the agent or core.ErrAgentNotFound.
func (m *Manager) GetAgent(ctx context.Context, sessionID, agentID string) (*core.Agent, error) {
	return m.agents.Get(ctx, sessionID, agentID)
}

// UpdateAgent replaces the agent configuration.
func (m *Manager) UpdateAgent(ctx context.Context, sessionID, agentID string, config json.RawMessage) (*core.Agent, error) {
	return m.agents.Update(ctx, sessionID, agentID, config)
}

// DeleteAgent removes the agent and its messages.
func (m *Manager) DeleteAgent(ctx context.Context, sessionID, agentID string) error {
	return m.agents.Delete(ctx, sessionID, agentID)
}

// ListAgents returns the session's agents ordered by creation time.
func (m *Manager) ListAgents(ctx context.Context, sessionID string) ([]*core.Agent, error) {
	return m.agents.ListForSession(ctx, sessionID)
}

// AppendMessage appends to the agent's history, assigning the next index.
func (m *Manager) AppendMessage(ctx context.Context, sessionID, agentID, role string, content json.RawMessage) (*core.Message, error) {
	return m.messages.Append(ctx, sessionID, agentID, role, content)
}

// ReadHistory returns the agent's full ordered history.
func (m *Manager) ReadHistory(ctx context.Context, sessionID, agentID string) ([]*core.Message, error) {
	return m.messages.GetAll(ctx, sessionID, agentID)
}

// ReadHistoryRange returns messages within the inclusive index range.
func (m *Manager) ReadHistoryRange(ctx context.Context, sessionID, agentID string, startIndex, endIndex int) ([]*core.Message, error) {
	return m.messages.GetRange(ctx, sessionID, agentID, startIndex, endIndex)
}

// UpdateMessage rewrites an existing message in place (redaction).
func (m *Manager) UpdateMessage(ctx context.Context, sessionID, agentID string, index int, role string, content json.RawMessage) (*core.Message, error) {
	return m.messages.Update(ctx, sessionID, agentID, index, role, content)
}

// TruncateMessages removes every message with index >= fromIndex.
func (m *Manager) TruncateMessages(ctx context.Context, sessionID, agentID string, fromIndex int) (int, error) {
	return m.messages.DeleteFrom(ctx, sessionID, agentID, fromIndex)
}

// SaveMultiAgentState upserts the coordination state for the group.
func (m *Manager) SaveMultiAgentState(ctx context.Context, sessionID, multiAgentID string, state json.RawMessage) (*core.MultiAgentState, error) {
	return m.multiAgents.Save(ctx, sessionID, multiAgentID, state)
}

// LoadMultiAgentState returns the stored coordination state.
func (m *Manager) LoadMultiAgentState(ctx context.Context, sessionID, multiAgentID string) (*core.MultiAgentState, error) {
	return m.multiAgents.Get(ctx, sessionID, multiAgentID)
}

// Close releases the underlying storage engine.
func (m *Manager) Close() error {
	return m.engine.Close()
}
