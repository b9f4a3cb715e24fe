package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/agentvault/core"
)

// InMemoryManager is a volatile core.SessionManager implementation storing
// everything in process local maps. It is safe for concurrent access and
// best suited for tests or ephemeral demo runs. Each returned record is
// cloned to prevent external mutation of internal state, and error semantics
// mirror the SQLite-backed Manager so the two are interchangeable.
type InMemoryManager struct {
	mu          sync.RWMutex
	policy      LoadPolicy
	sessions    map[string]*core.Session
	agents      map[string]map[string]*core.Agent
	messages    map[string]map[string][]*core.Message
	multiAgents map[string]map[string]*core.MultiAgentState
}

// Compile-time interface compliance.
var _ core.SessionManager = (*InMemoryManager)(nil)

// NewInMemoryManager constructs an empty in-memory session manager.
func NewInMemoryManager(optFns ...func(o *ManagerOptions)) *InMemoryManager {
	opts := ManagerOptions{LoadPolicy: LoadStrict}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryManager{
		policy:      opts.LoadPolicy,
		sessions:    make(map[string]*core.Session),
		agents:      make(map[string]map[string]*core.Agent),
		messages:    make(map[string]map[string][]*core.Message),
		multiAgents: make(map[string]map[string]*core.MultiAgentState),
	}
}

// CreateSession inserts a new session. An empty id is replaced by a
// generated UUID.
func (m *InMemoryManager) CreateSession(_ context.Context, sessionID string, metadata json.RawMessage) (*core.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return nil, fmt.Errorf("create session %q: %w", sessionID, core.ErrSessionExists)
	}
	return m.createSessionLocked(sessionID, metadata).Clone(), nil
}

// LoadSession returns the session, honoring the configured load policy.
func (m *InMemoryManager) LoadSession(_ context.Context, sessionID string) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}
	if m.policy == LoadOrCreate {
		return m.createSessionLocked(sessionID, nil).Clone(), nil
	}
	return nil, fmt.Errorf("get session %q: %w", sessionID, core.ErrSessionNotFound)
}

// UpdateSession replaces the session metadata and bumps updated_at.
func (m *InMemoryManager) UpdateSession(_ context.Context, sessionID string, metadata json.RawMessage) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("update session %q: %w", sessionID, core.ErrSessionNotFound)
	}
	sess.Metadata = blobOut(metadata)
	sess.UpdatedAt = now()
	return sess.Clone(), nil
}

// ListSessions returns all sessions ordered by creation time ascending.
func (m *InMemoryManager) ListSessions(_ context.Context) ([]*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*core.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// DeleteSession removes the session and cascades to all dependents.
func (m *InMemoryManager) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("delete session %q: %w", sessionID, core.ErrSessionNotFound)
	}
	delete(m.sessions, sessionID)
	delete(m.agents, sessionID)
	delete(m.messages, sessionID)
	delete(m.multiAgents, sessionID)
	return nil
}

// CreateAgent registers an agent inside an existing session.
func (m *InMemoryManager) CreateAgent(_ context.Context, sessionID, agentID string, config json.RawMessage) (*core.Agent, error) {
	if agentID == "" {
		agentID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("create agent %q/%q: %w", sessionID, agentID, core.ErrSessionNotFound)
	}
	if _, ok := m.agents[sessionID][agentID]; ok {
		return nil, fmt.Errorf("create agent %q/%q: %w", sessionID, agentID, core.ErrAgentExists)
	}

	ts := now()
	agent := &core.Agent{SessionID: sessionID, ID: agentID, Config: blobOut(config), CreatedAt: ts, UpdatedAt: ts}
	if m.agents[sessionID] == nil {
		m.agents[sessionID] = make(map[string]*core.Agent)
	}
	m.agents[sessionID][agentID] = agent
	sess.UpdatedAt = ts
	return agent.Clone(), nil
}

// GetAgent returns the agent or core.ErrAgentNotFound.
func (m *InMemoryManager) GetAgent(_ context.Context, sessionID, agentID string) (*core.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[sessionID][agentID]
	if !ok {
		return nil, fmt.Errorf("get agent %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
	}
	return agent.Clone(), nil
}

// UpdateAgent replaces the agent configuration.
func (m *InMemoryManager) UpdateAgent(_ context.Context, sessionID, agentID string, config json.RawMessage) (*core.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[sessionID][agentID]
	if !ok {
		return nil, fmt.Errorf("update agent %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
	}
	ts := now()
	agent.Config = blobOut(config)
	agent.UpdatedAt = ts
	m.sessions[sessionID].UpdatedAt = ts
	return agent.Clone(), nil
}

// DeleteAgent removes the agent and its messages.
func (m *InMemoryManager) DeleteAgent(_ context.Context, sessionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[sessionID][agentID]; !ok {
		return fmt.Errorf("delete agent %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
	}
	delete(m.agents[sessionID], agentID)
	if msgs, ok := m.messages[sessionID]; ok {
		delete(msgs, agentID)
	}
	m.sessions[sessionID].UpdatedAt = now()
	return nil
}

// ListAgents returns the session's agents ordered by creation time.
func (m *InMemoryManager) ListAgents(_ context.Context, sessionID string) ([]*core.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agents := make([]*core.Agent, 0, len(m.agents[sessionID]))
	for _, agent := range m.agents[sessionID] {
		agents = append(agents, agent.Clone())
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// AppendMessage assigns the next index and appends under the write lock, so
// concurrent appenders can never claim the same slot.
func (m *InMemoryManager) AppendMessage(_ context.Context, sessionID, agentID, role string, content json.RawMessage) (*core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[sessionID][agentID]
	if !ok {
		return nil, fmt.Errorf("append message %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
	}

	ts := now()
	history := m.messages[sessionID][agentID]
	next := 0
	if n := len(history); n > 0 {
		next = history[n-1].Index + 1
	}

	msg := &core.Message{
		SessionID: sessionID,
		AgentID:   agentID,
		Index:     next,
		Role:      role,
		Content:   blobOut(content),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if m.messages[sessionID] == nil {
		m.messages[sessionID] = make(map[string][]*core.Message)
	}
	m.messages[sessionID][agentID] = append(history, msg)
	agent.UpdatedAt = ts
	m.sessions[sessionID].UpdatedAt = ts
	return msg.Clone(), nil
}

// ReadHistory returns the agent's full ordered history.
func (m *InMemoryManager) ReadHistory(_ context.Context, sessionID, agentID string) ([]*core.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.messages[sessionID][agentID]
	out := make([]*core.Message, 0, len(history))
	for _, msg := range history {
		out = append(out, msg.Clone())
	}
	return out, nil
}

// ReadHistoryRange returns messages within the inclusive index range.
func (m *InMemoryManager) ReadHistoryRange(_ context.Context, sessionID, agentID string, startIndex, endIndex int) ([]*core.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Message
	for _, msg := range m.messages[sessionID][agentID] {
		if msg.Index >= startIndex && msg.Index <= endIndex {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

// UpdateMessage rewrites an existing message in place (redaction).
func (m *InMemoryManager) UpdateMessage(_ context.Context, sessionID, agentID string, index int, role string, content json.RawMessage) (*core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[sessionID][agentID] {
		if msg.Index != index {
			continue
		}
		ts := now()
		msg.Role = role
		msg.Content = blobOut(content)
		msg.UpdatedAt = ts
		m.agents[sessionID][agentID].UpdatedAt = ts
		m.sessions[sessionID].UpdatedAt = ts
		return msg.Clone(), nil
	}
	return nil, fmt.Errorf("update message %q/%q[%d]: %w", sessionID, agentID, index, core.ErrMessageNotFound)
}

// TruncateMessages removes every message with index >= fromIndex.
func (m *InMemoryManager) TruncateMessages(_ context.Context, sessionID, agentID string, fromIndex int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.messages[sessionID][agentID]
	kept := history[:0]
	deleted := 0
	for _, msg := range history {
		if msg.Index >= fromIndex {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	if deleted > 0 {
		m.messages[sessionID][agentID] = kept
		ts := now()
		m.agents[sessionID][agentID].UpdatedAt = ts
		m.sessions[sessionID].UpdatedAt = ts
	}
	return deleted, nil
}

// SaveMultiAgentState upserts the coordination state for the group,
// preserving created_at across overwrites.
func (m *InMemoryManager) SaveMultiAgentState(_ context.Context, sessionID, multiAgentID string, state json.RawMessage) (*core.MultiAgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("save multi-agent state %q/%q: %w", sessionID, multiAgentID, core.ErrSessionNotFound)
	}

	ts := now()
	if existing, ok := m.multiAgents[sessionID][multiAgentID]; ok {
		existing.State = blobOut(state)
		existing.UpdatedAt = ts
		sess.UpdatedAt = ts
		return existing.Clone(), nil
	}

	stored := &core.MultiAgentState{SessionID: sessionID, ID: multiAgentID, State: blobOut(state), CreatedAt: ts, UpdatedAt: ts}
	if m.multiAgents[sessionID] == nil {
		m.multiAgents[sessionID] = make(map[string]*core.MultiAgentState)
	}
	m.multiAgents[sessionID][multiAgentID] = stored
	sess.UpdatedAt = ts
	return stored.Clone(), nil
}

// LoadMultiAgentState returns the stored coordination state.
func (m *InMemoryManager) LoadMultiAgentState(_ context.Context, sessionID, multiAgentID string) (*core.MultiAgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.multiAgents[sessionID][multiAgentID]
	if !ok {
		return nil, fmt.Errorf("get multi-agent state %q/%q: %w", sessionID, multiAgentID, core.ErrMultiAgentNotFound)
	}
	return stored.Clone(), nil
}

// Close is a no-op for the in-memory backend.
func (m *InMemoryManager) Close() error { return nil }

// createSessionLocked allocates and stores a new session; caller must
// already hold the write lock.
func (m *InMemoryManager) createSessionLocked(sessionID string, metadata json.RawMessage) *core.Session {
	ts := now()
	sess := &core.Session{ID: sessionID, Metadata: blobOut(metadata), CreatedAt: ts, UpdatedAt: ts}
	m.sessions[sessionID] = sess
	return sess
}
