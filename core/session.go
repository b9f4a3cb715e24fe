package core

import (
	"context"
	"encoding/json"
	"time"
)

// Session represents a persisted top-level conversation container identified
// by a caller-chosen id. Metadata is an opaque blob owned by the caller.
//
// Contract:
//   - CreatedAt equals UpdatedAt directly after creation
//   - UpdatedAt is bumped by any write touching the session or its children
//   - Metadata round-trips byte-for-byte through the store
type Session struct {
	ID        string          `json:"session_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Metadata = cloneBlob(s.Metadata)
	return &clone
}

// Agent is a configured participant within a session, identified by the
// (SessionID, ID) pair and owning its own message history. Config is an
// opaque blob (model settings, tool registrations) owned by the runtime.
type Agent struct {
	SessionID string          `json:"session_id"`
	ID        string          `json:"agent_id"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	clone := *a
	clone.Config = cloneBlob(a.Config)
	return &clone
}

// Message is one ordered entry in an agent's history. Index is a
// monotonically increasing integer per (SessionID, AgentID) pair, assigned
// exclusively by the store starting at zero and never reused.
type Message struct {
	SessionID string          `json:"session_id"`
	AgentID   string          `json:"agent_id"`
	Index     int             `json:"message_index"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Content = cloneBlob(m.Content)
	return &clone
}

// MultiAgentState captures orchestration-level coordination progress for a
// group of agents within a session, keyed by a caller-chosen coordination
// group id. State is an opaque blob.
type MultiAgentState struct {
	SessionID string          `json:"session_id"`
	ID        string          `json:"multi_agent_id"`
	State     json.RawMessage `json:"state,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the multi-agent state.
func (s *MultiAgentState) Clone() *MultiAgentState {
	clone := *s
	clone.State = cloneBlob(s.State)
	return &clone
}

func cloneBlob(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

// SessionManager is the external-facing session lifecycle contract consumed
// by agent runtimes. Both the SQLite-backed manager and the in-memory
// manager implement it; callers select a backend at construction time and
// depend only on this interface.
//
// All operations are short, bounded, synchronous units of work. Managers are
// stateless between calls: all state lives in the underlying store. Failures
// are reported through the sentinel errors and types in this package and are
// never downgraded to silent no-ops.
type SessionManager interface {
	// CreateSession inserts a new session. An empty id asks the manager to
	// generate one. Fails with ErrSessionExists if the id is already taken.
	CreateSession(ctx context.Context, sessionID string, metadata json.RawMessage) (*Session, error)

	// LoadSession returns the session with the given id. Whether a missing
	// session is auto-created or reported as ErrSessionNotFound depends on
	// the manager's configured load policy.
	LoadSession(ctx context.Context, sessionID string) (*Session, error)

	// UpdateSession replaces the session metadata and bumps its updated
	// timestamp. Fails with ErrSessionNotFound if the session is absent.
	UpdateSession(ctx context.Context, sessionID string, metadata json.RawMessage) (*Session, error)

	// ListSessions returns all sessions ordered by creation time ascending.
	// Re-querying yields current state; the result is a snapshot, not a
	// live cursor.
	ListSessions(ctx context.Context) ([]*Session, error)

	// DeleteSession removes a session and cascades to all owned agents,
	// messages and multi-agent state. Fails with ErrSessionNotFound if the
	// session is absent.
	DeleteSession(ctx context.Context, sessionID string) error

	// CreateAgent registers an agent inside an existing session. Fails with
	// ErrAgentExists if the pair already exists and ErrSessionNotFound if
	// the session is absent.
	CreateAgent(ctx context.Context, sessionID, agentID string, config json.RawMessage) (*Agent, error)

	// GetAgent returns the agent or ErrAgentNotFound.
	GetAgent(ctx context.Context, sessionID, agentID string) (*Agent, error)

	// UpdateAgent replaces the agent configuration. Fails with
	// ErrAgentNotFound if the pair is absent.
	UpdateAgent(ctx context.Context, sessionID, agentID string, config json.RawMessage) (*Agent, error)

	// DeleteAgent removes the agent and cascades to its messages.
	DeleteAgent(ctx context.Context, sessionID, agentID string) error

	// ListAgents returns the session's agents ordered by creation time.
	ListAgents(ctx context.Context, sessionID string) ([]*Agent, error)

	// AppendMessage assigns the next message index atomically and appends
	// the entry to the agent's history. Fails with ErrAgentNotFound if the
	// owning agent is absent.
	AppendMessage(ctx context.Context, sessionID, agentID, role string, content json.RawMessage) (*Message, error)

	// ReadHistory returns the agent's full history ordered by index
	// ascending. An agent without messages yields an empty slice.
	ReadHistory(ctx context.Context, sessionID, agentID string) ([]*Message, error)

	// ReadHistoryRange returns messages with startIndex <= index <= endIndex
	// ordered ascending. An empty range is an empty slice, not an error.
	ReadHistoryRange(ctx context.Context, sessionID, agentID string, startIndex, endIndex int) ([]*Message, error)

	// UpdateMessage rewrites the role/content of an existing message
	// (redaction). Fails with ErrMessageNotFound if the index is absent.
	UpdateMessage(ctx context.Context, sessionID, agentID string, index int, role string, content json.RawMessage) (*Message, error)

	// TruncateMessages deletes every message with index >= fromIndex,
	// returning the number of rows removed. Used for rewind scenarios.
	TruncateMessages(ctx context.Context, sessionID, agentID string, fromIndex int) (int, error)

	// SaveMultiAgentState creates or replaces the coordination state blob
	// for the given group id. Fails with ErrSessionNotFound if the session
	// is absent.
	SaveMultiAgentState(ctx context.Context, sessionID, multiAgentID string, state json.RawMessage) (*MultiAgentState, error)

	// LoadMultiAgentState returns the stored coordination state or
	// ErrMultiAgentNotFound.
	LoadMultiAgentState(ctx context.Context, sessionID, multiAgentID string) (*MultiAgentState, error)

	// Close releases the underlying store resources.
	Close() error
}
