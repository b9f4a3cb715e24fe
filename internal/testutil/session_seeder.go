package testutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentvault/core"
)

// Blob converts a JSON literal into a json.RawMessage for terse test setup.
func Blob(s string) json.RawMessage { return json.RawMessage(s) }

type seededMessage struct {
	agentID string
	role    string
	content json.RawMessage
}

// SessionSeeder populates a core.SessionManager with a scripted conversation
// using fluent chaining.
// Example:
//
//	err := NewSessionSeeder("sess-1").
//		Metadata(`{"topic":"demo"}`).
//		Agent("a1", `{}`).
//		Say("a1", "user", `{"text":"hi"}`).
//		Say("a1", "assistant", `{"text":"hello"}`).
//		Apply(ctx, mgr)
type SessionSeeder struct {
	id       string
	metadata json.RawMessage
	agents   map[string]json.RawMessage
	order    []string
	messages []seededMessage
}

// NewSessionSeeder creates a seeder for a session with the given id. Chain
// Metadata, Agent and Say, then call Apply.
func NewSessionSeeder(id string) *SessionSeeder {
	return &SessionSeeder{id: id, agents: map[string]json.RawMessage{}}
}

// Metadata sets the session metadata blob from a JSON literal (chainable).
func (s *SessionSeeder) Metadata(raw string) *SessionSeeder {
	s.metadata = json.RawMessage(raw)
	return s
}

// Agent registers an agent with the given config literal (chainable).
func (s *SessionSeeder) Agent(agentID, config string) *SessionSeeder {
	if _, ok := s.agents[agentID]; !ok {
		s.order = append(s.order, agentID)
	}
	s.agents[agentID] = json.RawMessage(config)
	return s
}

// Say appends one message to the named agent's history (chainable). Messages
// are applied in the order they were declared, so indices are deterministic.
func (s *SessionSeeder) Say(agentID, role, content string) *SessionSeeder {
	s.messages = append(s.messages, seededMessage{agentID: agentID, role: role, content: json.RawMessage(content)})
	return s
}

// Apply replays the scripted conversation against the manager.
func (s *SessionSeeder) Apply(ctx context.Context, mgr core.SessionManager) error {
	if _, err := mgr.CreateSession(ctx, s.id, s.metadata); err != nil {
		return fmt.Errorf("seed session %q: %w", s.id, err)
	}
	for _, agentID := range s.order {
		if _, err := mgr.CreateAgent(ctx, s.id, agentID, s.agents[agentID]); err != nil {
			return fmt.Errorf("seed agent %q/%q: %w", s.id, agentID, err)
		}
	}
	for _, msg := range s.messages {
		if _, err := mgr.AppendMessage(ctx, s.id, msg.agentID, msg.role, msg.content); err != nil {
			return fmt.Errorf("seed message %q/%q: %w", s.id, msg.agentID, err)
		}
	}
	return nil
}
