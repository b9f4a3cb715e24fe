package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
)

func TestAgentRepository_CreateAndGet(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)

	created, err := agents.Create(ctx, "session-1", "agent-1", json.RawMessage(`{"model":"sonnet"}`))
	require.NoError(t, err)
	assert.Equal(t, "session-1", created.SessionID)
	assert.Equal(t, "agent-1", created.ID)
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	got, err := agents.Get(ctx, "session-1", "agent-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"sonnet"}`, string(got.Config))
}

func TestAgentRepository_CreateWithoutSession(t *testing.T) {
	engine := newTestEngine(t)
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := agents.Create(context.Background(), "missing", "agent-1", nil)
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestAgentRepository_CreateDuplicate(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)
	_, err = agents.Create(ctx, "session-1", "agent-1", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)

	_, err = agents.Create(ctx, "session-1", "agent-1", json.RawMessage(`{"v":2}`))
	require.ErrorIs(t, err, core.ErrAgentExists)

	got, err := agents.Get(ctx, "session-1", "agent-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got.Config))
}

func TestAgentRepository_SameIDAcrossSessions(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	for _, sid := range []string{"session-1", "session-2"} {
		_, err := sessions.Create(ctx, sid, nil)
		require.NoError(t, err)
		_, err = agents.Create(ctx, sid, "assistant", nil)
		require.NoError(t, err)
	}

	first, err := agents.Get(ctx, "session-1", "assistant")
	require.NoError(t, err)
	second, err := agents.Get(ctx, "session-2", "assistant")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestAgentRepository_CreateTouchesSession(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	created, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = agents.Create(ctx, "session-1", "agent-1", nil)
	require.NoError(t, err)

	got, err := sessions.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))
}

func TestAgentRepository_Update(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)
	created, err := agents.Create(ctx, "session-1", "agent-1", json.RawMessage(`{"temperature":0.2}`))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	updated, err := agents.Update(ctx, "session-1", "agent-1", json.RawMessage(`{"temperature":0.7}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperature":0.7}`, string(updated.Config))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))
}

func TestAgentRepository_UpdateMissing(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)

	_, err = agents.Update(ctx, "session-1", "missing", json.RawMessage(`{}`))
	require.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestAgentRepository_DeleteCascadesMessages(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})
	messages := NewMessageRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)
	_, err = agents.Create(ctx, "session-1", "agent-1", nil)
	require.NoError(t, err)
	_, err = agents.Create(ctx, "session-1", "agent-2", nil)
	require.NoError(t, err)
	_, err = messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	_, err = messages.Append(ctx, "session-1", "agent-2", "user", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)

	require.NoError(t, agents.Delete(ctx, "session-1", "agent-1"))

	_, err = agents.Get(ctx, "session-1", "agent-1")
	require.ErrorIs(t, err, core.ErrAgentNotFound)

	// Only the deleted agent's history goes away.
	gone, err := messages.GetAll(ctx, "session-1", "agent-1")
	require.NoError(t, err)
	assert.Empty(t, gone)
	kept, err := messages.GetAll(ctx, "session-1", "agent-2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestAgentRepository_DeleteMissing(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)

	err = agents.Delete(ctx, "session-1", "missing")
	require.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestAgentRepository_ListForSession(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)
	_, err = sessions.Create(ctx, "session-2", nil)
	require.NoError(t, err)

	for _, id := range []string{"planner", "researcher", "writer"} {
		_, err = agents.Create(ctx, "session-1", id, nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	_, err = agents.Create(ctx, "session-2", "other", nil)
	require.NoError(t, err)

	listed, err := agents.ListForSession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "planner", listed[0].ID)
	assert.Equal(t, "researcher", listed[1].ID)
	assert.Equal(t, "writer", listed[2].ID)
}
