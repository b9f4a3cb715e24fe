package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentvault/core"
)

func newTestManager(t *testing.T, optFns ...func(o *ManagerOptions)) *Manager {
	t.Helper()
	return NewManager(newTestEngine(t), optFns...)
}

func TestManager_ConversationRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "s1", json.RawMessage(`{"channel":"web"}`))
	require.NoError(t, err)
	require.Equal(t, "s1", sess.ID)

	_, err = mgr.CreateAgent(ctx, "s1", "a1", json.RawMessage(`{"model":"gpt-4o"}`))
	require.NoError(t, err)

	first, err := mgr.AppendMessage(ctx, "s1", "a1", "user", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	second, err := mgr.AppendMessage(ctx, "s1", "a1", "assistant", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)

	history, err := mgr.ReadHistory(ctx, "s1", "a1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.JSONEq(t, `{"text":"hi"}`, string(history[0].Content))
	assert.Equal(t, "assistant", history[1].Role)
	assert.JSONEq(t, `{"text":"hello"}`, string(history[1].Content))
}

func TestManager_GeneratesIDs(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	agent, err := mgr.CreateAgent(ctx, sess.ID, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)

	// Generated ids resolve through normal lookups.
	_, err = mgr.GetAgent(ctx, sess.ID, agent.ID)
	require.NoError(t, err)
}

func TestManager_LoadStrict(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestManager_LoadOrCreate(t *testing.T) {
	mgr := newTestManager(t, func(o *ManagerOptions) {
		o.LoadPolicy = LoadOrCreate
	})
	ctx := context.Background()

	created, err := mgr.LoadSession(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", created.ID)
	assert.Equal(t, "{}", string(created.Metadata))

	// A second load returns the same session instead of recreating it.
	again, err := mgr.LoadSession(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, created.CreatedAt.Equal(again.CreatedAt))
}

func TestManager_DeleteThenLoad(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.DeleteSession(ctx, "s1"))

	_, err = mgr.LoadSession(ctx, "s1")
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestManager_TruncateMessages(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)
	_, err = mgr.CreateAgent(ctx, "s1", "a1", nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = mgr.AppendMessage(ctx, "s1", "a1", "user", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	deleted, err := mgr.TruncateMessages(ctx, "s1", "a1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	history, err := mgr.ReadHistory(ctx, "s1", "a1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestManager_MultiAgentState(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)

	saved, err := mgr.SaveMultiAgentState(ctx, "s1", "workflow-1", json.RawMessage(`{"step":"plan"}`))
	require.NoError(t, err)
	assert.Equal(t, "workflow-1", saved.ID)

	// Overwriting replaces the blob but keeps the original creation time.
	overwritten, err := mgr.SaveMultiAgentState(ctx, "s1", "workflow-1", json.RawMessage(`{"step":"execute"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"execute"}`, string(overwritten.State))
	assert.True(t, saved.CreatedAt.Equal(overwritten.CreatedAt))

	loaded, err := mgr.LoadMultiAgentState(ctx, "s1", "workflow-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"execute"}`, string(loaded.State))
}

func TestManager_MultiAgentStateMissingSession(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.SaveMultiAgentState(context.Background(), "missing", "workflow-1", json.RawMessage(`{}`))
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestManager_LoadMultiAgentStateMissing(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)

	_, err = mgr.LoadMultiAgentState(ctx, "s1", "missing")
	require.ErrorIs(t, err, core.ErrMultiAgentNotFound)
}
