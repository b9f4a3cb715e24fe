package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
)

func newMessageFixture(t *testing.T) (*MessageRepository, context.Context) {
	t.Helper()

	engine := newTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)
	_, err = agents.Create(ctx, "session-1", "agent-1", nil)
	require.NoError(t, err)
	_, err = agents.Create(ctx, "session-1", "agent-2", nil)
	require.NoError(t, err)

	return NewMessageRepository(engine, logging.NoOpLogger{}), ctx
}

func TestMessageRepository_AppendAssignsSequentialIndices(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	for i := 0; i < 5; i++ {
		msg, err := messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		assert.Equal(t, i, msg.Index)
	}

	history, err := messages.GetAll(ctx, "session-1", "agent-1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, msg := range history {
		assert.Equal(t, i, msg.Index)
	}
}

func TestMessageRepository_IndicesIndependentPerAgent(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	// Interleave appends across two agents; each keeps its own sequence.
	for i := 0; i < 3; i++ {
		first, err := messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.Equal(t, i, first.Index)

		second, err := messages.Append(ctx, "session-1", "agent-2", "assistant", json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.Equal(t, i, second.Index)
	}
}

func TestMessageRepository_AppendMissingAgent(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	_, err := messages.Append(ctx, "session-1", "missing", "user", json.RawMessage(`{}`))
	require.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestMessageRepository_GetMissing(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	_, err := messages.Get(ctx, "session-1", "agent-1", 0)
	require.ErrorIs(t, err, core.ErrMessageNotFound)
}

func TestMessageRepository_GetRangeInclusive(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	for i := 0; i < 6; i++ {
		_, err := messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	ranged, err := messages.GetRange(ctx, "session-1", "agent-1", 1, 3)
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	assert.Equal(t, 1, ranged[0].Index)
	assert.Equal(t, 3, ranged[2].Index)
}

func TestMessageRepository_GetRangeInverted(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	_, err := messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(`{}`))
	require.NoError(t, err)

	ranged, err := messages.GetRange(ctx, "session-1", "agent-1", 3, 1)
	require.NoError(t, err)
	assert.Empty(t, ranged)
}

func TestMessageRepository_UpdateRedactsInPlace(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	original, err := messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(`{"text":"my ssn is 123"}`))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	redacted, err := messages.Update(ctx, "session-1", "agent-1", original.Index, "user", json.RawMessage(`{"text":"[redacted]"}`))
	require.NoError(t, err)
	assert.Equal(t, original.Index, redacted.Index)
	assert.JSONEq(t, `{"text":"[redacted]"}`, string(redacted.Content))
	assert.True(t, redacted.UpdatedAt.After(original.UpdatedAt))
	assert.True(t, redacted.CreatedAt.Equal(original.CreatedAt))

	// History length and ordering are unchanged.
	history, err := messages.GetAll(ctx, "session-1", "agent-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestMessageRepository_UpdateMissing(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	_, err := messages.Update(ctx, "session-1", "agent-1", 42, "user", json.RawMessage(`{}`))
	require.ErrorIs(t, err, core.ErrMessageNotFound)
}

func TestMessageRepository_DeleteFrom(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	for i := 0; i < 5; i++ {
		_, err := messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	deleted, err := messages.DeleteFrom(ctx, "session-1", "agent-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	history, err := messages.GetAll(ctx, "session-1", "agent-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[1].Index)

	// Appending after a truncation continues from the highest surviving index.
	next, err := messages.Append(ctx, "session-1", "agent-1", "user", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Index)
}

func TestMessageRepository_DeleteFromNothingMatches(t *testing.T) {
	messages, ctx := newMessageFixture(t)

	deleted, err := messages.DeleteFrom(ctx, "session-1", "agent-1", 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMessageRepository_ConcurrentAppends(t *testing.T) {
	engine := newFileTestEngine(t)
	ctx := context.Background()

	sessions := NewSessionRepository(engine, logging.NoOpLogger{})
	agents := NewAgentRepository(engine, logging.NoOpLogger{})
	messages := NewMessageRepository(engine, logging.NoOpLogger{})

	_, err := sessions.Create(ctx, "session-1", nil)
	require.NoError(t, err)
	_, err = agents.Create(ctx, "session-1", "agent-1", nil)
	require.NoError(t, err)

	const (
		writers          = 4
		appendsPerWriter = 25
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for i := 0; i < appendsPerWriter; i++ {
				if _, err := messages.Append(gctx, "session-1", "agent-1", "user", json.RawMessage(`{}`)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every append claimed a distinct slot: indices are 0..N-1 with no gaps.
	history, err := messages.GetAll(ctx, "session-1", "agent-1")
	require.NoError(t, err)
	require.Len(t, history, writers*appendsPerWriter)
	for i, msg := range history {
		assert.Equal(t, i, msg.Index)
	}
}
