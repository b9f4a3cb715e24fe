package agentvault

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/internal/testutil"
	"github.com/hupe1980/agentvault/session"
	"github.com/hupe1980/agentvault/storage"
)

func TestNew_FileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sessions.db")

	vault, err := New(func(o *Options) {
		o.Path = path
	})
	require.NoError(t, err)
	defer func() { _ = vault.Close() }()

	assert.Equal(t, path, vault.Path())

	ctx := context.Background()
	require.NoError(t, testutil.NewSessionSeeder("s1").
		Metadata(`{"topic":"support"}`).
		Agent("a1", `{"model":"sonnet"}`).
		Say("a1", "user", `{"text":"hi"}`).
		Say("a1", "assistant", `{"text":"hello"}`).
		Apply(ctx, vault.Sessions()))

	history, err := vault.Sessions().ReadHistory(ctx, "s1", "a1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0, history[0].Index)
	assert.Equal(t, 1, history[1].Index)
}

func TestNew_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	vault, err := New(func(o *Options) { o.Path = path })
	require.NoError(t, err)
	require.NoError(t, testutil.NewSessionSeeder("s1").
		Agent("a1", `{}`).
		Say("a1", "user", `{"text":"remember me"}`).
		Apply(ctx, vault.Sessions()))
	require.NoError(t, vault.Close())

	reopened, err := New(func(o *Options) { o.Path = path })
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	history, err := reopened.Sessions().ReadHistory(ctx, "s1", "a1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.JSONEq(t, `{"text":"remember me"}`, string(history[0].Content))
}

func TestNew_VolatileBackend(t *testing.T) {
	vault, err := New(func(o *Options) {
		o.Volatile = true
	})
	require.NoError(t, err)
	defer func() { _ = vault.Close() }()

	assert.Empty(t, vault.Path())

	ctx := context.Background()
	require.NoError(t, testutil.NewSessionSeeder("s1").
		Agent("a1", `{}`).
		Say("a1", "user", `{"text":"hi"}`).
		Apply(ctx, vault.Sessions()))

	history, err := vault.Sessions().ReadHistory(ctx, "s1", "a1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestNew_LoadPolicyOption(t *testing.T) {
	vault, err := New(func(o *Options) {
		o.Path = filepath.Join(t.TempDir(), "sessions.db")
		o.LoadPolicy = session.LoadOrCreate
	})
	require.NoError(t, err)
	defer func() { _ = vault.Close() }()

	created, err := vault.Sessions().LoadSession(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", created.ID)
}

func TestNew_TuningOptions(t *testing.T) {
	vault, err := New(func(o *Options) {
		o.Path = filepath.Join(t.TempDir(), "tuned.db")
		o.BusyTimeout = 2 * time.Second
		o.MaxRetries = 2
	})
	require.NoError(t, err)
	defer func() { _ = vault.Close() }()

	ctx := context.Background()
	_, err = vault.Sessions().CreateSession(ctx, "s1", nil)
	require.NoError(t, err)
	sess, err := vault.Sessions().LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
}

func TestNew_EnvPathFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.db")
	t.Setenv(storage.EnvDBPath, path)

	vault, err := New()
	require.NoError(t, err)
	defer func() { _ = vault.Close() }()

	assert.Equal(t, path, vault.Path())
}

func TestNew_StrictLoadByDefault(t *testing.T) {
	vault, err := New(func(o *Options) { o.Volatile = true })
	require.NoError(t, err)
	defer func() { _ = vault.Close() }()

	_, err = vault.Sessions().LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}
