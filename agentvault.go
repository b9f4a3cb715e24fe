// Package agentvault provides a high-level façade over the storage engine and
// session services enabling durable persistence of conversational agent state.
// Most applications interact with this package by:
//  1. Creating an AgentVault via New() (optionally pointing it at a database
//     file or opting into the volatile in-memory backend)
//  2. Obtaining the core.SessionManager via Sessions()
//  3. Creating sessions and agents, appending messages and saving
//     coordination state through that interface
//
// The façade delegates persistence to the storage engine and the session
// repositories while keeping setup ergonomics concise. All defaults are safe
// for local development and testing; production deployments typically supply
// an explicit database path and a structured logger.
package agentvault

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
	"github.com/hupe1980/agentvault/session"
	"github.com/hupe1980/agentvault/storage"
)

// Options configures the AgentVault instance.
type Options struct {
	// Path is the SQLite database file location. When empty the path is
	// resolved from the AGENTVAULT_DB_PATH environment variable, falling
	// back to "sessions.db" in the working directory. Ignored when
	// Volatile is set.
	Path string

	// Volatile selects the process-local in-memory backend instead of
	// SQLite. Nothing survives a restart; intended for tests and demos.
	Volatile bool

	// LoadPolicy selects how LoadSession treats a missing session
	// (defaults to session.LoadStrict).
	LoadPolicy session.LoadPolicy

	// BusyTimeout is how long a connection waits on a locked database
	// before reporting SQLITE_BUSY.
	BusyTimeout time.Duration

	// MaxRetries bounds the transaction retry loop on write contention.
	MaxRetries int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentVault is the high-level façade aggregating the storage engine and the
// session manager built on top of it.
type AgentVault struct {
	opts     Options
	engine   *storage.Engine
	sessions core.SessionManager
}

// New creates a new AgentVault instance with optional overrides. Unless
// Volatile is requested, the database file (and its parent directory) is
// created on first open and the schema is applied idempotently.
func New(optFns ...func(o *Options)) (*AgentVault, error) {
	opts := Options{
		LoadPolicy: session.LoadStrict,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Volatile {
		return &AgentVault{
			opts: opts,
			sessions: session.NewInMemoryManager(func(o *session.ManagerOptions) {
				o.LoadPolicy = opts.LoadPolicy
				o.Logger = opts.Logger
			}),
		}, nil
	}

	engine, err := storage.Open(storage.ResolvePath(opts.Path), func(o *storage.Options) {
		if opts.BusyTimeout > 0 {
			o.BusyTimeout = opts.BusyTimeout
		}
		if opts.MaxRetries > 0 {
			o.MaxRetries = opts.MaxRetries
		}
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	mgr := session.NewManager(engine, func(o *session.ManagerOptions) {
		o.LoadPolicy = opts.LoadPolicy
		o.Logger = opts.Logger
	})

	return &AgentVault{opts: opts, engine: engine, sessions: mgr}, nil
}

// Sessions returns the session lifecycle interface backed by the configured
// store.
func (v *AgentVault) Sessions() core.SessionManager { return v.sessions }

// Path returns the resolved database file location, or the empty string for
// the volatile backend.
func (v *AgentVault) Path() string {
	if v.engine == nil {
		return ""
	}
	return v.engine.Path()
}

// Close releases the underlying store resources. The instance must not be
// used afterwards.
func (v *AgentVault) Close() error { return v.sessions.Close() }
