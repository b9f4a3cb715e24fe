package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
)

// InMemory is the path marker selecting an ephemeral in-memory database.
const InMemory = ":memory:"

// schema creates the four entity tables plus supporting indexes. Creation is
// idempotent; timestamps are written by the repository layer rather than
// store-side defaults to keep semantics portable across backends.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	metadata   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	session_id TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	config     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (session_id, agent_id),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
	session_id    TEXT NOT NULL,
	agent_id      TEXT NOT NULL,
	message_index INTEGER NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (session_id, agent_id, message_index),
	FOREIGN KEY (session_id, agent_id) REFERENCES agents(session_id, agent_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS multi_agents (
	session_id     TEXT NOT NULL,
	multi_agent_id TEXT NOT NULL,
	state          TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	PRIMARY KEY (session_id, multi_agent_id),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session_agent ON messages(session_id, agent_id, message_index);
CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_id);
CREATE INDEX IF NOT EXISTS idx_multi_agents_session ON multi_agents(session_id);
`

// DBTX is the statement-execution surface shared by *sql.DB and *sql.Tx.
// Repository helpers accept it so the same code runs inside or outside a
// transaction scope.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TransactionLogger is implemented by loggers that record per-transaction
// timing and retry counts (logging.VaultLogger does). The engine feeds it
// from RunInTransaction when the configured logger provides it.
type TransactionLogger interface {
	LogTransaction(operation string, attempts int, dur time.Duration, err error)
}

var _ TransactionLogger = (*logging.VaultLogger)(nil)

// Options configures Engine construction.
type Options struct {
	// BusyTimeout is how long a connection waits on a locked database
	// before reporting SQLITE_BUSY. Retries stack on top of it.
	BusyTimeout time.Duration

	// MaxRetries bounds the busy-retry loop around every transaction.
	MaxRetries int

	// Logger receives engine diagnostics (defaults to NoOp if nil).
	Logger logging.Logger
}

// Engine owns one logical connection pool to an embedded SQLite database and
// provides parameterized statement execution plus scoped transactions. It is
// safe for concurrent use by multiple goroutines; concurrent writers across
// processes sharing the same file serialize at the SQLite level.
type Engine struct {
	db         *sql.DB
	path       string
	maxRetries int
	logger     logging.Logger
}

// Open opens or creates the database at path (or an ephemeral instance when
// path is InMemory), creates the schema if missing and enables write-ahead
// logging and foreign-key enforcement. Safe to call repeatedly against the
// same path. Failures are reported as *core.StorageInitError.
func Open(path string, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		BusyTimeout: 5 * time.Second,
		MaxRetries:  5,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if path == "" {
		path = ResolvePath("")
	}

	dsn := path
	if path != InMemory {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, &core.StorageInitError{Path: path, Err: fmt.Errorf("create database directory: %w", err)}
			}
		}
		// Pragmas in the DSN apply to every pooled connection.
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
			path, opts.BusyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &core.StorageInitError{Path: path, Err: fmt.Errorf("open database: %w", err)}
	}

	if path == InMemory {
		// Each pooled connection would otherwise see its own private
		// memory database.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA foreign_keys=ON;",
			fmt.Sprintf("PRAGMA busy_timeout=%d;", opts.BusyTimeout.Milliseconds()),
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, &core.StorageInitError{Path: path, Err: fmt.Errorf("set pragma %q: %w", pragma, err)}
			}
		}
	}

	e := &Engine{db: db, path: path, maxRetries: opts.MaxRetries, logger: opts.Logger}

	if err := e.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, &core.StorageInitError{Path: path, Err: err}
	}

	e.logger.Debug("storage engine opened", "path", path)
	return e, nil
}

func (e *Engine) initSchema(ctx context.Context) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for single-statement reads.
func (e *Engine) DB() *sql.DB { return e.db }

// Path returns the resolved database location.
func (e *Engine) Path() string { return e.path }

// Close releases the connection pool.
func (e *Engine) Close() error { return e.db.Close() }

// Exec runs a single parameterized statement outside any explicit
// transaction, retrying on transient busy errors.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, e.maxRetries, func() error {
		var execErr error
		res, execErr = e.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil && IsBusy(err) {
		return nil, fmt.Errorf("%w: %w", core.ErrWriteConflict, err)
	}
	return res, err
}

// Query runs a parameterized read returning rows.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a parameterized read returning at most one row.
func (e *Engine) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return e.db.QueryRowContext(ctx, query, args...)
}

// RunInTransaction begins a transaction, invokes fn with its handle, commits
// on normal return and rolls back on any failure from fn. The whole unit is
// retried with backoff while SQLite reports writer contention; exhausted
// retries surface core.ErrWriteConflict. Partial writes are never visible to
// other readers.
func (e *Engine) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	attempts := 0

	err := retryOnBusy(ctx, e.maxRetries, func() error {
		attempts++
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		// Rollback is a no-op once committed.
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})

	if tl, ok := e.logger.(TransactionLogger); ok {
		tl.LogTransaction("write", attempts, time.Since(start), err)
	}

	if err != nil && IsBusy(err) {
		e.logger.Warn("transaction gave up after contention", "attempts", attempts, "elapsed", time.Since(start))
		return fmt.Errorf("%w: %w", core.ErrWriteConflict, err)
	}
	if attempts > 1 && err == nil {
		e.logger.Debug("transaction committed after retries", "attempts", attempts)
	}
	return err
}
