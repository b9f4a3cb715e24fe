package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentvault/core"
	"github.com/hupe1980/agentvault/logging"
	"github.com/hupe1980/agentvault/storage"
)

// MessageRepository owns the ordered message history of each agent. It is
// the sole assigner of message indices: the next index is computed and the
// row inserted inside one transaction, so two concurrent appenders can never
// claim the same slot.
type MessageRepository struct {
	engine *storage.Engine
	logger logging.Logger
}

// NewMessageRepository creates a repository bound to the given engine.
func NewMessageRepository(engine *storage.Engine, logger logging.Logger) *MessageRepository {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &MessageRepository{engine: engine, logger: logger}
}

// Append assigns the next free index and inserts the message, bumping the
// owning agent's and session's updated_at in the same transaction. Fails
// with core.ErrAgentNotFound if the owning agent is absent.
func (r *MessageRepository) Append(ctx context.Context, sessionID, agentID, role string, content json.RawMessage) (*core.Message, error) {
	var msg *core.Message
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = appendMessage(ctx, tx, sessionID, agentID, role, content, now())
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("appended message", "session_id", sessionID, "agent_id", agentID, "index", msg.Index)
	return msg, nil
}

// Get returns the message at the given index or core.ErrMessageNotFound.
func (r *MessageRepository) Get(ctx context.Context, sessionID, agentID string, index int) (*core.Message, error) {
	var role, content, createdAt, updatedAt string
	err := r.engine.QueryRow(ctx,
		`SELECT role, content, created_at, updated_at FROM messages
		 WHERE session_id = ? AND agent_id = ? AND message_index = ?`,
		sessionID, agentID, index).Scan(&role, &content, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get message %q/%q[%d]: %w", sessionID, agentID, index, core.ErrMessageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %q/%q[%d]: %w", sessionID, agentID, index, err)
	}
	return messageFromRow(sessionID, agentID, index, role, content, createdAt, updatedAt)
}

// GetRange returns messages with startIndex <= index <= endIndex ordered by
// index ascending. An inverted or empty range yields an empty slice, not an
// error.
func (r *MessageRepository) GetRange(ctx context.Context, sessionID, agentID string, startIndex, endIndex int) ([]*core.Message, error) {
	rows, err := r.engine.Query(ctx,
		`SELECT message_index, role, content, created_at, updated_at FROM messages
		 WHERE session_id = ? AND agent_id = ? AND message_index BETWEEN ? AND ?
		 ORDER BY message_index ASC`,
		sessionID, agentID, startIndex, endIndex)
	if err != nil {
		return nil, fmt.Errorf("get message range %q/%q: %w", sessionID, agentID, err)
	}
	return collectMessages(sessionID, agentID, rows)
}

// GetAll returns the agent's full history ordered by index ascending.
func (r *MessageRepository) GetAll(ctx context.Context, sessionID, agentID string) ([]*core.Message, error) {
	rows, err := r.engine.Query(ctx,
		`SELECT message_index, role, content, created_at, updated_at FROM messages
		 WHERE session_id = ? AND agent_id = ?
		 ORDER BY message_index ASC`,
		sessionID, agentID)
	if err != nil {
		return nil, fmt.Errorf("get messages %q/%q: %w", sessionID, agentID, err)
	}
	return collectMessages(sessionID, agentID, rows)
}

// Update rewrites role and content of an existing message (redaction).
// Indices are never changed or reused. Fails with core.ErrMessageNotFound if
// nothing is stored at the index.
func (r *MessageRepository) Update(ctx context.Context, sessionID, agentID string, index int, role string, content json.RawMessage) (*core.Message, error) {
	var msg *core.Message
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		ts := now()
		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET role = ?, content = ?, updated_at = ?
			 WHERE session_id = ? AND agent_id = ? AND message_index = ?`,
			role, normalizeBlob(content), formatTime(ts), sessionID, agentID, index)
		if err != nil {
			return fmt.Errorf("update message %q/%q[%d]: %w", sessionID, agentID, index, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update message %q/%q[%d]: %w", sessionID, agentID, index, err)
		} else if n == 0 {
			return fmt.Errorf("update message %q/%q[%d]: %w", sessionID, agentID, index, core.ErrMessageNotFound)
		}
		if _, err := touchAgent(ctx, tx, sessionID, agentID, ts); err != nil {
			return err
		}
		if _, err := touchSession(ctx, tx, sessionID, ts); err != nil {
			return err
		}

		var storedRole, storedContent, createdAt, updatedAt string
		err = tx.QueryRowContext(ctx,
			`SELECT role, content, created_at, updated_at FROM messages
			 WHERE session_id = ? AND agent_id = ? AND message_index = ?`,
			sessionID, agentID, index).Scan(&storedRole, &storedContent, &createdAt, &updatedAt)
		if err != nil {
			return fmt.Errorf("reread message %q/%q[%d]: %w", sessionID, agentID, index, err)
		}
		msg, err = messageFromRow(sessionID, agentID, index, storedRole, storedContent, createdAt, updatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("updated message", "session_id", sessionID, "agent_id", agentID, "index", index)
	return msg, nil
}

// DeleteFrom removes every message with index >= fromIndex (truncation /
// rewind), returning the number of rows removed. Deleting nothing is not an
// error.
func (r *MessageRepository) DeleteFrom(ctx context.Context, sessionID, agentID string, fromIndex int) (int, error) {
	var deleted int64
	err := r.engine.RunInTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id = ? AND agent_id = ? AND message_index >= ?`,
			sessionID, agentID, fromIndex)
		if err != nil {
			return fmt.Errorf("truncate messages %q/%q from %d: %w", sessionID, agentID, fromIndex, err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("truncate messages %q/%q from %d: %w", sessionID, agentID, fromIndex, err)
		}
		if deleted == 0 {
			return nil
		}
		ts := now()
		if _, err := touchAgent(ctx, tx, sessionID, agentID, ts); err != nil {
			return err
		}
		_, err = touchSession(ctx, tx, sessionID, ts)
		return err
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.Debug("truncated messages", "session_id", sessionID, "agent_id", agentID, "from_index", fromIndex, "deleted", deleted)
	}
	return int(deleted), nil
}

// appendMessage runs the index assignment and insert through q, which must
// be a transaction handle when concurrent appenders are possible.
func appendMessage(ctx context.Context, q storage.DBTX, sessionID, agentID, role string, content json.RawMessage, ts time.Time) (*core.Message, error) {
	// The touch doubles as the agent existence check, failing fast before
	// any index is computed.
	ok, err := touchAgent(ctx, q, sessionID, agentID, ts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("append message %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
	}

	var next int
	err = q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(message_index) + 1, 0) FROM messages WHERE session_id = ? AND agent_id = ?`,
		sessionID, agentID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next message index %q/%q: %w", sessionID, agentID, err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO messages (session_id, agent_id, message_index, role, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, agentID, next, role, normalizeBlob(content), formatTime(ts), formatTime(ts))
	if err != nil {
		if storage.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("append message %q/%q: %w", sessionID, agentID, core.ErrAgentNotFound)
		}
		if storage.IsConstraint(err) {
			return nil, fmt.Errorf("append message %q/%q: %w: %s", sessionID, agentID, core.ErrIntegrity, err)
		}
		return nil, fmt.Errorf("append message %q/%q: %w", sessionID, agentID, err)
	}

	if _, err := touchSession(ctx, q, sessionID, ts); err != nil {
		return nil, err
	}

	return &core.Message{
		SessionID: sessionID,
		AgentID:   agentID,
		Index:     next,
		Role:      role,
		Content:   blobOut(content),
		CreatedAt: ts,
		UpdatedAt: ts,
	}, nil
}

func collectMessages(sessionID, agentID string, rows *sql.Rows) ([]*core.Message, error) {
	defer rows.Close()

	var messages []*core.Message
	for rows.Next() {
		var index int
		var role, content, createdAt, updatedAt string
		if err := rows.Scan(&index, &role, &content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg, err := messageFromRow(sessionID, agentID, index, role, content, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func messageFromRow(sessionID, agentID string, index int, role, content, createdAt, updatedAt string) (*core.Message, error) {
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &core.Message{
		SessionID: sessionID,
		AgentID:   agentID,
		Index:     index,
		Role:      role,
		Content:   json.RawMessage(content),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
