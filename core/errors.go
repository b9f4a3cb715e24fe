package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations. These are part of the public API and
// should be checked with errors.Is; implementations wrap them with operation
// and id context.
//
// Example:
//
//	sess, err := mgr.LoadSession(ctx, id)
//	if errors.Is(err, core.ErrSessionNotFound) {
//	    // create on demand, or surface to the caller
//	}
var (
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAgentNotFound indicates the referenced agent does not exist in the
	// session.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrMessageNotFound indicates no message exists at the given index.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMultiAgentNotFound indicates no coordination state is stored for
	// the given group id.
	ErrMultiAgentNotFound = errors.New("multi-agent state not found")

	// ErrSessionExists indicates a create collided with an existing session
	// id. The original row is left unmodified.
	ErrSessionExists = errors.New("session already exists")

	// ErrAgentExists indicates a create collided with an existing
	// (session, agent) pair.
	ErrAgentExists = errors.New("agent already exists")

	// ErrWriteConflict indicates transient writer contention that persisted
	// through the store's bounded retries. The operation was rolled back
	// and may be retried by the caller.
	ErrWriteConflict = errors.New("write conflict")

	// ErrIntegrity indicates a constraint violation not otherwise
	// classified. The enclosing transaction was rolled back.
	ErrIntegrity = errors.New("integrity violation")
)

// StorageInitError reports a fatal failure to open or prepare the backing
// database at initialization time (unwritable path, corrupt file). It wraps
// the underlying cause and records the offending location.
type StorageInitError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageInitError) Error() string {
	return fmt.Sprintf("storage init failed for %q: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *StorageInitError) Unwrap() error { return e.Err }
