package storage

import (
	"errors"
	"strings"

	"github.com/hupe1980/agentvault/core"
)

// The modernc driver reports failures as a typed error carrying the SQLite
// result code, e.g.
//
//	constraint failed: UNIQUE constraint failed: sessions.session_id (1555)
//	database is locked (5) (SQLITE_BUSY)
//
// Classification prefers that code (matched structurally, so no driver
// import is needed here) and only falls back to message text for errors that
// lost their type somewhere. Repository errors wrap caller-supplied ids into
// their messages, so bare substrings like "(5)" are never matched: an id
// containing them must not change how an error is classified.

// SQLite primary result codes; extended codes keep them in the low byte.
const (
	codeBusy       = 5
	codeLocked     = 6
	codeConstraint = 19
)

// Extended constraint codes.
const (
	codeConstraintForeignKey = 787
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

// sqliteCode extracts the driver's result code from anywhere in the wrap
// chain.
func sqliteCode(err error) (int, bool) {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code(), true
	}
	return 0, false
}

// isDomainError reports whether err already carries one of the core
// sentinels, i.e. the repositories mapped it to the taxonomy. Such errors
// are terminal and must never be reclassified as transient.
func isDomainError(err error) bool {
	for _, sentinel := range []error{
		core.ErrSessionNotFound,
		core.ErrAgentNotFound,
		core.ErrMessageNotFound,
		core.ErrMultiAgentNotFound,
		core.ErrSessionExists,
		core.ErrAgentExists,
		core.ErrIntegrity,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsBusy reports whether err is SQLITE_BUSY (5) or SQLITE_LOCKED (6),
// i.e. transient writer contention worth retrying.
func IsBusy(err error) bool {
	if err == nil || isDomainError(err) {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		primary := code & 0xff
		return primary == codeBusy || primary == codeLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// IsUniqueViolation reports whether err is a primary-key or unique-index
// collision (SQLITE_CONSTRAINT_PRIMARYKEY 1555 / SQLITE_CONSTRAINT_UNIQUE 2067).
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		return code == codeConstraintPrimaryKey || code == codeConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err is a foreign-key constraint
// failure (SQLITE_CONSTRAINT_FOREIGNKEY 787), i.e. a referenced parent row
// is absent.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		return code == codeConstraintForeignKey
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// IsConstraint reports whether err is any SQLite constraint violation.
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		return code&0xff == codeConstraint
	}
	return strings.Contains(err.Error(), "constraint failed")
}
