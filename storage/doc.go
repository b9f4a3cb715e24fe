// Package storage contains the embedded SQLite engine underpinning the
// session repositories. It owns the database handle, creates the schema on
// first use, configures durability pragmas (write-ahead logging, foreign-key
// enforcement, busy timeout) and provides the scoped-transaction primitive
// every multi-statement mutation runs through.
//
// Higher layers never build SQL from caller data: all values are bound as
// parameters via the Exec/Query helpers or a transaction handle. Transient
// SQLITE_BUSY contention is retried a bounded number of times with backoff
// before surfacing core.ErrWriteConflict.
package storage
