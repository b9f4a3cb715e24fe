// Package logging provides a minimal logging interface and adapters for AgentVault.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the storage engine and session managers use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - VaultLogger with contextual helpers (session, component) and
//     storage-domain helpers for queries and transactions
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	engine, err := storage.Open(path, func(o *storage.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
