// Package session houses concrete implementations of the core.SessionManager
// contract plus the entity repositories they compose. The interface itself
// (and the Session/Agent/Message records) live in the core package to
// centralize domain contracts; keeping only implementations here prevents
// callers from depending on concrete storage.
//
// Two backends are provided: the SQLite-backed Manager built on
// storage.Engine (durable, crash consistent, safe across threads and
// processes sharing one database file) and InMemoryManager (volatile,
// process local). Additional backends can be added in sub-packages without
// changing any calling code; only the wiring layer needs to decide which
// implementation to instantiate.
package session
