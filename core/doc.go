// Package core provides the foundational domain types, interfaces and error
// taxonomy used by AgentVault. It defines the core abstractions for:
//
//   - Sessions (top-level persisted conversation containers)
//   - Agents (configured participants within a session owning a history)
//   - Messages (ordered, index-addressed entries in an agent's history)
//   - Multi-agent state (orchestration progress shared across agents)
//   - The SessionManager contract implemented by every storage backend
//
// The package intentionally keeps implementation concerns (SQLite wiring,
// transaction handling, concrete managers) out of scope, exposing small
// interfaces and plain records so alternative backends can be swapped in
// without touching calling code. Payload fields (session metadata, agent
// configuration, message content, coordination state) are opaque
// json.RawMessage blobs: stored and returned byte-for-byte, never
// interpreted by this layer.
package core
