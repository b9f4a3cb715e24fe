// Package testutil contains helper builders used across tests to reduce
// boilerplate when seeding session managers with scripted conversations
// (sessions, agents, message histories). These helpers are intentionally
// minimal and not intended for production usage.
package testutil
