package storage

import "os"

// EnvDBPath is the environment variable consulted when no explicit database
// location is supplied.
const EnvDBPath = "AGENTVAULT_DB_PATH"

// DefaultDBPath is the fallback database file, relative to the working
// directory, used when neither an explicit path nor the environment provide
// one.
const DefaultDBPath = "sessions.db"

// ResolvePath applies the database location precedence: explicit parameter,
// then EnvDBPath, then DefaultDBPath. The engine itself never reads the
// environment; callers resolve once and pass the result to Open.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvDBPath); p != "" {
		return p
	}
	return DefaultDBPath
}
