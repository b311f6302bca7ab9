package store

import (
	"strings"
	"time"
)

// Opts holds configuration options for the session stores.
type Opts struct {
	DSN        string        // Database connection string or SQLite file path
	SessionTTL time.Duration // Idle time after which a session may be purged
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSessionTTL sets the idle retention for sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// key=value DSNs such as "host=localhost user=app dbname=linepilot"
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") || strings.Contains(dsn, "user=") {
		return "postgres"
	}
	return "sqlite3"
}
