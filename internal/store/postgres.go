// Package store provides storage backends for LinePilot.
//
// This file implements a PostgreSQL-backed session store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LinePilot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetSession retrieves the aggregate for id.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, flow_context, cart, created_at, updated_at FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, err
	}
	if sess == nil {
		slog.Debug("PostgresStore GetSession not found", "sessionID", id)
	}
	return sess, nil
}

// SaveSession stores or replaces the aggregate.
func (s *PostgresStore) SaveSession(ctx context.Context, sess *models.Session) error {
	flowJSON, cartJSON, err := encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, flow_context, cart, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3::jsonb, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			flow_context = EXCLUDED.flow_context,
			cart = EXCLUDED.cart,
			updated_at = EXCLUDED.updated_at`,
		sess.ID, flowJSON, cartJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", sess.ID, "lineCount", sess.Flow.LineCount)
	return nil
}

// DeleteSession removes the aggregate for id.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "sessionID", id)
	return nil
}

// MostRecentSession returns the most recently updated session id.
func (s *PostgresStore) MostRecentSession(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions ORDER BY updated_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore MostRecentSession failed", "error", err)
		return "", fmt.Errorf("failed to query most recent session: %w", err)
	}
	return id, nil
}

// PurgeSessionsBefore deletes sessions idle since before cutoff.
func (s *PostgresStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore PurgeSessionsBefore failed", "error", err)
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("PostgresStore PurgeSessionsBefore succeeded", "purged", n, "cutoff", cutoff)
	return n, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
