// Package store provides storage backends for LinePilot session aggregates.
//
// A session aggregate (flow context plus cart) is persisted as one unit keyed by
// session id. An absent row is a fresh session, never an error.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
	"github.com/patrickmn/go-cache"
)

// Store persists session aggregates.
type Store interface {
	// GetSession returns the aggregate for id, or nil when none exists.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// SaveSession inserts or replaces the aggregate.
	SaveSession(ctx context.Context, s *models.Session) error
	// DeleteSession removes the aggregate; deleting a missing id is not an error.
	DeleteSession(ctx context.Context, id string) error
	// MostRecentSession returns the id of the most recently updated session, or "".
	MostRecentSession(ctx context.Context) (string, error)
	// PurgeSessionsBefore deletes sessions last updated before cutoff.
	PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// DefaultCleanupInterval is how often the memory store evicts expired sessions.
const DefaultCleanupInterval = 10 * time.Minute

// MemoryStore keeps sessions in a go-cache with an idle TTL.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates an in-memory store. Sessions expire after the configured
// session TTL of inactivity; a zero TTL keeps them until deleted.
func NewMemoryStore(opts ...Option) *MemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	slog.Debug("NewMemoryStore invoked", "ttl", ttl)
	return &MemoryStore{
		cache: cache.New(ttl, DefaultCleanupInterval),
		ttl:   ttl,
	}
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		slog.Debug("MemoryStore.GetSession: not found", "sessionID", id)
		return nil, nil
	}
	return v.(*models.Session).Clone(), nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *models.Session) error {
	m.cache.Set(s.ID, s.Clone(), cache.DefaultExpiration)
	slog.Debug("MemoryStore.SaveSession: saved", "sessionID", s.ID, "lineCount", s.Flow.LineCount)
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.cache.Delete(id)
	slog.Debug("MemoryStore.DeleteSession: deleted", "sessionID", id)
	return nil
}

func (m *MemoryStore) MostRecentSession(_ context.Context) (string, error) {
	var (
		latestID string
		latestAt time.Time
	)
	for id, item := range m.cache.Items() {
		s, ok := item.Object.(*models.Session)
		if !ok {
			continue
		}
		if latestID == "" || s.UpdatedAt.After(latestAt) {
			latestID, latestAt = id, s.UpdatedAt
		}
	}
	return latestID, nil
}

func (m *MemoryStore) PurgeSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, item := range m.cache.Items() {
		s, ok := item.Object.(*models.Session)
		if ok && s.UpdatedAt.Before(cutoff) {
			m.cache.Delete(id)
			n++
		}
	}
	return n, nil
}

// Close flushes the cache.
func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}
