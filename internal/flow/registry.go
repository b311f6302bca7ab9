package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
	"github.com/BTreeMap/LinePilot/internal/store"
	"github.com/google/uuid"
)

// Registry resolves session ids and serializes writes per session. It owns the
// process-wide "last touched" pointer; handlers always receive an explicit id.
type Registry struct {
	store store.Store

	locksMu sync.Mutex
	locks   map[string]*sessionLock

	lastMu sync.Mutex
	last   string

	now   func() time.Time
	newID func() string
}

// NewRegistry creates a Registry backed by st.
func NewRegistry(st store.Store) *Registry {
	slog.Debug("Creating session Registry")
	return &Registry{
		store: st,
		locks: make(map[string]*sessionLock),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Resolve picks the session for a call: the explicit id, else the last touched
// session if it still exists, else the most recently updated stored session,
// else a freshly minted id. Only store failures are errors.
func (r *Registry) Resolve(ctx context.Context, explicitID string) (string, error) {
	id, err := r.resolve(ctx, explicitID)
	if err != nil {
		return "", err
	}
	r.touch(id)
	return id, nil
}

func (r *Registry) resolve(ctx context.Context, explicitID string) (string, error) {
	if explicitID != "" {
		return explicitID, nil
	}

	r.lastMu.Lock()
	last := r.last
	r.lastMu.Unlock()
	if last != "" {
		s, err := r.store.GetSession(ctx, last)
		if err != nil {
			return "", fmt.Errorf("load last session %s: %w", last, err)
		}
		if s != nil {
			return last, nil
		}
	}

	recent, err := r.store.MostRecentSession(ctx)
	if err != nil {
		return "", fmt.Errorf("find most recent session: %w", err)
	}
	if recent != "" {
		slog.Debug("Registry.Resolve: using most recent stored session", "sessionID", recent)
		return recent, nil
	}

	id := r.newID()
	slog.Debug("Registry.Resolve: minted new session", "sessionID", id)
	return id, nil
}

func (r *Registry) touch(id string) {
	r.lastMu.Lock()
	r.last = id
	r.lastMu.Unlock()
}

// forget clears the last-touched pointer if it names id.
func (r *Registry) forget(id string) {
	r.lastMu.Lock()
	if r.last == id {
		r.last = ""
	}
	r.lastMu.Unlock()
}

// sessionLock is removed from the registry once no caller holds or waits on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the caller owns id and returns the matching unlock.
func (r *Registry) lock(id string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sessionLock{}
		r.locks[id] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.locksMu.Unlock()
	}
}

// load returns the stored aggregate or a fresh one. Callers hold the session lock.
func (r *Registry) load(ctx context.Context, id string) (*models.Session, error) {
	s, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if s == nil {
		s = models.NewSession(id, r.now())
	}
	return s, nil
}

// Update runs fn on a copy of the session under its lock. When fn returns nil
// the copy is normalized and saved; otherwise nothing is committed and fn's
// error is returned unchanged.
func (r *Registry) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	defer r.lock(id)()

	current, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		slog.Debug("Registry.Update: mutation rejected", "sessionID", id, "error", err)
		return nil, err
	}

	Normalize(working)
	working.UpdatedAt = r.now()
	if err := r.store.SaveSession(ctx, working); err != nil {
		slog.Error("Registry.Update: save failed", "sessionID", id, "error", err)
		return nil, fmt.Errorf("save session %s: %w", id, err)
	}
	r.touch(id)
	return working.Clone(), nil
}

// View returns a normalized copy of the session without saving it.
func (r *Registry) View(ctx context.Context, id string) (*models.Session, error) {
	defer r.lock(id)()

	s, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	Normalize(s)
	return s, nil
}

// Exists reports whether the session has been persisted.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	s, err := r.store.GetSession(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", id, err)
	}
	return s != nil, nil
}

// Reset deletes the whole aggregate for id.
func (r *Registry) Reset(ctx context.Context, id string) error {
	defer r.lock(id)()

	if err := r.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	r.forget(id)
	slog.Info("Registry.Reset: session deleted", "sessionID", id)
	return nil
}
