// Package presence tracks which identities are currently reachable for live
// delivery. It is a best-effort hint kept apart from the hub's connection
// state; the two may disagree and callers must tolerate that.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/observer/collegecue/internal/domain"
	"github.com/observer/collegecue/internal/metrics"
)

// Record is the presence state of one identity
type Record struct {
	Identity string    `json:"identity"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Store persists presence records. All implementations must be safe for
// concurrent use.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]Record, error)
}

// Registry holds one Record per normalized identity
type Registry struct {
	// Guards records; held only for map access, never across I/O
	mu      sync.RWMutex
	records map[string]Record

	// Serializes writers across the map update and the store write, so the
	// store sees updates in the same order as memory
	writeMu sync.Mutex

	store      Store // optional
	replicator *replicator
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewRegistry creates an empty registry. store may be nil for a purely
// in-memory registry.
func NewRegistry(store Store, m *metrics.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		records: make(map[string]Record),
		store:   store,
		now:     time.Now,
		metrics: m,
		logger:  logger.With("component", "presence"),
	}
}

// Load replaces the in-memory records with the store's contents
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	records, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load presence records: %w", err)
	}

	loaded := make(map[string]Record, len(records))
	for _, rec := range records {
		rec.Identity = domain.NormalizeIdentity(rec.Identity)
		loaded[rec.Identity] = rec
	}

	r.mu.Lock()
	r.records = loaded
	r.mu.Unlock()

	r.logger.Info("presence records loaded", "count", len(loaded))
	return nil
}

// SetOnline marks identity online, creating its record if needed
func (r *Registry) SetOnline(ctx context.Context, identity string) error {
	id := domain.NormalizeIdentity(identity)
	if id == "" {
		return domain.ErrIdentityRequired
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	rec := Record{Identity: id, Online: true, LastSeen: r.now()}
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()

	return r.persist(ctx, rec, "online")
}

// SetOffline marks identity offline. Identities without a record are ignored.
func (r *Registry) SetOffline(ctx context.Context, identity string) error {
	return r.update(ctx, identity, "offline", func(rec *Record) {
		rec.Online = false
		rec.LastSeen = r.now()
	})
}

// Touch refreshes the last-seen time without changing the online flag.
// Identities without a record are ignored.
func (r *Registry) Touch(ctx context.Context, identity string) error {
	return r.update(ctx, identity, "touch", func(rec *Record) {
		rec.LastSeen = r.now()
	})
}

// IsOnline reports the current flag; false when there is no record
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[domain.NormalizeIdentity(identity)].Online
}

// Get returns the record for identity
func (r *Registry) Get(identity string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[domain.NormalizeIdentity(identity)]
	return rec, ok
}

// Forget deletes the record of identity. Only account deletion does this.
func (r *Registry) Forget(ctx context.Context, identity string) error {
	id := domain.NormalizeIdentity(identity)
	if id == "" {
		return domain.ErrIdentityRequired
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	_, ok := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()
	if !ok {
		return domain.ErrPresenceNotFound
	}

	r.metrics.Presence("forget")

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete presence %s: %w", id, err)
		}
	}
	r.replicate(ctx, presenceUpdate{Record: Record{Identity: id, LastSeen: r.now()}, Deleted: true})
	return nil
}

func (r *Registry) update(ctx context.Context, identity, state string, mutate func(*Record)) error {
	id := domain.NormalizeIdentity(identity)
	if id == "" {
		return domain.ErrIdentityRequired
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	mutate(&rec)
	r.records[id] = rec
	r.mu.Unlock()

	return r.persist(ctx, rec, state)
}

// persist must be called with writeMu held
func (r *Registry) persist(ctx context.Context, rec Record, state string) error {
	r.metrics.Presence(state)
	r.logger.Debug("presence updated", "identity", rec.Identity, "state", state)

	if r.store != nil {
		if err := r.store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("persist presence %s: %w", rec.Identity, err)
		}
	}
	r.replicate(ctx, presenceUpdate{Record: rec})
	return nil
}
