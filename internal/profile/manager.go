package profile

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store and postgres.Store.
type Store interface {
	GetUser(ctx context.Context, id string) (Profile, error)
	UpdateProfileData(ctx context.Context, id string, patch Patch) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// maxCacheEntries bounds the cache; expired entries are swept when it fills.
const maxCacheEntries = 4096

type cacheEntry struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached access to stored profiles. Writes go through to
// the store and invalidate the cached copy.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// GetUser returns the profile with the given id from cache or storage.
func (m *Manager) GetUser(ctx context.Context, id string) (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.fresh(id); ok {
		p := e.profile.Clone()
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.fresh(id); ok {
		return e.profile.Clone(), nil
	}

	p, err := m.store.GetUser(ctx, id)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile %s: %w", id, err)
	}

	if len(m.cache) >= maxCacheEntries {
		m.sweep()
	}
	m.cache[id] = cacheEntry{profile: p.Clone(), cachedAt: m.clock.Now()}
	return p, nil
}

// UpdateProfileData persists the patch and invalidates the cached profile.
func (m *Manager) UpdateProfileData(ctx context.Context, id string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, id)
	if err := m.store.UpdateProfileData(ctx, id, patch); err != nil {
		return fmt.Errorf("updating profile %s: %w", id, err)
	}
	return nil
}

// Invalidate drops the cached copy of id, if any.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, id)
}

// fresh must be called with mu held.
func (m *Manager) fresh(id string) (cacheEntry, bool) {
	e, ok := m.cache[id]
	if !ok || !m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return cacheEntry{}, false
	}
	return e, true
}

// sweep must be called with mu held for writing.
func (m *Manager) sweep() {
	now := m.clock.Now()
	for id, e := range m.cache {
		if !now.Before(e.cachedAt.Add(m.ttl)) {
			delete(m.cache, id)
		}
	}
	if len(m.cache) >= maxCacheEntries {
		clear(m.cache)
	}
}
