package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// --- Mock store ---

var errNotFound = errors.New("not found")

type mockStore struct {
	mu   sync.Mutex
	data map[string]Profile

	getCalls int
}

func newMockStore(profiles ...Profile) *mockStore {
	m := &mockStore{data: make(map[string]Profile)}
	for _, p := range profiles {
		m.data[p.ID] = p
	}
	return m
}

func (m *mockStore) GetUser(_ context.Context, id string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	p, ok := m.data[id]
	if !ok {
		return Profile{}, errNotFound
	}
	return p.Clone(), nil
}

func (m *mockStore) UpdateProfileData(_ context.Context, id string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok {
		return errNotFound
	}
	m.data[id] = patch.Apply(p)
	return nil
}

func (m *mockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGetUser_NotFound(t *testing.T) {
	mgr := NewManager(newMockStore())

	_, err := mgr.GetUser(context.Background(), "nope")
	if !errors.Is(err, errNotFound) {
		t.Fatalf("GetUser error = %v, want wrapped errNotFound", err)
	}
}

func TestUpdateAndGet(t *testing.T) {
	store := newMockStore(New("u1"))
	mgr := NewManager(store)
	ctx := context.Background()

	if _, err := mgr.GetUser(ctx, "u1"); err != nil {
		t.Fatalf("GetUser: %v", err)
	}

	age := 30
	if err := mgr.UpdateProfileData(ctx, "u1", Patch{Set: SparseFields{Age: &age}}); err != nil {
		t.Fatalf("UpdateProfileData: %v", err)
	}

	p, err := mgr.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if p.Age == nil || *p.Age != 30 {
		t.Errorf("Age = %v, want 30 after write-through", p.Age)
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore(New("u1"))
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)
	ctx := context.Background()

	mgr.GetUser(ctx, "u1")
	mgr.GetUser(ctx, "u1")

	if calls := store.calls(); calls != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", calls)
	}
}

func TestCacheInvalidation(t *testing.T) {
	store := newMockStore(New("u1"))
	clock := &mockClock{now: time.Now()}
	ttl := 60 * time.Second
	mgr := NewManagerWithClock(store, clock, ttl)
	ctx := context.Background()

	mgr.GetUser(ctx, "u1")

	// Advance past TTL
	clock.Advance(ttl + time.Second)

	mgr.GetUser(ctx, "u1")

	if calls := store.calls(); calls != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", calls)
	}

	mgr.Invalidate("u1")
	mgr.GetUser(ctx, "u1")
	if calls := store.calls(); calls != 3 {
		t.Errorf("expected 3 store calls after Invalidate, got %d", calls)
	}
}

func TestGetUser_ReturnsCopy(t *testing.T) {
	age := 25
	p := New("u1")
	p.Age = &age
	mgr := NewManager(newMockStore(p))
	ctx := context.Background()

	got, _ := mgr.GetUser(ctx, "u1")
	*got.Age = 99

	again, _ := mgr.GetUser(ctx, "u1")
	if *again.Age != 25 {
		t.Errorf("cached profile mutated through returned copy: age = %d", *again.Age)
	}
}
