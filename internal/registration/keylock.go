package registration

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLock serializes work per key. Entries are reference counted and removed
// once no goroutine holds or waits for them.
type keyLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{entries: make(map[string]*lockEntry)}
}

// acquire blocks until key is free or ctx is done. The returned function
// releases the key.
func (k *keyLock) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.unref(key, e)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		k.unref(key, e)
	}, nil
}

func (k *keyLock) unref(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// size reports the number of live entries.
func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
