package registration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	k := newKeyLock()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.acquire(context.Background(), "u1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	if got := maxSeen.Load(); got != 1 {
		t.Errorf("max holders = %d, want 1", got)
	}
	if got := k.size(); got != 0 {
		t.Errorf("size = %d after release, want 0", got)
	}
}

func TestKeyLock_DifferentKeysDoNotBlock(t *testing.T) {
	k := newKeyLock()
	release, err := k.acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := k.acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b while a is held: %v", err)
	}
	other()
}

func TestKeyLock_ContextCancel(t *testing.T) {
	k := newKeyLock()
	release, err := k.acquire(context.Background(), "u1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.acquire(ctx, "u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if got := k.size(); got != 1 {
		t.Errorf("size = %d while held, want 1", got)
	}

	release()
	if got := k.size(); got != 0 {
		t.Errorf("size = %d after release, want 0", got)
	}
}
