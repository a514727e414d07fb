package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory stand-in for Redis SETNX+compare-and-delete,
// hand-writing a small in-memory fake instead of pulling in a
// mocking framework.
type fakeBackend struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (f *fakeBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if exp, ok := f.expires[key]; ok && time.Now().After(exp) {
		delete(f.values, key)
		delete(f.expires, key)
	}
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value
	f.expires[key] = time.Now().Add(ttl)
	return true, nil
}

func (f *fakeBackend) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.values[key] != token {
		return false, nil
	}
	delete(f.values, key)
	delete(f.expires, key)
	return true, nil
}

func TestService_AcquireRelease(t *testing.T) {
	backend := newFakeBackend()
	svc := New(backend, 200*time.Millisecond, time.Second)

	h, err := svc.Acquire(context.Background(), "route:r1:2026-01-01", 0, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Name != "route:r1:2026-01-01" {
		t.Fatalf("unexpected handle name: %s", h.Name)
	}

	if err := svc.Release(context.Background(), h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Lock must be free again.
	h2, err := svc.Acquire(context.Background(), "route:r1:2026-01-01", 0, 0)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	_ = svc.Release(context.Background(), h2)
}

func TestService_AcquireTimesOutWhenHeld(t *testing.T) {
	backend := newFakeBackend()
	svc := New(backend, 150*time.Millisecond, 10*time.Second)

	h, err := svc.Acquire(context.Background(), "booking:b1", 0, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer svc.Release(context.Background(), h)

	_, err = svc.Acquire(context.Background(), "booking:b1", 0, 0)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestService_ReleaseDoesNotStealAnotherHoldersLock(t *testing.T) {
	backend := newFakeBackend()
	svc := New(backend, 50*time.Millisecond, 20*time.Millisecond)

	h1, err := svc.Acquire(context.Background(), "booking:b2", 0, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Simulate the lease expiring and a second holder taking over.
	time.Sleep(30 * time.Millisecond)
	h2, err := svc.Acquire(context.Background(), "booking:b2", 0, 0)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	// The original (now-expired) handle must not be able to release h2's lock.
	if err := svc.Release(context.Background(), h1); err != nil {
		t.Fatalf("Release: %v", err)
	}

	backend.mu.Lock()
	_, stillHeld := backend.values["lock:booking:b2"]
	backend.mu.Unlock()
	if !stillHeld {
		t.Fatal("expired handle released the new holder's lock")
	}

	_ = svc.Release(context.Background(), h2)
}

func TestExecuteWithLock(t *testing.T) {
	backend := newFakeBackend()
	svc := New(backend, time.Second, time.Second)

	var ran bool
	err := ExecuteWithLock(context.Background(), svc, "route:r2:2026-01-02", 0, 0, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithLock: %v", err)
	}
	if !ran {
		t.Fatal("function was not executed")
	}

	backend.mu.Lock()
	_, stillHeld := backend.values["lock:route:r2:2026-01-02"]
	backend.mu.Unlock()
	if stillHeld {
		t.Fatal("lock was not released after ExecuteWithLock returned")
	}
}
