// Package lock implements the distributed lock service:
// named mutual exclusion across processes, backed by Redis SETNX+TTL, with
// wait and lease timeouts.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/routecore/platform/internal/apierr"
)

// Backend is the minimal Redis surface the lock service needs. Satisfied
// by *cache.Client.
type Backend interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}

// Handle identifies a held lock so it can be released by its owner only.
type Handle struct {
	Name  string
	Token string
}

// Service is the distributed lock service.
type Service struct {
	backend      Backend
	defaultWait  time.Duration
	defaultLease time.Duration
	pollInterval time.Duration
}

// New creates a lock Service with the given defaults (wait=5s,
// lease=10s).
func New(backend Backend, defaultWait, defaultLease time.Duration) *Service {
	return &Service{
		backend:      backend,
		defaultWait:  defaultWait,
		defaultLease: defaultLease,
		pollInterval: 50 * time.Millisecond,
	}
}

func (s *Service) waitOrDefault(wait time.Duration) time.Duration {
	if wait <= 0 {
		return s.defaultWait
	}
	return wait
}

func (s *Service) leaseOrDefault(lease time.Duration) time.Duration {
	if lease <= 0 {
		return s.defaultLease
	}
	return lease
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Acquire blocks until the named lock is obtained, wait elapses, or ctx is
// cancelled, whichever comes first. The lease outlives the critical section
// as long as the caller releases promptly; if the holder crashes the lease
// expires on its own.
func (s *Service) Acquire(ctx context.Context, name string, wait, lease time.Duration) (*Handle, error) {
	wait = s.waitOrDefault(wait)
	lease = s.leaseOrDefault(lease)

	deadline := time.Now().Add(wait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	token := newToken()
	key := "lock:" + name

	for {
		ok, err := s.backend.SetNX(ctx, key, token, lease)
		if err != nil {
			return nil, apierr.Unavailable("LOCK_BACKEND_UNAVAILABLE", "lock backend unavailable").WithDetails(map[string]interface{}{"cause": err.Error()})
		}
		if ok {
			return &Handle{Name: name, Token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, apierr.Unavailable("LOCK_ACQUIRE_TIMEOUT", "timed out waiting for lock "+name)
		}

		select {
		case <-ctx.Done():
			return nil, apierr.Unavailable("LOCK_ACQUIRE_CANCELLED", "lock wait cancelled")
		case <-time.After(s.pollInterval):
		}
	}
}

// Release releases a previously acquired lock. It is a no-op (and returns
// no error) if the lease already expired and was taken by someone else —
// the important property is that releasing never deletes another holder's
// lock.
func (s *Service) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	_, err := s.backend.CompareAndDelete(ctx, "lock:"+h.Name, h.Token)
	return err
}

// ExecuteWithLock acquires the named lock, runs fn, and releases the lock
// on every exit path (including panics propagated from fn).
func ExecuteWithLock(ctx context.Context, s *Service, name string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	h, err := s.Acquire(ctx, name, wait, lease)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Release(context.WithoutCancel(ctx), h)
	}()
	return fn(ctx)
}

// Key builders for the named locks the lock service governs.

// RouteDateKey returns the lock name for seat operations on a route+date.
func RouteDateKey(routeID, date string) string {
	return "route:" + routeID + ":" + date
}

// BookingKey returns the lock name for booking-level updates.
func BookingKey(bookingID string) string {
	return "booking:" + bookingID
}

// PaymentSettlementKey is the singleton settlement batch job lock name.
const PaymentSettlementKey = "payment-settlement"
