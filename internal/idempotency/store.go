// Package idempotency implements the idempotency store:
// atomic first-writer-wins key registration with TTL, used to make
// booking creation, payment initiation, and webhook handling safe to
// retry.
package idempotency

import (
	"context"
	"time"
)

// Backend is the minimal Redis surface the store needs.
type Backend interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Store is the idempotency key registry.
type Store struct {
	backend Backend
	prefix  string
}

// New creates an idempotency Store. prefix namespaces keys (e.g.
// "idempotency:payment:" vs "idempotency:webhook:") so two callers can
// never collide even if they reuse the same caller-supplied token.
func New(backend Backend, prefix string) *Store {
	return &Store{backend: backend, prefix: prefix}
}

// Result is the outcome of RegisterOrGet.
type Result struct {
	// Stored is the value now associated with key — either the one the
	// caller just registered (First=true) or the one a prior call
	// registered (First=false).
	Stored string
	First  bool
}

// RegisterOrGet atomically registers value under key with the given TTL.
// If key is unclaimed, it stores value and returns First=true. If key is
// already claimed, it returns the previously stored value with First=false
// — callers use this to return the original response on replay instead of
// performing the side effect again.
func (s *Store) RegisterOrGet(ctx context.Context, key, value string, ttl time.Duration) (Result, error) {
	fullKey := s.prefix + key

	won, err := s.backend.SetNX(ctx, fullKey, value, ttl)
	if err != nil {
		return Result{}, err
	}
	if won {
		return Result{Stored: value, First: true}, nil
	}

	existing, err := s.backend.Get(ctx, fullKey)
	if err != nil {
		return Result{}, err
	}
	return Result{Stored: existing, First: false}, nil
}

// Clear removes a key. For tests only ( "Clearing is for
// tests only").
func (s *Store) Clear(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.prefix+key)
}

// Complete overwrites the value stored under key with the operation's
// final result, once it is known. Callers reserve the key with
// RegisterOrGet before doing any work (so concurrent duplicates see
// First=false immediately) and call Complete afterward so a later replay
// returns the real response instead of the reservation placeholder.
func (s *Store) Complete(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.backend.SetJSON(ctx, s.prefix+key, value, ttl)
}
