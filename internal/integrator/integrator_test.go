package integrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCall_SucceedsOnFirstAttempt(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, CallTimeout: time.Second}
	attempts := 0
	err := Call(context.Background(), cfg, "test.op", func(ctx context.Context) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, CallTimeout: time.Second}
	attempts := 0
	err := Call(context.Background(), cfg, "test.op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCall_ExhaustsAttemptsAndReturnsError(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, CallTimeout: time.Second}
	attempts := 0
	err := Call(context.Background(), cfg, "test.op", func(ctx context.Context) error {
		attempts++
		return errors.New("permanent failure")
	})
	if err == nil {
		t.Fatal("expected error after exhausting all attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}
