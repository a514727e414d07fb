// Package integrator implements the cross-service Integrator: a retrying call wrapper used whenever one core must call into
// another in-process core (e.g. payment core confirming a booking) and
// wants the same timeout/backoff discipline an out-of-process RPC would
// need. The shape
// mirrors its repeated "call external dependency, wrap error with context"
// idiom seen in pkg/database and pkg/cache.
package integrator

import (
	"context"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/platformlog"
)

// Config controls retry behavior (3 attempts, base 2s
// backoff, 10s per-call timeout).
type Config struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig returns the integrator's default retry parameters.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseBackoff: 2 * time.Second, CallTimeout: 10 * time.Second}
}

// Call invokes fn with exponential backoff: attempt 1 immediate, attempt 2
// after BaseBackoff, attempt 3 after 2*BaseBackoff. Each attempt gets its
// own CallTimeout-bounded context. Returns the last error if every attempt
// fails.
func Call(ctx context.Context, cfg Config, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		lastErr = fn(callCtx)
		cancel()

		if lastErr == nil {
			return nil
		}

		platformlog.FromContext(ctx).Warn().
			Err(lastErr).
			Str("operation", operation).
			Int("attempt", attempt).
			Msg("integrator call failed")

		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := cfg.BaseBackoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: cancelled during retry backoff: %w", operation, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%s: all %d attempts failed: %w", operation, cfg.MaxAttempts, lastErr)
}
