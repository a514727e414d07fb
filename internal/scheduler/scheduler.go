// Package scheduler registers the periodic jobs the platform runs on a
// cron-like schedule where singleton jobs take a named lock before running
// so only one process instance executes a tick even when several replicas
// share the same schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/routecore/platform/internal/lock"
	"github.com/routecore/platform/internal/platformlog"

	"github.com/robfig/cron/v3"
)

// Job names, used as both the cron registry label and (when singleton) the
// lock name.
const (
	JobHoldExpiration       = "hold-expiration"
	JobOrphanedHoldCleanup  = "orphaned-hold-cleanup"
	JobPaymentExpiration    = "payment-expiration"
	JobDailyReconciliation  = "daily-reconciliation"
	JobMerkleBatchAnchor    = "merkle-batch-anchor"
	JobBlockchainConfirmPoll = "blockchain-confirm-poll"
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler wraps robfig/cron/v3 for periodic task registration, and
// guards singleton jobs with internal/lock so only one replica's tick
// actually runs.
type Scheduler struct {
	cron *cron.Cron
	lock *lock.Service
}

// New creates a Scheduler. lockService may be nil only in tests that never
// register a singleton job.
func New(lockService *lock.Service) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		lock: lockService,
	}
}

// RegisterSingleton adds a job that, on each tick, acquires the named lock
// before running task and skips the tick entirely if it cannot (another
// replica is already running it or will shortly). Errors are logged, never
// panicked: on crash the next tick retries.
func (s *Scheduler) RegisterSingleton(spec, jobName string, wait, lease time.Duration, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		err := lock.ExecuteWithLock(ctx, s.lock, jobName, wait, lease, task)
		if err != nil {
			platformlog.Logger.Error().Err(err).Str("job", jobName).Msg("scheduled job failed or was skipped")
		}
	})
	return err
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}
