package main

import (
	"context"
	"time"

	"github.com/routecore/platform/internal/booking"
	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/payment"
	"github.com/routecore/platform/internal/platformlog"
	"github.com/routecore/platform/internal/scheduler"
	"github.com/routecore/platform/internal/ticketing"
)

// registerScheduledJobs wires the six periodic jobs onto the scheduler.
// Each is a singleton: only one replica's tick actually runs, guarded by
// the distributed lock.
func registerScheduledJobs(
	s *scheduler.Scheduler,
	cfg *config.Config,
	bookingSvc *booking.Service,
	paymentSvc *payment.Service,
	ticketSvc *ticketing.Service,
) {
	must := func(name string, err error) {
		if err != nil {
			platformlog.Logger.Fatal().Err(err).Str("job", name).Msg("failed to register scheduled job")
		}
	}

	must(scheduler.JobHoldExpiration, s.RegisterSingleton(
		cfg.Scheduler.HoldExpirationCron, scheduler.JobHoldExpiration,
		cfg.Lock.DefaultWait, cfg.Lock.DefaultLease,
		func(ctx context.Context) error {
			count, err := bookingSvc.ExpireStaleHolds(ctx)
			if err != nil {
				return err
			}
			platformlog.FromContext(ctx).Info().Int("expired", count).Msg("hold expiration sweep complete")
			return nil
		},
	))

	// The orphaned-hold job reruns the same DB-driven stale-hold sweep
	// (ExpireStaleHolds) on its own, wider cadence. It does not scan the
	// cache for held seats that have no booking row.
	must(scheduler.JobOrphanedHoldCleanup, s.RegisterSingleton(
		cfg.Scheduler.OrphanedHoldCron, scheduler.JobOrphanedHoldCleanup,
		cfg.Lock.DefaultWait, cfg.Lock.DefaultLease,
		func(ctx context.Context) error {
			_, err := bookingSvc.ExpireStaleHolds(ctx)
			return err
		},
	))

	must(scheduler.JobPaymentExpiration, s.RegisterSingleton(
		cfg.Scheduler.PaymentExpirationCron, scheduler.JobPaymentExpiration,
		cfg.Lock.DefaultWait, cfg.Lock.DefaultLease,
		func(ctx context.Context) error {
			count, err := paymentSvc.ExpirePendingPayments(ctx)
			if err != nil {
				return err
			}
			platformlog.FromContext(ctx).Info().Int("expired", count).Msg("payment expiration sweep complete")
			return nil
		},
	))

	must(scheduler.JobDailyReconciliation, s.RegisterSingleton(
		cfg.Scheduler.ReconciliationCron, scheduler.JobDailyReconciliation,
		cfg.Lock.DefaultWait, cfg.Lock.DefaultLease,
		func(ctx context.Context) error {
			businessDate := time.Now().UTC().AddDate(0, 0, -1)
			record, err := paymentSvc.Reconciliation(ctx, businessDate)
			if err != nil {
				return err
			}
			platformlog.FromContext(ctx).Info().Str("status", string(record.Status)).Msg("daily reconciliation complete")
			return nil
		},
	))

	must(scheduler.JobMerkleBatchAnchor, s.RegisterSingleton(
		cfg.Scheduler.MerkleBatchCron, scheduler.JobMerkleBatchAnchor,
		cfg.Lock.DefaultWait, cfg.Lock.DefaultLease,
		func(ctx context.Context) error {
			return ticketSvc.FlushPendingBatch(ctx)
		},
	))

	must(scheduler.JobBlockchainConfirmPoll, s.RegisterSingleton(
		cfg.Scheduler.AnchorConfirmCron, scheduler.JobBlockchainConfirmPoll,
		cfg.Lock.DefaultWait, cfg.Lock.DefaultLease,
		func(ctx context.Context) error {
			count, err := ticketSvc.PollAnchorConfirmations(ctx)
			if err != nil {
				return err
			}
			platformlog.FromContext(ctx).Info().Int("confirmed", count).Msg("anchor confirmation poll complete")
			return nil
		},
	))
}
