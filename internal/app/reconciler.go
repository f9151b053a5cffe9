/**
 * @description
 * Cron-driven reconciler that retries affiliate payouts recorded without a
 * transfer reference. A sale against a creator with no linked payout account
 * leaves an affiliate_payout ledger entry unfunded; once the creator links an
 * account, the next reconciler run moves the money.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Reconciler manages the scheduled payout-retry job.
type Reconciler struct {
	cron      *cron.Cron
	service   *Service
	logger    *slog.Logger
	schedule  string
	batchSize int
}

// NewReconciler creates a new reconciler instance.
func NewReconciler(service *Service, logger *slog.Logger, schedule string, batchSize int) *Reconciler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Reconciler{
		cron:      c,
		service:   service,
		logger:    logger,
		schedule:  schedule,
		batchSize: batchSize,
	}
}

// Start registers the retry job and starts the cron scheduler.
func (r *Reconciler) Start() {
	if _, err := r.cron.AddFunc(r.schedule, r.RunOnce); err != nil {
		r.logger.Error("failed to schedule payout retry job", "error", err, "schedule", r.schedule)
		return
	}
	r.logger.Info("scheduled payout retry job", "schedule", r.schedule)
	r.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

// RunOnce executes a single retry pass over unfunded affiliate payouts.
func (r *Reconciler) RunOnce() {
	ctx := context.Background()

	funded, err := r.service.RetryUnfundedAffiliatePayouts(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("payout retry job failed", "error", err)
		return
	}
	if funded > 0 {
		r.logger.Info("payout retry job funded payouts", "count", funded)
	}
}
