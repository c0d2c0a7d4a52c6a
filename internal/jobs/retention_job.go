// Package jobs holds scheduled maintenance tasks.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"catersync/internal/metrics"
	"catersync/internal/store"
)

// DefaultRetentionSchedule runs the purge at minute 17 of every hour.
const DefaultRetentionSchedule = "17 * * * *"

// Purger removes delivered webhook records older than a cutoff.
type Purger interface {
	PurgeWebhookDeliveries(ctx context.Context, deliveredBefore time.Time) (int64, error)
}

// RetentionJob purges delivered webhook records older than the retention window.
type RetentionJob struct {
	purger    Purger
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

var _ Purger = (store.Store)(nil)

func NewRetentionJob(p Purger, retention time.Duration, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		purger:    p,
		retention: retention,
		schedule:  DefaultRetentionSchedule,
		cron:      cron.New(),
		logger:    logger.With("component", "webhook_retention_job"),
		now:       time.Now,
	}
}

// Start schedules the purge. A non-positive retention disables the job.
func (j *RetentionJob) Start() error {
	if j.retention <= 0 {
		j.logger.Info("webhook retention disabled")
		return nil
	}
	if _, err := j.cron.AddFunc(j.schedule, func() { _, _ = j.RunOnce(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("webhook retention job started", "schedule", j.schedule, "retention", j.retention)
	return nil
}

// RunOnce purges immediately and returns the number of removed records.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	cutoff := j.now().Add(-j.retention)
	n, err := j.purger.PurgeWebhookDeliveries(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "webhook retention purge failed", "error", err)
		return 0, err
	}
	metrics.WebhookPurged.Add(float64(n))
	if n > 0 {
		j.logger.InfoContext(ctx, "purged delivered webhooks", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Stop waits for a running purge to finish.
func (j *RetentionJob) Stop() {
	<-j.cron.Stop().Done()
}
