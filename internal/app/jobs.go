/**
 * @description
 * Periodic maintenance jobs: expiring hub requests that never got a callback,
 * recovering orphaned transfers and archiving finished bulks past their
 * retention.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper fails correlation entries past their deadline.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) int
}

// StaleReconciler recovers transfers nobody is driving anymore.
type StaleReconciler interface {
	ReconcileStale(ctx context.Context, now time.Time) (ReconcileResult, error)
}

// Archiver removes terminal bulks finished before cutoff.
type Archiver interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	sweeper    Sweeper
	reconciler StaleReconciler
	archiver   Archiver
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewJobs(sweeper Sweeper, reconciler StaleReconciler, archiver Archiver, retention time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		sweeper:    sweeper,
		reconciler: reconciler,
		archiver:   archiver,
		retention:  retention,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SweepExpiredRequests times out hub requests whose deadline passed.
func (j *Jobs) SweepExpiredRequests() {
	expired := j.sweeper.SweepExpired(context.Background(), j.now())
	if expired > 0 {
		j.logger.Info("expired hub requests swept", "count", expired)
	}
}

// ReconcileStaleTransfers restarts undispatched items, expires orphaned ones and
// repairs bulks left behind their items.
func (j *Jobs) ReconcileStaleTransfers() {
	if j.reconciler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := j.reconciler.ReconcileStale(ctx, j.now())
	if err != nil {
		j.logger.Error("failed to reconcile stale transfers", "error", err)
		return
	}
	if result.Restarted > 0 || result.Expired > 0 || result.Recomputed > 0 {
		j.logger.Info("reconciled stale transfers", "restarted", result.Restarted, "expired", result.Expired, "skipped", result.Skipped, "recomputed", result.Recomputed)
	}
}

// ArchiveFinishedBulks deletes terminal bulks older than the retention window.
func (j *Jobs) ArchiveFinishedBulks() {
	if j.archiver == nil || j.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.archiver.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to archive finished bulks", "error", err, "cutoff", cutoff)
		return
	}
	if deleted > 0 {
		j.logger.Info("archived finished bulks", "count", deleted, "cutoff", cutoff)
	}
}
