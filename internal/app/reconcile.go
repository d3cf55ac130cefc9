/**
 * @description
 * Reconciler recovers transfers that no longer have anyone driving them. After
 * a restart the correlation table is empty, so items persisted as in flight
 * would wait forever; items still PENDING never had their lookup issued.
 *
 * @notes
 * - Only items untouched for longer than the grace period are considered, and
 *   items with a pending hub request are left to the sweep.
 * - An orphaned in-flight item fails with its phase's timeout code.
 * - A non-terminal bulk whose items are all terminal lost its last aggregate
 *   update; its state is recomputed.
 */
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

const defaultReconcileBatch = 200

// PendingRequests reports whether a transfer still awaits a hub callback.
type PendingRequests interface {
	Awaiting(transferID uuid.UUID) bool
}

// BulkRecomputer re-derives and persists a bulk's aggregate state.
type BulkRecomputer interface {
	RecomputeBulk(ctx context.Context, bulkID uuid.UUID) error
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Restarted  int
	Expired    int
	Skipped    int
	Recomputed int
}

// Reconciler restarts or expires stale transfers.
type Reconciler struct {
	repo     store.BulkRepository
	pending  PendingRequests
	machines *TransferMachine
	bulks    BulkRecomputer
	grace    time.Duration
	batch    int
}

// NewReconciler creates a reconciler. grace should exceed the longest phase timeout.
func NewReconciler(repo store.BulkRepository, pending PendingRequests, machines *TransferMachine, bulks BulkRecomputer, grace time.Duration) *Reconciler {
	return &Reconciler{repo: repo, pending: pending, machines: machines, bulks: bulks, grace: grace, batch: defaultReconcileBatch}
}

// ReconcileStale handles one batch of items not updated within the grace period.
func (r *Reconciler) ReconcileStale(ctx context.Context, now time.Time) (ReconcileResult, error) {
	var result ReconcileResult
	stale, err := r.repo.ListStaleTransfers(ctx, now.Add(-r.grace), r.batch)
	if err != nil {
		return result, fmt.Errorf("list stale transfers: %w", err)
	}

	for _, t := range stale {
		if r.pending.Awaiting(t.TransferID) {
			result.Skipped++
			continue
		}
		if t.Status == domain.TransferStatusPending {
			if err := r.machines.Start(ctx, t.TransferID); err != nil {
				log.Printf("level=error component=reconciler transfer_id=%s bulk_id=%s msg=\"restart failed\" err=%v", t.TransferID, t.BulkID, err)
				continue
			}
			result.Restarted++
			log.Printf("level=info component=reconciler transfer_id=%s bulk_id=%s msg=\"undispatched transfer restarted\"", t.TransferID, t.BulkID)
			continue
		}

		phase, ok := phaseAwaitedBy(t.Status)
		if !ok {
			result.Skipped++
			continue
		}
		r.machines.HandleHubEvent(ctx, HubEvent{
			Phase:      phase,
			Outcome:    OutcomeTimeout,
			TransferID: t.TransferID,
			BulkID:     t.BulkID,
		})
		result.Expired++
		log.Printf("level=warn component=reconciler transfer_id=%s bulk_id=%s status=%s last_update=%s msg=\"orphaned transfer expired\"", t.TransferID, t.BulkID, t.Status, t.UpdatedAt.Format(time.RFC3339))
	}

	recomputed, err := r.recomputeUnsettled(ctx)
	result.Recomputed = recomputed
	return result, err
}

func (r *Reconciler) recomputeUnsettled(ctx context.Context) (int, error) {
	if r.bulks == nil {
		return 0, nil
	}
	ids, err := r.repo.ListUnsettledBulks(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list unsettled bulks: %w", err)
	}
	recomputed := 0
	for _, id := range ids {
		if err := r.bulks.RecomputeBulk(ctx, id); err != nil {
			log.Printf("level=error component=reconciler bulk_id=%s msg=\"aggregate recompute failed\" err=%v", id, err)
			continue
		}
		recomputed++
		log.Printf("level=warn component=reconciler bulk_id=%s msg=\"bulk aggregate recomputed\"", id)
	}
	return recomputed, nil
}

func phaseAwaitedBy(status domain.TransferStatus) (Phase, bool) {
	switch status {
	case domain.TransferStatusLookupSent:
		return PhaseLookup, true
	case domain.TransferStatusQuoteSent:
		return PhaseQuote, true
	case domain.TransferStatusTransferSent:
		return PhaseTransfer, true
	}
	return "", false
}

// reconcileGrace is twice the longest phase timeout.
func reconcileGrace(t PhaseTimeouts) time.Duration {
	longest := t.Lookup
	if t.Quote > longest {
		longest = t.Quote
	}
	if t.Transfer > longest {
		longest = t.Transfer
	}
	return 2 * longest
}
