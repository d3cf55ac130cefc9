/**
 * @description
 * Orchestrator owns bulk transfers: it validates submitted rows, creates one
 * IndividualTransfer per valid row, launches their state machines and keeps
 * the bulk's aggregate state in step with item outcomes.
 *
 * @notes
 * - Aggregate state only moves forward: PROCESSING -> terminal. Bulks are
 *   inserted already PROCESSING together with their items.
 * - With a payer account store installed, the bulk total is reserved before
 *   insert and settled when the bulk turns terminal.
 * - Machine starts run detached from the creating request with bounded fan-out.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/metrics"
	"github.com/transfa/disbursement-service/internal/store"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoValidRows         = errors.New("no valid rows to disburse")
	ErrInvalidPayerAccount = errors.New("payer account is required")
	ErrBulkNotCancellable  = errors.New("bulk transfer already finished")
	ErrMixedCurrencies     = errors.New("rows must share one currency")
)

// Orchestrator creates bulks and maintains their aggregate state.
type Orchestrator struct {
	repo      store.BulkRepository
	machines  *TransferMachine
	validator *RowValidator
	events    EventPublisher
	metrics   *metrics.Metrics
	bulkLocks *keyedLock
	limiter   SubmissionLimiter
	accounts  store.PayerAccountStore
	maxStarts int
	starts    sync.WaitGroup
	now       func() time.Time
}

func NewOrchestrator(repo store.BulkRepository, machines *TransferMachine, validator *RowValidator, events EventPublisher, m *metrics.Metrics, maxConcurrentStarts int) *Orchestrator {
	if maxConcurrentStarts <= 0 {
		maxConcurrentStarts = 16
	}
	o := &Orchestrator{
		repo:      repo,
		machines:  machines,
		validator: validator,
		events:    events,
		metrics:   m,
		bulkLocks: newKeyedLock(),
		maxStarts: maxConcurrentStarts,
		now:       func() time.Time { return time.Now().UTC() },
	}
	machines.SetObserver(o)
	return o
}

// SetLimiter installs a per-payer submission limiter. A nil limiter disables it.
func (o *Orchestrator) SetLimiter(l SubmissionLimiter) {
	o.limiter = l
}

// SetPayerAccounts enables funds checks against the given store. A nil store disables them.
func (o *Orchestrator) SetPayerAccounts(accounts store.PayerAccountStore) {
	o.accounts = accounts
}

// CreateBulk validates rows and starts a bulk from the valid ones. Invalid
// rows are returned alongside and never become transfers. When no row is
// valid nothing is created and ErrNoValidRows is returned with the row errors.
func (o *Orchestrator) CreateBulk(ctx context.Context, payerAccount string, rows []domain.PaymentRow) (*domain.BulkTransfer, []domain.RowError, error) {
	valid, invalid := o.validator.ValidateRows(rows)
	if len(valid) == 0 {
		return nil, invalid, ErrNoValidRows
	}
	bulk, err := o.CreateBulkFromValidated(ctx, payerAccount, valid)
	if err != nil {
		return nil, invalid, err
	}
	return bulk, invalid, nil
}

// CreateBulkFromValidated persists a bulk for rows that already passed validation and starts it.
func (o *Orchestrator) CreateBulkFromValidated(ctx context.Context, payerAccount string, rows []domain.ValidatedRow) (*domain.BulkTransfer, error) {
	payerAccount = strings.TrimSpace(payerAccount)
	if payerAccount == "" {
		return nil, ErrInvalidPayerAccount
	}
	if len(rows) == 0 {
		return nil, ErrNoValidRows
	}
	if err := o.checkSubmissionRate(ctx, payerAccount); err != nil {
		return nil, err
	}
	return o.createValidated(ctx, payerAccount, rows)
}

func (o *Orchestrator) createValidated(ctx context.Context, payerAccount string, rows []domain.ValidatedRow) (*domain.BulkTransfer, error) {
	now := o.now()
	bulk := &domain.BulkTransfer{
		ID:           uuid.New(),
		PayerAccount: payerAccount,
		Currency:     rows[0].Currency,
		State:        domain.BulkStateProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
		Transfers:    make([]domain.IndividualTransfer, 0, len(rows)),
	}
	for _, row := range rows {
		if row.Currency != bulk.Currency {
			return nil, fmt.Errorf("%w: row %d has %s, expected %s", ErrMixedCurrencies, row.RowNumber, row.Currency, bulk.Currency)
		}
		total, err := domain.AddAmount(bulk.TotalAmount, row.Amount)
		if err != nil {
			return nil, fmt.Errorf("bulk total: %w", err)
		}
		bulk.TotalAmount = total
		bulk.Transfers = append(bulk.Transfers, domain.IndividualTransfer{
			TransferID:      uuid.New(),
			BulkID:          bulk.ID,
			RowNumber:       row.RowNumber,
			PayeeIDType:     row.IDType,
			PayeeIdentifier: row.Identifier,
			PayeeName:       row.Name,
			Amount:          row.Amount,
			Currency:        row.Currency,
			Status:          domain.TransferStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if o.accounts != nil {
		if err := o.accounts.Reserve(ctx, payerAccount, bulk.ID, bulk.Currency, bulk.TotalAmount); err != nil {
			return nil, fmt.Errorf("reserve funds: %w", err)
		}
	}
	if err := o.repo.CreateBulk(ctx, bulk); err != nil {
		o.releaseReservation(ctx, bulk.ID)
		return nil, fmt.Errorf("create bulk: %w", err)
	}
	o.metrics.BulkCreated()
	if o.events != nil {
		o.events.PublishBulkState(ctx, newBulkStateEvent(bulk, bulk.State, now))
	}
	log.Printf("level=info component=orchestrator bulk_id=%s payer_account=%s transfers=%d total_amount=%d currency=%s msg=\"bulk accepted\"", bulk.ID, bulk.PayerAccount, len(bulk.Transfers), bulk.TotalAmount, bulk.Currency)

	o.startAll(context.WithoutCancel(ctx), bulk)
	return bulk.Clone(), nil
}

func (o *Orchestrator) releaseReservation(ctx context.Context, bulkID uuid.UUID) {
	if o.accounts == nil {
		return
	}
	if err := o.accounts.Settle(context.WithoutCancel(ctx), bulkID, 0); err != nil {
		log.Printf("level=error component=orchestrator bulk_id=%s msg=\"reservation release failed\" err=%v", bulkID, err)
	}
}

// checkSubmissionRate fails open when the limiter backend is unavailable.
func (o *Orchestrator) checkSubmissionRate(ctx context.Context, payerAccount string) error {
	if o.limiter == nil || o.limiter.Limit() <= 0 {
		return nil
	}
	count, retryAfter, err := o.limiter.Consume(ctx, payerAccount)
	if err != nil {
		log.Printf("level=warn component=orchestrator payer_account=%s msg=\"submission limiter unavailable\" err=%v", payerAccount, err)
		return nil
	}
	if count > o.limiter.Limit() {
		log.Printf("level=warn component=orchestrator payer_account=%s count=%d limit=%d retry_after=%s msg=\"bulk submission rate limited\"", payerAccount, count, o.limiter.Limit(), retryAfter)
		return &RateLimitError{PayerAccount: payerAccount, RetryAfter: retryAfter}
	}
	return nil
}

func (o *Orchestrator) startAll(ctx context.Context, bulk *domain.BulkTransfer) {
	ids := make([]uuid.UUID, len(bulk.Transfers))
	for i, t := range bulk.Transfers {
		ids[i] = t.TransferID
	}

	o.starts.Add(1)
	go func() {
		defer o.starts.Done()
		var g errgroup.Group
		g.SetLimit(o.maxStarts)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				if err := o.machines.Start(ctx, id); err != nil {
					log.Printf("level=error component=orchestrator bulk_id=%s transfer_id=%s msg=\"transfer start failed\" err=%v", bulk.ID, id, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Drain blocks until every launched start has issued its first request.
func (o *Orchestrator) Drain() {
	o.starts.Wait()
}

// OnTransferTerminal recomputes the aggregate after an item finished. It is
// idempotent and never moves a bulk backwards.
func (o *Orchestrator) OnTransferTerminal(ctx context.Context, bulkID, transferID uuid.UUID) error {
	return o.recompute(ctx, bulkID, transferID.String())
}

// RecomputeBulk persists the aggregate of a bulk whose last update was lost.
func (o *Orchestrator) RecomputeBulk(ctx context.Context, bulkID uuid.UUID) error {
	return o.recompute(ctx, bulkID, "reconciler")
}

func (o *Orchestrator) recompute(ctx context.Context, bulkID uuid.UUID, trigger string) error {
	unlock := o.bulkLocks.Lock(bulkID)
	defer unlock()

	bulk, err := o.repo.GetBulk(ctx, bulkID)
	if err != nil {
		return err
	}
	if bulk.State.IsTerminal() {
		return nil
	}
	next := domain.AggregateState(bulk.Statuses())
	if next == bulk.State || next == domain.BulkStatePending {
		return nil
	}

	var completedAt *time.Time
	now := o.now()
	if next.IsTerminal() {
		completedAt = &now
		if o.accounts != nil {
			if err := o.accounts.Settle(ctx, bulkID, domain.SettledAmount(bulk.Transfers)); err != nil {
				return fmt.Errorf("settle funds: %w", err)
			}
		}
	}
	if err := o.repo.UpdateBulkState(ctx, bulkID, next, completedAt); err != nil {
		return fmt.Errorf("update bulk state: %w", err)
	}
	log.Printf("level=info component=orchestrator bulk_id=%s trigger=%s from=%s to=%s", bulkID, trigger, bulk.State, next)

	if next.IsTerminal() {
		o.metrics.BulkFinished(string(next))
		if o.events != nil {
			o.events.PublishBulkState(ctx, newBulkStateEvent(bulk, next, now))
		}
	}
	return nil
}

// GetProgress returns how many items of a bulk are terminal.
func (o *Orchestrator) GetProgress(ctx context.Context, bulkID uuid.UUID) (domain.Progress, error) {
	bulk, err := o.repo.GetBulk(ctx, bulkID)
	if err != nil {
		return domain.Progress{}, err
	}
	c := domain.CountStatuses(bulk.Transfers)
	return domain.Progress{
		CompletedCount:  c.Terminal(),
		TotalCount:      c.Total,
		ProgressPercent: domain.Percent(c.Terminal(), c.Total),
		State:           bulk.State,
	}, nil
}

// CancelBulk fails every item still PENDING with CANCELLED. Items already in
// flight with the hub are left to finish.
func (o *Orchestrator) CancelBulk(ctx context.Context, bulkID uuid.UUID) (*domain.BulkTransfer, error) {
	bulk, err := o.repo.GetBulk(ctx, bulkID)
	if err != nil {
		return nil, err
	}
	if bulk.State.IsTerminal() {
		return nil, ErrBulkNotCancellable
	}

	cancelled := 0
	for _, t := range bulk.Transfers {
		if t.Status != domain.TransferStatusPending {
			continue
		}
		ok, err := o.machines.Cancel(ctx, t.TransferID)
		if err != nil {
			return nil, fmt.Errorf("cancel transfer %s: %w", t.TransferID, err)
		}
		if ok {
			cancelled++
		}
	}
	log.Printf("level=info component=orchestrator bulk_id=%s cancelled=%d msg=\"bulk cancellation applied\"", bulkID, cancelled)

	return o.repo.GetBulk(ctx, bulkID)
}
