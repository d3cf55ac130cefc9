package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
	"github.com/transfa/disbursement-service/pkg/poller"
)

var ErrWaitTimeout = errors.New("bulk transfer did not finish before the wait timeout")

const (
	DefaultWaitTimeout = 300 * time.Second
	MaxWaitTimeout     = 600 * time.Second
)

// StatusService answers read-only queries about bulks. Every result is a
// snapshot copy; reads never change processing.
type StatusService struct {
	repo         store.BulkRepository
	waitInterval time.Duration
}

func NewStatusService(repo store.BulkRepository) *StatusService {
	return &StatusService{repo: repo, waitInterval: 500 * time.Millisecond}
}

// GetStatus returns the polling snapshot of one bulk.
func (s *StatusService) GetStatus(ctx context.Context, bulkID uuid.UUID) (*domain.BulkStatus, error) {
	bulk, err := s.repo.GetBulk(ctx, bulkID)
	if err != nil {
		return nil, err
	}
	c := domain.CountStatuses(bulk.Transfers)
	return &domain.BulkStatus{
		BulkTransferID:      bulk.ID,
		State:               bulk.State,
		TotalAmount:         bulk.TotalAmount,
		Currency:            bulk.Currency,
		PayerAccount:        bulk.PayerAccount,
		IndividualTransfers: bulk.Transfers,
		Completed:           c.Terminal(),
		Total:               c.Total,
		ProgressPercent:     domain.Percent(c.Terminal(), c.Total),
		CreatedAt:           bulk.CreatedAt,
		CompletedAt:         bulk.CompletedAt,
	}, nil
}

// GetDetails returns a bulk with outcome statistics.
func (s *StatusService) GetDetails(ctx context.Context, bulkID uuid.UUID) (*domain.BulkDetails, error) {
	bulk, err := s.repo.GetBulk(ctx, bulkID)
	if err != nil {
		return nil, err
	}
	c := domain.CountStatuses(bulk.Transfers)
	return &domain.BulkDetails{
		BulkID:       bulk.ID,
		State:        bulk.State,
		PayerAccount: bulk.PayerAccount,
		TotalAmount:  bulk.TotalAmount,
		Currency:     bulk.Currency,
		CreatedAt:    bulk.CreatedAt,
		CompletedAt:  bulk.CompletedAt,
		Statistics: domain.Statistics{
			Total:       c.Total,
			Completed:   c.Completed,
			Failed:      c.Failed,
			Pending:     c.Pending,
			Processing:  c.Processing,
			SuccessRate: domain.Percent(c.Completed, c.Total),
		},
		IndividualTransfers: bulk.Transfers,
	}, nil
}

// ListHistory returns a page of bulks, newest first.
func (s *StatusService) ListHistory(ctx context.Context, filter domain.HistoryFilter) (*domain.HistoryPage, error) {
	results, total, err := s.repo.ListBulks(ctx, filter)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []domain.BulkSummary{}
	}
	return &domain.HistoryPage{Total: total, Count: len(results), Results: results}, nil
}

// WaitForCompletion blocks until the bulk is terminal or timeout elapses. A
// timeout only ends the wait; the bulk keeps processing.
func (s *StatusService) WaitForCompletion(ctx context.Context, bulkID uuid.UUID, timeout time.Duration) (*domain.BulkStatus, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if timeout > MaxWaitTimeout {
		timeout = MaxWaitTimeout
	}
	attempts := int(timeout/s.waitInterval) + 1

	status, err := poller.Poll(ctx, poller.Policy{Interval: s.waitInterval, MaxAttempts: attempts}, func(ctx context.Context) (*domain.BulkStatus, error) {
		status, err := s.GetStatus(ctx, bulkID)
		if errors.Is(err, store.ErrBulkNotFound) {
			return nil, poller.Permanent(err)
		}
		return status, err
	}, func(st *domain.BulkStatus) bool {
		return st.State.IsTerminal()
	})
	if errors.Is(err, poller.ErrPollingTimeout) {
		return status, ErrWaitTimeout
	}
	return status, err
}
