/**
 * @description
 * This file defines the repository contracts of the disbursement-service. The
 * application layer depends only on these interfaces so the in-memory and
 * PostgreSQL implementations are interchangeable.
 *
 * @dependencies
 * - github.com/google/uuid: identifiers of bulks and transfers.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
)

var (
	ErrBulkNotFound         = errors.New("bulk transfer not found")
	ErrTransferNotFound     = errors.New("individual transfer not found")
	ErrBulkAlreadyExists    = errors.New("bulk transfer already exists")
	ErrUploadTicketNotFound = errors.New("upload ticket not found or expired")
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// BulkRepository persists bulks and their items.
type BulkRepository interface {
	CreateBulk(ctx context.Context, bulk *domain.BulkTransfer) error
	// GetBulk returns a copy the caller may freely modify.
	GetBulk(ctx context.Context, bulkID uuid.UUID) (*domain.BulkTransfer, error)
	GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.IndividualTransfer, error)
	UpdateTransfer(ctx context.Context, transfer *domain.IndividualTransfer) error
	UpdateBulkState(ctx context.Context, bulkID uuid.UUID, state domain.BulkState, completedAt *time.Time) error
	ListBulks(ctx context.Context, filter domain.HistoryFilter) ([]domain.BulkSummary, int, error)
	// ListStaleTransfers returns non-terminal items not updated since before,
	// least recently updated first.
	ListStaleTransfers(ctx context.Context, before time.Time, limit int) ([]domain.IndividualTransfer, error)
	// ListUnsettledBulks returns non-terminal bulks whose items are all terminal.
	ListUnsettledBulks(ctx context.Context, limit int) ([]uuid.UUID, error)
	// DeleteTerminalBefore removes terminal bulks completed before cutoff and returns how many were removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UploadTicketStore keeps validated uploads until they are confirmed, cancelled or expired.
type UploadTicketStore interface {
	SaveTicket(ctx context.Context, ticket *domain.UploadTicket) error
	GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.UploadTicket, error)
	// TakeTicket removes and returns a ticket so only one confirmation can consume it.
	TakeTicket(ctx context.Context, ticketID uuid.UUID) (*domain.UploadTicket, error)
	DeleteTicket(ctx context.Context, ticketID uuid.UUID) error
}

// NormalizeHistoryFilter clamps paging values to the supported range.
func NormalizeHistoryFilter(filter domain.HistoryFilter) domain.HistoryFilter {
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

func matchesHistoryFilter(b *domain.BulkTransfer, filter domain.HistoryFilter) bool {
	if filter.State != "" && b.State != filter.State {
		return false
	}
	if filter.From != nil && b.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && b.CreatedAt.After(*filter.To) {
		return false
	}
	return true
}
