package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
)

// MemoryRepository keeps bulks in process memory. It is used when no
// DATABASE_URL is configured and in tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	bulks     map[uuid.UUID]*domain.BulkTransfer
	transfers map[uuid.UUID]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bulks:     make(map[uuid.UUID]*domain.BulkTransfer),
		transfers: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *MemoryRepository) CreateBulk(ctx context.Context, bulk *domain.BulkTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bulks[bulk.ID]; exists {
		return ErrBulkAlreadyExists
	}
	r.bulks[bulk.ID] = bulk.Clone()
	for _, t := range bulk.Transfers {
		r.transfers[t.TransferID] = bulk.ID
	}
	return nil
}

func (r *MemoryRepository) GetBulk(ctx context.Context, bulkID uuid.UUID) (*domain.BulkTransfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bulk, ok := r.bulks[bulkID]
	if !ok {
		return nil, ErrBulkNotFound
	}
	return bulk.Clone(), nil
}

func (r *MemoryRepository) GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.IndividualTransfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bulk, idx := r.locate(transferID)
	if idx < 0 {
		return nil, ErrTransferNotFound
	}
	t := bulk.Transfers[idx].Clone()
	return &t, nil
}

func (r *MemoryRepository) UpdateTransfer(ctx context.Context, transfer *domain.IndividualTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bulk, idx := r.locate(transfer.TransferID)
	if idx < 0 {
		return ErrTransferNotFound
	}
	bulk.Transfers[idx] = transfer.Clone()
	bulk.UpdatedAt = transfer.UpdatedAt
	return nil
}

func (r *MemoryRepository) UpdateBulkState(ctx context.Context, bulkID uuid.UUID, state domain.BulkState, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bulk, ok := r.bulks[bulkID]
	if !ok {
		return ErrBulkNotFound
	}
	bulk.State = state
	bulk.UpdatedAt = time.Now().UTC()
	if completedAt != nil {
		at := *completedAt
		bulk.CompletedAt = &at
	}
	return nil
}

func (r *MemoryRepository) ListBulks(ctx context.Context, filter domain.HistoryFilter) ([]domain.BulkSummary, int, error) {
	filter = NormalizeHistoryFilter(filter)

	r.mu.RLock()
	matched := make([]*domain.BulkTransfer, 0, len(r.bulks))
	for _, b := range r.bulks {
		if matchesHistoryFilter(b, filter) {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	results := make([]domain.BulkSummary, 0, filter.Limit)
	for i := filter.Offset; i < total && len(results) < filter.Limit; i++ {
		results = append(results, domain.Summarize(matched[i]))
	}
	r.mu.RUnlock()

	return results, total, nil
}

func (r *MemoryRepository) ListStaleTransfers(ctx context.Context, before time.Time, limit int) ([]domain.IndividualTransfer, error) {
	r.mu.RLock()
	var stale []domain.IndividualTransfer
	for _, b := range r.bulks {
		for _, t := range b.Transfers {
			if t.Status.IsTerminal() || t.UpdatedAt.After(before) {
				continue
			}
			stale = append(stale, t.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *MemoryRepository) ListUnsettledBulks(ctx context.Context, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for id, b := range r.bulks {
		if b.State.IsTerminal() || len(b.Transfers) == 0 || !allTerminal(b.Transfers) {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func allTerminal(transfers []domain.IndividualTransfer) bool {
	for _, t := range transfers {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (r *MemoryRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, b := range r.bulks {
		if !b.State.IsTerminal() || b.CompletedAt == nil || !b.CompletedAt.Before(cutoff) {
			continue
		}
		for _, t := range b.Transfers {
			delete(r.transfers, t.TransferID)
		}
		delete(r.bulks, id)
		removed++
	}
	return removed, nil
}

func (r *MemoryRepository) locate(transferID uuid.UUID) (*domain.BulkTransfer, int) {
	bulkID, ok := r.transfers[transferID]
	if !ok {
		return nil, -1
	}
	bulk, ok := r.bulks[bulkID]
	if !ok {
		return nil, -1
	}
	return bulk, bulk.FindTransfer(transferID)
}
