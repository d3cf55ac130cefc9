package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

func newTestBulk(createdAt time.Time, statuses ...domain.TransferStatus) *domain.BulkTransfer {
	bulk := &domain.BulkTransfer{
		ID:           uuid.New(),
		PayerAccount: "payer-001",
		Currency:     "XOF",
		State:        domain.BulkStateProcessing,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	for i, s := range statuses {
		bulk.Transfers = append(bulk.Transfers, domain.IndividualTransfer{
			TransferID:      uuid.New(),
			BulkID:          bulk.ID,
			RowNumber:       i + 1,
			PayeeIDType:     "MSISDN",
			PayeeIdentifier: "22177000000" + string(rune('0'+i)),
			Amount:          1000,
			Currency:        "XOF",
			Status:          s,
			CreatedAt:       createdAt,
			UpdatedAt:       createdAt,
		})
		bulk.TotalAmount += 1000
	}
	bulk.State = domain.AggregateState(bulk.Statuses())
	return bulk
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	bulk := newTestBulk(time.Now(), domain.TransferStatusPending)
	require.NoError(t, repo.CreateBulk(ctx, bulk))

	got, err := repo.GetBulk(ctx, bulk.ID)
	require.NoError(t, err)
	got.Transfers[0].Status = domain.TransferStatusFailed

	again, err := repo.GetBulk(ctx, bulk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusPending, again.Transfers[0].Status)

	assert.ErrorIs(t, repo.CreateBulk(ctx, bulk), ErrBulkAlreadyExists)
}

func TestMemoryRepositoryUpdateTransfer(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	bulk := newTestBulk(time.Now(), domain.TransferStatusPending, domain.TransferStatusPending)
	require.NoError(t, repo.CreateBulk(ctx, bulk))

	item := bulk.Transfers[1]
	item.Status = domain.TransferStatusLookupSent
	require.NoError(t, repo.UpdateTransfer(ctx, &item))

	stored, err := repo.GetTransfer(ctx, item.TransferID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusLookupSent, stored.Status)

	missing := domain.IndividualTransfer{TransferID: uuid.New()}
	assert.ErrorIs(t, repo.UpdateTransfer(ctx, &missing), ErrTransferNotFound)
	_, err = repo.GetBulk(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrBulkNotFound)
}

func TestMemoryRepositoryListBulksFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	done := newTestBulk(base, domain.TransferStatusCompleted, domain.TransferStatusCompleted)
	mixed := newTestBulk(base.Add(24*time.Hour), domain.TransferStatusCompleted, domain.TransferStatusFailed)
	running := newTestBulk(base.Add(48*time.Hour), domain.TransferStatusCompleted, domain.TransferStatusQuoteSent)
	for _, b := range []*domain.BulkTransfer{done, mixed, running} {
		require.NoError(t, repo.CreateBulk(ctx, b))
	}

	results, total, err := repo.ListBulks(ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	assert.Equal(t, running.ID, results[0].BulkID, "newest first")
	assert.Equal(t, 50.0, results[0].ProgressPercent)

	results, total, err = repo.ListBulks(ctx, domain.HistoryFilter{State: domain.BulkStatePartiallyCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, mixed.ID, results[0].BulkID)

	from := base.Add(12 * time.Hour)
	to := base.Add(36 * time.Hour)
	results, total, err = repo.ListBulks(ctx, domain.HistoryFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, mixed.ID, results[0].BulkID)

	results, total, err = repo.ListBulks(ctx, domain.HistoryFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, results, 1)
	assert.Equal(t, mixed.ID, results[0].BulkID)
}

func TestMemoryRepositoryDeleteTerminalBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now().UTC()

	old := newTestBulk(now.Add(-48*time.Hour), domain.TransferStatusCompleted)
	active := newTestBulk(now.Add(-48*time.Hour), domain.TransferStatusTransferSent)
	require.NoError(t, repo.CreateBulk(ctx, old))
	require.NoError(t, repo.CreateBulk(ctx, active))
	finished := now.Add(-30 * time.Hour)
	require.NoError(t, repo.UpdateBulkState(ctx, old.ID, domain.BulkStateCompleted, &finished))

	removed, err := repo.DeleteTerminalBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = repo.GetBulk(ctx, old.ID)
	assert.ErrorIs(t, err, ErrBulkNotFound)
	_, err = repo.GetTransfer(ctx, old.Transfers[0].TransferID)
	assert.ErrorIs(t, err, ErrTransferNotFound)
	_, err = repo.GetBulk(ctx, active.ID)
	assert.NoError(t, err)
}

func TestMemoryRepositoryListStaleTransfers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	oldest := newTestBulk(now.Add(-3*time.Hour), domain.TransferStatusQuoteSent, domain.TransferStatusCompleted)
	older := newTestBulk(now.Add(-2*time.Hour), domain.TransferStatusPending)
	recent := newTestBulk(now.Add(-time.Minute), domain.TransferStatusLookupSent)
	for _, b := range []*domain.BulkTransfer{recent, older, oldest} {
		require.NoError(t, repo.CreateBulk(ctx, b))
	}

	stale, err := repo.ListStaleTransfers(ctx, now.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, oldest.Transfers[0].TransferID, stale[0].TransferID)
	assert.Equal(t, older.Transfers[0].TransferID, stale[1].TransferID)

	stale, err = repo.ListStaleTransfers(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, oldest.Transfers[0].TransferID, stale[0].TransferID)
}

func TestMemoryRepositoryListUnsettledBulks(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now().UTC()

	stuck := newTestBulk(now, domain.TransferStatusCompleted, domain.TransferStatusFailed)
	running := newTestBulk(now, domain.TransferStatusCompleted, domain.TransferStatusQuoteSent)
	done := newTestBulk(now, domain.TransferStatusCompleted)
	for _, b := range []*domain.BulkTransfer{stuck, running, done} {
		require.NoError(t, repo.CreateBulk(ctx, b))
	}
	require.NoError(t, repo.UpdateBulkState(ctx, stuck.ID, domain.BulkStateProcessing, nil))

	ids, err := repo.ListUnsettledBulks(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stuck.ID}, ids)
}

func TestBuildHistoryWhere(t *testing.T) {
	where, args := buildHistoryWhere(domain.HistoryFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args = buildHistoryWhere(domain.HistoryFilter{State: domain.BulkStateFailed, From: &from})
	assert.Equal(t, " WHERE b.state = $1 AND b.created_at >= $2", where)
	assert.Equal(t, []any{"FAILED", from}, args)
}

func TestNormalizeHistoryFilter(t *testing.T) {
	f := NormalizeHistoryFilter(domain.HistoryFilter{Limit: 1000, Offset: -4})
	assert.Equal(t, MaxHistoryLimit, f.Limit)
	assert.Equal(t, 0, f.Offset)
	assert.Equal(t, DefaultHistoryLimit, NormalizeHistoryFilter(domain.HistoryFilter{}).Limit)
}
