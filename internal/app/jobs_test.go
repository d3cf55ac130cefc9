package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

type stubSweeper struct {
	calls []time.Time
}

func (s *stubSweeper) SweepExpired(ctx context.Context, now time.Time) int {
	s.calls = append(s.calls, now)
	return 2
}

type stubArchiver struct {
	cutoffs []time.Time
	err     error
}

func (s *stubArchiver) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 1, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedJobs(sweeper Sweeper, archiver Archiver, retention time.Duration, now time.Time) *Jobs {
	j := NewJobs(sweeper, nil, archiver, retention, discardLogger())
	j.now = func() time.Time { return now }
	return j
}

func TestSweepExpiredRequestsUsesCurrentTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sweeper := &stubSweeper{}

	fixedJobs(sweeper, nil, 0, now).SweepExpiredRequests()

	require.Len(t, sweeper.calls, 1)
	assert.Equal(t, now, sweeper.calls[0])
}

func TestArchiveFinishedBulksAppliesRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	archiver := &stubArchiver{}

	fixedJobs(&stubSweeper{}, archiver, 72*time.Hour, now).ArchiveFinishedBulks()

	require.Len(t, archiver.cutoffs, 1)
	assert.Equal(t, now.Add(-72*time.Hour), archiver.cutoffs[0])
}

func TestArchiveFinishedBulksDisabled(t *testing.T) {
	archiver := &stubArchiver{}

	fixedJobs(&stubSweeper{}, archiver, 0, time.Now()).ArchiveFinishedBulks()
	fixedJobs(&stubSweeper{}, nil, time.Hour, time.Now()).ArchiveFinishedBulks()

	assert.Empty(t, archiver.cutoffs)
}

func TestArchiveFinishedBulksSurvivesStoreError(t *testing.T) {
	archiver := &stubArchiver{err: errors.New("connection reset")}

	fixedJobs(&stubSweeper{}, archiver, time.Hour, time.Now()).ArchiveFinishedBulks()

	assert.Len(t, archiver.cutoffs, 1)
}

func TestSweepJobTimesOutPendingTransfers(t *testing.T) {
	h := newHarness(t)
	bulk := h.createBulk(row("22507000001", "100"))

	fixedJobs(h.svc.Gateway, h.repo, time.Hour, time.Now().Add(time.Hour)).SweepExpiredRequests()

	tr := h.transfer(bulk, "22507000001")
	assert.Equal(t, domain.ErrCodeLookupTimeout, tr.ErrorCode)
	assert.Equal(t, domain.BulkStateFailed, h.bulk(bulk.ID).State)
}

func TestSchedulerRejectsInvalidSweepSchedule(t *testing.T) {
	s := NewScheduler(fixedJobs(&stubSweeper{}, nil, 0, time.Now()), discardLogger(), Schedules{Sweep: "not a schedule"})
	assert.Error(t, s.Start())
}

func TestSchedulerStartsAndStops(t *testing.T) {
	s := NewScheduler(fixedJobs(&stubSweeper{}, &stubArchiver{}, time.Hour, time.Now()), discardLogger(), Schedules{Sweep: "@every 1h", Archive: "bogus"})
	require.NoError(t, s.Start())

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
