package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

// countingLimiter keeps per-payer counters in memory.
type countingLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	err    error
}

func newCountingLimiter(limit int) *countingLimiter {
	return &countingLimiter{limit: limit, counts: map[string]int{}}
}

func (l *countingLimiter) Consume(ctx context.Context, payerAccount string) (int, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, 0, l.err
	}
	l.counts[payerAccount]++
	return l.counts[payerAccount], 42 * time.Second, nil
}

func (l *countingLimiter) Limit() int { return l.limit }

func TestSubmissionLimitIsPerPayer(t *testing.T) {
	h := newHarness(t)
	h.svc.Orchestrator.SetLimiter(newCountingLimiter(1))

	_, _, err := h.svc.Orchestrator.CreateBulk(h.ctx, "PAYER-001", []domain.PaymentRow{row("22507000001", "100")})
	require.NoError(t, err)

	_, _, err = h.svc.Orchestrator.CreateBulk(h.ctx, "PAYER-001", []domain.PaymentRow{row("22507000002", "100")})
	require.ErrorIs(t, err, ErrSubmissionRateLimited)
	var limited *RateLimitError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 42*time.Second, limited.RetryAfter)

	_, _, err = h.svc.Orchestrator.CreateBulk(h.ctx, "PAYER-002", []domain.PaymentRow{row("22507000003", "100")})
	require.NoError(t, err)
	h.svc.Orchestrator.Drain()

	assert.Equal(t, 2, h.transport.count(PhaseLookup))
	_, total, err := h.repo.ListBulks(h.ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSubmissionLimiterFailsOpen(t *testing.T) {
	h := newHarness(t)
	limiter := newCountingLimiter(1)
	limiter.err = errors.New("redis down")
	h.svc.Orchestrator.SetLimiter(limiter)

	h.createBulk(row("22507000001", "100"))
	h.createBulk(row("22507000002", "100"))

	assert.Equal(t, 2, h.transport.count(PhaseLookup))
}

func TestRateLimitedConfirmKeepsTicket(t *testing.T) {
	h := newHarness(t)
	limiter := newCountingLimiter(1)
	limiter.counts["PAYER-001"] = 1
	h.svc.Orchestrator.SetLimiter(limiter)

	ticket, err := h.svc.Uploads.Validate(h.ctx, []domain.PaymentRow{row("22507000001", "100")})
	require.NoError(t, err)

	_, err = h.svc.Uploads.Confirm(h.ctx, ticket.ID, "PAYER-001")
	require.ErrorIs(t, err, ErrSubmissionRateLimited)

	_, err = h.svc.Uploads.Get(h.ctx, ticket.ID)
	assert.NoError(t, err)
	_, err = h.svc.Uploads.Confirm(h.ctx, ticket.ID, "PAYER-002")
	require.NoError(t, err)
	h.svc.Orchestrator.Drain()
	_, err = h.svc.Uploads.Get(h.ctx, ticket.ID)
	assert.ErrorIs(t, err, store.ErrUploadTicketNotFound)
}

func TestDisabledRedisLimiterAllowsEverything(t *testing.T) {
	var nilLimiter *RedisSubmissionLimiter
	count, retry, err := nilLimiter.Consume(context.Background(), "PAYER-001")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, retry)
	assert.Zero(t, nilLimiter.Limit())

	limiter := NewRedisSubmissionLimiter(nil, " custom: ", 5, time.Minute)
	assert.Equal(t, "custom", limiter.prefix)
	count, _, err = limiter.Consume(context.Background(), "PAYER-001")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestParseWindowReply(t *testing.T) {
	count, retry, err := parseWindowReply([]interface{}{int64(3), int64(1500)}, 60000)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 2*time.Second, retry)

	_, retry, err = parseWindowReply([]interface{}{int64(1), int64(-1)}, 60000)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, retry)

	_, retry, err = parseWindowReply([]interface{}{int64(1), int64(0)}, 60000)
	require.NoError(t, err)
	assert.Equal(t, time.Second, retry)

	_, _, err = parseWindowReply("OK", 60000)
	assert.Error(t, err)
	_, _, err = parseWindowReply([]interface{}{"3", int64(10)}, 60000)
	assert.Error(t, err)
}
