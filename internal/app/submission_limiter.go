package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSubmissionRateLimited is returned when a payer account submitted too many
// bulks inside the limiter window.
var ErrSubmissionRateLimited = errors.New("too many bulk submissions")

// RateLimitError carries how long the caller should wait before retrying.
type RateLimitError struct {
	PayerAccount string
	RetryAfter   time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s for payer %s; retry after %s", ErrSubmissionRateLimited, e.PayerAccount, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrSubmissionRateLimited }

// SubmissionLimiter counts bulk submissions per payer account.
type SubmissionLimiter interface {
	Consume(ctx context.Context, payerAccount string) (count int, retryAfter time.Duration, err error)
	Limit() int
}

var submissionWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisSubmissionLimiter is a fixed-window counter shared by every replica.
type RedisSubmissionLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisSubmissionLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisSubmissionLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "disbursement:rate_limit"
	}
	return &RedisSubmissionLimiter{client: client, prefix: trimmedPrefix, limit: limit, window: window}
}

func (r *RedisSubmissionLimiter) Limit() int {
	if r == nil {
		return 0
	}
	return r.limit
}

// Consume increments the payer's counter for the current window.
func (r *RedisSubmissionLimiter) Consume(ctx context.Context, payerAccount string) (int, time.Duration, error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return 0, 0, nil
	}
	subject := strings.TrimSpace(payerAccount)
	if subject == "" {
		return 0, 0, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	key := fmt.Sprintf("%s:bulk_submission:%s", r.prefix, subject)
	raw, err := submissionWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	return parseWindowReply(raw, windowMs)
}

func parseWindowReply(raw interface{}, windowMs int64) (int, time.Duration, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(count), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	seconds := int(math.Ceil(float64(ttlMs) / 1000.0))
	if seconds < 1 {
		seconds = 1
	}
	return int(count), time.Duration(seconds) * time.Second, nil
}
