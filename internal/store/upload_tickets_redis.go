package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/disbursement-service/internal/domain"
)

// RedisUploadTicketStore keeps tickets in Redis with the ticket's own expiry as TTL,
// so several service instances share pending uploads.
type RedisUploadTicketStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisUploadTicketStore(client *redis.Client, prefix string) *RedisUploadTicketStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "disbursement:upload"
	}
	return &RedisUploadTicketStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisUploadTicketStore) key(id uuid.UUID) string {
	return s.prefix + ":" + id.String()
}

func (s *RedisUploadTicketStore) SaveTicket(ctx context.Context, ticket *domain.UploadTicket) error {
	ttl := ticket.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("upload ticket %s already expired", ticket.ID)
	}
	payload, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("failed to encode upload ticket: %w", err)
	}
	return s.client.Set(ctx, s.key(ticket.ID), payload, ttl).Err()
}

func (s *RedisUploadTicketStore) GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.UploadTicket, error) {
	return s.decode(s.client.Get(ctx, s.key(ticketID)).Bytes())
}

func (s *RedisUploadTicketStore) TakeTicket(ctx context.Context, ticketID uuid.UUID) (*domain.UploadTicket, error) {
	return s.decode(s.client.GetDel(ctx, s.key(ticketID)).Bytes())
}

func (s *RedisUploadTicketStore) DeleteTicket(ctx context.Context, ticketID uuid.UUID) error {
	removed, err := s.client.Del(ctx, s.key(ticketID)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrUploadTicketNotFound
	}
	return nil
}

func (s *RedisUploadTicketStore) decode(raw []byte, err error) (*domain.UploadTicket, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUploadTicketNotFound
		}
		return nil, err
	}
	var ticket domain.UploadTicket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("failed to decode upload ticket: %w", err)
	}
	return &ticket, nil
}

// Close releases the underlying Redis client.
func (s *RedisUploadTicketStore) Close() error {
	return s.client.Close()
}
