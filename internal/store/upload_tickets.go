package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
)

// MemoryUploadTicketStore keeps tickets in process memory. Expired tickets are
// treated as missing and purged lazily.
type MemoryUploadTicketStore struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*domain.UploadTicket
	now     func() time.Time
}

func NewMemoryUploadTicketStore() *MemoryUploadTicketStore {
	return &MemoryUploadTicketStore{
		tickets: make(map[uuid.UUID]*domain.UploadTicket),
		now:     time.Now,
	}
}

func (s *MemoryUploadTicketStore) SaveTicket(ctx context.Context, ticket *domain.UploadTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	cp := *ticket
	s.tickets[ticket.ID] = &cp
	return nil
}

func (s *MemoryUploadTicketStore) GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.UploadTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.liveLocked(ticketID)
	if !ok {
		return nil, ErrUploadTicketNotFound
	}
	cp := *ticket
	return &cp, nil
}

func (s *MemoryUploadTicketStore) TakeTicket(ctx context.Context, ticketID uuid.UUID) (*domain.UploadTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.liveLocked(ticketID)
	if !ok {
		return nil, ErrUploadTicketNotFound
	}
	delete(s.tickets, ticketID)
	return ticket, nil
}

func (s *MemoryUploadTicketStore) DeleteTicket(ctx context.Context, ticketID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveLocked(ticketID); !ok {
		return ErrUploadTicketNotFound
	}
	delete(s.tickets, ticketID)
	return nil
}

func (s *MemoryUploadTicketStore) liveLocked(ticketID uuid.UUID) (*domain.UploadTicket, bool) {
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, false
	}
	if !ticket.ExpiresAt.After(s.now()) {
		delete(s.tickets, ticketID)
		return nil, false
	}
	return ticket, true
}

func (s *MemoryUploadTicketStore) purgeLocked() {
	now := s.now()
	for id, t := range s.tickets {
		if !t.ExpiresAt.After(now) {
			delete(s.tickets, id)
		}
	}
}
