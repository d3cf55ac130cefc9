package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
)

var (
	ErrPayerAccountNotFound = errors.New("payer account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrCurrencyMismatch     = errors.New("payer account holds another currency")
)

// PayerAccountStore keeps payer balances and the per-bulk reservations held
// against them.
type PayerAccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*domain.PayerAccount, error)
	// CreditAccount adds funds, opening the account on first credit.
	CreditAccount(ctx context.Context, accountID, currency string, amount int64) (*domain.PayerAccount, error)
	// Reserve holds amount for bulkID. Reserving the same bulk twice is a no-op.
	Reserve(ctx context.Context, accountID string, bulkID uuid.UUID, currency string, amount int64) error
	// Settle releases the bulk's reservation and debits the balance by debit.
	// Settling an unknown or already settled bulk is a no-op.
	Settle(ctx context.Context, bulkID uuid.UUID, debit int64) error
}

type reservation struct {
	accountID string
	amount    int64
	settled   bool
}

// MemoryPayerAccounts is the in-process PayerAccountStore.
type MemoryPayerAccounts struct {
	mu           sync.Mutex
	accounts     map[string]*domain.PayerAccount
	reservations map[uuid.UUID]*reservation
	now          func() time.Time
}

func NewMemoryPayerAccounts() *MemoryPayerAccounts {
	return &MemoryPayerAccounts{
		accounts:     make(map[string]*domain.PayerAccount),
		reservations: make(map[uuid.UUID]*reservation),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryPayerAccounts) GetAccount(ctx context.Context, accountID string) (*domain.PayerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrPayerAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (s *MemoryPayerAccounts) CreditAccount(ctx context.Context, accountID, currency string, amount int64) (*domain.PayerAccount, error) {
	currency = strings.ToUpper(currency)
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		acc = &domain.PayerAccount{ID: accountID, Currency: currency}
		s.accounts[accountID] = acc
	}
	if acc.Currency != currency {
		return nil, ErrCurrencyMismatch
	}
	balance, err := domain.AddAmount(acc.Balance, amount)
	if err != nil {
		return nil, err
	}
	acc.Balance = balance
	acc.UpdatedAt = s.now()
	acc.Refresh()
	out := *acc
	return &out, nil
}

func (s *MemoryPayerAccounts) Reserve(ctx context.Context, accountID string, bulkID uuid.UUID, currency string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reservations[bulkID]; exists {
		return nil
	}
	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrPayerAccountNotFound
	}
	if acc.Currency != strings.ToUpper(currency) {
		return ErrCurrencyMismatch
	}
	if acc.Balance-acc.Reserved < amount {
		return ErrInsufficientFunds
	}
	acc.Reserved += amount
	acc.UpdatedAt = s.now()
	acc.Refresh()
	s.reservations[bulkID] = &reservation{accountID: accountID, amount: amount}
	return nil
}

func (s *MemoryPayerAccounts) Settle(ctx context.Context, bulkID uuid.UUID, debit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[bulkID]
	if !ok || res.settled {
		return nil
	}
	acc, ok := s.accounts[res.accountID]
	if !ok {
		return ErrPayerAccountNotFound
	}
	acc.Reserved = max(0, acc.Reserved-res.amount)
	acc.Balance = max(0, acc.Balance-debit)
	acc.UpdatedAt = s.now()
	acc.Refresh()
	res.settled = true
	return nil
}
