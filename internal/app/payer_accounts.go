package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

// PayerAccountService exposes balances and funding of payer accounts.
type PayerAccountService struct {
	accounts store.PayerAccountStore
	currency string
}

func NewPayerAccountService(accounts store.PayerAccountStore, settlementCurrency string) *PayerAccountService {
	return &PayerAccountService{accounts: accounts, currency: strings.ToUpper(settlementCurrency)}
}

func (s *PayerAccountService) Get(ctx context.Context, accountID string) (*domain.PayerAccount, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrInvalidPayerAccount
	}
	return s.accounts.GetAccount(ctx, accountID)
}

// Credit adds a major-unit amount in the settlement currency to an account.
func (s *PayerAccountService) Credit(ctx context.Context, accountID, amount string) (*domain.PayerAccount, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrInvalidPayerAccount
	}
	minor, err := domain.ParseAmount(amount, s.currency)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.CreditAccount(ctx, accountID, s.currency, minor)
	if err != nil {
		return nil, fmt.Errorf("credit payer account: %w", err)
	}
	log.Printf("level=info component=payer_accounts account_id=%s amount=%d currency=%s balance=%d msg=\"payer account credited\"", acc.ID, minor, acc.Currency, acc.Balance)
	return acc, nil
}
