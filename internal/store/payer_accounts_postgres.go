package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/disbursement-service/internal/domain"
)

const payerAccountsSchemaSQL = `
CREATE TABLE IF NOT EXISTS payer_accounts (
	id         TEXT PRIMARY KEY,
	currency   TEXT        NOT NULL,
	balance    BIGINT      NOT NULL DEFAULT 0 CHECK (balance >= 0),
	reserved   BIGINT      NOT NULL DEFAULT 0 CHECK (reserved >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payer_reservations (
	bulk_id    UUID PRIMARY KEY,
	account_id TEXT        NOT NULL REFERENCES payer_accounts (id),
	amount     BIGINT      NOT NULL,
	debited    BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	settled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_payer_reservations_open ON payer_reservations (account_id)
	WHERE settled_at IS NULL;
`

// PostgresPayerAccounts stores balances in `payer_accounts` and one row per
// bulk reservation in `payer_reservations`.
type PostgresPayerAccounts struct {
	db *pgxpool.Pool
}

func NewPostgresPayerAccounts(db *pgxpool.Pool) *PostgresPayerAccounts {
	return &PostgresPayerAccounts{db: db}
}

// EnsureSchema creates the account tables when they do not exist yet.
func (s *PostgresPayerAccounts) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, payerAccountsSchemaSQL); err != nil {
		return fmt.Errorf("failed to ensure payer account schema: %w", err)
	}
	return nil
}

func (s *PostgresPayerAccounts) GetAccount(ctx context.Context, accountID string) (*domain.PayerAccount, error) {
	return scanPayerAccount(s.db.QueryRow(ctx, `
		SELECT id, currency, balance, reserved, updated_at FROM payer_accounts WHERE id = $1
	`, accountID))
}

func (s *PostgresPayerAccounts) CreditAccount(ctx context.Context, accountID, currency string, amount int64) (*domain.PayerAccount, error) {
	currency = strings.ToUpper(currency)
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO payer_accounts (id, currency) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, accountID, currency); err != nil {
		return nil, err
	}
	acc, err := lockPayerAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Currency != currency {
		return nil, ErrCurrencyMismatch
	}
	if _, err := domain.AddAmount(acc.Balance, amount); err != nil {
		return nil, err
	}
	acc, err = scanPayerAccount(tx.QueryRow(ctx, `
		UPDATE payer_accounts SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, currency, balance, reserved, updated_at
	`, accountID, amount))
	if err != nil {
		return nil, err
	}
	return acc, tx.Commit(ctx)
}

func (s *PostgresPayerAccounts) Reserve(ctx context.Context, accountID string, bulkID uuid.UUID, currency string, amount int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := lockPayerAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payer_reservations WHERE bulk_id = $1)`, bulkID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	if acc.Currency != strings.ToUpper(currency) {
		return ErrCurrencyMismatch
	}
	if acc.Available < amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE payer_accounts SET reserved = reserved + $2, updated_at = NOW() WHERE id = $1`, accountID, amount); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO payer_reservations (bulk_id, account_id, amount) VALUES ($1, $2, $3)`, bulkID, accountID, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresPayerAccounts) Settle(ctx context.Context, bulkID uuid.UUID, debit int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var accountID string
	var amount int64
	err = tx.QueryRow(ctx, `
		SELECT account_id, amount FROM payer_reservations
		WHERE bulk_id = $1 AND settled_at IS NULL
		FOR UPDATE
	`, bulkID).Scan(&accountID, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payer_accounts
		SET reserved = GREATEST(0, reserved - $2), balance = GREATEST(0, balance - $3), updated_at = NOW()
		WHERE id = $1
	`, accountID, amount, debit); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE payer_reservations SET debited = $2, settled_at = NOW() WHERE bulk_id = $1`, bulkID, debit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockPayerAccount(ctx context.Context, tx pgx.Tx, accountID string) (*domain.PayerAccount, error) {
	return scanPayerAccount(tx.QueryRow(ctx, `
		SELECT id, currency, balance, reserved, updated_at FROM payer_accounts WHERE id = $1 FOR UPDATE
	`, accountID))
}

func scanPayerAccount(row pgx.Row) (*domain.PayerAccount, error) {
	var acc domain.PayerAccount
	if err := row.Scan(&acc.ID, &acc.Currency, &acc.Balance, &acc.Reserved, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayerAccountNotFound
		}
		return nil, err
	}
	acc.Refresh()
	return &acc, nil
}
