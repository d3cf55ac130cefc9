/**
 * @description
 * PostgreSQL implementation of BulkRepository. Bulks live in `bulk_transfers`
 * and their items in `individual_transfers`; history summaries are aggregated
 * in SQL.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - internal/domain: domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/disbursement-service/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bulk_transfers (
	id            UUID PRIMARY KEY,
	payer_account TEXT        NOT NULL,
	total_amount  BIGINT      NOT NULL,
	currency      TEXT        NOT NULL,
	state         TEXT        NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_bulk_transfers_created_at ON bulk_transfers (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_bulk_transfers_state ON bulk_transfers (state);

CREATE TABLE IF NOT EXISTS individual_transfers (
	transfer_id      UUID PRIMARY KEY,
	bulk_id          UUID        NOT NULL REFERENCES bulk_transfers (id) ON DELETE CASCADE,
	row_number       INT         NOT NULL,
	payee_id_type    TEXT        NOT NULL,
	payee_identifier TEXT        NOT NULL,
	payee_name       TEXT        NOT NULL DEFAULT '',
	amount           BIGINT      NOT NULL,
	currency         TEXT        NOT NULL,
	status           TEXT        NOT NULL,
	error_code       TEXT        NOT NULL DEFAULT '',
	error_message    TEXT        NOT NULL DEFAULT '',
	payee_fsp_id     TEXT        NOT NULL DEFAULT '',
	quote_id         TEXT        NOT NULL DEFAULT '',
	ilp_condition    TEXT        NOT NULL DEFAULT '',
	fulfilment       TEXT        NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_individual_transfers_bulk ON individual_transfers (bulk_id, row_number);
CREATE INDEX IF NOT EXISTS idx_individual_transfers_open ON individual_transfers (updated_at)
	WHERE status NOT IN ('COMPLETED', 'FAILED');
`

const transferColumns = `
	transfer_id, bulk_id, row_number, payee_id_type, payee_identifier, payee_name,
	amount, currency, status, error_code, error_message, payee_fsp_id, quote_id,
	ilp_condition, fulfilment, created_at, updated_at, completed_at`

const defaultStaleTransferLimit = 500

// PostgresRepository is the PostgreSQL implementation of BulkRepository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// CreateBulk inserts a bulk and all of its items atomically.
func (r *PostgresRepository) CreateBulk(ctx context.Context, bulk *domain.BulkTransfer) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	bulkQuery := `
		INSERT INTO bulk_transfers (id, payer_account, total_amount, currency, state, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.Exec(ctx, bulkQuery,
		bulk.ID,
		bulk.PayerAccount,
		bulk.TotalAmount,
		bulk.Currency,
		string(bulk.State),
		bulk.CreatedAt,
		bulk.UpdatedAt,
		bulk.CompletedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrBulkAlreadyExists
		}
		return err
	}

	batch := &pgx.Batch{}
	itemQuery := `INSERT INTO individual_transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	for _, t := range bulk.Transfers {
		batch.Queue(itemQuery,
			t.TransferID, t.BulkID, t.RowNumber, t.PayeeIDType, t.PayeeIdentifier, t.PayeeName,
			t.Amount, t.Currency, string(t.Status), t.ErrorCode, t.ErrorMessage, t.PayeeFSPID, t.QuoteID,
			t.Condition, t.Fulfilment, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetBulk loads a bulk with its items in row order.
func (r *PostgresRepository) GetBulk(ctx context.Context, bulkID uuid.UUID) (*domain.BulkTransfer, error) {
	var bulk domain.BulkTransfer
	var state string
	query := `
		SELECT id, payer_account, total_amount, currency, state, created_at, updated_at, completed_at
		FROM bulk_transfers
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, bulkID).Scan(
		&bulk.ID, &bulk.PayerAccount, &bulk.TotalAmount, &bulk.Currency, &state,
		&bulk.CreatedAt, &bulk.UpdatedAt, &bulk.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBulkNotFound
		}
		return nil, err
	}
	bulk.State = domain.BulkState(state)

	rows, err := r.db.Query(ctx, `SELECT `+transferColumns+` FROM individual_transfers WHERE bulk_id = $1 ORDER BY row_number`, bulkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		bulk.Transfers = append(bulk.Transfers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &bulk, nil
}

// GetTransfer loads a single item.
func (r *PostgresRepository) GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.IndividualTransfer, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM individual_transfers WHERE transfer_id = $1`, transferID)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return t, nil
}

// UpdateTransfer persists the mutable protocol fields of an item.
func (r *PostgresRepository) UpdateTransfer(ctx context.Context, t *domain.IndividualTransfer) error {
	query := `
		UPDATE individual_transfers
		SET status = $2, error_code = $3, error_message = $4, payee_fsp_id = $5, quote_id = $6,
		    ilp_condition = $7, fulfilment = $8, updated_at = $9, completed_at = $10
		WHERE transfer_id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		t.TransferID, string(t.Status), t.ErrorCode, t.ErrorMessage, t.PayeeFSPID, t.QuoteID,
		t.Condition, t.Fulfilment, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// UpdateBulkState stores a recomputed aggregate state.
func (r *PostgresRepository) UpdateBulkState(ctx context.Context, bulkID uuid.UUID, state domain.BulkState, completedAt *time.Time) error {
	query := `
		UPDATE bulk_transfers
		SET state = $2, completed_at = COALESCE($3, completed_at), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, bulkID, string(state), completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBulkNotFound
	}
	return nil
}

// ListBulks returns one page of history with per-bulk item counts.
func (r *PostgresRepository) ListBulks(ctx context.Context, filter domain.HistoryFilter) ([]domain.BulkSummary, int, error) {
	filter = NormalizeHistoryFilter(filter)
	where, args := buildHistoryWhere(filter)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bulk_transfers b`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT b.id, b.state, b.payer_account, b.total_amount, b.currency, b.created_at, b.completed_at,
		       COUNT(t.transfer_id) AS total,
		       COUNT(t.transfer_id) FILTER (WHERE t.status = 'COMPLETED') AS completed,
		       COUNT(t.transfer_id) FILTER (WHERE t.status = 'FAILED') AS failed
		FROM bulk_transfers b
		LEFT JOIN individual_transfers t ON t.bulk_id = b.id
		%s
		GROUP BY b.id
		ORDER BY b.created_at DESC, b.id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)

	rows, err := r.db.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := make([]domain.BulkSummary, 0, filter.Limit)
	for rows.Next() {
		var s domain.BulkSummary
		var state string
		if err := rows.Scan(
			&s.BulkID, &state, &s.PayerAccount, &s.TotalAmount, &s.Currency, &s.CreatedAt, &s.CompletedAt,
			&s.Total, &s.Completed, &s.Failed,
		); err != nil {
			return nil, 0, err
		}
		s.State = domain.BulkState(state)
		s.ProgressPercent = domain.Percent(s.Completed+s.Failed, s.Total)
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// ListStaleTransfers finds items still in flight that have not moved since before.
func (r *PostgresRepository) ListStaleTransfers(ctx context.Context, before time.Time, limit int) ([]domain.IndividualTransfer, error) {
	if limit <= 0 {
		limit = defaultStaleTransferLimit
	}
	query := `SELECT ` + transferColumns + `
		FROM individual_transfers
		WHERE status NOT IN ('COMPLETED', 'FAILED')
		  AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []domain.IndividualTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stale, nil
}

// ListUnsettledBulks finds bulks whose last aggregate update never landed.
func (r *PostgresRepository) ListUnsettledBulks(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = defaultStaleTransferLimit
	}
	query := `
		SELECT b.id
		FROM bulk_transfers b
		WHERE b.state NOT IN ('COMPLETED', 'FAILED', 'PARTIALLY_COMPLETED')
		  AND EXISTS (SELECT 1 FROM individual_transfers t WHERE t.bulk_id = b.id)
		  AND NOT EXISTS (
			SELECT 1 FROM individual_transfers t
			WHERE t.bulk_id = b.id AND t.status NOT IN ('COMPLETED', 'FAILED')
		  )
		ORDER BY b.updated_at
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTerminalBefore purges finished bulks; items cascade.
func (r *PostgresRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM bulk_transfers
		WHERE state IN ('COMPLETED', 'FAILED', 'PARTIALLY_COMPLETED')
		  AND completed_at IS NOT NULL
		  AND completed_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func buildHistoryWhere(filter domain.HistoryFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.State != "" {
		args = append(args, string(filter.State))
		clauses = append(clauses, fmt.Sprintf("b.state = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("b.created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("b.created_at <= $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanTransfer(row pgx.Row) (*domain.IndividualTransfer, error) {
	var t domain.IndividualTransfer
	var status string
	err := row.Scan(
		&t.TransferID, &t.BulkID, &t.RowNumber, &t.PayeeIDType, &t.PayeeIdentifier, &t.PayeeName,
		&t.Amount, &t.Currency, &status, &t.ErrorCode, &t.ErrorMessage, &t.PayeeFSPID, &t.QuoteID,
		&t.Condition, &t.Fulfilment, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TransferStatus(status)
	return &t, nil
}
