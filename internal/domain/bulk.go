/**
 * @description
 * Core domain models for the disbursement-service. A BulkTransfer groups the
 * IndividualTransfers created from one validated upload and carries the
 * aggregate state derived from its items.
 *
 * @notes
 * - Amounts are int64 values in the currency's minor unit (see money.go).
 * - BulkTransfer.State is always recomputed from item statuses, never set directly
 *   by callers outside the orchestrator.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// BulkState is the aggregate lifecycle state of a bulk transfer.
type BulkState string

const (
	BulkStatePending            BulkState = "PENDING"
	BulkStateProcessing         BulkState = "PROCESSING"
	BulkStatePartiallyCompleted BulkState = "PARTIALLY_COMPLETED"
	BulkStateCompleted          BulkState = "COMPLETED"
	BulkStateFailed             BulkState = "FAILED"
)

// IsTerminal reports whether no further item transitions can change the state.
func (s BulkState) IsTerminal() bool {
	switch s {
	case BulkStateCompleted, BulkStateFailed, BulkStatePartiallyCompleted:
		return true
	}
	return false
}

// ParseBulkState validates a user supplied state filter.
func ParseBulkState(raw string) (BulkState, bool) {
	switch s := BulkState(raw); s {
	case BulkStatePending, BulkStateProcessing, BulkStatePartiallyCompleted, BulkStateCompleted, BulkStateFailed:
		return s, true
	}
	return "", false
}

// TransferStatus is the per-item protocol position.
type TransferStatus string

const (
	TransferStatusPending      TransferStatus = "PENDING"
	TransferStatusLookupSent   TransferStatus = "LOOKUP_SENT"
	TransferStatusQuoteSent    TransferStatus = "QUOTE_SENT"
	TransferStatusTransferSent TransferStatus = "TRANSFER_SENT"
	TransferStatusCompleted    TransferStatus = "COMPLETED"
	TransferStatusFailed       TransferStatus = "FAILED"
)

// IsTerminal reports whether the status is absorbing.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusCompleted || s == TransferStatusFailed
}

// Error codes recorded on failed transfers.
const (
	ErrCodePartyNotFound         = "PARTY_NOT_FOUND"
	ErrCodeLookupTimeout         = "LOOKUP_TIMEOUT"
	ErrCodeQuoteRejected         = "QUOTE_REJECTED"
	ErrCodeQuoteTimeout          = "QUOTE_TIMEOUT"
	ErrCodeQuoteExpired          = "QUOTE_EXPIRED"
	ErrCodeTransferRejected      = "TRANSFER_REJECTED"
	ErrCodeTransferTimeout       = "TRANSFER_TIMEOUT"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodeLookupRequestFailed   = "LOOKUP_REQUEST_FAILED"
	ErrCodeQuoteRequestFailed    = "QUOTE_REQUEST_FAILED"
	ErrCodeTransferRequestFailed = "TRANSFER_REQUEST_FAILED"
)

// BulkTransfer is one disbursement run initiated from a set of validated rows.
type BulkTransfer struct {
	ID           uuid.UUID            `json:"bulk_id"`
	PayerAccount string               `json:"payer_account"`
	TotalAmount  int64                `json:"total_amount"`
	Currency     string               `json:"currency"`
	State        BulkState            `json:"state"`
	Transfers    []IndividualTransfer `json:"individual_transfers"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
}

// IndividualTransfer is a single payee payment inside a bulk.
type IndividualTransfer struct {
	TransferID      uuid.UUID      `json:"transfer_id"`
	BulkID          uuid.UUID      `json:"bulk_id"`
	RowNumber       int            `json:"row_number"`
	PayeeIDType     string         `json:"payee_id_type"`
	PayeeIdentifier string         `json:"payee_identifier"`
	PayeeName       string         `json:"payee_name,omitempty"`
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	Status          TransferStatus `json:"status"`
	ErrorCode       string         `json:"error_code,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	PayeeFSPID      string         `json:"payee_fsp_id,omitempty"`
	QuoteID         string         `json:"quote_id,omitempty"`
	Condition       string         `json:"condition,omitempty"`
	Fulfilment      string         `json:"fulfilment,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (b *BulkTransfer) Clone() *BulkTransfer {
	if b == nil {
		return nil
	}
	out := *b
	out.Transfers = make([]IndividualTransfer, len(b.Transfers))
	for i, t := range b.Transfers {
		out.Transfers[i] = t.Clone()
	}
	if b.CompletedAt != nil {
		at := *b.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

// Clone returns a copy of the transfer.
func (t IndividualTransfer) Clone() IndividualTransfer {
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	return t
}

// Counts tallies item statuses.
type Counts struct {
	Total      int
	Completed  int
	Failed     int
	Pending    int
	Processing int
}

// Terminal is the number of items that reached COMPLETED or FAILED.
func (c Counts) Terminal() int {
	return c.Completed + c.Failed
}

// CountStatuses tallies a bulk's item statuses. PENDING items are counted
// separately from items somewhere in the protocol.
func CountStatuses(transfers []IndividualTransfer) Counts {
	c := Counts{Total: len(transfers)}
	for _, t := range transfers {
		switch t.Status {
		case TransferStatusCompleted:
			c.Completed++
		case TransferStatusFailed:
			c.Failed++
		case TransferStatusPending:
			c.Pending++
		default:
			c.Processing++
		}
	}
	return c
}

// AggregateState derives the bulk state from item statuses.
func AggregateState(statuses []TransferStatus) BulkState {
	if len(statuses) == 0 {
		return BulkStatePending
	}
	var completed, failed int
	for _, s := range statuses {
		switch s {
		case TransferStatusCompleted:
			completed++
		case TransferStatusFailed:
			failed++
		}
	}
	switch {
	case completed == len(statuses):
		return BulkStateCompleted
	case failed == len(statuses):
		return BulkStateFailed
	case completed+failed == len(statuses):
		return BulkStatePartiallyCompleted
	default:
		return BulkStateProcessing
	}
}

// Statuses lists the item statuses of a bulk in row order.
func (b *BulkTransfer) Statuses() []TransferStatus {
	out := make([]TransferStatus, len(b.Transfers))
	for i, t := range b.Transfers {
		out[i] = t.Status
	}
	return out
}

// FindTransfer returns the index of a transfer in the bulk or -1.
func (b *BulkTransfer) FindTransfer(id uuid.UUID) int {
	for i := range b.Transfers {
		if b.Transfers[i].TransferID == id {
			return i
		}
	}
	return -1
}
