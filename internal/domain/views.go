package domain

import (
	"time"

	"github.com/google/uuid"
)

// Progress is the terminal/total ratio of a bulk.
type Progress struct {
	CompletedCount  int       `json:"completedCount"`
	TotalCount      int       `json:"totalCount"`
	ProgressPercent float64   `json:"progressPercent"`
	State           BulkState `json:"state"`
}

// BulkStatus is the snapshot returned to polling clients.
type BulkStatus struct {
	BulkTransferID      uuid.UUID            `json:"bulkTransferId"`
	State               BulkState            `json:"state"`
	TotalAmount         int64                `json:"totalAmount"`
	Currency            string               `json:"currency"`
	PayerAccount        string               `json:"payerAccount"`
	IndividualTransfers []IndividualTransfer `json:"individualTransfers"`
	Completed           int                  `json:"completed"`
	Total               int                  `json:"total"`
	ProgressPercent     float64              `json:"progress_percent"`
	CreatedAt           time.Time            `json:"createdAt"`
	CompletedAt         *time.Time           `json:"completedAt,omitempty"`
}

// Statistics summarizes item outcomes of one bulk.
type Statistics struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	SuccessRate float64 `json:"success_rate"`
}

// BulkDetails is the full per-bulk view with statistics.
type BulkDetails struct {
	BulkID              uuid.UUID            `json:"bulk_id"`
	State               BulkState            `json:"state"`
	PayerAccount        string               `json:"payer_account"`
	TotalAmount         int64                `json:"total_amount"`
	Currency            string               `json:"currency"`
	CreatedAt           time.Time            `json:"created_at"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
	Statistics          Statistics           `json:"statistics"`
	IndividualTransfers []IndividualTransfer `json:"individual_transfers"`
}

// BulkSummary is one row of the history listing.
type BulkSummary struct {
	BulkID          uuid.UUID  `json:"bulk_id"`
	State           BulkState  `json:"state"`
	PayerAccount    string     `json:"payer_account"`
	TotalAmount     int64      `json:"total_amount"`
	Currency        string     `json:"currency"`
	Total           int        `json:"total"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	ProgressPercent float64    `json:"progress_percent"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// HistoryFilter narrows a history listing. Zero values mean no filter.
type HistoryFilter struct {
	State  BulkState
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// HistoryPage is one page of bulk summaries, newest first.
type HistoryPage struct {
	Total   int           `json:"total"`
	Count   int           `json:"count"`
	Results []BulkSummary `json:"results"`
}

// Summarize builds the history row for a bulk.
func Summarize(b *BulkTransfer) BulkSummary {
	c := CountStatuses(b.Transfers)
	return BulkSummary{
		BulkID:          b.ID,
		State:           b.State,
		PayerAccount:    b.PayerAccount,
		TotalAmount:     b.TotalAmount,
		Currency:        b.Currency,
		Total:           c.Total,
		Completed:       c.Completed,
		Failed:          c.Failed,
		ProgressPercent: Percent(c.Terminal(), c.Total),
		CreatedAt:       b.CreatedAt,
		CompletedAt:     b.CompletedAt,
	}
}
