package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentRow is one beneficiary line as submitted by an operator.
type PaymentRow struct {
	IDType     string      `json:"idType"`
	Identifier string      `json:"identifier"`
	Name       string      `json:"name,omitempty"`
	Amount     json.Number `json:"amount"`
	Currency   string      `json:"currency"`
}

// ValidatedRow is a row that passed validation, with the amount in minor units.
type ValidatedRow struct {
	RowNumber  int    `json:"row_number"`
	IDType     string `json:"id_type"`
	Identifier string `json:"identifier"`
	Name       string `json:"name,omitempty"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

// RowError describes why a submitted row was rejected.
type RowError struct {
	RowNumber int    `json:"row"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.RowNumber, e.Field, e.Reason)
}

// UploadTicket holds a validated row set until the operator confirms or cancels it.
type UploadTicket struct {
	ID          uuid.UUID      `json:"upload_id"`
	ValidRows   []ValidatedRow `json:"valid_rows"`
	InvalidRows []RowError     `json:"invalid_rows"`
	TotalRows   int            `json:"total_rows"`
	TotalAmount int64          `json:"total_amount"`
	Currency    string         `json:"currency"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}
