package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys for lifecycle events on the events exchange.
const (
	RoutingKeyTransferCompleted = "disbursement.transfer.completed"
	RoutingKeyTransferFailed    = "disbursement.transfer.failed"
	RoutingKeyBulkPrefix        = "disbursement.bulk."
	RoutingKeyHubCallback       = "hub.callback"
)

// TransferTerminalEvent is published once per item when it reaches a terminal status.
type TransferTerminalEvent struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	BulkID       uuid.UUID      `json:"bulk_id"`
	TransferID   uuid.UUID      `json:"transfer_id"`
	RowNumber    int            `json:"row_number"`
	Status       TransferStatus `json:"status"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// BulkStateEvent is published when a bulk enters PROCESSING and when it turns terminal.
type BulkStateEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	BulkID     uuid.UUID `json:"bulk_id"`
	State      BulkState `json:"state"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	OccurredAt time.Time `json:"occurred_at"`
}

// HubCallbackEnvelope carries a hub callback relayed through the broker instead of HTTP.
type HubCallbackEnvelope struct {
	Resource      string          `json:"resource"`
	ID            string          `json:"id"`
	PartyIDType   string          `json:"party_id_type,omitempty"`
	IsError       bool            `json:"is_error"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Source        string          `json:"source,omitempty"`
	Body          json.RawMessage `json:"body"`
}
