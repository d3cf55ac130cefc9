/**
 * @description
 * Wire payloads of the FSPIOP asynchronous API as exchanged with the payment hub.
 * Only the fields the disbursement flow reads or writes are modelled.
 */
package fspiop

// Resource names used in content types and callback routing.
const (
	ResourceParties   = "parties"
	ResourceQuotes    = "quotes"
	ResourceTransfers = "transfers"
)

// TransferStateCommitted is the only transferState that completes a transfer.
const TransferStateCommitted = "COMMITTED"

// Money is an amount rendered as a decimal string.
type Money struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// PartyIDInfo identifies a party at a DFSP.
type PartyIDInfo struct {
	PartyIDType     string `json:"partyIdType"`
	PartyIdentifier string `json:"partyIdentifier"`
	FSPID           string `json:"fspId,omitempty"`
}

// Party is a resolved payer or payee.
type Party struct {
	PartyIDInfo PartyIDInfo `json:"partyIdInfo"`
	Name        string      `json:"name,omitempty"`
}

// PartiesResponse is the body of PUT /parties/{Type}/{ID}.
type PartiesResponse struct {
	Party Party `json:"party"`
}

// TransactionType describes the quote's business context.
type TransactionType struct {
	Scenario      string `json:"scenario"`
	Initiator     string `json:"initiator"`
	InitiatorType string `json:"initiatorType"`
}

// QuoteRequest is the body of POST /quotes.
type QuoteRequest struct {
	QuoteID         string          `json:"quoteId"`
	TransactionID   string          `json:"transactionId"`
	Payer           Party           `json:"payer"`
	Payee           Party           `json:"payee"`
	AmountType      string          `json:"amountType"`
	Amount          Money           `json:"amount"`
	TransactionType TransactionType `json:"transactionType"`
	Note            string          `json:"note,omitempty"`
}

// QuoteResponse is the body of PUT /quotes/{ID}.
type QuoteResponse struct {
	TransferAmount     Money  `json:"transferAmount"`
	PayeeFSPFee        *Money `json:"payeeFspFee,omitempty"`
	PayeeFSPCommission *Money `json:"payeeFspCommission,omitempty"`
	Expiration         string `json:"expiration"`
	ILPPacket          string `json:"ilpPacket"`
	Condition          string `json:"condition"`
}

// TransferRequest is the body of POST /transfers.
type TransferRequest struct {
	TransferID string `json:"transferId"`
	PayerFSP   string `json:"payerFsp"`
	PayeeFSP   string `json:"payeeFsp"`
	Amount     Money  `json:"amount"`
	ILPPacket  string `json:"ilpPacket"`
	Condition  string `json:"condition"`
	Expiration string `json:"expiration"`
}

// TransferResponse is the body of PUT /transfers/{ID}.
type TransferResponse struct {
	Fulfilment         string `json:"fulfilment,omitempty"`
	CompletedTimestamp string `json:"completedTimestamp,omitempty"`
	TransferState      string `json:"transferState"`
}

// ErrorInformation is the error object of every /error callback.
type ErrorInformation struct {
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

// ErrorResponse wraps ErrorInformation on the wire.
type ErrorResponse struct {
	ErrorInformation ErrorInformation `json:"errorInformation"`
}
