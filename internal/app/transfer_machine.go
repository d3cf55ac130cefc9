/**
 * @description
 * TransferMachine drives each individual transfer through the hub protocol:
 * PENDING -> LOOKUP_SENT -> QUOTE_SENT -> TRANSFER_SENT -> COMPLETED, with
 * FAILED reachable from every non-terminal status.
 *
 * @notes
 * - All mutations of one transfer run under that transfer's lock, including the
 *   outbound request issued on a transition. A callback racing the request
 *   waits for the lock and observes the post-send status.
 * - Events for a phase the transfer already left are dropped.
 */
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/metrics"
	"github.com/transfa/disbursement-service/internal/store"
	"github.com/transfa/disbursement-service/pkg/fspiop"
)

// HubClient is the outbound half of the hub gateway.
type HubClient interface {
	RequestPartyLookup(ctx context.Context, ref TransferRef, idType, identifier string) (string, error)
	RequestQuote(ctx context.Context, ref TransferRef, params QuoteParams) (string, error)
	RequestTransferCommit(ctx context.Context, ref TransferRef, params CommitParams) (string, error)
}

// TerminalObserver is told when a transfer reaches COMPLETED or FAILED.
type TerminalObserver interface {
	OnTransferTerminal(ctx context.Context, bulkID, transferID uuid.UUID) error
}

// TransferMachine applies protocol events to individual transfers.
type TransferMachine struct {
	repo     store.BulkRepository
	hub      HubClient
	observer TerminalObserver
	events   EventPublisher
	metrics  *metrics.Metrics
	locks    *keyedLock
	now      func() time.Time
}

func NewTransferMachine(repo store.BulkRepository, hub HubClient, events EventPublisher, m *metrics.Metrics) *TransferMachine {
	return &TransferMachine{
		repo:    repo,
		hub:     hub,
		events:  events,
		metrics: m,
		locks:   newKeyedLock(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver wires the aggregate owner notified on terminal transitions.
func (m *TransferMachine) SetObserver(o TerminalObserver) {
	m.observer = o
}

// Start issues the party lookup for a PENDING transfer. Transfers that already
// left PENDING, for example because their bulk was cancelled, are skipped.
func (m *TransferMachine) Start(ctx context.Context, transferID uuid.UUID) error {
	return m.mutate(ctx, transferID, func(t *domain.IndividualTransfer) bool {
		if t.Status != domain.TransferStatusPending {
			return false
		}
		if _, err := m.hub.RequestPartyLookup(ctx, refOf(t), t.PayeeIDType, t.PayeeIdentifier); err != nil {
			m.fail(t, domain.ErrCodeLookupRequestFailed, err.Error())
			return true
		}
		m.advance(t, domain.TransferStatusLookupSent)
		return true
	})
}

// Cancel fails a transfer that has not been dispatched yet. It reports whether
// the transfer was cancelled.
func (m *TransferMachine) Cancel(ctx context.Context, transferID uuid.UUID) (bool, error) {
	cancelled := false
	err := m.mutate(ctx, transferID, func(t *domain.IndividualTransfer) bool {
		if t.Status != domain.TransferStatusPending {
			return false
		}
		m.fail(t, domain.ErrCodeCancelled, "bulk cancelled before dispatch")
		cancelled = true
		return true
	})
	return cancelled, err
}

// HandleHubEvent applies a callback or timeout to its transfer.
func (m *TransferMachine) HandleHubEvent(ctx context.Context, event HubEvent) {
	err := m.mutate(ctx, event.TransferID, func(t *domain.IndividualTransfer) bool {
		if t.Status != awaitingStatus(event.Phase) {
			log.Printf("level=info component=transfer_machine transfer_id=%s phase=%s outcome=%s status=%s msg=\"stale hub event ignored\"", t.TransferID, event.Phase, event.Outcome, t.Status)
			return false
		}
		switch event.Phase {
		case PhaseLookup:
			m.onLookup(ctx, t, event)
		case PhaseQuote:
			m.onQuote(ctx, t, event)
		case PhaseTransfer:
			m.onTransfer(t, event)
		default:
			return false
		}
		return true
	})
	if err != nil {
		log.Printf("level=error component=transfer_machine transfer_id=%s phase=%s msg=\"hub event not applied\" err=%v", event.TransferID, event.Phase, err)
	}
}

func (m *TransferMachine) onLookup(ctx context.Context, t *domain.IndividualTransfer, event HubEvent) {
	switch event.Outcome {
	case OutcomeTimeout:
		m.fail(t, domain.ErrCodeLookupTimeout, "no party lookup callback before deadline")
		return
	case OutcomeRejected:
		m.fail(t, domain.ErrCodePartyNotFound, describeHubError(event.Error, "party not found"))
		return
	}

	if event.Party != nil {
		t.PayeeFSPID = event.Party.PartyIDInfo.FSPID
		if t.PayeeName == "" {
			t.PayeeName = event.Party.Name
		}
	}
	payee := fspiop.Party{
		PartyIDInfo: fspiop.PartyIDInfo{
			PartyIDType:     t.PayeeIDType,
			PartyIdentifier: t.PayeeIdentifier,
			FSPID:           t.PayeeFSPID,
		},
		Name: t.PayeeName,
	}
	quoteID, err := m.hub.RequestQuote(ctx, refOf(t), QuoteParams{
		Payee:    payee,
		Amount:   t.Amount,
		Currency: t.Currency,
		Note:     fmt.Sprintf("bulk %s row %d", t.BulkID, t.RowNumber),
	})
	if err != nil {
		m.fail(t, domain.ErrCodeQuoteRequestFailed, err.Error())
		return
	}
	t.QuoteID = quoteID
	m.advance(t, domain.TransferStatusQuoteSent)
}

func (m *TransferMachine) onQuote(ctx context.Context, t *domain.IndividualTransfer, event HubEvent) {
	switch event.Outcome {
	case OutcomeTimeout:
		m.fail(t, domain.ErrCodeQuoteTimeout, "no quote callback before deadline")
		return
	case OutcomeRejected:
		m.fail(t, domain.ErrCodeQuoteRejected, describeHubError(event.Error, "quote rejected"))
		return
	}

	quote := event.Quote
	if quote == nil {
		quote = &fspiop.QuoteResponse{}
	}
	if quote.Expiration != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, quote.Expiration)
		if err == nil && !expiresAt.After(m.now()) {
			m.fail(t, domain.ErrCodeQuoteExpired, "quote expired at "+quote.Expiration)
			return
		}
	}

	amount := quote.TransferAmount
	if amount.Amount == "" {
		amount = fspiop.Money{Currency: t.Currency, Amount: domain.FormatAmount(t.Amount, t.Currency)}
	}
	t.Condition = quote.Condition
	if _, err := m.hub.RequestTransferCommit(ctx, refOf(t), CommitParams{
		PayeeFSP:   t.PayeeFSPID,
		Amount:     amount,
		ILPPacket:  quote.ILPPacket,
		Condition:  quote.Condition,
		Expiration: quote.Expiration,
	}); err != nil {
		m.fail(t, domain.ErrCodeTransferRequestFailed, err.Error())
		return
	}
	m.advance(t, domain.TransferStatusTransferSent)
}

func (m *TransferMachine) onTransfer(t *domain.IndividualTransfer, event HubEvent) {
	switch event.Outcome {
	case OutcomeTimeout:
		m.fail(t, domain.ErrCodeTransferTimeout, "no transfer callback before deadline")
		return
	case OutcomeRejected:
		code := domain.ErrCodeTransferTimeout
		if event.Error != nil && event.Error.ErrorCode != "" {
			code = event.Error.ErrorCode
		}
		m.fail(t, code, describeHubError(event.Error, "transfer rejected"))
		return
	}

	result := event.Transfer
	if result == nil || result.TransferState != fspiop.TransferStateCommitted {
		state := "missing"
		if result != nil && result.TransferState != "" {
			state = result.TransferState
		}
		m.fail(t, domain.ErrCodeTransferRejected, "transfer state "+state)
		return
	}

	completedAt := m.now()
	if parsed, err := time.Parse(time.RFC3339Nano, result.CompletedTimestamp); err == nil {
		completedAt = parsed.UTC()
	}
	t.Fulfilment = result.Fulfilment
	t.Status = domain.TransferStatusCompleted
	t.ErrorCode = ""
	t.ErrorMessage = ""
	t.CompletedAt = &completedAt
}

// mutate loads a transfer under its lock, applies fn and persists the result
// when fn reports a change. Terminal transitions are announced after unlocking.
func (m *TransferMachine) mutate(ctx context.Context, transferID uuid.UUID, fn func(t *domain.IndividualTransfer) bool) error {
	unlock := m.locks.Lock(transferID)
	t, err := m.repo.GetTransfer(ctx, transferID)
	if err != nil {
		unlock()
		return err
	}
	before := t.Status
	if before.IsTerminal() {
		unlock()
		log.Printf("level=debug component=transfer_machine transfer_id=%s status=%s msg=\"transfer already terminal\"", transferID, before)
		return nil
	}
	if !fn(t) {
		unlock()
		return nil
	}
	t.UpdatedAt = m.now()
	if err := m.repo.UpdateTransfer(ctx, t); err != nil {
		unlock()
		return fmt.Errorf("persist transfer %s: %w", transferID, err)
	}
	unlock()

	log.Printf("level=info component=transfer_machine transfer_id=%s bulk_id=%s from=%s to=%s error_code=%s", t.TransferID, t.BulkID, before, t.Status, t.ErrorCode)
	if t.Status.IsTerminal() {
		m.finished(ctx, t)
	}
	return nil
}

func (m *TransferMachine) finished(ctx context.Context, t *domain.IndividualTransfer) {
	m.metrics.TransferFinished(string(t.Status), t.ErrorCode)
	if m.events != nil {
		m.events.PublishTransferTerminal(ctx, newTransferTerminalEvent(t, m.now()))
	}
	if m.observer == nil {
		return
	}
	if err := m.observer.OnTransferTerminal(ctx, t.BulkID, t.TransferID); err != nil {
		log.Printf("level=error component=transfer_machine transfer_id=%s bulk_id=%s msg=\"aggregate update failed\" err=%v", t.TransferID, t.BulkID, err)
	}
}

func (m *TransferMachine) advance(t *domain.IndividualTransfer, next domain.TransferStatus) {
	t.Status = next
}

func (m *TransferMachine) fail(t *domain.IndividualTransfer, code, message string) {
	now := m.now()
	t.Status = domain.TransferStatusFailed
	t.ErrorCode = code
	t.ErrorMessage = message
	t.CompletedAt = &now
}

func awaitingStatus(phase Phase) domain.TransferStatus {
	switch phase {
	case PhaseLookup:
		return domain.TransferStatusLookupSent
	case PhaseQuote:
		return domain.TransferStatusQuoteSent
	case PhaseTransfer:
		return domain.TransferStatusTransferSent
	}
	return ""
}

func describeHubError(info *fspiop.ErrorInformation, fallback string) string {
	if info == nil || (info.ErrorCode == "" && info.ErrorDescription == "") {
		return fallback
	}
	if info.ErrorCode == "" {
		return info.ErrorDescription
	}
	return info.ErrorCode + ": " + info.ErrorDescription
}

func refOf(t *domain.IndividualTransfer) TransferRef {
	return TransferRef{TransferID: t.TransferID, BulkID: t.BulkID}
}
