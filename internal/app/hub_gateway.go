/**
 * @description
 * HubGateway is the payment hub client as seen by the transfer state machine.
 * It turns each outbound request into a pending correlation entry, resolves
 * inbound callbacks against those entries and converts expired entries into
 * timeout events shaped exactly like negative callbacks.
 *
 * @dependencies
 * - pkg/fspiop: wire payloads.
 * - internal/metrics: request, callback and timeout counters.
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
	"github.com/transfa/disbursement-service/pkg/fspiop"
)

// HubTransport sends requests to the hub and returns once they are acknowledged.
type HubTransport interface {
	GetParties(ctx context.Context, idType, identifier, correlationID string) error
	PostQuote(ctx context.Context, quote fspiop.QuoteRequest, destination string) error
	PostTransfer(ctx context.Context, transfer fspiop.TransferRequest, destination string) error
}

// Outcome is how a pending hub request ended.
type Outcome string

const (
	OutcomeResolved Outcome = "RESOLVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeTimeout  Outcome = "TIMEOUT"
)

// HubEvent is delivered to the state machine once per correlation entry.
type HubEvent struct {
	Phase         Phase
	Outcome       Outcome
	CorrelationID string
	TransferID    uuid.UUID
	BulkID        uuid.UUID
	Party         *fspiop.Party
	Quote         *fspiop.QuoteResponse
	Transfer      *fspiop.TransferResponse
	Error         *fspiop.ErrorInformation
}

// HubEventSink consumes resolved correlation entries.
type HubEventSink interface {
	HandleHubEvent(ctx context.Context, event HubEvent)
}

// TransferRef names the transfer a hub request is issued for.
type TransferRef struct {
	TransferID uuid.UUID
	BulkID     uuid.UUID
}

// PhaseTimeouts holds the independent deadline of each phase.
type PhaseTimeouts struct {
	Lookup   time.Duration
	Quote    time.Duration
	Transfer time.Duration
}

func (p PhaseTimeouts) forPhase(phase Phase) time.Duration {
	switch phase {
	case PhaseLookup:
		return p.Lookup
	case PhaseQuote:
		return p.Quote
	default:
		return p.Transfer
	}
}

// QuoteParams describes the quote requested for a resolved payee.
type QuoteParams struct {
	Payee    fspiop.Party
	Amount   int64
	Currency string
	Note     string
}

// CommitParams describes the transfer committed against an accepted quote.
type CommitParams struct {
	PayeeFSP   string
	Amount     fspiop.Money
	ILPPacket  string
	Condition  string
	Expiration string
}

// HubGateway correlates outbound hub requests with their callbacks.
type HubGateway struct {
	transport HubTransport
	table     *CorrelationTable
	sink      HubEventSink
	timeouts  PhaseTimeouts
	payerFSP  string
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewHubGateway creates a gateway. SetSink must be called before any callback is delivered.
func NewHubGateway(transport HubTransport, table *CorrelationTable, timeouts PhaseTimeouts, payerFSP string, m *metrics.Metrics) *HubGateway {
	return &HubGateway{
		transport: transport,
		table:     table,
		timeouts:  timeouts,
		payerFSP:  payerFSP,
		metrics:   m,
		now:       time.Now,
	}
}

// SetSink wires the consumer of hub events.
func (g *HubGateway) SetSink(sink HubEventSink) {
	g.sink = sink
}

// PendingCount reports how many requests await a callback.
func (g *HubGateway) PendingCount() int {
	return g.table.Len()
}

// Awaiting reports whether a hub request of the transfer is still pending.
func (g *HubGateway) Awaiting(transferID uuid.UUID) bool {
	return g.table.Awaits(transferID)
}

func lookupAlias(idType, identifier string) string {
	return idType + "/" + identifier
}

// RequestPartyLookup registers a lookup entry and asks the hub to resolve the payee.
func (g *HubGateway) RequestPartyLookup(ctx context.Context, ref TransferRef, idType, identifier string) (string, error) {
	correlationID := uuid.NewString()
	err := g.send(ctx, ref, PhaseLookup, correlationID, lookupAlias(idType, identifier), func() error {
		return g.transport.GetParties(ctx, idType, identifier, correlationID)
	})
	if err != nil {
		return "", err
	}
	return correlationID, nil
}

// RequestQuote registers a quote entry keyed by a fresh quoteId and requests the quote.
func (g *HubGateway) RequestQuote(ctx context.Context, ref TransferRef, params QuoteParams) (string, error) {
	quoteID := uuid.NewString()
	req := fspiop.QuoteRequest{
		QuoteID:       quoteID,
		TransactionID: ref.TransferID.String(),
		Payer: fspiop.Party{PartyIDInfo: fspiop.PartyIDInfo{
			PartyIDType:     "BUSINESS",
			PartyIdentifier: g.payerFSP,
			FSPID:           g.payerFSP,
		}},
		Payee:      params.Payee,
		AmountType: "SEND",
		Amount: fspiop.Money{
			Currency: params.Currency,
			Amount:   domain.FormatAmount(params.Amount, params.Currency),
		},
		TransactionType: fspiop.TransactionType{
			Scenario:      "TRANSFER",
			Initiator:     "PAYER",
			InitiatorType: "BUSINESS",
		},
		Note: params.Note,
	}
	err := g.send(ctx, ref, PhaseQuote, quoteID, "", func() error {
		return g.transport.PostQuote(ctx, req, params.Payee.PartyIDInfo.FSPID)
	})
	if err != nil {
		return "", err
	}
	return quoteID, nil
}

// RequestTransferCommit registers a transfer entry keyed by the transferId and asks the hub to commit.
func (g *HubGateway) RequestTransferCommit(ctx context.Context, ref TransferRef, params CommitParams) (string, error) {
	transferID := ref.TransferID.String()
	req := fspiop.TransferRequest{
		TransferID: transferID,
		PayerFSP:   g.payerFSP,
		PayeeFSP:   params.PayeeFSP,
		Amount:     params.Amount,
		ILPPacket:  params.ILPPacket,
		Condition:  params.Condition,
		Expiration: params.Expiration,
	}
	err := g.send(ctx, ref, PhaseTransfer, transferID, "", func() error {
		return g.transport.PostTransfer(ctx, req, params.PayeeFSP)
	})
	if err != nil {
		return "", err
	}
	return transferID, nil
}

// send registers before sending so a fast callback always finds its entry.
func (g *HubGateway) send(ctx context.Context, ref TransferRef, phase Phase, correlationID, alias string, do func() error) error {
	key := CorrelationKey{Phase: phase, ID: correlationID}
	entry := CorrelationEntry{
		Key:        key,
		TransferID: ref.TransferID,
		BulkID:     ref.BulkID,
		Alias:      alias,
		Deadline:   g.now().Add(g.timeouts.forPhase(phase)),
	}
	if err := g.table.Register(entry); err != nil {
		return fmt.Errorf("register %s correlation %s: %w", phase, correlationID, err)
	}
	if err := do(); err != nil {
		g.table.Remove(key)
		g.metrics.HubRequest(string(phase), "failed")
		log.Printf("level=warn component=hub_gateway phase=%s transfer_id=%s correlation_id=%s msg=\"hub request not acknowledged\" err=%v", phase, ref.TransferID, correlationID, err)
		return err
	}
	g.metrics.HubRequest(string(phase), "accepted")
	return nil
}

// OnPartyResolved handles PUT /parties. correlationID may be empty when the hub
// did not echo it, in which case the oldest lookup for the same party is used.
func (g *HubGateway) OnPartyResolved(ctx context.Context, correlationID, idType, identifier string, party fspiop.Party) bool {
	entry, ok := g.takeLookup(correlationID, idType, identifier)
	if !ok {
		return g.unmatched(fspiop.ResourceParties, correlationID)
	}
	g.deliver(ctx, entry, HubEvent{Outcome: OutcomeResolved, Party: &party})
	return true
}

// OnPartyLookupFailed handles PUT /parties/.../error.
func (g *HubGateway) OnPartyLookupFailed(ctx context.Context, correlationID, idType, identifier string, info fspiop.ErrorInformation) bool {
	entry, ok := g.takeLookup(correlationID, idType, identifier)
	if !ok {
		return g.unmatched(fspiop.ResourceParties, correlationID)
	}
	g.deliver(ctx, entry, HubEvent{Outcome: OutcomeRejected, Error: &info})
	return true
}

// OnQuoteReceived handles PUT /quotes/{ID}.
func (g *HubGateway) OnQuoteReceived(ctx context.Context, quoteID string, quote fspiop.QuoteResponse) bool {
	entry, ok := g.table.Take(CorrelationKey{Phase: PhaseQuote, ID: quoteID})
	if !ok {
		return g.unmatched(fspiop.ResourceQuotes, quoteID)
	}
	g.deliver(ctx, entry, HubEvent{Outcome: OutcomeResolved, Quote: &quote})
	return true
}

// OnQuoteRejected handles PUT /quotes/{ID}/error.
func (g *HubGateway) OnQuoteRejected(ctx context.Context, quoteID string, info fspiop.ErrorInformation) bool {
	entry, ok := g.table.Take(CorrelationKey{Phase: PhaseQuote, ID: quoteID})
	if !ok {
		return g.unmatched(fspiop.ResourceQuotes, quoteID)
	}
	g.deliver(ctx, entry, HubEvent{Outcome: OutcomeRejected, Error: &info})
	return true
}

// OnTransferCompleted handles PUT /transfers/{ID}.
func (g *HubGateway) OnTransferCompleted(ctx context.Context, transferID string, transfer fspiop.TransferResponse) bool {
	entry, ok := g.table.Take(CorrelationKey{Phase: PhaseTransfer, ID: transferID})
	if !ok {
		return g.unmatched(fspiop.ResourceTransfers, transferID)
	}
	g.deliver(ctx, entry, HubEvent{Outcome: OutcomeResolved, Transfer: &transfer})
	return true
}

// OnTransferRejected handles PUT /transfers/{ID}/error.
func (g *HubGateway) OnTransferRejected(ctx context.Context, transferID string, info fspiop.ErrorInformation) bool {
	entry, ok := g.table.Take(CorrelationKey{Phase: PhaseTransfer, ID: transferID})
	if !ok {
		return g.unmatched(fspiop.ResourceTransfers, transferID)
	}
	g.deliver(ctx, entry, HubEvent{Outcome: OutcomeRejected, Error: &info})
	return true
}

// SweepExpired fails every entry past its deadline and returns how many expired.
func (g *HubGateway) SweepExpired(ctx context.Context, now time.Time) int {
	expired := g.table.TakeExpired(now)
	for _, entry := range expired {
		g.metrics.CorrelationTimeout(string(entry.Key.Phase))
		log.Printf("level=info component=hub_gateway phase=%s transfer_id=%s correlation_id=%s msg=\"hub request timed out\"", entry.Key.Phase, entry.TransferID, entry.Key.ID)
		g.deliver(ctx, entry, HubEvent{Outcome: OutcomeTimeout})
	}
	return len(expired)
}

func (g *HubGateway) takeLookup(correlationID, idType, identifier string) (CorrelationEntry, bool) {
	if correlationID != "" {
		return g.table.Take(CorrelationKey{Phase: PhaseLookup, ID: correlationID})
	}
	return g.table.TakeByAlias(PhaseLookup, lookupAlias(idType, identifier))
}

func (g *HubGateway) unmatched(resource, id string) bool {
	g.metrics.Callback(resource, "unmatched")
	log.Printf("level=info component=hub_gateway resource=%s correlation_id=%q msg=\"callback without pending request dropped\"", resource, id)
	return false
}

func (g *HubGateway) deliver(ctx context.Context, entry CorrelationEntry, event HubEvent) {
	event.Phase = entry.Key.Phase
	event.CorrelationID = entry.Key.ID
	event.TransferID = entry.TransferID
	event.BulkID = entry.BulkID
	if event.Outcome != OutcomeTimeout {
		g.metrics.Callback(resourceForPhase(entry.Key.Phase), "matched")
	}
	if g.sink == nil {
		log.Printf("level=error component=hub_gateway transfer_id=%s msg=\"no event sink configured; event dropped\"", entry.TransferID)
		return
	}
	g.sink.HandleHubEvent(ctx, event)
}

func resourceForPhase(phase Phase) string {
	switch phase {
	case PhaseLookup:
		return fspiop.ResourceParties
	case PhaseQuote:
		return fspiop.ResourceQuotes
	default:
		return fspiop.ResourceTransfers
	}
}
