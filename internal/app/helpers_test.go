package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
	"github.com/transfa/disbursement-service/pkg/fspiop"
)

type sentRequest struct {
	phase         Phase
	correlationID string
	idType        string
	identifier    string
	destination   string
	quote         fspiop.QuoteRequest
	transfer      fspiop.TransferRequest
}

// fakeTransport records hub requests. It never answers synchronously; tests
// drive callbacks through the gateway.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentRequest
	fail map[Phase]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: map[Phase]error{}}
}

func (f *fakeTransport) failPhase(phase Phase, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[phase] = err
}

func (f *fakeTransport) GetParties(ctx context.Context, idType, identifier, correlationID string) error {
	return f.record(sentRequest{phase: PhaseLookup, correlationID: correlationID, idType: idType, identifier: identifier})
}

func (f *fakeTransport) PostQuote(ctx context.Context, quote fspiop.QuoteRequest, destination string) error {
	return f.record(sentRequest{phase: PhaseQuote, correlationID: quote.QuoteID, identifier: quote.Payee.PartyIDInfo.PartyIdentifier, destination: destination, quote: quote})
}

func (f *fakeTransport) PostTransfer(ctx context.Context, transfer fspiop.TransferRequest, destination string) error {
	return f.record(sentRequest{phase: PhaseTransfer, correlationID: transfer.TransferID, destination: destination, transfer: transfer})
}

func (f *fakeTransport) record(req sentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return f.fail[req.phase]
}

func (f *fakeTransport) count(phase Phase) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.sent {
		if r.phase == phase {
			n++
		}
	}
	return n
}

func (f *fakeTransport) find(t *testing.T, phase Phase, match func(sentRequest) bool) sentRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].phase == phase && match(f.sent[i]) {
			return f.sent[i]
		}
	}
	t.Fatalf("no %s request matched", phase)
	return sentRequest{}
}

type recordingEvents struct {
	mu        sync.Mutex
	transfers []domain.TransferTerminalEvent
	bulks     []domain.BulkStateEvent
}

func (r *recordingEvents) PublishTransferTerminal(ctx context.Context, event domain.TransferTerminalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, event)
}

func (r *recordingEvents) PublishBulkState(ctx context.Context, event domain.BulkStateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bulks = append(r.bulks, event)
}

func (r *recordingEvents) transferEvents(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.transfers {
		if e.TransferID == id {
			n++
		}
	}
	return n
}

func (r *recordingEvents) bulkStates() []domain.BulkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.BulkState, len(r.bulks))
	for i, e := range r.bulks {
		out[i] = e.State
	}
	return out
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	repo      *store.MemoryRepository
	accounts  *store.MemoryPayerAccounts
	transport *fakeTransport
	events    *recordingEvents
	svc       *Service
}

// testFunding covers every bulk the tests submit.
const testFunding = 1_000_000_000

func fundedAccounts(t *testing.T) *store.MemoryPayerAccounts {
	t.Helper()
	accounts := store.NewMemoryPayerAccounts()
	for _, id := range []string{"PAYER-001", "PAYER-002"} {
		_, err := accounts.CreditAccount(context.Background(), id, "XOF", testFunding)
		require.NoError(t, err)
	}
	return accounts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRepo(t, store.NewMemoryRepository(), nil)
}

// newHarnessWithRepo lets a test wrap the memory repository. A nil bulks
// repository means repo itself.
func newHarnessWithRepo(t *testing.T, repo *store.MemoryRepository, bulks store.BulkRepository) *harness {
	t.Helper()
	if bulks == nil {
		bulks = repo
	}
	accounts := fundedAccounts(t)
	transport := newFakeTransport()
	events := &recordingEvents{}
	svc := NewService(Dependencies{
		Repo:                bulks,
		Accounts:            accounts,
		Transport:           transport,
		Events:              events,
		DFSPID:              "pension-fund",
		SettlementCurrency:  "XOF",
		Timeouts:            PhaseTimeouts{Lookup: 30 * time.Second, Quote: 30 * time.Second, Transfer: 30 * time.Second},
		MaxConcurrentStarts: 4,
		UploadTicketTTL:     time.Minute,
	})
	return &harness{t: t, ctx: context.Background(), repo: repo, accounts: accounts, transport: transport, events: events, svc: svc}
}

func row(identifier, amount string) domain.PaymentRow {
	return domain.PaymentRow{IDType: "MSISDN", Identifier: identifier, Name: "Retraité " + identifier, Amount: json.Number(amount), Currency: "XOF"}
}

// createBulk submits rows and waits until every start issued its lookup.
func (h *harness) createBulk(rows ...domain.PaymentRow) *domain.BulkTransfer {
	h.t.Helper()
	bulk, _, err := h.svc.Orchestrator.CreateBulk(h.ctx, "PAYER-001", rows)
	require.NoError(h.t, err)
	h.svc.Orchestrator.Drain()
	return bulk
}

func (h *harness) bulk(id uuid.UUID) *domain.BulkTransfer {
	h.t.Helper()
	b, err := h.repo.GetBulk(h.ctx, id)
	require.NoError(h.t, err)
	return b
}

func (h *harness) transfer(bulk *domain.BulkTransfer, identifier string) *domain.IndividualTransfer {
	h.t.Helper()
	for _, tr := range bulk.Transfers {
		if tr.PayeeIdentifier == identifier {
			got, err := h.repo.GetTransfer(h.ctx, tr.TransferID)
			require.NoError(h.t, err)
			return got
		}
	}
	h.t.Fatalf("no transfer for %s", identifier)
	return nil
}

func (h *harness) resolveParty(identifier string) {
	h.t.Helper()
	req := h.transport.find(h.t, PhaseLookup, func(r sentRequest) bool { return r.identifier == identifier })
	party := fspiop.Party{PartyIDInfo: fspiop.PartyIDInfo{PartyIDType: req.idType, PartyIdentifier: identifier, FSPID: "payee-fsp"}, Name: "Payee " + identifier}
	require.True(h.t, h.svc.Gateway.OnPartyResolved(h.ctx, req.correlationID, req.idType, identifier, party))
}

func (h *harness) rejectParty(identifier, code string) {
	h.t.Helper()
	req := h.transport.find(h.t, PhaseLookup, func(r sentRequest) bool { return r.identifier == identifier })
	info := fspiop.ErrorInformation{ErrorCode: code, ErrorDescription: "Party not found"}
	require.True(h.t, h.svc.Gateway.OnPartyLookupFailed(h.ctx, req.correlationID, req.idType, identifier, info))
}

func (h *harness) quoteRequest(identifier string) sentRequest {
	h.t.Helper()
	return h.transport.find(h.t, PhaseQuote, func(r sentRequest) bool { return r.identifier == identifier })
}

func (h *harness) acceptQuote(identifier string) {
	h.t.Helper()
	req := h.quoteRequest(identifier)
	quote := fspiop.QuoteResponse{
		TransferAmount: req.quote.Amount,
		Expiration:     time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano),
		ILPPacket:      "ilp-" + identifier,
		Condition:      "cond-" + identifier,
	}
	require.True(h.t, h.svc.Gateway.OnQuoteReceived(h.ctx, req.quote.QuoteID, quote))
}

func (h *harness) commitTransfer(bulk *domain.BulkTransfer, identifier string) bool {
	h.t.Helper()
	id := h.transfer(bulk, identifier).TransferID.String()
	return h.svc.Gateway.OnTransferCompleted(h.ctx, id, fspiop.TransferResponse{
		Fulfilment:         "ful-" + identifier,
		CompletedTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TransferState:      fspiop.TransferStateCommitted,
	})
}

// complete drives one transfer through all three phases.
func (h *harness) complete(bulk *domain.BulkTransfer, identifier string) {
	h.t.Helper()
	h.resolveParty(identifier)
	h.acceptQuote(identifier)
	require.True(h.t, h.commitTransfer(bulk, identifier))
}

func (h *harness) progress(id uuid.UUID) domain.Progress {
	h.t.Helper()
	p, err := h.svc.Orchestrator.GetProgress(h.ctx, id)
	require.NoError(h.t, err)
	return p
}
