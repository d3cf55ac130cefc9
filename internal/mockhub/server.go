/**
 * @description
 * A payment hub simulator for local runs and tests. It accepts party lookups,
 * quote requests and transfer commits, acknowledges them with 202 and answers
 * each with the matching PUT callback after a configurable delay.
 *
 * @notes
 * - Failure hooks force error callbacks or suppress callbacks entirely so
 *   rejection and timeout paths can be exercised end to end.
 */
package mockhub

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/transfa/disbursement-service/pkg/fspiop"
	"github.com/transfa/disbursement-service/pkg/hubclient"
)

// Phase names one of the three hub operations.
type Phase string

const (
	PhaseLookup   Phase = "LOOKUP"
	PhaseQuote    Phase = "QUOTE"
	PhaseTransfer Phase = "TRANSFER"
)

const (
	defaultPayeeFSP = "payee-fsp"
	quoteLifetime   = time.Minute
)

// Request is one inbound hub request as the simulator saw it.
type Request struct {
	Phase         Phase
	Source        string
	Destination   string
	CorrelationID string
	IDType        string
	Identifier    string
	Quote         *fspiop.QuoteRequest
	Transfer      *fspiop.TransferRequest
	ReceivedAt    time.Time
}

// FailureFunc returns a non-nil error to answer a request with an error callback.
type FailureFunc func(phase Phase, req Request) *fspiop.ErrorInformation

// Options configures a Server.
type Options struct {
	HubID       string
	CallbackURL string
	Delay       time.Duration
	Signer      *fspiop.Signer
	// PayeeFSP resolves the FSP hosting a party; defaultPayeeFSP when nil.
	PayeeFSP func(idType, identifier string) string
}

// Server simulates the hub.
type Server struct {
	opts      Options
	callbacks *hubclient.Client

	mu           sync.Mutex
	failure      FailureFunc
	dropped      map[Phase]bool
	requests     []Request
	fulfilments  map[string]pendingFulfilment
	transferHook func(fspiop.TransferRequest) *fspiop.TransferResponse

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
	now     func() time.Time
}

func New(opts Options) *Server {
	if opts.HubID == "" {
		opts.HubID = "mock-hub"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:        opts,
		callbacks:   hubclient.NewClient(opts.CallbackURL, opts.HubID, opts.Signer),
		dropped:     map[Phase]bool{},
		fulfilments: map[string]pendingFulfilment{},
		ctx:         ctx,
		cancel:      cancel,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetFailure installs the failure hook. nil restores success for every request.
func (s *Server) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = fn
}

// Drop suppresses callbacks for the given phases.
func (s *Server) Drop(phases ...Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range phases {
		s.dropped[p] = true
	}
}

// SetTransferResult overrides the transfer callback body, for example to
// answer with a non-COMMITTED state.
func (s *Server) SetTransferResult(fn func(fspiop.TransferRequest) *fspiop.TransferResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferHook = fn
}

// Reset clears hooks, drops and the request log.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = nil
	s.transferHook = nil
	s.dropped = map[Phase]bool{}
	s.requests = nil
}

// PendingFulfilments counts quoted conditions no transfer has claimed yet.
func (s *Server) PendingFulfilments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fulfilments)
}

// Requests returns a copy of every request received so far. A request is
// listed once its callback is scheduled.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Wait blocks until every scheduled callback was delivered or abandoned.
func (s *Server) Wait() {
	s.pending.Wait()
}

// Close abandons pending callbacks and waits for in-flight deliveries.
func (s *Server) Close() {
	s.cancel()
	s.pending.Wait()
}

// Handler returns the hub's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mock hub is healthy"))
	})
	r.Get("/parties/{type}/{id}", s.handleGetParties)
	r.Post("/quotes", s.handlePostQuote)
	r.Post("/transfers", s.handlePostTransfer)
	return r
}

func (s *Server) handleGetParties(w http.ResponseWriter, r *http.Request) {
	req, ok := s.accept(w, r, PhaseLookup)
	if !ok {
		return
	}
	req.IDType = pathParam(r, "type")
	req.Identifier = pathParam(r, "id")

	path := "/parties/" + url.PathEscape(req.IDType) + "/" + url.PathEscape(req.Identifier)
	s.schedule(req, path, fspiop.ResourceParties, func() interface{} {
		fsp := defaultPayeeFSP
		if s.opts.PayeeFSP != nil {
			fsp = s.opts.PayeeFSP(req.IDType, req.Identifier)
		}
		return fspiop.PartiesResponse{Party: fspiop.Party{
			PartyIDInfo: fspiop.PartyIDInfo{PartyIDType: req.IDType, PartyIdentifier: req.Identifier, FSPID: fsp},
			Name:        "Payee " + req.Identifier,
		}}
	})
	s.record(req)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePostQuote(w http.ResponseWriter, r *http.Request) {
	req, ok := s.accept(w, r, PhaseQuote)
	if !ok {
		return
	}
	var quote fspiop.QuoteRequest
	if !decodeBody(w, r, &quote) {
		return
	}
	if quote.QuoteID == "" {
		writeError(w, http.StatusBadRequest, "3102", "quoteId is required")
		return
	}
	req.Quote = &quote

	s.schedule(req, "/quotes/"+quote.QuoteID, fspiop.ResourceQuotes, func() interface{} {
		fulfilment, condition := newFulfilment()
		now := s.now()
		expiresAt := now.Add(quoteLifetime)
		s.mu.Lock()
		s.pruneFulfilmentsLocked(now)
		s.fulfilments[condition] = pendingFulfilment{preimage: fulfilment, expiresAt: expiresAt}
		s.mu.Unlock()
		return fspiop.QuoteResponse{
			TransferAmount: quote.Amount,
			Expiration:     expiresAt.Format(time.RFC3339Nano),
			ILPPacket:      base64.RawURLEncoding.EncodeToString([]byte("ilp:" + quote.TransactionID)),
			Condition:      condition,
		}
	})
	s.record(req)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePostTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.accept(w, r, PhaseTransfer)
	if !ok {
		return
	}
	var transfer fspiop.TransferRequest
	if !decodeBody(w, r, &transfer) {
		return
	}
	if transfer.TransferID == "" {
		writeError(w, http.StatusBadRequest, "3102", "transferId is required")
		return
	}
	req.Transfer = &transfer
	// The condition is claimed on receipt so dropped or aborted transfers release it.
	fulfilment, known := s.takeFulfilment(transfer.Condition)

	s.schedule(req, "/transfers/"+transfer.TransferID, fspiop.ResourceTransfers, func() interface{} {
		s.mu.Lock()
		hook := s.transferHook
		s.mu.Unlock()
		if hook != nil {
			if resp := hook(transfer); resp != nil {
				return *resp
			}
		}
		if !known {
			fulfilment, _ = newFulfilment()
		}
		return fspiop.TransferResponse{
			Fulfilment:         fulfilment,
			CompletedTimestamp: s.now().Format(time.RFC3339Nano),
			TransferState:      fspiop.TransferStateCommitted,
		}
	})
	s.record(req)
	w.WriteHeader(http.StatusAccepted)
}

type pendingFulfilment struct {
	preimage  string
	expiresAt time.Time
}

func (s *Server) takeFulfilment(condition string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.fulfilments[condition]
	delete(s.fulfilments, condition)
	if !ok || s.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.preimage, true
}

// pruneFulfilmentsLocked forgets quotes that expired without a transfer.
func (s *Server) pruneFulfilmentsLocked(now time.Time) {
	for condition, entry := range s.fulfilments {
		if now.After(entry.expiresAt) {
			delete(s.fulfilments, condition)
		}
	}
}

// pathParam returns a decoded URL parameter. chi yields the escaped form when
// the request path carried encoded separators.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// accept verifies the signature, reading and restoring the body.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, phase Phase) (Request, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "3101", "unreadable body")
		return Request{}, false
	}
	if err := s.opts.Signer.VerifyRequest(r, body); err != nil {
		writeError(w, http.StatusUnauthorized, "3105", "invalid signature")
		return Request{}, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return Request{
		Phase:         phase,
		Source:        r.Header.Get(fspiop.HeaderSource),
		Destination:   r.Header.Get(fspiop.HeaderDestination),
		CorrelationID: r.Header.Get(fspiop.HeaderCorrelationID),
		ReceivedAt:    s.now(),
	}, true
}

func (s *Server) record(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

// schedule answers req after the configured delay, with an error callback when
// the failure hook asks for one.
func (s *Server) schedule(req Request, path, resource string, success func() interface{}) {
	s.mu.Lock()
	dropped := s.dropped[req.Phase]
	failure := s.failure
	s.mu.Unlock()
	if dropped {
		log.Printf("level=info component=mockhub phase=%s path=%s msg=\"callback dropped\"", req.Phase, path)
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if s.opts.Delay > 0 {
			timer := time.NewTimer(s.opts.Delay)
			defer timer.Stop()
			select {
			case <-s.ctx.Done():
				return
			case <-timer.C:
			}
		}

		callbackPath, payload := path, interface{}(nil)
		if failure != nil {
			if info := failure(req.Phase, req); info != nil {
				callbackPath = path + "/error"
				payload = fspiop.ErrorResponse{ErrorInformation: *info}
			}
		}
		if payload == nil {
			payload = success()
		}

		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		if err := s.callbacks.Put(ctx, callbackPath, resource, req.Source, req.CorrelationID, payload); err != nil {
			log.Printf("level=warn component=mockhub phase=%s path=%s msg=\"callback delivery failed\" err=%v", req.Phase, callbackPath, err)
		}
	}()
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "3101", "malformed body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(fspiop.ErrorResponse{
		ErrorInformation: fspiop.ErrorInformation{ErrorCode: code, ErrorDescription: description},
	})
}

// newFulfilment returns a random preimage and its SHA-256 condition.
func newFulfilment() (string, string) {
	preimage := make([]byte, 32)
	_, _ = rand.Read(preimage)
	sum := sha256.Sum256(preimage)
	return base64.RawURLEncoding.EncodeToString(preimage), base64.RawURLEncoding.EncodeToString(sum[:])
}

// FailIdentifiers answers lookups of the given party identifiers with
// "3204 Party not found".
func FailIdentifiers(identifiers ...string) FailureFunc {
	set := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		set[id] = struct{}{}
	}
	return func(phase Phase, req Request) *fspiop.ErrorInformation {
		if phase != PhaseLookup {
			return nil
		}
		if _, ok := set[req.Identifier]; !ok {
			return nil
		}
		return &fspiop.ErrorInformation{ErrorCode: "3204", ErrorDescription: "Party not found"}
	}
}
