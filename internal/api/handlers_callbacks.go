package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/pkg/fspiop"
)

const maxCallbackBytes = 1 << 20

// FSPIOP error codes returned to the hub for callbacks we cannot accept.
const (
	fspiopCodeMalformedSyntax  = "3101"
	fspiopCodeInvalidSignature = "3105"
	fspiopCodeInternal         = "2001"
)

// CallbackHandlers receives the asynchronous PUT callbacks of the payment hub.
type CallbackHandlers struct {
	dispatcher *app.CallbackDispatcher
	signer     *fspiop.Signer
}

// NewCallbackHandlers verifies signatures only when signer is non-nil.
func NewCallbackHandlers(dispatcher *app.CallbackDispatcher, signer *fspiop.Signer) *CallbackHandlers {
	return &CallbackHandlers{dispatcher: dispatcher, signer: signer}
}

// Mount registers the callback routes on r.
func (h *CallbackHandlers) Mount(r chi.Router) {
	r.Put("/parties/{type}/{id}", h.handle(fspiop.ResourceParties, false))
	r.Put("/parties/{type}/{id}/error", h.handle(fspiop.ResourceParties, true))
	r.Put("/quotes/{id}", h.handle(fspiop.ResourceQuotes, false))
	r.Put("/quotes/{id}/error", h.handle(fspiop.ResourceQuotes, true))
	r.Put("/transfers/{id}", h.handle(fspiop.ResourceTransfers, false))
	r.Put("/transfers/{id}/error", h.handle(fspiop.ResourceTransfers, true))
}

func (h *CallbackHandlers) handle(resource string, isError bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			writeFSPIOPError(w, http.StatusBadRequest, fspiopCodeMalformedSyntax, "unreadable body")
			return
		}
		if err := h.signer.VerifyRequest(r, body); err != nil {
			log.Printf("level=warn component=api endpoint=hub_callback resource=%s source=%s outcome=reject reason=signature err=%v", resource, r.Header.Get(fspiop.HeaderSource), err)
			writeFSPIOPError(w, http.StatusUnauthorized, fspiopCodeInvalidSignature, "invalid signature")
			return
		}

		env := domain.HubCallbackEnvelope{
			Resource:      resource,
			ID:            chi.URLParam(r, "id"),
			PartyIDType:   chi.URLParam(r, "type"),
			IsError:       isError,
			CorrelationID: r.Header.Get(fspiop.HeaderCorrelationID),
			Source:        r.Header.Get(fspiop.HeaderSource),
			Body:          json.RawMessage(body),
		}
		matched, err := h.dispatcher.Dispatch(r.Context(), env)
		if errors.Is(err, app.ErrMalformedCallback) || errors.Is(err, app.ErrUnknownResource) {
			writeFSPIOPError(w, http.StatusBadRequest, fspiopCodeMalformedSyntax, err.Error())
			return
		}
		if err != nil {
			log.Printf("level=error component=api endpoint=hub_callback resource=%s id=%s err=%v", resource, env.ID, err)
			writeFSPIOPError(w, http.StatusInternalServerError, fspiopCodeInternal, "internal server error")
			return
		}
		log.Printf("level=debug component=api endpoint=hub_callback resource=%s id=%s error=%t matched=%t", resource, env.ID, isError, matched)
		w.WriteHeader(http.StatusOK)
	}
}

func writeFSPIOPError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(fspiop.ErrorResponse{
		ErrorInformation: fspiop.ErrorInformation{ErrorCode: code, ErrorDescription: description},
	})
}
