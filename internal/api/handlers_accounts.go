package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/disbursement-service/internal/store"
)

type creditAccountRequest struct {
	Amount json.Number `json:"amount"`
}

// GetPayerAccountHandler returns the balance, reservations and available funds of a payer.
func (h *Handlers) GetPayerAccountHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrPayerAccountNotFound) {
		h.writeError(w, http.StatusNotFound, "Payer account not found")
		return
	}
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, acc)
}

// CreditPayerAccountHandler funds a payer account in the settlement currency.
func (h *Handlers) CreditPayerAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req creditAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	acc, err := h.accounts.Credit(r.Context(), chi.URLParam(r, "id"), req.Amount.String())
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, acc)
}
