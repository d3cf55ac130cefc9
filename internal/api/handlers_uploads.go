package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
)

const maxUploadBytes = 10 << 20

type confirmUploadRequest struct {
	PayerAccount string `json:"payer_account"`
}

// UploadHandler validates a CSV file or a JSON row list and returns a ticket.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var rows []domain.PaymentRow
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		file, _, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "CSV file is required in field 'file'")
			return
		}
		defer file.Close()
		rows, err = app.ParseCSV(file)
		if err != nil {
			code, message := mapBulkError(err)
			h.writeError(w, code, message)
			return
		}
	case mediaType == "text/csv":
		parsed, err := app.ParseCSV(r.Body)
		if err != nil {
			code, message := mapBulkError(err)
			h.writeError(w, code, message)
			return
		}
		rows = parsed
	default:
		var req struct {
			Rows []domain.PaymentRow `json:"rows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		rows = req.Rows
	}
	if len(rows) == 0 {
		h.writeError(w, http.StatusBadRequest, "Upload contains no rows")
		return
	}

	ticket, err := h.uploads.Validate(r.Context(), rows)
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusCreated, ticket)
}

// GetUploadHandler returns a pending upload ticket.
func (h *Handlers) GetUploadHandler(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := h.uploadIDParam(w, r)
	if !ok {
		return
	}
	ticket, err := h.uploads.Get(r.Context(), ticketID)
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, ticket)
}

// ConfirmUploadHandler turns the valid rows of a ticket into a bulk.
func (h *Handlers) ConfirmUploadHandler(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := h.uploadIDParam(w, r)
	if !ok {
		return
	}
	var req confirmUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.PayerAccount) == "" {
		h.writeError(w, http.StatusBadRequest, "payer_account is required")
		return
	}

	bulk, err := h.uploads.Confirm(r.Context(), ticketID, req.PayerAccount)
	if err != nil {
		h.writeSubmissionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, newBulkAcceptedResponse(bulk, nil))
}

// CancelUploadHandler discards a pending ticket.
func (h *Handlers) CancelUploadHandler(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := h.uploadIDParam(w, r)
	if !ok {
		return
	}
	if err := h.uploads.Cancel(r.Context(), ticketID); err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "upload_id": ticketID.String()})
}

func (h *Handlers) uploadIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid upload ID")
		return uuid.Nil, false
	}
	return ticketID, true
}
