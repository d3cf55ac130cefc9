/**
 * @description
 * HTTP handlers for the operator API: bulk creation, status polling, history
 * and cancellation.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/google/uuid: bulk identifiers.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

// Handlers serves the operator API.
type Handlers struct {
	orchestrator *app.Orchestrator
	status       *app.StatusService
	uploads      *app.UploadService
	accounts     *app.PayerAccountService
}

// NewHandlers builds the operator handlers. accounts may be nil when funds
// checks are disabled.
func NewHandlers(orchestrator *app.Orchestrator, status *app.StatusService, uploads *app.UploadService, accounts *app.PayerAccountService) *Handlers {
	return &Handlers{orchestrator: orchestrator, status: status, uploads: uploads, accounts: accounts}
}

type createBulkRequest struct {
	PayerAccount string              `json:"payer_account"`
	Rows         []domain.PaymentRow `json:"rows"`
}

type bulkAcceptedResponse struct {
	BulkTransferID uuid.UUID         `json:"bulkTransferId"`
	State          domain.BulkState  `json:"state"`
	TotalAmount    int64             `json:"totalAmount"`
	Currency       string            `json:"currency"`
	TransferCount  int               `json:"transferCount"`
	InvalidRows    []domain.RowError `json:"invalid_rows"`
}

func newBulkAcceptedResponse(bulk *domain.BulkTransfer, invalid []domain.RowError) bulkAcceptedResponse {
	if invalid == nil {
		invalid = []domain.RowError{}
	}
	return bulkAcceptedResponse{
		BulkTransferID: bulk.ID,
		State:          bulk.State,
		TotalAmount:    bulk.TotalAmount,
		Currency:       bulk.Currency,
		TransferCount:  len(bulk.Transfers),
		InvalidRows:    invalid,
	}
}

// CreateBulkHandler validates rows and starts a bulk from the valid ones.
func (h *Handlers) CreateBulkHandler(w http.ResponseWriter, r *http.Request) {
	var req createBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Rows) == 0 {
		h.writeError(w, http.StatusBadRequest, "At least one row is required")
		return
	}

	bulk, invalid, err := h.orchestrator.CreateBulk(r.Context(), req.PayerAccount, req.Rows)
	if errors.Is(err, app.ErrNoValidRows) {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":        "No valid rows to disburse",
			"invalid_rows": invalid,
		})
		return
	}
	if err != nil {
		h.writeSubmissionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, newBulkAcceptedResponse(bulk, invalid))
}

// GetStatusHandler returns the polling snapshot of a bulk.
func (h *Handlers) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	bulkID, ok := h.bulkIDParam(w, r)
	if !ok {
		return
	}
	status, err := h.status.GetStatus(r.Context(), bulkID)
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// GetDetailsHandler returns a bulk with its statistics.
func (h *Handlers) GetDetailsHandler(w http.ResponseWriter, r *http.Request) {
	bulkID, ok := h.bulkIDParam(w, r)
	if !ok {
		return
	}
	details, err := h.status.GetDetails(r.Context(), bulkID)
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

// GetProgressHandler returns the terminal/total counts of a bulk.
func (h *Handlers) GetProgressHandler(w http.ResponseWriter, r *http.Request) {
	bulkID, ok := h.bulkIDParam(w, r)
	if !ok {
		return
	}
	progress, err := h.orchestrator.GetProgress(r.Context(), bulkID)
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

// WaitHandler blocks until the bulk is terminal or the timeout elapses.
func (h *Handlers) WaitHandler(w http.ResponseWriter, r *http.Request) {
	bulkID, ok := h.bulkIDParam(w, r)
	if !ok {
		return
	}
	seconds, err := parseOptionalPositiveInt(r.URL.Query().Get("timeout"), int(app.DefaultWaitTimeout/time.Second))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid timeout")
		return
	}

	status, err := h.status.WaitForCompletion(r.Context(), bulkID, time.Duration(seconds)*time.Second)
	if errors.Is(err, app.ErrWaitTimeout) {
		h.writeJSON(w, http.StatusRequestTimeout, map[string]interface{}{
			"error":  "Bulk transfer did not complete within timeout",
			"status": status,
		})
		return
	}
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// ListHistoryHandler lists bulks newest first.
func (h *Handlers) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalPositiveInt(query.Get("limit"), store.DefaultHistoryLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(query.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}
	filter := domain.HistoryFilter{Limit: limit, Offset: offset}

	if raw := strings.TrimSpace(query.Get("state")); raw != "" {
		state, ok := domain.ParseBulkState(strings.ToUpper(raw))
		if !ok {
			h.writeError(w, http.StatusBadRequest, "Invalid state")
			return
		}
		filter.State = state
	}
	if filter.From, err = parseDateBound(query.Get("start_date"), false); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid start_date")
		return
	}
	if filter.To, err = parseDateBound(query.Get("end_date"), true); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid end_date")
		return
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		h.writeError(w, http.StatusBadRequest, "start_date must not be after end_date")
		return
	}

	page, err := h.status.ListHistory(r.Context(), filter)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_bulks outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// CancelHandler fails every item of a bulk that was not dispatched yet.
func (h *Handlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	bulkID, ok := h.bulkIDParam(w, r)
	if !ok {
		return
	}
	if _, err := h.orchestrator.CancelBulk(r.Context(), bulkID); err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	status, err := h.status.GetStatus(r.Context(), bulkID)
	if err != nil {
		code, message := mapBulkError(err)
		h.writeError(w, code, message)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) bulkIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	bulkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid bulk transfer ID")
		return uuid.Nil, false
	}
	return bulkID, true
}

func mapBulkError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrBulkNotFound):
		return http.StatusNotFound, "Bulk transfer not found"
	case errors.Is(err, store.ErrUploadTicketNotFound):
		return http.StatusNotFound, "Upload not found or expired"
	case errors.Is(err, app.ErrNoValidRows):
		return http.StatusBadRequest, "No valid rows to disburse"
	case errors.Is(err, app.ErrInvalidPayerAccount):
		return http.StatusBadRequest, "payer_account is required"
	case errors.Is(err, app.ErrMixedCurrencies):
		return http.StatusBadRequest, "All rows must use the settlement currency"
	case errors.Is(err, domain.ErrAmountOutOfRange):
		return http.StatusBadRequest, "Total amount exceeds the supported range"
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrNonPositiveAmount), errors.Is(err, domain.ErrAmountPrecision):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, store.ErrPayerAccountNotFound):
		return http.StatusBadRequest, "Payer account not found"
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusBadRequest, "Insufficient funds"
	case errors.Is(err, store.ErrCurrencyMismatch):
		return http.StatusBadRequest, "Payer account holds another currency"
	case errors.Is(err, app.ErrUnreadableUpload):
		return http.StatusBadRequest, "Upload could not be read"
	case errors.Is(err, app.ErrBulkNotCancellable):
		return http.StatusConflict, "Bulk transfer already finished"
	case errors.Is(err, app.ErrSubmissionRateLimited):
		return http.StatusTooManyRequests, "Too many bulk submissions; retry later"
	default:
		log.Printf("level=error component=api msg=\"unmapped error\" err=%v", err)
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeSubmissionError maps a bulk creation failure, adding Retry-After when
// the payer hit the submission limit.
func (h *Handlers) writeSubmissionError(w http.ResponseWriter, err error) {
	var limited *app.RateLimitError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter/time.Second)))
	}
	status, message := mapBulkError(err)
	h.writeError(w, status, message)
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// parseDateBound accepts YYYY-MM-DD or RFC3339. A date-only upper bound
// covers the whole day.
func parseDateBound(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
