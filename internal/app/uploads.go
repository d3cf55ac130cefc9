package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

var ErrUnreadableUpload = errors.New("upload could not be read")

// csvColumns maps accepted header names to row fields.
var csvColumns = map[string]string{
	"type_id":     "idType",
	"idtype":      "idType",
	"id_type":     "idType",
	"valeur_id":   "identifier",
	"identifier":  "identifier",
	"devise":      "currency",
	"currency":    "currency",
	"montant":     "amount",
	"amount":      "amount",
	"nom_complet": "name",
	"name":        "name",
}

// UploadService implements validate-then-confirm uploads backed by expiring tickets.
type UploadService struct {
	tickets      store.UploadTicketStore
	orchestrator *Orchestrator
	validator    *RowValidator
	ttl          time.Duration
	now          func() time.Time
}

func NewUploadService(tickets store.UploadTicketStore, orchestrator *Orchestrator, validator *RowValidator, ttl time.Duration) *UploadService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &UploadService{
		tickets:      tickets,
		orchestrator: orchestrator,
		validator:    validator,
		ttl:          ttl,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ParseCSV reads beneficiary rows from a CSV document with a header line.
func ParseCSV(r io.Reader) ([]domain.PaymentRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableUpload, err)
	}
	fields := make([]string, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		fields[i] = csvColumns[key]
	}

	var rows []domain.PaymentRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableUpload, err)
		}
		if isBlankRecord(record) {
			continue
		}
		var row domain.PaymentRow
		for i, value := range record {
			if i >= len(fields) {
				break
			}
			value = strings.TrimSpace(value)
			switch fields[i] {
			case "idType":
				row.IDType = value
			case "identifier":
				row.Identifier = value
			case "currency":
				row.Currency = value
			case "amount":
				row.Amount = json.Number(value)
			case "name":
				row.Name = value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Validate checks rows and stores the result as a ticket the caller confirms later.
func (s *UploadService) Validate(ctx context.Context, rows []domain.PaymentRow) (*domain.UploadTicket, error) {
	valid, invalid := s.validator.ValidateRows(rows)
	now := s.now()
	ticket := &domain.UploadTicket{
		ID:          uuid.New(),
		ValidRows:   valid,
		InvalidRows: invalid,
		TotalRows:   len(rows),
		Currency:    s.validator.Currency(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	for _, row := range valid {
		total, err := domain.AddAmount(ticket.TotalAmount, row.Amount)
		if err != nil {
			return nil, fmt.Errorf("upload total: %w", err)
		}
		ticket.TotalAmount = total
	}
	if err := s.tickets.SaveTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("save upload ticket: %w", err)
	}
	log.Printf("level=info component=uploads upload_id=%s total_rows=%d valid_rows=%d invalid_rows=%d msg=\"upload validated\"", ticket.ID, ticket.TotalRows, len(valid), len(invalid))
	return ticket, nil
}

// Get returns a pending ticket.
func (s *UploadService) Get(ctx context.Context, ticketID uuid.UUID) (*domain.UploadTicket, error) {
	return s.tickets.GetTicket(ctx, ticketID)
}

// Confirm consumes a ticket and creates a bulk from its valid rows.
func (s *UploadService) Confirm(ctx context.Context, ticketID uuid.UUID, payerAccount string) (*domain.BulkTransfer, error) {
	if strings.TrimSpace(payerAccount) == "" {
		return nil, ErrInvalidPayerAccount
	}
	pending, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if len(pending.ValidRows) == 0 {
		return nil, ErrNoValidRows
	}
	payerAccount = strings.TrimSpace(payerAccount)
	if err := s.orchestrator.checkSubmissionRate(ctx, payerAccount); err != nil {
		return nil, err
	}
	ticket, err := s.tickets.TakeTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	bulk, err := s.orchestrator.createValidated(ctx, payerAccount, ticket.ValidRows)
	if err != nil {
		// Nothing was created, so the upload stays confirmable.
		if restoreErr := s.tickets.SaveTicket(context.WithoutCancel(ctx), ticket); restoreErr != nil {
			log.Printf("level=error component=uploads upload_id=%s msg=\"ticket restore failed\" err=%v", ticket.ID, restoreErr)
		}
		return nil, err
	}
	return bulk, nil
}

// Cancel discards a pending ticket.
func (s *UploadService) Cancel(ctx context.Context, ticketID uuid.UUID) error {
	return s.tickets.DeleteTicket(ctx, ticketID)
}
