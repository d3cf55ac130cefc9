package app

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

func TestParseCSVAcceptsFrenchHeaders(t *testing.T) {
	doc := "\ufefftype_id,valeur_id,devise,montant,nom_complet\n" +
		"MSISDN,22507000001,XOF,15000,Awa Koné\n" +
		"\n" +
		" PERSONAL_ID , CI-0042 ,XOF, 20000 ,\n"

	rows, err := ParseCSV(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, domain.PaymentRow{IDType: "MSISDN", Identifier: "22507000001", Currency: "XOF", Amount: json.Number("15000"), Name: "Awa Koné"}, rows[0])
	assert.Equal(t, "PERSONAL_ID", rows[1].IDType)
	assert.Equal(t, "CI-0042", rows[1].Identifier)
	assert.Equal(t, json.Number("20000"), rows[1].Amount)
}

func TestParseCSVAcceptsEnglishHeadersAndIgnoresUnknownColumns(t *testing.T) {
	doc := "idType,identifier,comment,amount\nEMAIL,a@b.ci,retraite,10\n"

	rows, err := ParseCSV(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "EMAIL", rows[0].IDType)
	assert.Equal(t, "a@b.ci", rows[0].Identifier)
	assert.Equal(t, json.Number("10"), rows[0].Amount)
	assert.Empty(t, rows[0].Currency)
}

func TestParseCSVRejectsEmptyDocument(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrUnreadableUpload)
}

func TestUploadValidateThenConfirm(t *testing.T) {
	h := newHarness(t)
	ticket, err := h.svc.Uploads.Validate(h.ctx, []domain.PaymentRow{
		row("22507000001", "15000"),
		{IDType: "FAX", Identifier: "1", Amount: "10"},
		row("22507000002", "5000"),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, ticket.TotalRows)
	assert.Len(t, ticket.ValidRows, 2)
	require.Len(t, ticket.InvalidRows, 1)
	assert.Equal(t, 2, ticket.InvalidRows[0].RowNumber)
	assert.Equal(t, int64(20000), ticket.TotalAmount)
	assert.Equal(t, "XOF", ticket.Currency)
	assert.True(t, ticket.ExpiresAt.After(ticket.CreatedAt))
	assert.Zero(t, h.transport.count(PhaseLookup))

	bulk, err := h.svc.Uploads.Confirm(h.ctx, ticket.ID, "PAYER-001")
	require.NoError(t, err)
	h.svc.Orchestrator.Drain()

	assert.Equal(t, int64(20000), bulk.TotalAmount)
	assert.Equal(t, []int{1, 3}, []int{bulk.Transfers[0].RowNumber, bulk.Transfers[1].RowNumber})
	assert.Equal(t, 2, h.transport.count(PhaseLookup))

	_, err = h.svc.Uploads.Confirm(h.ctx, ticket.ID, "PAYER-001")
	assert.ErrorIs(t, err, store.ErrUploadTicketNotFound)
}

func TestUploadConfirmKeepsTicketOnBadInput(t *testing.T) {
	h := newHarness(t)
	ticket, err := h.svc.Uploads.Validate(h.ctx, []domain.PaymentRow{{IDType: "MSISDN", Amount: "10"}})
	require.NoError(t, err)

	_, err = h.svc.Uploads.Confirm(h.ctx, ticket.ID, "")
	assert.ErrorIs(t, err, ErrInvalidPayerAccount)
	_, err = h.svc.Uploads.Confirm(h.ctx, ticket.ID, "PAYER-001")
	assert.ErrorIs(t, err, ErrNoValidRows)

	_, err = h.svc.Uploads.Get(h.ctx, ticket.ID)
	assert.NoError(t, err)
}

func TestUploadCancel(t *testing.T) {
	h := newHarness(t)
	ticket, err := h.svc.Uploads.Validate(h.ctx, []domain.PaymentRow{row("22507000001", "100")})
	require.NoError(t, err)

	require.NoError(t, h.svc.Uploads.Cancel(h.ctx, ticket.ID))

	_, err = h.svc.Uploads.Get(h.ctx, ticket.ID)
	assert.ErrorIs(t, err, store.ErrUploadTicketNotFound)
	_, err = h.svc.Uploads.Confirm(h.ctx, ticket.ID, "PAYER-001")
	assert.ErrorIs(t, err, store.ErrUploadTicketNotFound)
	assert.ErrorIs(t, h.svc.Uploads.Cancel(h.ctx, uuid.New()), store.ErrUploadTicketNotFound)
}

func TestUploadTotalOverflowIsRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Uploads.Validate(h.ctx, []domain.PaymentRow{
		row("22507000001", "9000000000000000000"),
		row("22507000002", "9000000000000000000"),
	})
	assert.ErrorIs(t, err, domain.ErrAmountOutOfRange)
}
