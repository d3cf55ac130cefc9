package app

import (
	"errors"
	"strings"

	"github.com/transfa/disbursement-service/internal/domain"
)

// Party identifier types accepted by the hub.
var supportedIDTypes = map[string]struct{}{
	"MSISDN":      {},
	"EMAIL":       {},
	"PERSONAL_ID": {},
	"BUSINESS":    {},
	"DEVICE":      {},
	"ACCOUNT_ID":  {},
	"IBAN":        {},
	"ALIAS":       {},
}

// RowValidator checks submitted rows against the settlement currency.
type RowValidator struct {
	currency string
}

func NewRowValidator(settlementCurrency string) *RowValidator {
	c := strings.ToUpper(strings.TrimSpace(settlementCurrency))
	if c == "" {
		c = "XOF"
	}
	return &RowValidator{currency: c}
}

// Currency is the settlement currency rows must use.
func (v *RowValidator) Currency() string {
	return v.currency
}

// ValidateRows splits rows into valid and rejected ones. Row numbers are 1-based input positions.
func (v *RowValidator) ValidateRows(rows []domain.PaymentRow) ([]domain.ValidatedRow, []domain.RowError) {
	valid := make([]domain.ValidatedRow, 0, len(rows))
	var invalid []domain.RowError
	for i, row := range rows {
		validated, rowErr := v.validate(i+1, row)
		if rowErr != nil {
			invalid = append(invalid, *rowErr)
			continue
		}
		valid = append(valid, validated)
	}
	return valid, invalid
}

func (v *RowValidator) validate(rowNumber int, row domain.PaymentRow) (domain.ValidatedRow, *domain.RowError) {
	reject := func(field, reason string) (domain.ValidatedRow, *domain.RowError) {
		return domain.ValidatedRow{}, &domain.RowError{RowNumber: rowNumber, Field: field, Reason: reason}
	}

	idType := strings.ToUpper(strings.TrimSpace(row.IDType))
	if idType == "" {
		return reject("idType", "identifier type is required")
	}
	if _, ok := supportedIDTypes[idType]; !ok {
		return reject("idType", "unsupported identifier type "+idType)
	}
	identifier := strings.TrimSpace(row.Identifier)
	if identifier == "" {
		return reject("identifier", "identifier is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		currency = v.currency
	}
	if currency != v.currency {
		return reject("currency", "currency must be "+v.currency)
	}

	raw := strings.TrimSpace(row.Amount.String())
	if raw == "" {
		return reject("amount", "amount is required")
	}
	amount, err := domain.ParseAmount(raw, currency)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNonPositiveAmount):
			return reject("amount", "amount must be greater than zero")
		case errors.Is(err, domain.ErrAmountPrecision):
			return reject("amount", "amount has too many decimals for "+currency)
		default:
			return reject("amount", err.Error())
		}
	}

	return domain.ValidatedRow{
		RowNumber:  rowNumber,
		IDType:     idType,
		Identifier: identifier,
		Name:       strings.TrimSpace(row.Name),
		Amount:     amount,
		Currency:   currency,
	}, nil
}
