package domain

import "time"

// PayerAccount is the funding account bulks are paid from. Reserved holds the
// totals of bulks still in flight; settled bulks debit Balance.
type PayerAccount struct {
	ID        string    `json:"accountId"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	Reserved  int64     `json:"reserved"`
	Available int64     `json:"available"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Refresh recomputes Available after Balance or Reserved changed.
func (a *PayerAccount) Refresh() {
	a.Available = a.Balance - a.Reserved
}

// SettledAmount is the sum of the completed items of a bulk.
func SettledAmount(transfers []IndividualTransfer) int64 {
	var total int64
	for _, t := range transfers {
		if t.Status == TransferStatusCompleted {
			total += t.Amount
		}
	}
	return total
}
