package ledger

import (
	"time"

	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/money"
)

// TransactionView is the JSON rendering of a ledger entry.
type TransactionView struct {
	ID                uint64    `json:"id"`
	BusinessAccountID uint64    `json:"business_account_id"`
	Type              string    `json:"type"`
	Amount            string    `json:"amount"`
	AmountCents       int64     `json:"amount_cents"`
	BalanceAfter      string    `json:"balance_after"`
	Currency          string    `json:"currency"`
	Description       string    `json:"description"`
	Reference         string    `json:"reference,omitempty"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewTransactionView renders row; nil yields nil.
func NewTransactionView(row *models.WalletTransaction) *TransactionView {
	if row == nil {
		return nil
	}
	view := &TransactionView{
		ID:                row.ID,
		BusinessAccountID: row.BusinessAccountID,
		Type:              row.Type,
		Amount:            money.Format(row.AmountCents, row.Currency),
		AmountCents:       row.AmountCents,
		BalanceAfter:      money.Format(row.BalanceAfterCents, row.Currency),
		Currency:          money.NormalizeCurrency(row.Currency),
		Description:       row.Description,
		CreatedBy:         row.CreatedBy,
		CreatedAt:         row.CreatedAt,
	}
	if row.Reference != nil {
		view.Reference = *row.Reference
	}
	return view
}

// NewTransactionViews renders a page of entries.
func NewTransactionViews(rows []models.WalletTransaction) []*TransactionView {
	out := make([]*TransactionView, 0, len(rows))
	for i := range rows {
		out = append(out, NewTransactionView(&rows[i]))
	}
	return out
}
