package recharge

import (
	"time"

	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/money"
)

// AttemptView is the JSON rendering of an attempt shared by the HTTP surfaces.
type AttemptView struct {
	ID                  uint64     `json:"id"`
	BusinessAccountID   uint64     `json:"business_account_id"`
	Status              string     `json:"status"`
	TriggerSource       string     `json:"trigger_source"`
	Amount              string     `json:"amount"`
	AmountCents         int64      `json:"amount_cents"`
	TriggerBalance      string     `json:"trigger_balance"`
	Currency            string     `json:"currency"`
	PaymentMethodID     *uint64    `json:"payment_method_id,omitempty"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
	ChargeRef           string     `json:"charge_ref,omitempty"`
	ChargedAmountCents  int64      `json:"charged_amount_cents,omitempty"`
	WalletTransactionID *uint64    `json:"wallet_transaction_id,omitempty"`
	LastErrorCode       string     `json:"last_error_code,omitempty"`
	LastErrorMessage    string     `json:"last_error_message,omitempty"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewAttemptView renders attempt; nil yields nil.
func NewAttemptView(attempt *models.AutoRechargeAttempt) *AttemptView {
	if attempt == nil {
		return nil
	}
	view := &AttemptView{
		ID:                  attempt.ID,
		BusinessAccountID:   attempt.BusinessAccountID,
		Status:              string(attempt.Status),
		TriggerSource:       attempt.TriggerSource,
		Amount:              money.Format(attempt.AmountCents, attempt.Currency),
		AmountCents:         attempt.AmountCents,
		TriggerBalance:      money.Format(attempt.TriggerBalanceCents, attempt.Currency),
		Currency:            money.NormalizeCurrency(attempt.Currency),
		PaymentMethodID:     attempt.PaymentMethodID,
		RetryCount:          attempt.RetryCount,
		MaxRetries:          attempt.MaxRetries,
		ChargeRef:           attempt.ChargeRef,
		ChargedAmountCents:  attempt.ChargedAmountCents,
		WalletTransactionID: attempt.WalletTransactionID,
		LastErrorCode:       attempt.LastErrorCode,
		LastErrorMessage:    attempt.LastErrorMessage,
		ProcessedAt:         attempt.ProcessedAt,
		CreatedAt:           attempt.CreatedAt,
		UpdatedAt:           attempt.UpdatedAt,
	}
	if !attempt.Status.Terminal() {
		next := attempt.NextRetryAt
		view.NextRetryAt = &next
	}
	return view
}

// NewAttemptViews renders a page of attempts.
func NewAttemptViews(rows []models.AutoRechargeAttempt) []*AttemptView {
	out := make([]*AttemptView, 0, len(rows))
	for i := range rows {
		out = append(out, NewAttemptView(&rows[i]))
	}
	return out
}
