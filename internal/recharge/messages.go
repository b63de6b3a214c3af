package recharge

import (
	"fmt"
	"strings"

	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/money"
	"github.com/luxeride/business-wallet/internal/notify"
)

func rechargeDescription(method *models.PaymentMethod) string {
	if method == nil {
		return "Wallet auto-recharge"
	}
	return "Wallet auto-recharge via " + method.Masked()
}

func maskedOrDefault(method *models.PaymentMethod) string {
	if method == nil {
		return "your saved card"
	}
	return method.Masked()
}

func (o *Orchestrator) walletLink() string {
	if o.portalURL == "" {
		return ""
	}
	return strings.TrimRight(o.portalURL, "/") + "/wallet"
}

func (o *Orchestrator) successMessage(attempt *models.AutoRechargeAttempt, method *models.PaymentMethod, row *models.WalletTransaction) notify.Message {
	amount := attempt.ChargedAmountCents
	if amount <= 0 {
		amount = attempt.AmountCents
	}
	data := map[string]any{
		"attempt_id":     attempt.ID,
		"amount":         money.Format(amount, attempt.Currency),
		"currency":       strings.ToUpper(money.NormalizeCurrency(attempt.Currency)),
		"payment_method": maskedOrDefault(method),
		"charge_ref":     attempt.ChargeRef,
	}
	body := fmt.Sprintf("We added %s to your wallet using %s.", money.Display(amount, attempt.Currency), maskedOrDefault(method))
	if row != nil {
		data["balance_after"] = money.Format(row.BalanceAfterCents, attempt.Currency)
		data["wallet_transaction_id"] = row.ID
		body += fmt.Sprintf(" New balance: %s.", money.Display(row.BalanceAfterCents, attempt.Currency))
	}
	return notify.Message{
		BusinessAccountID: attempt.BusinessAccountID,
		Type:              notify.TypeAutoRechargeSucceeded,
		Category:          notify.CategoryBilling,
		Title:             "Wallet recharged",
		Body:              body,
		Link:              o.walletLink(),
		Data:              data,
	}
}

func (o *Orchestrator) failureMessage(attempt *models.AutoRechargeAttempt, method *models.PaymentMethod, reason string) notify.Message {
	return notify.Message{
		BusinessAccountID: attempt.BusinessAccountID,
		Type:              notify.TypeAutoRechargeFailed,
		Category:          notify.CategoryBilling,
		Title:             "Auto-recharge failed",
		Body: fmt.Sprintf("We could not add %s to your wallet using %s: %s. Please update your payment method.",
			money.Display(attempt.AmountCents, attempt.Currency), maskedOrDefault(method), reason),
		Link: o.walletLink(),
		Data: map[string]any{
			"attempt_id":     attempt.ID,
			"amount":         money.Format(attempt.AmountCents, attempt.Currency),
			"currency":       strings.ToUpper(money.NormalizeCurrency(attempt.Currency)),
			"payment_method": maskedOrDefault(method),
			"reason":         reason,
			"retry_count":    attempt.RetryCount,
		},
	}
}
