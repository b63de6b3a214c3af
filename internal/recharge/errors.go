package recharge

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/luxeride/business-wallet/internal/gateway"
)

// Processing errors returned to callers. Everything else is persisted on the attempt.
var (
	// ErrAttemptNotFound is returned when the attempt id does not exist.
	ErrAttemptNotFound = errors.New("recharge: attempt not found")
	// ErrAccountBusy is returned when another attempt of the same account is being processed.
	ErrAccountBusy = errors.New("recharge: account busy")
	// ErrAttemptClaimed is returned when another processor owns the attempt.
	ErrAttemptClaimed = errors.New("recharge: attempt already claimed")
	// ErrAccountNotFound marks a missing or inactive business account.
	ErrAccountNotFound = errors.New("recharge: business account unavailable")
	// ErrPaymentMethodUnavailable marks a missing, inactive or unusable card.
	ErrPaymentMethodUnavailable = errors.New("recharge: payment method unavailable")
	// ErrLedgerWrite marks a captured charge whose ledger entry could not be written.
	ErrLedgerWrite = errors.New("recharge: ledger write failed")
	// ErrNotReconcilable is returned when reconciliation finds nothing to complete.
	ErrNotReconcilable = errors.New("recharge: attempt not reconcilable")
)

// Persisted error codes.
const (
	CodeAccountUnavailable       = "account_unavailable"
	CodePaymentMethodUnavailable = "payment_method_unavailable"
	CodeLedgerWriteFailed        = "ledger_write_failed"
	CodeChargeStateUnknown       = "charge_state_unknown"
	CodeChargeCanceled           = "charge_canceled"
	CodeUnexpectedStatus         = "unexpected_charge_status"
	CodeTransient                = "transient_error"
	CodeGateway                  = "gateway_error"
	CodeTimeout                  = "timeout"
)

// unresolvedChargeCodes mark failed attempts whose remote charge may have captured money.
// They keep the account from opening another attempt until reconciled.
var unresolvedChargeCodes = []string{CodeLedgerWriteFailed, CodeChargeStateUnknown}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"temporary failure",
	"network",
	"unexpected eof",
	"rate limit",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"api_error",
	"api error",
}

// Classify decides whether err may succeed on a later attempt and returns the code and
// message to persist.
func Classify(err error) (retryable bool, code string, message string) {
	if err == nil {
		return false, "", ""
	}
	if gwErr, ok := gateway.AsError(err); ok {
		code = gwErr.Code
		if code == "" {
			code = string(gwErr.Kind)
		}
		return gwErr.Retryable(), code, gwErr.Message
	}
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return false, CodeAccountUnavailable, err.Error()
	case errors.Is(err, ErrPaymentMethodUnavailable):
		return false, CodePaymentMethodUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true, CodeTimeout, err.Error()
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true, CodeTransient, err.Error()
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true, CodeTransient, err.Error()
		}
	}
	return false, CodeGateway, err.Error()
}
