package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ChargeStatus is the closed set of remote charge states the orchestrator branches on.
type ChargeStatus string

// Charge statuses.
const (
	StatusSucceeded             ChargeStatus = "succeeded"
	StatusProcessing            ChargeStatus = "processing"
	StatusRequiresPaymentMethod ChargeStatus = "requires_payment_method"
	StatusRequiresAction        ChargeStatus = "requires_action"
	StatusCanceled              ChargeStatus = "canceled"
	// StatusUnknown covers every remote state this service does not expect for an
	// off-session, auto-confirmed charge.
	StatusUnknown ChargeStatus = "unknown"
)

// Charge is the gateway's view of one payment.
type Charge struct {
	Ref            string
	Status         ChargeStatus
	RawStatus      string
	AmountCents    int64 // Requested amount.
	AmountReceived int64 // Captured amount; zero until succeeded.
	Currency       string
	DeclineCode    string
	DeclineMessage string
}

// ChargeRequest creates an off-session, auto-confirmed charge.
type ChargeRequest struct {
	AmountCents      int64
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Description      string
	Metadata         map[string]string
}

// ConfirmRequest re-confirms an existing charge, optionally with a different payment method.
type ConfirmRequest struct {
	ChargeRef        string
	PaymentMethodRef string
	IdempotencyKey   string
}

// Gateway is the payment provider used for wallet recharges.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, ref string) (*Charge, error)
	ConfirmCharge(ctx context.Context, req ConfirmRequest) (*Charge, error)
}

// ErrorKind groups gateway failures by how the caller should react.
type ErrorKind string

// Error kinds.
const (
	// KindTransient covers network, timeout, rate-limit and provider-side failures.
	KindTransient ErrorKind = "transient"
	// KindDeclined covers card declines and required customer action.
	KindDeclined ErrorKind = "declined"
	// KindInvalid covers malformed requests and authentication problems.
	KindInvalid ErrorKind = "invalid"
)

// Error is a classified gateway failure.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s error (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindDeclined
}

// AsError extracts a classified gateway error from err.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}
