package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/luxeride/business-wallet/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeGateway charges saved cards through Stripe PaymentIntents.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a Stripe-backed gateway; timeout bounds each HTTP call.
func NewStripeGateway(secretKey string, timeout time.Duration) (*StripeGateway, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errors.New("gateway: empty stripe secret key")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return &StripeGateway{api: api}, nil
}

// CreateCharge creates and confirms a PaymentIntent off-session.
func (g *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	metrics.ObserveGateway("create", err)
	return chargeOrError(pi, err)
}

// GetCharge retrieves a PaymentIntent by id.
func (g *StripeGateway) GetCharge(ctx context.Context, ref string) (*Charge, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(ref, params)
	metrics.ObserveGateway("retrieve", err)
	return chargeOrError(pi, err)
}

// ConfirmCharge re-confirms an existing PaymentIntent off-session.
func (g *StripeGateway) ConfirmCharge(ctx context.Context, req ConfirmRequest) (*Charge, error) {
	params := &stripe.PaymentIntentConfirmParams{
		OffSession: stripe.Bool(true),
	}
	if req.PaymentMethodRef != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodRef)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := g.api.PaymentIntents.Confirm(req.ChargeRef, params)
	metrics.ObserveGateway("confirm", err)
	return chargeOrError(pi, err)
}

// chargeOrError maps a Stripe response. Card errors raised while confirming still carry the
// PaymentIntent; those are returned as a charge so the caller keeps its reference.
func chargeOrError(pi *stripe.PaymentIntent, err error) (*Charge, error) {
	if err == nil {
		if pi == nil {
			return nil, &Error{Kind: KindTransient, Message: "empty payment intent response"}
		}
		return mapPaymentIntent(pi), nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeCard && stripeErr.PaymentIntent != nil && stripeErr.PaymentIntent.ID != "" {
			charge := mapPaymentIntent(stripeErr.PaymentIntent)
			if charge.DeclineCode == "" {
				charge.DeclineCode = declineCode(stripeErr)
				charge.DeclineMessage = stripeErr.Msg
			}
			return charge, nil
		}
		return nil, mapStripeError(stripeErr)
	}
	log.WithError(err).Debug("gateway: stripe transport error")
	return nil, err
}

func mapPaymentIntent(pi *stripe.PaymentIntent) *Charge {
	charge := &Charge{
		Ref:            pi.ID,
		Status:         mapStatus(pi.Status),
		RawStatus:      string(pi.Status),
		AmountCents:    pi.Amount,
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
	}
	if pi.LastPaymentError != nil {
		charge.DeclineCode = declineCode(pi.LastPaymentError)
		charge.DeclineMessage = pi.LastPaymentError.Msg
	}
	return charge
}

func mapStatus(status stripe.PaymentIntentStatus) ChargeStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusRequiresPaymentMethod
	case stripe.PaymentIntentStatusRequiresAction:
		return StatusRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

func declineCode(e *stripe.Error) string {
	if e == nil {
		return ""
	}
	if e.DeclineCode != "" {
		return string(e.DeclineCode)
	}
	return string(e.Code)
}

func mapStripeError(e *stripe.Error) *Error {
	out := &Error{Code: declineCode(e), Message: e.Msg, Err: e}
	if out.Code == "" {
		out.Code = string(e.Type)
	}
	if out.Message == "" {
		out.Message = "stripe request failed with status " + strconv.Itoa(e.HTTPStatusCode)
	}
	switch {
	case e.Type == stripe.ErrorTypeCard:
		out.Kind = KindDeclined
	case e.HTTPStatusCode == http.StatusTooManyRequests || e.Code == stripe.ErrorCodeRateLimit:
		out.Kind = KindTransient
	case e.Type == stripe.ErrorTypeAPI || e.HTTPStatusCode >= 500:
		out.Kind = KindTransient
	case e.HTTPStatusCode == http.StatusConflict && e.Type != stripe.ErrorTypeIdempotency:
		// Concurrent request with the same idempotency key still in flight.
		out.Kind = KindTransient
	default:
		out.Kind = KindInvalid
	}
	return out
}

var _ Gateway = (*StripeGateway)(nil)

// String renders a charge for logs.
func (c *Charge) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s[%s]", c.Ref, c.RawStatus)
}
