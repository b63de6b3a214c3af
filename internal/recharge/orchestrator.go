package recharge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/luxeride/business-wallet/internal/gateway"
	"github.com/luxeride/business-wallet/internal/ledger"
	"github.com/luxeride/business-wallet/internal/lock"
	"github.com/luxeride/business-wallet/internal/metrics"
	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/notify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// CreatedBy tags ledger rows written by the orchestrator.
const CreatedBy = "system:auto_recharge"

// persistTimeout bounds state writes that run after the caller's context is gone.
const persistTimeout = 15 * time.Second

// Outcome summarises what one Process call did.
type Outcome string

// Process outcomes.
const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeFailed         Outcome = "failed"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	// OutcomePendingConfirmation means the remote charge is still processing.
	OutcomePendingConfirmation Outcome = "pending_confirmation"
)

// Result is the state of an attempt after processing.
type Result struct {
	Attempt *models.AutoRechargeAttempt
	Outcome Outcome
	// AlreadyTerminal is set when the attempt had finished before this call.
	AlreadyTerminal bool
}

// Summary counts the outcomes of one sweep.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
	Pending   int `json:"pending"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Options wires an Orchestrator.
type Options struct {
	DB        *gorm.DB
	Gateway   gateway.Gateway
	Notifier  notify.Notifier
	Locker    lock.Locker
	Policy    Policy
	Now       func() time.Time
	PortalURL string
}

// Orchestrator drives auto-recharge attempts from pending to a terminal or retry state.
type Orchestrator struct {
	db        *gorm.DB
	store     *Store
	gateway   gateway.Gateway
	notifier  notify.Notifier
	locker    lock.Locker
	policy    Policy
	clock     func() time.Time
	portalURL string

	flight   singleflight.Group
	inflight sync.WaitGroup
}

// NewOrchestrator builds an orchestrator. A nil Locker selects an in-process lock.
func NewOrchestrator(opts Options) *Orchestrator {
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		db:        opts.DB,
		store:     NewStore(opts.DB),
		gateway:   opts.Gateway,
		notifier:  opts.Notifier,
		locker:    locker,
		policy:    opts.Policy.normalized(),
		clock:     clock,
		portalURL: opts.PortalURL,
	}
}

// Store exposes the attempt store.
func (o *Orchestrator) Store() *Store { return o.store }

// Policy returns the effective policy.
func (o *Orchestrator) Policy() Policy { return o.policy }

func (o *Orchestrator) now() time.Time { return o.clock().UTC() }

// Process drives one attempt. Concurrent calls for the same id inside this process share
// a single execution; across processes the conditional claim admits only one.
func (o *Orchestrator) Process(ctx context.Context, attemptID uint64) (*Result, error) {
	v, err, _ := o.flight.Do(strconv.FormatUint(attemptID, 10), func() (any, error) {
		return o.process(ctx, attemptID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (o *Orchestrator) process(ctx context.Context, attemptID uint64) (*Result, error) {
	start := time.Now()
	defer func() { metrics.RechargeDuration.Observe(time.Since(start).Seconds()) }()

	attempt, errGet := o.store.Get(ctx, attemptID)
	if errGet != nil {
		return nil, errGet
	}
	if attempt.Status.Terminal() {
		metrics.RechargeOutcomes.WithLabelValues(metrics.OutcomeAlreadyDone).Inc()
		return terminalResult(attempt, true), nil
	}

	lease, acquired, errLock := o.locker.TryAcquire(ctx, accountLockKey(attempt.BusinessAccountID))
	if errLock != nil {
		return nil, fmt.Errorf("recharge: lock account: %w", errLock)
	}
	if !acquired {
		metrics.RechargeOutcomes.WithLabelValues(metrics.OutcomeBusy).Inc()
		return nil, ErrAccountBusy
	}
	defer o.release(ctx, lease, attempt)

	now := o.now()
	claimed, errClaim := o.store.Claim(ctx, attempt.ID, now, now.Add(-o.policy.StaleAfter))
	if errClaim != nil {
		return nil, errClaim
	}
	if !claimed {
		metrics.RechargeOutcomes.WithLabelValues(metrics.OutcomeBusy).Inc()
		return nil, ErrAttemptClaimed
	}
	attempt.Status = models.AttemptStatusProcessing

	outcome, errDrive := o.drive(ctx, attempt)
	if errDrive != nil {
		o.logger(attempt).WithError(errDrive).Error("auto-recharge: persisting attempt state failed")
		return nil, errDrive
	}
	metrics.RechargeOutcomes.WithLabelValues(string(outcome)).Inc()

	fresh, errReload := o.store.Get(o.persistContext(ctx), attempt.ID)
	if errReload != nil {
		return nil, errReload
	}
	return &Result{Attempt: fresh, Outcome: outcome}, nil
}

func (o *Orchestrator) release(ctx context.Context, lease lock.Lease, attempt *models.AutoRechargeAttempt) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if errRelease := lease.Release(releaseCtx); errRelease != nil {
		o.logger(attempt).WithError(errRelease).Warn("auto-recharge: release account lock failed")
	}
}

// drive performs the gateway interaction for a claimed attempt and persists the outcome.
// The returned error is only set when the outcome itself could not be stored.
func (o *Orchestrator) drive(ctx context.Context, attempt *models.AutoRechargeAttempt) (Outcome, error) {
	var (
		charge *gateway.Charge
		errGw  error
	)
	if attempt.ChargeRef != "" {
		charge, errGw = o.gateway.GetCharge(ctx, attempt.ChargeRef)
		if errGw != nil {
			return o.handleChargeError(ctx, attempt, errGw)
		}
		if charge.Status == gateway.StatusRequiresPaymentMethod || charge.Status == gateway.StatusRequiresAction {
			_, method, errResolve := o.resolve(ctx, attempt)
			if errResolve != nil {
				return o.handleError(ctx, attempt, errResolve)
			}
			charge, errGw = o.gateway.ConfirmCharge(ctx, gateway.ConfirmRequest{
				ChargeRef:        attempt.ChargeRef,
				PaymentMethodRef: method.GatewayRef,
				IdempotencyKey:   confirmKey(attempt),
			})
			if errGw != nil {
				return o.handleChargeError(ctx, attempt, errGw)
			}
		}
	} else {
		account, method, errResolve := o.resolve(ctx, attempt)
		if errResolve != nil {
			return o.handleError(ctx, attempt, errResolve)
		}
		charge, errGw = o.gateway.CreateCharge(ctx, gateway.ChargeRequest{
			AmountCents:      attempt.AmountCents,
			Currency:         attempt.Currency,
			CustomerRef:      account.CustomerRef,
			PaymentMethodRef: method.GatewayRef,
			IdempotencyKey:   attempt.IdempotencyKey,
			Description:      fmt.Sprintf("Wallet auto-recharge for %s", account.Name),
			Metadata: map[string]string{
				"business_account_id": strconv.FormatUint(attempt.BusinessAccountID, 10),
				"attempt_id":          strconv.FormatUint(attempt.ID, 10),
			},
		})
		if errGw != nil {
			return o.handleError(ctx, attempt, errGw)
		}
		if charge.Ref != "" {
			if errSave := o.store.SaveChargeRef(o.persistContext(ctx), attempt.ID, charge.Ref, o.now()); errSave != nil {
				return "", errSave
			}
			attempt.ChargeRef = charge.Ref
		}
	}

	return o.applyStatus(ctx, attempt, charge)
}

// applyStatus branches on the closed charge status set.
func (o *Orchestrator) applyStatus(ctx context.Context, attempt *models.AutoRechargeAttempt, charge *gateway.Charge) (Outcome, error) {
	entry := o.logger(attempt).WithFields(log.Fields{"charge_ref": charge.Ref, "charge_status": charge.RawStatus})
	switch charge.Status {
	case gateway.StatusSucceeded:
		return o.complete(ctx, attempt, charge)
	case gateway.StatusProcessing:
		now := o.now()
		if errRequeue := o.store.Requeue(o.persistContext(ctx), attempt.ID, now.Add(o.policy.PollInterval), now); errRequeue != nil {
			return "", errRequeue
		}
		entry.Info("auto-recharge: charge still processing, re-polling later")
		return OutcomePendingConfirmation, nil
	case gateway.StatusRequiresPaymentMethod, gateway.StatusRequiresAction:
		code := charge.DeclineCode
		if code == "" {
			code = string(charge.Status)
		}
		message := charge.DeclineMessage
		if message == "" {
			message = "payment method was declined or requires customer action"
		}
		return o.retryOrFail(ctx, attempt, code, message)
	case gateway.StatusCanceled:
		return o.fail(ctx, attempt, attempt.RetryCount, CodeChargeCanceled, "the charge was canceled")
	default:
		entry.Error("auto-recharge: unexpected charge status")
		return o.fail(ctx, attempt, attempt.RetryCount, CodeUnexpectedStatus, fmt.Sprintf("unexpected charge status %q", charge.RawStatus))
	}
}

// complete writes the ledger credit and marks the attempt succeeded in one transaction.
func (o *Orchestrator) complete(ctx context.Context, attempt *models.AutoRechargeAttempt, charge *gateway.Charge) (Outcome, error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	amount := charge.AmountReceived
	if amount <= 0 {
		amount = attempt.AmountCents
	}
	method := o.loadPaymentMethod(persistCtx, attempt)
	now := o.now()

	var row *models.WalletTransaction
	errTx := o.db.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
		applied, errApply := ledger.Apply(persistCtx, tx, ledger.Entry{
			BusinessAccountID: attempt.BusinessAccountID,
			AmountCents:       amount,
			Type:              models.WalletTxCreditAdded,
			Description:       rechargeDescription(method),
			Reference:         charge.Ref,
			CreatedBy:         CreatedBy,
		})
		if errApply != nil {
			return errApply
		}
		row = applied
		return o.store.MarkSucceeded(tx, attempt.ID, amount, applied.ID, now)
	})
	if errors.Is(errTx, ledger.ErrDuplicateReference) {
		existing, errFind := ledger.FindByReference(persistCtx, o.db, charge.Ref)
		if errFind == nil && existing != nil && existing.BusinessAccountID == attempt.BusinessAccountID {
			errTx = o.db.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
				return o.store.MarkSucceeded(tx, attempt.ID, existing.AmountCents, existing.ID, now)
			})
			row = existing
		}
	}
	if errTx != nil {
		if errors.Is(errTx, ErrAttemptClaimed) {
			return "", errTx
		}
		return o.ledgerFailure(persistCtx, attempt, charge, errTx)
	}

	o.logger(attempt).WithFields(log.Fields{
		"charge_ref":            charge.Ref,
		"amount_cents":          amount,
		"wallet_transaction_id": row.ID,
	}).Info("auto-recharge: wallet credited")
	attempt.ChargedAmountCents = amount
	o.dispatch(o.successMessage(attempt, method, row))
	return OutcomeSucceeded, nil
}

// ledgerFailure records a captured charge that has no ledger entry. It is never retried
// automatically; an operator completes it through Reconcile.
func (o *Orchestrator) ledgerFailure(ctx context.Context, attempt *models.AutoRechargeAttempt, charge *gateway.Charge, cause error) (Outcome, error) {
	metrics.LedgerWriteFailures.Inc()
	o.logger(attempt).WithError(cause).WithFields(log.Fields{
		"alert":      true,
		"charge_ref": charge.Ref,
	}).Error("auto-recharge: charge captured but ledger write failed, manual reconciliation required")

	message := fmt.Sprintf("%v: %v", ErrLedgerWrite, cause)
	if errMark := o.store.MarkFailed(ctx, attempt.ID, attempt.RetryCount, CodeLedgerWriteFailed, message, o.now()); errMark != nil {
		return "", errMark
	}
	return OutcomeFailed, nil
}

// handleError classifies err and persists the matching transition.
func (o *Orchestrator) handleError(ctx context.Context, attempt *models.AutoRechargeAttempt, err error) (Outcome, error) {
	retryable, code, message := Classify(err)
	o.logger(attempt).WithError(err).WithFields(log.Fields{
		"retryable":  retryable,
		"error_code": code,
	}).Warn("auto-recharge: attempt failed")
	if retryable {
		return o.retryOrFail(ctx, attempt, code, message)
	}
	return o.fail(ctx, attempt, attempt.RetryCount, code, message)
}

// handleChargeError handles gateway errors for an attempt whose charge already exists. Once
// retries run out the attempt is parked for reconciliation; the customer is not told it failed.
func (o *Orchestrator) handleChargeError(ctx context.Context, attempt *models.AutoRechargeAttempt, err error) (Outcome, error) {
	retryable, code, message := Classify(err)
	o.logger(attempt).WithError(err).WithFields(log.Fields{
		"retryable":  retryable,
		"error_code": code,
		"charge_ref": attempt.ChargeRef,
	}).Warn("auto-recharge: charge lookup failed")
	if retryable && attempt.RetryCount+1 < attempt.MaxRetries {
		return o.retryOrFail(ctx, attempt, code, message)
	}
	retryCount := attempt.RetryCount
	if retryable {
		retryCount++
	}
	return o.chargeUnresolved(ctx, attempt, retryCount, fmt.Sprintf("state of charge %s unknown: %s", attempt.ChargeRef, message))
}

// chargeUnresolved fails the attempt with CodeChargeStateUnknown, which blocks new attempts
// for the account until an operator reconciles it.
func (o *Orchestrator) chargeUnresolved(ctx context.Context, attempt *models.AutoRechargeAttempt, retryCount int, message string) (Outcome, error) {
	metrics.UnresolvedCharges.Inc()
	o.logger(attempt).WithFields(log.Fields{
		"alert":      true,
		"charge_ref": attempt.ChargeRef,
	}).Error("auto-recharge: charge state unknown, manual reconciliation required")
	if errMark := o.store.MarkFailed(o.persistContext(ctx), attempt.ID, retryCount, CodeChargeStateUnknown, message, o.now()); errMark != nil {
		return "", errMark
	}
	attempt.RetryCount = retryCount
	return OutcomeFailed, nil
}

// retryOrFail consumes one retry and either schedules the next run or gives up.
func (o *Orchestrator) retryOrFail(ctx context.Context, attempt *models.AutoRechargeAttempt, code, message string) (Outcome, error) {
	retryCount := attempt.RetryCount + 1
	if retryCount >= attempt.MaxRetries {
		return o.fail(ctx, attempt, retryCount, code, message)
	}
	now := o.now()
	next := now.Add(o.policy.Backoff(retryCount))
	if errSchedule := o.store.ScheduleRetry(o.persistContext(ctx), attempt.ID, retryCount, next, code, message, now); errSchedule != nil {
		return "", errSchedule
	}
	attempt.RetryCount = retryCount
	o.logger(attempt).WithField("next_retry_at", next).Info("auto-recharge: retry scheduled")
	return OutcomeRetryScheduled, nil
}

// fail moves the attempt to failed and notifies billing contacts.
func (o *Orchestrator) fail(ctx context.Context, attempt *models.AutoRechargeAttempt, retryCount int, code, message string) (Outcome, error) {
	persistCtx := o.persistContext(ctx)
	if errMark := o.store.MarkFailed(persistCtx, attempt.ID, retryCount, code, message, o.now()); errMark != nil {
		return "", errMark
	}
	attempt.RetryCount = retryCount
	method := o.loadPaymentMethod(persistCtx, attempt)
	o.dispatch(o.failureMessage(attempt, method, message))
	return OutcomeFailed, nil
}

// resolve loads the account and the card to charge, failing on any configuration gap.
func (o *Orchestrator) resolve(ctx context.Context, attempt *models.AutoRechargeAttempt) (*models.BusinessAccount, *models.PaymentMethod, error) {
	var account models.BusinessAccount
	if errFind := o.db.WithContext(ctx).Where("id = ?", attempt.BusinessAccountID).Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: account %d does not exist", ErrAccountNotFound, attempt.BusinessAccountID)
		}
		return nil, nil, fmt.Errorf("recharge: load account: %w", errFind)
	}
	if !account.IsActive {
		return nil, nil, fmt.Errorf("%w: account %d is inactive", ErrAccountNotFound, account.ID)
	}
	if account.CustomerRef == "" {
		return nil, nil, fmt.Errorf("%w: account %d has no gateway customer", ErrPaymentMethodUnavailable, account.ID)
	}

	methodID := attempt.PaymentMethodID
	if methodID == nil {
		methodID = account.DefaultPaymentMethodID
	}
	if methodID == nil {
		return nil, nil, fmt.Errorf("%w: no payment method on file", ErrPaymentMethodUnavailable)
	}
	var method models.PaymentMethod
	if errFind := o.db.WithContext(ctx).Where("id = ?", *methodID).Take(&method).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: payment method %d does not exist", ErrPaymentMethodUnavailable, *methodID)
		}
		return nil, nil, fmt.Errorf("recharge: load payment method: %w", errFind)
	}
	switch {
	case method.BusinessAccountID != account.ID:
		return nil, nil, fmt.Errorf("%w: payment method %d belongs to another account", ErrPaymentMethodUnavailable, method.ID)
	case !method.IsActive:
		return nil, nil, fmt.Errorf("%w: payment method %d is inactive", ErrPaymentMethodUnavailable, method.ID)
	case method.GatewayRef == "":
		return nil, nil, fmt.Errorf("%w: payment method %d is not saved with the gateway", ErrPaymentMethodUnavailable, method.ID)
	case method.Expired(o.now()):
		return nil, nil, fmt.Errorf("%w: %s has expired", ErrPaymentMethodUnavailable, method.Masked())
	}
	return &account, &method, nil
}

// loadPaymentMethod returns the attempt's card, falling back to the account default like resolve.
func (o *Orchestrator) loadPaymentMethod(ctx context.Context, attempt *models.AutoRechargeAttempt) *models.PaymentMethod {
	methodID := attempt.PaymentMethodID
	if methodID == nil {
		var account models.BusinessAccount
		if errFind := o.db.WithContext(ctx).
			Select("id", "default_payment_method_id").
			Where("id = ?", attempt.BusinessAccountID).
			Take(&account).Error; errFind != nil {
			return nil
		}
		methodID = account.DefaultPaymentMethodID
	}
	if methodID == nil {
		return nil
	}
	var method models.PaymentMethod
	if errFind := o.db.WithContext(ctx).
		Where("id = ? AND business_account_id = ?", *methodID, attempt.BusinessAccountID).
		Take(&method).Error; errFind != nil {
		return nil
	}
	return &method
}

// dispatch delivers msg on a detached goroutine; failures are only logged.
func (o *Orchestrator) dispatch(msg notify.Message) {
	if o.notifier == nil {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("business_account_id", msg.BusinessAccountID).Errorf("auto-recharge: notification panic: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), o.policy.NotificationTimeout)
		defer cancel()
		if errNotify := o.notifier.Notify(ctx, msg); errNotify != nil {
			log.WithError(errNotify).WithFields(log.Fields{
				"business_account_id": msg.BusinessAccountID,
				"type":                msg.Type,
			}).Warn("auto-recharge: notification failed")
		}
	}()
}

// Drain waits for in-flight notifications.
func (o *Orchestrator) Drain() {
	o.inflight.Wait()
}

// ProcessDue processes up to limit due attempts one after another. limit <= 0 uses the
// policy batch size.
func (o *Orchestrator) ProcessDue(ctx context.Context, limit int) (Summary, error) {
	if limit <= 0 {
		limit = o.policy.BatchSize
	}
	now := o.now()
	ids, errList := o.store.ListDue(ctx, now, now.Add(-o.policy.StaleAfter), limit)
	if errList != nil {
		return Summary{}, errList
	}

	var summary Summary
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		result, errProcess := o.Process(ctx, id)
		switch {
		case errors.Is(errProcess, ErrAccountBusy), errors.Is(errProcess, ErrAttemptClaimed), errors.Is(errProcess, ErrAttemptNotFound):
			summary.Skipped++
			continue
		case errProcess != nil:
			summary.Errors++
			log.WithError(errProcess).WithField("attempt_id", id).Warn("auto-recharge: sweep item failed")
			continue
		}
		summary.Processed++
		switch result.Outcome {
		case OutcomeSucceeded:
			summary.Succeeded++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeRetryScheduled:
			summary.Retrying++
		case OutcomePendingConfirmation:
			summary.Pending++
		}
	}
	return summary, nil
}

// Reconcile completes an attempt whose charge succeeded remotely but whose ledger entry is
// missing. An attempt parked with an unknown charge state is closed as failed when the charge
// did not capture money. It never creates or confirms charges.
func (o *Orchestrator) Reconcile(ctx context.Context, attemptID uint64) (*Result, error) {
	attempt, errGet := o.store.Get(ctx, attemptID)
	if errGet != nil {
		return nil, errGet
	}
	if attempt.Status == models.AttemptStatusSucceeded {
		return terminalResult(attempt, true), nil
	}
	if attempt.ChargeRef == "" {
		return nil, fmt.Errorf("%w: no charge reference recorded", ErrNotReconcilable)
	}
	if attempt.Status != models.AttemptStatusFailed {
		return nil, fmt.Errorf("%w: attempt is %s", ErrNotReconcilable, attempt.Status)
	}

	lease, acquired, errLock := o.locker.TryAcquire(ctx, accountLockKey(attempt.BusinessAccountID))
	if errLock != nil {
		return nil, fmt.Errorf("recharge: lock account: %w", errLock)
	}
	if !acquired {
		return nil, ErrAccountBusy
	}
	defer o.release(ctx, lease, attempt)

	charge, errGw := o.gateway.GetCharge(ctx, attempt.ChargeRef)
	if errGw != nil {
		return nil, fmt.Errorf("recharge: retrieve charge: %w", errGw)
	}
	if charge.Status != gateway.StatusSucceeded {
		if attempt.LastErrorCode == CodeChargeStateUnknown && chargeSettledUnpaid(charge.Status) {
			return o.resolveUnpaid(ctx, attempt, charge)
		}
		return nil, fmt.Errorf("%w: charge %s is %s", ErrNotReconcilable, charge.Ref, charge.RawStatus)
	}

	amount := charge.AmountReceived
	if amount <= 0 {
		amount = attempt.AmountCents
	}
	method := o.loadPaymentMethod(ctx, attempt)
	now := o.now()
	var row *models.WalletTransaction
	errTx := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, errFind := ledger.FindByReference(ctx, tx, charge.Ref)
		if errFind != nil {
			return errFind
		}
		if existing != nil && existing.BusinessAccountID != attempt.BusinessAccountID {
			return fmt.Errorf("%w: reference %s is booked on account %d", ErrNotReconcilable, charge.Ref, existing.BusinessAccountID)
		}
		if existing == nil {
			applied, errApply := ledger.Apply(ctx, tx, ledger.Entry{
				BusinessAccountID: attempt.BusinessAccountID,
				AmountCents:       amount,
				Type:              models.WalletTxCreditAdded,
				Description:       rechargeDescription(method),
				Reference:         charge.Ref,
				CreatedBy:         CreatedBy,
			})
			if errApply != nil {
				return errApply
			}
			existing = applied
		}
		row = existing
		return o.store.MarkReconciled(tx, attempt.ID, existing.AmountCents, existing.ID, now)
	})
	if errTx != nil {
		return nil, errTx
	}
	o.logger(attempt).WithFields(log.Fields{
		"charge_ref":            charge.Ref,
		"wallet_transaction_id": row.ID,
	}).Warn("auto-recharge: attempt reconciled")

	fresh, errReload := o.store.Get(ctx, attempt.ID)
	if errReload != nil {
		return nil, errReload
	}
	o.dispatch(o.successMessage(fresh, method, row))
	return &Result{Attempt: fresh, Outcome: OutcomeSucceeded}, nil
}

// resolveUnpaid closes a charge_state_unknown attempt whose charge turned out not to capture
// money, then sends the failure notification that was held back.
func (o *Orchestrator) resolveUnpaid(ctx context.Context, attempt *models.AutoRechargeAttempt, charge *gateway.Charge) (*Result, error) {
	code := CodeChargeCanceled
	message := "the charge was canceled"
	if charge.Status != gateway.StatusCanceled {
		code = charge.DeclineCode
		if code == "" {
			code = string(charge.Status)
		}
		message = charge.DeclineMessage
		if message == "" {
			message = "payment method was declined or requires customer action"
		}
	}
	if errResolve := o.store.ResolveUnknown(ctx, attempt.ID, code, message, o.now()); errResolve != nil {
		return nil, errResolve
	}
	o.logger(attempt).WithFields(log.Fields{
		"charge_ref":    charge.Ref,
		"charge_status": charge.RawStatus,
	}).Warn("auto-recharge: unknown charge resolved as unpaid")

	fresh, errReload := o.store.Get(ctx, attempt.ID)
	if errReload != nil {
		return nil, errReload
	}
	o.dispatch(o.failureMessage(fresh, o.loadPaymentMethod(ctx, fresh), message))
	return &Result{Attempt: fresh, Outcome: OutcomeFailed}, nil
}

func chargeSettledUnpaid(status gateway.ChargeStatus) bool {
	switch status {
	case gateway.StatusCanceled, gateway.StatusRequiresPaymentMethod, gateway.StatusRequiresAction:
		return true
	}
	return false
}

// persistContext keeps state writes alive when the caller goes away after a gateway call.
func (o *Orchestrator) persistContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (o *Orchestrator) logger(attempt *models.AutoRechargeAttempt) *log.Entry {
	return log.WithFields(log.Fields{
		"attempt_id":          attempt.ID,
		"business_account_id": attempt.BusinessAccountID,
	})
}

func terminalResult(attempt *models.AutoRechargeAttempt, already bool) *Result {
	outcome := OutcomeFailed
	if attempt.Status == models.AttemptStatusSucceeded {
		outcome = OutcomeSucceeded
	}
	return &Result{Attempt: attempt, Outcome: outcome, AlreadyTerminal: already}
}

func accountLockKey(accountID uint64) string {
	return "business_account:" + strconv.FormatUint(accountID, 10)
}

// confirmKey derives a per-retry key for confirmations; the attempt key itself stays bound
// to the original creation request.
func confirmKey(attempt *models.AutoRechargeAttempt) string {
	return fmt.Sprintf("%s:confirm:%d", attempt.IdempotencyKey, attempt.RetryCount)
}
