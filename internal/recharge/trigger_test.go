package recharge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/settings"
)

func TestEvaluateCreatesPendingAttempt(t *testing.T) {
	f := newFixture(t)
	trigger := NewTrigger(f.db, f.orch)

	attempt, created, err := trigger.Evaluate(context.Background(), f.account.ID, "")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !created || attempt == nil {
		t.Fatalf("created = %v, attempt = %v", created, attempt)
	}
	if attempt.Status != models.AttemptStatusPending || attempt.AmountCents != 10000 || attempt.TriggerBalanceCents != 2000 {
		t.Fatalf("attempt = %+v", attempt)
	}
	if attempt.TriggerSource != models.TriggerSourceThreshold || attempt.Currency != "usd" {
		t.Fatalf("source %q currency %q", attempt.TriggerSource, attempt.Currency)
	}
	if attempt.PaymentMethodID == nil || *attempt.PaymentMethodID != f.method.ID {
		t.Fatalf("payment method = %v, want %d", attempt.PaymentMethodID, f.method.ID)
	}
	if attempt.IdempotencyKey == "" || attempt.MaxRetries != 3 {
		t.Fatalf("key %q max retries %d", attempt.IdempotencyKey, attempt.MaxRetries)
	}
	if !attempt.NextRetryAt.Equal(f.clock.Now()) {
		t.Fatalf("next_retry_at = %s, want now", attempt.NextRetryAt)
	}

	again, created, err := trigger.Evaluate(context.Background(), f.account.ID, models.TriggerSourceManual)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if created || again != nil {
		t.Fatalf("second evaluate created an attempt while one is open")
	}
}

func TestEvaluateSkipsIneligibleAccounts(t *testing.T) {
	cases := []struct {
		name   string
		column string
		value  any
	}{
		{"balance at threshold", "balance_cents", 5000},
		{"disabled", "auto_recharge_enabled", false},
		{"inactive", "is_active", false},
		{"zero amount", "auto_recharge_amount_cents", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.db.Model(f.account).Update(tc.column, tc.value).Error; err != nil {
				t.Fatalf("update %s: %v", tc.column, err)
			}
			attempt, created, err := NewTrigger(f.db, f.orch).Evaluate(context.Background(), f.account.ID, "")
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if created || attempt != nil {
				t.Fatalf("attempt created for ineligible account")
			}
		})
	}
}

func TestEvaluateUnknownAccount(t *testing.T) {
	f := newFixture(t)
	if _, _, err := NewTrigger(f.db, f.orch).Evaluate(context.Background(), 9999, ""); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestEvaluateRetryBudget(t *testing.T) {
	f := newFixture(t)
	trigger := NewTrigger(f.db, f.orch)

	settings.StoreSnapshot(time.Now(), map[string]json.RawMessage{
		settings.AutoRechargeDefaultMaxRetriesKey: json.RawMessage("5"),
	})
	t.Cleanup(func() { settings.StoreSnapshot(time.Time{}, nil) })

	attempt, created, err := trigger.Evaluate(context.Background(), f.account.ID, "")
	if err != nil || !created {
		t.Fatalf("evaluate: created=%v err=%v", created, err)
	}
	if attempt.MaxRetries != 5 {
		t.Fatalf("max retries = %d, want settings default 5", attempt.MaxRetries)
	}

	other, _ := f.seedAccount(t, "Other Co", "cus_other")
	if errUpdate := f.db.Model(other).Update("auto_recharge_max_retries", 2).Error; errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	attempt, created, err = trigger.Evaluate(context.Background(), other.ID, "")
	if err != nil || !created {
		t.Fatalf("evaluate other: created=%v err=%v", created, err)
	}
	if attempt.MaxRetries != 2 {
		t.Fatalf("max retries = %d, want account override 2", attempt.MaxRetries)
	}
}

func TestEvaluateAfterTerminalAttempt(t *testing.T) {
	f := newFixture(t)
	trigger := NewTrigger(f.db, f.orch)
	f.newAttempt(t, f.account, f.method, func(a *models.AutoRechargeAttempt) { a.Status = models.AttemptStatusFailed })

	_, created, err := trigger.Evaluate(context.Background(), f.account.ID, "")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !created {
		t.Fatalf("failed attempt blocked a new one")
	}
}

func TestEvaluateBlockedByUnresolvedCharge(t *testing.T) {
	for _, code := range []string{CodeLedgerWriteFailed, CodeChargeStateUnknown} {
		t.Run(code, func(t *testing.T) {
			f := newFixture(t)
			f.newAttempt(t, f.account, f.method, func(a *models.AutoRechargeAttempt) {
				a.Status = models.AttemptStatusFailed
				a.ChargeRef = "pi_unresolved"
				a.LastErrorCode = code
			})
			attempt, created, err := NewTrigger(f.db, f.orch).Evaluate(context.Background(), f.account.ID, "")
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if created || attempt != nil {
				t.Fatalf("attempt opened next to an unresolved charge")
			}
		})
	}
}

func TestEvaluateThenProcessEndToEnd(t *testing.T) {
	f := newFixture(t)
	attempt, created, err := NewTrigger(f.db, f.orch).Evaluate(context.Background(), f.account.ID, "")
	if err != nil || !created {
		t.Fatalf("evaluate: created=%v err=%v", created, err)
	}
	result, err := f.orch.Process(context.Background(), attempt.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	f.orch.Drain()
	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if f.gw.creates[0].IdempotencyKey != attempt.IdempotencyKey {
		t.Fatalf("gateway key = %q, want %q", f.gw.creates[0].IdempotencyKey, attempt.IdempotencyKey)
	}

	_, created, err = NewTrigger(f.db, f.orch).Evaluate(context.Background(), f.account.ID, "")
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if created {
		t.Fatalf("recharged account above threshold got another attempt")
	}
}
