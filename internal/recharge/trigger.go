package recharge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/money"
	"github.com/luxeride/business-wallet/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Trigger opens auto-recharge attempts for accounts whose balance fell below their threshold.
type Trigger struct {
	db     *gorm.DB
	store  *Store
	policy Policy
	clock  func() time.Time
}

// NewTrigger builds a trigger sharing the orchestrator's policy and clock.
func NewTrigger(db *gorm.DB, o *Orchestrator) *Trigger {
	return &Trigger{db: db, store: o.store, policy: o.policy, clock: o.clock}
}

// Evaluate creates a pending attempt when auto-recharge is enabled, the balance is below the
// threshold and no attempt is already open. created is false when nothing was needed.
func (t *Trigger) Evaluate(ctx context.Context, accountID uint64, source string) (attempt *models.AutoRechargeAttempt, created bool, err error) {
	if source == "" {
		source = models.TriggerSourceThreshold
	}
	errTx := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.BusinessAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", accountID).
			Take(&account).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("recharge: load account: %w", errFind)
		}
		if !shouldRecharge(&account) {
			return nil
		}
		open, errOpen := t.store.HasOpen(tx, account.ID)
		if errOpen != nil {
			return errOpen
		}
		if open {
			return nil
		}

		maxRetries := account.AutoRechargeMaxRetries
		if maxRetries <= 0 {
			maxRetries = settings.PositiveInt(settings.AutoRechargeDefaultMaxRetriesKey, t.policy.MaxRetries)
		}
		now := t.clock().UTC()
		row := models.AutoRechargeAttempt{
			BusinessAccountID:   account.ID,
			TriggerBalanceCents: account.BalanceCents,
			AmountCents:         account.AutoRechargeAmountCents,
			Currency:            money.NormalizeCurrency(account.Currency),
			PaymentMethodID:     account.DefaultPaymentMethodID,
			TriggerSource:       source,
			IdempotencyKey:      uuid.NewString(),
			MaxRetries:          maxRetries,
			Status:              models.AttemptStatusPending,
			NextRetryAt:         now,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("recharge: create attempt: %w", errCreate)
		}
		attempt = &row
		created = true
		return nil
	})
	if errTx != nil {
		return nil, false, errTx
	}
	if created {
		log.WithFields(log.Fields{
			"attempt_id":            attempt.ID,
			"business_account_id":   accountID,
			"trigger_balance_cents": attempt.TriggerBalanceCents,
			"amount_cents":          attempt.AmountCents,
			"source":                source,
		}).Info("auto-recharge: attempt created")
	}
	return attempt, created, nil
}

func shouldRecharge(account *models.BusinessAccount) bool {
	return account.IsActive &&
		account.AutoRechargeEnabled &&
		account.AutoRechargeAmountCents > 0 &&
		account.BalanceCents < account.AutoRechargeThresholdCents
}
