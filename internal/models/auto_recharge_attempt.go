package models

import "time"

// AttemptStatus is the lifecycle state of an auto-recharge attempt.
type AttemptStatus string

// Attempt statuses.
const (
	// AttemptStatusPending waits for its next processing run.
	AttemptStatusPending AttemptStatus = "pending"
	// AttemptStatusProcessing is claimed by a processor.
	AttemptStatusProcessing AttemptStatus = "processing"
	// AttemptStatusSucceeded is terminal; the wallet was credited.
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	// AttemptStatusFailed is terminal; no further retries are scheduled.
	AttemptStatusFailed AttemptStatus = "failed"
)

// Terminal reports whether no further processing will happen.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSucceeded || s == AttemptStatusFailed
}

// Attempt trigger sources.
const (
	TriggerSourceThreshold = "threshold"
	TriggerSourceManual    = "manual"
)

// AutoRechargeAttempt records one logical wallet recharge, across all of its retries.
type AutoRechargeAttempt struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BusinessAccountID uint64 `gorm:"not null;index"` // Account being recharged.

	TriggerBalanceCents int64   `gorm:"not null;default:0"`                            // Wallet balance that fired the recharge.
	AmountCents         int64   `gorm:"not null"`                                      // Requested amount in minor units.
	Currency            string  `gorm:"type:varchar(3);not null;default:'usd'"`        // ISO currency.
	PaymentMethodID     *uint64 `gorm:"index"`                                         // Card snapshot at trigger time.
	TriggerSource       string  `gorm:"type:varchar(16);not null;default:'threshold'"` // What created the attempt.

	IdempotencyKey string `gorm:"type:varchar(64);not null;uniqueIndex"` // Sent verbatim on every gateway call.
	RetryCount     int    `gorm:"not null;default:0"`                    // Retryable failures so far.
	MaxRetries     int    `gorm:"not null;default:3"`                    // Retry budget.
	ChargeRef      string `gorm:"type:text;not null;default:'';index"`   // External charge reference, empty until created.

	Status      AttemptStatus `gorm:"type:varchar(16);not null;default:'pending';index"` // Lifecycle state.
	NextRetryAt time.Time     `gorm:"not null;index"`                                    // Earliest time the sweep picks it up.
	ProcessedAt *time.Time    // Time the attempt reached a terminal state.

	LastErrorCode    string `gorm:"type:varchar(64);not null;default:''"` // Last gateway or local error code.
	LastErrorMessage string `gorm:"type:text;not null;default:''"`        // Last human-readable error.

	ChargedAmountCents  int64   `gorm:"not null;default:0"` // Amount the gateway actually captured.
	WalletTransactionID *uint64 `gorm:"index"`              // Ledger row created on success.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp; doubles as the claim lease.
}
