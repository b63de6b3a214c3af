package models

import "time"

// Wallet transaction types.
const (
	WalletTxCreditAdded     = "credit_added"
	WalletTxBookingCharge   = "booking_charge"
	WalletTxAdminAdjustment = "admin_adjustment"
	WalletTxRefund          = "refund"
)

// WalletTransaction is an immutable ledger entry; the account balance is derived from these rows.
type WalletTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BusinessAccountID uint64 `gorm:"not null;index"` // Owning account.

	AmountCents       int64   `gorm:"not null"`                               // Signed amount in minor units.
	Type              string  `gorm:"type:varchar(32);not null;index"`        // Transaction type tag.
	Description       string  `gorm:"type:text;not null;default:''"`          // Human-readable description.
	Reference         *string `gorm:"type:varchar(255);uniqueIndex"`          // External reference, unique when set.
	BalanceAfterCents int64   `gorm:"not null"`                               // Balance after this entry.
	Currency          string  `gorm:"type:varchar(3);not null;default:'usd'"` // ISO currency.
	CreatedBy         string  `gorm:"type:varchar(64);not null;default:''"`   // Creator tag, e.g. system:auto_recharge.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
