package models

import "time"

// BusinessAccount is a corporate account billed from a prepaid wallet.
type BusinessAccount struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name         string `gorm:"type:text;not null"`                         // Company display name.
	BillingEmail string `gorm:"type:text;not null;default:''"`              // Recipient for billing emails.
	Currency     string `gorm:"type:varchar(3);not null;default:'usd'"`     // ISO currency of the wallet.
	IsActive     bool   `gorm:"not null;default:true"`                      // Whether the account may be charged.
	CustomerRef  string `gorm:"column:gateway_customer_id;type:text;index"` // Payment gateway customer reference.

	BalanceCents        int64 `gorm:"not null;default:0"` // Cached wallet balance in minor units.
	InitialBalanceCents int64 `gorm:"not null;default:0"` // Balance at account creation, outside the ledger.

	DefaultPaymentMethodID *uint64        `gorm:"index"`                             // Saved card used for recharges.
	DefaultPaymentMethod   *PaymentMethod `gorm:"foreignKey:DefaultPaymentMethodID"` // Saved card relation.

	AutoRechargeEnabled        bool  `gorm:"not null;default:false"` // Whether low balances trigger a recharge.
	AutoRechargeThresholdCents int64 `gorm:"not null;default:0"`     // Balance below which a recharge fires.
	AutoRechargeAmountCents    int64 `gorm:"not null;default:0"`     // Amount requested per recharge.
	AutoRechargeMaxRetries     int   `gorm:"not null;default:0"`     // Retry budget per attempt, 0 uses the service default.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
