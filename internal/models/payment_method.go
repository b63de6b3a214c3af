package models

import (
	"fmt"
	"strings"
	"time"
)

// PaymentMethod is a card saved with the payment gateway for off-session charges.
type PaymentMethod struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BusinessAccountID uint64 `gorm:"not null;index"` // Owning business account.

	GatewayRef string `gorm:"column:gateway_payment_method_id;type:text;not null;uniqueIndex"` // Gateway payment method reference.
	Brand      string `gorm:"type:varchar(32);not null;default:''"`                            // Card brand, e.g. visa.
	Last4      string `gorm:"type:varchar(4);not null;default:''"`                             // Last four card digits.
	ExpMonth   int    `gorm:"not null;default:0"`                                              // Expiry month.
	ExpYear    int    `gorm:"not null;default:0"`                                              // Expiry year.

	IsDefault bool `gorm:"not null;default:false"` // Marks the account's default card.
	IsActive  bool `gorm:"not null;default:true"`  // Inactive cards are never charged.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Masked renders the card for display, e.g. "Visa •••• 4242".
func (p *PaymentMethod) Masked() string {
	if p == nil {
		return ""
	}
	brand := strings.TrimSpace(p.Brand)
	if brand == "" {
		brand = "Card"
	} else {
		brand = strings.ToUpper(brand[:1]) + brand[1:]
	}
	if p.Last4 == "" {
		return brand
	}
	return fmt.Sprintf("%s •••• %s", brand, p.Last4)
}

// Expired reports whether the card expiry lies before the given month.
func (p *PaymentMethod) Expired(now time.Time) bool {
	if p == nil || p.ExpYear == 0 || p.ExpMonth == 0 {
		return false
	}
	if p.ExpYear != now.Year() {
		return p.ExpYear < now.Year()
	}
	return p.ExpMonth < int(now.Month())
}
