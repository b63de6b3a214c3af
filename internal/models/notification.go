package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is an in-app message shown in the business portal.
type Notification struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BusinessAccountID uint64 `gorm:"not null;index"` // Recipient account.

	Category string         `gorm:"type:varchar(32);not null;index"` // Grouping, e.g. billing.
	Type     string         `gorm:"type:varchar(64);not null;index"` // Notification type tag.
	Title    string         `gorm:"type:text;not null"`              // Short title.
	Message  string         `gorm:"type:text;not null"`              // Body text.
	Data     datatypes.JSON `gorm:"type:jsonb"`                      // Structured payload.
	Link     string         `gorm:"type:text;not null;default:''"`   // Deep link into the portal.

	ReadAt    *time.Time // Time the notification was read.
	CreatedAt time.Time  `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
