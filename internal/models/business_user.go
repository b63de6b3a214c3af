package models

import "time"

// BusinessUser is a portal member of a business account.
type BusinessUser struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BusinessAccountID uint64           `gorm:"not null;index"`                             // Owning account.
	BusinessAccount   *BusinessAccount `gorm:"foreignKey:BusinessAccountID"`               // Owning account relation.
	Email             string           `gorm:"type:text;not null;uniqueIndex"`             // Login email.
	Name              string           `gorm:"type:text;not null;default:''"`              // Display name.
	Role              string           `gorm:"type:varchar(16);not null;default:'member'"` // owner, admin or member.
	Disabled          bool             `gorm:"not null;default:false"`                     // Disabled users are rejected.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CanManageBilling reports whether the user may change wallet settings.
func (u *BusinessUser) CanManageBilling() bool {
	return u != nil && (u.Role == "owner" || u.Role == "admin")
}
