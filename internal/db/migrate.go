package db

import (
	"fmt"

	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates all tables owned by the service.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.BusinessAccount{},
		&models.PaymentMethod{},
		&models.AutoRechargeAttempt{},
		&models.WalletTransaction{},
		&models.Notification{},
		&models.BusinessUser{},
		&models.Admin{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
