package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/luxeride/business-wallet/internal/db"
	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/gorm"
)

// Ledger errors.
var (
	// ErrDuplicateReference is returned when an entry with the same external reference exists.
	ErrDuplicateReference = errors.New("ledger: duplicate reference")
	// ErrAccountNotFound is returned when the business account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrInsufficientFunds is returned when a debit would overdraw the wallet.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInvalidEntry is returned for zero amounts or missing types.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
)

// Entry describes one balance mutation.
type Entry struct {
	BusinessAccountID uint64
	AmountCents       int64 // Signed; negative for debits.
	Type              string
	Description       string
	Reference         string // Optional external reference, unique across the ledger.
	CreatedBy         string
	AllowOverdraft    bool // Debits may take the balance below zero.
}

// Apply increments the cached balance and appends the matching transaction row using tx.
// Callers own the transaction; any error must roll it back.
func Apply(ctx context.Context, tx *gorm.DB, e Entry) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("ledger: nil db")
	}
	if e.BusinessAccountID == 0 || e.AmountCents == 0 || strings.TrimSpace(e.Type) == "" {
		return nil, ErrInvalidEntry
	}
	tx = tx.WithContext(ctx)
	reference := strings.TrimSpace(e.Reference)

	if reference != "" {
		var existing int64
		if errCount := tx.Model(&models.WalletTransaction{}).
			Where("reference = ?", reference).
			Count(&existing).Error; errCount != nil {
			return nil, fmt.Errorf("ledger: check reference: %w", errCount)
		}
		if existing > 0 {
			return nil, ErrDuplicateReference
		}
	}

	update := tx.Model(&models.BusinessAccount{}).Where("id = ?", e.BusinessAccountID)
	if e.AmountCents < 0 && !e.AllowOverdraft {
		update = update.Where("balance_cents + ? >= 0", e.AmountCents)
	}
	res := update.Update("balance_cents", gorm.Expr("balance_cents + ?", e.AmountCents))
	if res.Error != nil {
		return nil, fmt.Errorf("ledger: update balance: %w", res.Error)
	}

	var account models.BusinessAccount
	if errFind := tx.Select("id", "balance_cents", "currency").
		Where("id = ?", e.BusinessAccountID).
		Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("ledger: load balance: %w", errFind)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientFunds
	}

	row := models.WalletTransaction{
		BusinessAccountID: e.BusinessAccountID,
		AmountCents:       e.AmountCents,
		Type:              e.Type,
		Description:       e.Description,
		BalanceAfterCents: account.BalanceCents,
		Currency:          account.Currency,
		CreatedBy:         e.CreatedBy,
	}
	if reference != "" {
		row.Reference = &reference
	}
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("ledger: insert transaction: %w", errCreate)
	}
	return &row, nil
}

// Post applies e in its own database transaction.
func Post(ctx context.Context, conn *gorm.DB, e Entry) (*models.WalletTransaction, error) {
	if conn == nil {
		return nil, fmt.Errorf("ledger: nil db")
	}
	var out *models.WalletTransaction
	errTx := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, errApply := Apply(ctx, tx, e)
		if errApply != nil {
			return errApply
		}
		out = row
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return out, nil
}

// FindByReference returns the entry carrying reference, or nil when none exists.
func FindByReference(ctx context.Context, conn *gorm.DB, reference string) (*models.WalletTransaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	var rows []models.WalletTransaction
	if errFind := conn.WithContext(ctx).
		Where("reference = ?", reference).
		Limit(1).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: find reference: %w", errFind)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
