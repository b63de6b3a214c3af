package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/gorm"
)

// Drift compares the cached balance with the sum of ledger entries.
type Drift struct {
	BusinessAccountID   uint64 `json:"business_account_id"`
	BalanceCents        int64  `json:"balance_cents"`
	InitialBalanceCents int64  `json:"initial_balance_cents"`
	LedgerSumCents      int64  `json:"ledger_sum_cents"`
	DriftCents          int64  `json:"drift_cents"`
	TransactionCount    int64  `json:"transaction_count"`
}

// Consistent reports whether balance equals the initial balance plus all entries.
func (d Drift) Consistent() bool { return d.DriftCents == 0 }

// Verify recomputes the ledger sum for an account.
func Verify(ctx context.Context, conn *gorm.DB, accountID uint64) (Drift, error) {
	var account models.BusinessAccount
	if errFind := conn.WithContext(ctx).
		Select("id", "balance_cents", "initial_balance_cents").
		Where("id = ?", accountID).
		Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Drift{}, ErrAccountNotFound
		}
		return Drift{}, fmt.Errorf("ledger: load account: %w", errFind)
	}

	var agg struct {
		Total int64
		Count int64
	}
	if errSum := conn.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(amount_cents), 0) AS total, COUNT(*) AS count").
		Where("business_account_id = ?", accountID).
		Scan(&agg).Error; errSum != nil {
		return Drift{}, fmt.Errorf("ledger: sum entries: %w", errSum)
	}

	return Drift{
		BusinessAccountID:   accountID,
		BalanceCents:        account.BalanceCents,
		InitialBalanceCents: account.InitialBalanceCents,
		LedgerSumCents:      agg.Total,
		DriftCents:          account.BalanceCents - account.InitialBalanceCents - agg.Total,
		TransactionCount:    agg.Count,
	}, nil
}

// ListQuery pages through an account's entries, newest first.
type ListQuery struct {
	Type     string
	Page     int
	PageSize int
}

// List returns one page of entries and the total number matching the query.
func List(ctx context.Context, conn *gorm.DB, accountID uint64, q ListQuery) ([]models.WalletTransaction, int64, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}

	base := conn.WithContext(ctx).Model(&models.WalletTransaction{}).Where("business_account_id = ?", accountID)
	if q.Type != "" {
		base = base.Where("type = ?", q.Type)
	}

	var total int64
	if errCount := base.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("ledger: count entries: %w", errCount)
	}
	var rows []models.WalletTransaction
	if errFind := base.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("ledger: list entries: %w", errFind)
	}
	return rows, total, nil
}
