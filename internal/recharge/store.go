package recharge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/gorm"
)

// Store persists auto-recharge attempts. Every transition after the claim is conditional on
// the attempt still being in processing.
type Store struct {
	db *gorm.DB
}

// NewStore builds an attempt store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get loads one attempt.
func (s *Store) Get(ctx context.Context, id uint64) (*models.AutoRechargeAttempt, error) {
	var attempt models.AutoRechargeAttempt
	if errFind := s.db.WithContext(ctx).Where("id = ?", id).Take(&attempt).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("recharge: load attempt: %w", errFind)
	}
	return &attempt, nil
}

// Claim moves a pending attempt, or a processing one untouched since staleBefore, into
// processing. It reports false when another processor got there first.
func (s *Store) Claim(ctx context.Context, id uint64, now, staleBefore time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AutoRechargeAttempt{}).
		Where("id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			id, models.AttemptStatusPending, models.AttemptStatusProcessing, staleBefore).
		UpdateColumns(map[string]any{
			"status":     models.AttemptStatusProcessing,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("recharge: claim attempt: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SaveChargeRef records the remote charge reference right after creation.
func (s *Store) SaveChargeRef(ctx context.Context, id uint64, ref string, now time.Time) error {
	return s.transition(s.db.WithContext(ctx), id, map[string]any{
		"charge_ref": ref,
		"updated_at": now,
	})
}

// Requeue returns the attempt to pending without consuming a retry.
func (s *Store) Requeue(ctx context.Context, id uint64, next, now time.Time) error {
	return s.transition(s.db.WithContext(ctx), id, map[string]any{
		"status":        models.AttemptStatusPending,
		"next_retry_at": next,
		"updated_at":    now,
	})
}

// ScheduleRetry records a retryable failure and the next due time.
func (s *Store) ScheduleRetry(ctx context.Context, id uint64, retryCount int, next time.Time, code, message string, now time.Time) error {
	return s.transition(s.db.WithContext(ctx), id, map[string]any{
		"status":             models.AttemptStatusPending,
		"retry_count":        retryCount,
		"next_retry_at":      next,
		"last_error_code":    code,
		"last_error_message": truncate(message, 1000),
		"updated_at":         now,
	})
}

// MarkFailed moves the attempt to its terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, id uint64, retryCount int, code, message string, now time.Time) error {
	return s.transition(s.db.WithContext(ctx), id, map[string]any{
		"status":             models.AttemptStatusFailed,
		"retry_count":        retryCount,
		"processed_at":       now,
		"last_error_code":    code,
		"last_error_message": truncate(message, 1000),
		"updated_at":         now,
	})
}

// MarkSucceeded completes the attempt inside the ledger transaction tx.
func (s *Store) MarkSucceeded(tx *gorm.DB, id uint64, chargedCents int64, walletTxID uint64, now time.Time) error {
	return s.transition(tx, id, map[string]any{
		"status":                models.AttemptStatusSucceeded,
		"charged_amount_cents":  chargedCents,
		"wallet_transaction_id": walletTxID,
		"processed_at":          now,
		"last_error_code":       "",
		"last_error_message":    "",
		"updated_at":            now,
	})
}

// MarkReconciled completes a failed attempt after an operator confirmed the charge.
func (s *Store) MarkReconciled(tx *gorm.DB, id uint64, chargedCents int64, walletTxID uint64, now time.Time) error {
	res := tx.Model(&models.AutoRechargeAttempt{}).
		Where("id = ? AND status <> ?", id, models.AttemptStatusSucceeded).
		UpdateColumns(map[string]any{
			"status":                models.AttemptStatusSucceeded,
			"charged_amount_cents":  chargedCents,
			"wallet_transaction_id": walletTxID,
			"processed_at":          now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return fmt.Errorf("recharge: reconcile attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotReconcilable
	}
	return nil
}

// ResolveUnknown settles a charge_state_unknown attempt once the charge is known not to have
// captured money.
func (s *Store) ResolveUnknown(ctx context.Context, id uint64, code, message string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.AutoRechargeAttempt{}).
		Where("id = ? AND status = ? AND last_error_code = ?", id, models.AttemptStatusFailed, CodeChargeStateUnknown).
		UpdateColumns(map[string]any{
			"last_error_code":    code,
			"last_error_message": truncate(message, 1000),
			"processed_at":       now,
			"updated_at":         now,
		})
	if res.Error != nil {
		return fmt.Errorf("recharge: resolve attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotReconcilable
	}
	return nil
}

func (s *Store) transition(db *gorm.DB, id uint64, values map[string]any) error {
	res := db.Model(&models.AutoRechargeAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptStatusProcessing).
		UpdateColumns(values)
	if res.Error != nil {
		return fmt.Errorf("recharge: update attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: claim lost before update", ErrAttemptClaimed)
	}
	return nil
}

// ListDue returns ids of attempts ready to process, oldest due first.
func (s *Store) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	if errFind := s.db.WithContext(ctx).
		Model(&models.AutoRechargeAttempt{}).
		Where("(status = ? AND next_retry_at <= ?) OR (status = ? AND updated_at < ?)",
			models.AttemptStatusPending, now, models.AttemptStatusProcessing, staleBefore).
		Order("next_retry_at ASC").Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; errFind != nil {
		return nil, fmt.Errorf("recharge: list due attempts: %w", errFind)
	}
	return ids, nil
}

// HasOpen reports whether the account has a pending or processing attempt, or a failed one
// whose charge is still unresolved.
func (s *Store) HasOpen(tx *gorm.DB, accountID uint64) (bool, error) {
	var count int64
	if errCount := tx.Model(&models.AutoRechargeAttempt{}).
		Where("business_account_id = ? AND (status IN ? OR (status = ? AND last_error_code IN ?))", accountID,
			[]models.AttemptStatus{models.AttemptStatusPending, models.AttemptStatusProcessing},
			models.AttemptStatusFailed, unresolvedChargeCodes).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("recharge: count open attempts: %w", errCount)
	}
	return count > 0, nil
}

// ListQuery filters attempt listings.
type ListQuery struct {
	BusinessAccountID uint64
	Status            string
	Page              int
	PageSize          int
}

// List returns attempts newest first with the total count.
func (s *Store) List(ctx context.Context, q ListQuery) ([]models.AutoRechargeAttempt, int64, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	base := s.db.WithContext(ctx).Model(&models.AutoRechargeAttempt{})
	if q.BusinessAccountID != 0 {
		base = base.Where("business_account_id = ?", q.BusinessAccountID)
	}
	if q.Status != "" {
		base = base.Where("status = ?", q.Status)
	}
	var total int64
	if errCount := base.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("recharge: count attempts: %w", errCount)
	}
	var rows []models.AutoRechargeAttempt
	if errFind := base.Session(&gorm.Session{}).
		Order("id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("recharge: list attempts: %w", errFind)
	}
	return rows, total, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
