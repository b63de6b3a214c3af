package notify

import (
	"context"
	"testing"
	"time"

	"github.com/luxeride/business-wallet/internal/models"
)

func TestRetentionCleanerDeletesOnlyOldReadRows(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -120)
	recent := now.AddDate(0, 0, -10)

	rows := []models.Notification{
		{BusinessAccountID: account.ID, Category: CategoryBilling, Type: "old_read", Title: "a", Message: "a", ReadAt: &old, CreatedAt: old},
		{BusinessAccountID: account.ID, Category: CategoryBilling, Type: "old_unread", Title: "b", Message: "b", CreatedAt: old},
		{BusinessAccountID: account.ID, Category: CategoryBilling, Type: "recent_read", Title: "c", Message: "c", ReadAt: &recent, CreatedAt: recent},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create notification: %v", errCreate)
		}
	}

	cleaner := NewRetentionCleaner(conn)
	cleaner.now = func() time.Time { return now }
	cleaner.batchSize = 1

	if deleted := cleaner.cleanupOnce(context.Background()); deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	var remaining []models.Notification
	if errFind := conn.Order("id ASC").Find(&remaining).Error; errFind != nil {
		t.Fatalf("list notifications: %v", errFind)
	}
	if len(remaining) != 2 || remaining[0].Type != "old_unread" || remaining[1].Type != "recent_read" {
		t.Fatalf("remaining = %+v", remaining)
	}
	if deleted := cleaner.cleanupOnce(context.Background()); deleted != 0 {
		t.Fatalf("second run deleted = %d", deleted)
	}
}

func TestNewRetentionCleanerNilDB(t *testing.T) {
	if cleaner := NewRetentionCleaner(nil); cleaner != nil {
		t.Fatalf("expected nil cleaner")
	}
	var cleaner *RetentionCleaner
	cleaner.Start(context.Background())
}
