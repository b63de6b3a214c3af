package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/gorm"
)

func TestIntParsesLooseEncodings(t *testing.T) {
	StoreSnapshot(time.Now(), map[string]json.RawMessage{
		"A": json.RawMessage(`42`),
		"B": json.RawMessage(`"17"`),
		"C": json.RawMessage(`{"value": 9}`),
		"D": json.RawMessage(`1.5`),
		"E": json.RawMessage(`-3`),
	})
	t.Cleanup(func() { StoreSnapshot(time.Time{}, nil) })

	if got := Int("A", 0); got != 42 {
		t.Fatalf("A = %d", got)
	}
	if got := Int("B", 0); got != 17 {
		t.Fatalf("B = %d", got)
	}
	if got := Int("C", 0); got != 9 {
		t.Fatalf("C = %d", got)
	}
	if got := Int("D", 5); got != 5 {
		t.Fatalf("D = %d, want default", got)
	}
	if got := PositiveInt("E", 7); got != 7 {
		t.Fatalf("E = %d, want default", got)
	}
	if got := Seconds("A", time.Minute); got != 42*time.Second {
		t.Fatalf("Seconds(A) = %s", got)
	}
	if got := Int("missing", 11); got != 11 {
		t.Fatalf("missing = %d", got)
	}
}

func TestPutRefreshesSnapshot(t *testing.T) {
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { StoreSnapshot(time.Time{}, nil) })

	ctx := context.Background()
	if errPut := Put(ctx, conn, AutoRechargeBatchSizeKey, 10); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	if got := PositiveInt(AutoRechargeBatchSizeKey, DefaultAutoRechargeBatchSize); got != 10 {
		t.Fatalf("batch size = %d", got)
	}
	if errPut := Put(ctx, conn, AutoRechargeBatchSizeKey, 25); errPut != nil {
		t.Fatalf("second put: %v", errPut)
	}
	if got := PositiveInt(AutoRechargeBatchSizeKey, DefaultAutoRechargeBatchSize); got != 25 {
		t.Fatalf("batch size after overwrite = %d", got)
	}
	if errPut := Put(ctx, conn, AutoRechargePausedKey, true); errPut != nil {
		t.Fatalf("put paused: %v", errPut)
	}
	if !Bool(AutoRechargePausedKey, false) {
		t.Fatalf("expected paused")
	}
}
