package settings

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"
)

func TestNewRefresherNilDB(t *testing.T) {
	if r := NewRefresher(nil, time.Second); r != nil {
		t.Fatalf("expected nil refresher")
	}
	var r *Refresher
	r.Start(context.Background())
}

func TestRefresherDefaultsInterval(t *testing.T) {
	r := NewRefresher(&gorm.DB{}, 0)
	if r == nil || r.interval != 30*time.Second {
		t.Fatalf("refresher = %+v", r)
	}
}
