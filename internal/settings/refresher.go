package settings

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Refresher periodically reloads the settings snapshot so writes from other instances are picked up.
type Refresher struct {
	db       *gorm.DB
	interval time.Duration
}

// NewRefresher builds a refresher; a nil db yields nil.
func NewRefresher(db *gorm.DB, interval time.Duration) *Refresher {
	if db == nil {
		return nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{db: db, interval: interval}
}

// Start launches the refresh loop in a background goroutine.
func (r *Refresher) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("settings refresher started (interval=%s)", r.interval)
}

func (r *Refresher) run(ctx context.Context) {
	for {
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
		before := Current().UpdatedAt
		if errRefresh := RefreshDBConfigSnapshot(ctx, r.db); errRefresh != nil {
			if ctx.Err() == nil {
				log.WithError(errRefresh).Warn("settings refresher: reload failed")
			}
			continue
		}
		if after := Current().UpdatedAt; after.After(before) {
			log.WithField("updated_at", after).Debug("settings refresher: snapshot changed")
		}
	}
}
