package recharge

import (
	"context"
	"time"

	"github.com/luxeride/business-wallet/internal/metrics"
	"github.com/luxeride/business-wallet/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Sweeper periodically processes due attempts.
type Sweeper struct {
	orchestrator *Orchestrator
	interval     func() time.Duration
}

// NewSweeper builds a sweeper whose interval and batch size come from DB settings.
func NewSweeper(o *Orchestrator) *Sweeper {
	if o == nil {
		return nil
	}
	return &Sweeper{
		orchestrator: o,
		interval: func() time.Duration {
			return settings.Seconds(settings.AutoRechargeSweepIntervalSecondsKey, settings.DefaultAutoRechargeSweepIntervalSeconds*time.Second)
		},
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("auto-recharge sweeper started (interval=%s)", s.interval())
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.sweepOnce(ctx)
		timer := time.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// sweepOnce runs a single batch unless the sweep is paused.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	if settings.Bool(settings.AutoRechargePausedKey, false) {
		metrics.SweepRuns.WithLabelValues("paused").Inc()
		return
	}
	limit := settings.PositiveInt(settings.AutoRechargeBatchSizeKey, s.orchestrator.policy.BatchSize)
	summary, err := s.orchestrator.ProcessDue(ctx, limit)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		if ctx.Err() == nil {
			log.WithError(err).Warn("auto-recharge sweeper: sweep failed")
		}
		return
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	if summary.Processed > 0 || summary.Errors > 0 {
		log.WithFields(log.Fields{
			"processed": summary.Processed,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"retrying":  summary.Retrying,
			"pending":   summary.Pending,
			"skipped":   summary.Skipped,
			"errors":    summary.Errors,
		}).Info("auto-recharge sweeper: batch processed")
	}
}
