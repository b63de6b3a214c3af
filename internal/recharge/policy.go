package recharge

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy holds the retry and scheduling knobs for auto-recharge processing.
type Policy struct {
	MaxRetries          int           // Default retry budget for new attempts.
	BaseDelay           time.Duration // Delay before the first retry.
	MaxDelay            time.Duration // Upper bound on any retry delay.
	Multiplier          float64       // Exponential growth factor.
	Jitter              float64       // Fraction of the delay added at random, 0 disables.
	PollInterval        time.Duration // Re-poll delay for charges still processing remotely.
	BatchSize           int           // Attempts handled per sweep.
	StaleAfter          time.Duration // Processing claims older than this may be taken over.
	NotificationTimeout time.Duration // Budget for each detached notification.
}

// DefaultPolicy returns production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:          3,
		BaseDelay:           5 * time.Minute,
		MaxDelay:            6 * time.Hour,
		Multiplier:          2,
		Jitter:              0.1,
		PollInterval:        2 * time.Minute,
		BatchSize:           50,
		StaleAfter:          10 * time.Minute,
		NotificationTimeout: 30 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.PollInterval <= 0 {
		p.PollInterval = def.PollInterval
	}
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = def.StaleAfter
	}
	if p.NotificationTimeout <= 0 {
		p.NotificationTimeout = def.NotificationTimeout
	}
	return p
}

// Backoff returns the delay before retry number retryCount (1-based).
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryCount-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}
