package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RechargeOutcomes counts processed attempts by outcome.
	RechargeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_auto_recharge_outcomes_total",
		Help: "Auto-recharge attempts processed, labeled by outcome",
	}, []string{"outcome"})

	// RechargeDuration tracks time spent driving one attempt.
	RechargeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_auto_recharge_process_duration_seconds",
		Help:    "Latency distribution of single attempt processing",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// GatewayCalls counts payment gateway requests by operation and result.
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_gateway_calls_total",
		Help: "Payment gateway calls, labeled by operation and result",
	}, []string{"operation", "result"})

	// UnresolvedCharges counts attempts parked because their charge state could not be read.
	UnresolvedCharges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_auto_recharge_unresolved_charges_total",
		Help: "Attempts whose existing charge could not be retrieved and need reconciliation",
	})

	// LedgerWriteFailures counts charges captured without a matching ledger entry.
	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_ledger_write_failures_total",
		Help: "Successful charges whose ledger write failed and need reconciliation",
	})

	// NotificationFailures counts notification deliveries that errored.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_notification_failures_total",
		Help: "Failed notification deliveries, labeled by channel",
	}, []string{"channel"})

	// SweepRuns counts sweep executions by result.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_auto_recharge_sweeps_total",
		Help: "Due-attempt sweeps, labeled by result",
	}, []string{"result"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"method", "endpoint"})
)

// Outcome labels.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeFailed      = "failed"
	OutcomeRetry       = "retry_scheduled"
	OutcomePending     = "pending_confirmation"
	OutcomeAlreadyDone = "already_terminal"
	OutcomeBusy        = "busy"
)

// ObserveGateway records one gateway call.
func ObserveGateway(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayCalls.WithLabelValues(operation, result).Inc()
}

// GinMiddleware records request counts and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
