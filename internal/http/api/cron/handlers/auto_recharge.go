package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/logging"
	"github.com/luxeride/business-wallet/internal/recharge"
	"github.com/luxeride/business-wallet/internal/settings"
	log "github.com/sirupsen/logrus"
)

// maxProcessLimit caps the limit query parameter of a manual sweep.
const maxProcessLimit = 500

// AutoRechargeHandler exposes attempt processing to the scheduler.
type AutoRechargeHandler struct {
	orchestrator *recharge.Orchestrator
}

// NewAutoRechargeHandler constructs an AutoRechargeHandler.
func NewAutoRechargeHandler(orchestrator *recharge.Orchestrator) *AutoRechargeHandler {
	return &AutoRechargeHandler{orchestrator: orchestrator}
}

// processRequest defines the request body for processing one attempt.
type processRequest struct {
	AttemptID uint64 `json:"attempt_id"`
}

// ProcessDue runs one sweep over due attempts and returns its summary.
func (h *AutoRechargeHandler) ProcessDue(c *gin.Context) {
	limit := settings.PositiveInt(settings.AutoRechargeBatchSizeKey, h.orchestrator.Policy().BatchSize)
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxProcessLimit)
	}

	summary, errProcess := h.orchestrator.ProcessDue(c.Request.Context(), limit)
	if errProcess != nil {
		log.WithError(errProcess).WithField("request_id", logging.RequestID(c)).Error("auto-recharge: sweep request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "process due attempts failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Process drives a single attempt.
func (h *AutoRechargeHandler) Process(c *gin.Context) {
	var body processRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.AttemptID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attempt_id is required"})
		return
	}

	result, errProcess := h.orchestrator.Process(c.Request.Context(), body.AttemptID)
	switch {
	case errors.Is(errProcess, recharge.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	case errors.Is(errProcess, recharge.ErrAccountBusy), errors.Is(errProcess, recharge.ErrAttemptClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": "attempt is being processed"})
		return
	case errProcess != nil:
		log.WithError(errProcess).WithFields(log.Fields{
			"attempt_id": body.AttemptID,
			"request_id": logging.RequestID(c),
		}).Error("auto-recharge: process request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "process attempt failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempt":          recharge.NewAttemptView(result.Attempt),
		"outcome":          result.Outcome,
		"already_terminal": result.AlreadyTerminal,
	})
}
