package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/recharge"
	log "github.com/sirupsen/logrus"
)

// AutoRechargeHandler lets operators inspect and reconcile attempts.
type AutoRechargeHandler struct {
	orchestrator *recharge.Orchestrator
}

// NewAutoRechargeHandler constructs an AutoRechargeHandler.
func NewAutoRechargeHandler(orchestrator *recharge.Orchestrator) *AutoRechargeHandler {
	return &AutoRechargeHandler{orchestrator: orchestrator}
}

// List returns attempts filtered by business_account_id and status.
func (h *AutoRechargeHandler) List(c *gin.Context) {
	var accountID uint64
	if raw := strings.TrimSpace(c.Query("business_account_id")); raw != "" {
		parsed, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid business_account_id"})
			return
		}
		accountID = parsed
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	rows, total, errList := h.orchestrator.Store().List(c.Request.Context(), recharge.ListQuery{
		BusinessAccountID: accountID,
		Status:            strings.TrimSpace(c.Query("status")),
		Page:              page,
		PageSize:          size,
	})
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list attempts failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": recharge.NewAttemptViews(rows), "total": total})
}

// Reconcile books the ledger entry of a failed attempt whose charge did succeed.
func (h *AutoRechargeHandler) Reconcile(c *gin.Context) {
	attemptID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	result, errReconcile := h.orchestrator.Reconcile(c.Request.Context(), attemptID)
	switch {
	case errors.Is(errReconcile, recharge.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	case errors.Is(errReconcile, recharge.ErrNotReconcilable):
		c.JSON(http.StatusConflict, gin.H{"error": errReconcile.Error()})
		return
	case errors.Is(errReconcile, recharge.ErrAccountBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "account is being processed"})
		return
	case errReconcile != nil:
		log.WithError(errReconcile).WithField("attempt_id", attemptID).Error("auto-recharge: reconcile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	log.WithFields(log.Fields{
		"attempt_id": attemptID,
		"admin":      c.GetString("adminUsername"),
	}).Info("auto-recharge: attempt reconciled by operator")
	c.JSON(http.StatusOK, gin.H{
		"attempt":          recharge.NewAttemptView(result.Attempt),
		"outcome":          result.Outcome,
		"already_terminal": result.AlreadyTerminal,
	})
}
