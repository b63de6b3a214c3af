package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/ledger"
	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/money"
	"github.com/luxeride/business-wallet/internal/recharge"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BusinessAccountHandler serves wallet maintenance for operators.
type BusinessAccountHandler struct {
	db      *gorm.DB
	trigger *recharge.Trigger
}

// NewBusinessAccountHandler constructs a BusinessAccountHandler.
func NewBusinessAccountHandler(db *gorm.DB, trigger *recharge.Trigger) *BusinessAccountHandler {
	return &BusinessAccountHandler{db: db, trigger: trigger}
}

// adjustmentRequest defines the request body for a manual balance adjustment.
type adjustmentRequest struct {
	Amount         string `json:"amount"`
	Description    string `json:"description"`
	Reference      string `json:"reference"`
	AllowOverdraft bool   `json:"allow_overdraft"`
}

// Adjust books a signed admin adjustment through the ledger.
func (h *BusinessAccountHandler) Adjust(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body adjustmentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	description := strings.TrimSpace(body.Description)
	if description == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}

	ctx := c.Request.Context()
	var account models.BusinessAccount
	if errFind := h.db.WithContext(ctx).Select("id", "currency").Where("id = ?", accountID).Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "business account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query business account failed"})
		return
	}
	amountCents, errAmount := money.Parse(body.Amount, account.Currency)
	if errAmount != nil || amountCents == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a non-zero decimal"})
		return
	}

	row, errPost := ledger.Post(ctx, h.db, ledger.Entry{
		BusinessAccountID: account.ID,
		AmountCents:       amountCents,
		Type:              models.WalletTxAdminAdjustment,
		Description:       description,
		Reference:         strings.TrimSpace(body.Reference),
		CreatedBy:         adminActor(c),
		AllowOverdraft:    body.AllowOverdraft,
	})
	switch {
	case errors.Is(errPost, ledger.ErrDuplicateReference):
		c.JSON(http.StatusConflict, gin.H{"error": "reference already used"})
		return
	case errors.Is(errPost, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusConflict, gin.H{"error": "adjustment would overdraw the wallet"})
		return
	case errPost != nil:
		log.WithError(errPost).WithField("business_account_id", account.ID).Error("admin adjustment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "adjustment failed"})
		return
	}

	log.WithFields(log.Fields{
		"business_account_id": account.ID,
		"amount_cents":        amountCents,
		"created_by":          row.CreatedBy,
	}).Info("admin adjustment booked")
	if amountCents < 0 && h.trigger != nil {
		if _, _, errTrigger := h.trigger.Evaluate(ctx, account.ID, models.TriggerSourceThreshold); errTrigger != nil {
			log.WithError(errTrigger).WithField("business_account_id", account.ID).Warn("auto-recharge trigger failed after adjustment")
		}
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": ledger.NewTransactionView(row)})
}

// LedgerCheck compares the cached balance with the ledger sum.
func (h *BusinessAccountHandler) LedgerCheck(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	drift, errVerify := ledger.Verify(c.Request.Context(), h.db, accountID)
	if errVerify != nil {
		if errors.Is(errVerify, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "business account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger check failed"})
		return
	}
	if !drift.Consistent() {
		log.WithFields(log.Fields{
			"business_account_id": accountID,
			"drift_cents":         drift.DriftCents,
		}).Warn("wallet balance drifted from ledger")
	}
	c.JSON(http.StatusOK, gin.H{"check": drift, "consistent": drift.Consistent()})
}
