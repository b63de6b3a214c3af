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

// bookingCreatedBy tags ledger rows written for booking checkouts.
const bookingCreatedBy = "system:booking"

// WalletDebitHandler books ride charges against business wallets.
type WalletDebitHandler struct {
	db      *gorm.DB
	trigger *recharge.Trigger
}

// NewWalletDebitHandler constructs a WalletDebitHandler.
func NewWalletDebitHandler(db *gorm.DB, trigger *recharge.Trigger) *WalletDebitHandler {
	return &WalletDebitHandler{db: db, trigger: trigger}
}

// walletDebitRequest defines the request body for a booking charge.
type walletDebitRequest struct {
	BusinessAccountID uint64 `json:"business_account_id"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
	Reference         string `json:"reference"`
	AllowOverdraft    bool   `json:"allow_overdraft"`
}

// Create debits the wallet and evaluates the auto-recharge threshold.
func (h *WalletDebitHandler) Create(c *gin.Context) {
	var body walletDebitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	reference := strings.TrimSpace(body.Reference)
	if body.BusinessAccountID == 0 || reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "business_account_id and reference are required"})
		return
	}

	ctx := c.Request.Context()
	var account models.BusinessAccount
	if errFind := h.db.WithContext(ctx).Select("id", "currency", "is_active").
		Where("id = ?", body.BusinessAccountID).
		Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "business account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query business account failed"})
		return
	}
	if !account.IsActive {
		c.JSON(http.StatusConflict, gin.H{"error": "business account is inactive"})
		return
	}

	amountCents, errAmount := money.Parse(body.Amount, account.Currency)
	if errAmount != nil || amountCents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal"})
		return
	}

	description := strings.TrimSpace(body.Description)
	if description == "" {
		description = "Booking charge"
	}
	row, errPost := ledger.Post(ctx, h.db, ledger.Entry{
		BusinessAccountID: account.ID,
		AmountCents:       -amountCents,
		Type:              models.WalletTxBookingCharge,
		Description:       description,
		Reference:         reference,
		CreatedBy:         bookingCreatedBy,
		AllowOverdraft:    body.AllowOverdraft,
	})
	switch {
	case errors.Is(errPost, ledger.ErrDuplicateReference):
		existing, errExisting := ledger.FindByReference(ctx, h.db, reference)
		if errExisting != nil || existing == nil || existing.BusinessAccountID != account.ID {
			c.JSON(http.StatusConflict, gin.H{"error": "reference already used"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": ledger.NewTransactionView(existing), "duplicate": true})
		return
	case errors.Is(errPost, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient wallet balance"})
		return
	case errPost != nil:
		log.WithError(errPost).WithField("business_account_id", account.ID).Error("wallet debit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet debit failed"})
		return
	}

	response := gin.H{"transaction": ledger.NewTransactionView(row)}
	if h.trigger != nil {
		attempt, created, errTrigger := h.trigger.Evaluate(ctx, account.ID, models.TriggerSourceThreshold)
		if errTrigger != nil {
			log.WithError(errTrigger).WithField("business_account_id", account.ID).Warn("auto-recharge trigger failed after debit")
		} else if created {
			response["auto_recharge_attempt"] = recharge.NewAttemptView(attempt)
		}
	}
	c.JSON(http.StatusCreated, response)
}
