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
	"gorm.io/gorm/clause"
)

// maxRechargeRetries bounds the per-account retry budget users may set.
const maxRechargeRetries = 10

// WalletHandler serves the business wallet page.
type WalletHandler struct {
	db      *gorm.DB
	trigger *recharge.Trigger
	store   *recharge.Store
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(db *gorm.DB, trigger *recharge.Trigger, store *recharge.Store) *WalletHandler {
	if store == nil {
		store = recharge.NewStore(db)
	}
	return &WalletHandler{db: db, trigger: trigger, store: store}
}

// walletDTO defines the wallet response payload.
type walletDTO struct {
	BusinessAccountID    uint64                `json:"business_account_id"`
	Name                 string                `json:"name"`
	Currency             string                `json:"currency"`
	Balance              string                `json:"balance"`
	BalanceCents         int64                 `json:"balance_cents"`
	AutoRecharge         autoRechargeDTO       `json:"auto_recharge"`
	DefaultPaymentMethod *paymentMethodDTO     `json:"default_payment_method"`
	LatestAttempt        *recharge.AttemptView `json:"latest_attempt"`
}

// autoRechargeDTO defines the auto-recharge settings payload.
type autoRechargeDTO struct {
	Enabled    bool   `json:"enabled"`
	Threshold  string `json:"threshold"`
	Amount     string `json:"amount"`
	MaxRetries int    `json:"max_retries"`
}

// updateAutoRechargeRequest defines the request body for auto-recharge settings.
type updateAutoRechargeRequest struct {
	Enabled         *bool   `json:"enabled"`
	Threshold       *string `json:"threshold"`
	Amount          *string `json:"amount"`
	MaxRetries      *int    `json:"max_retries"`
	PaymentMethodID *uint64 `json:"payment_method_id"`
}

// Get returns the wallet and runs the page-load auto-recharge check.
func (h *WalletHandler) Get(c *gin.Context) {
	accountID := getBusinessAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.evaluate(c, accountID)
	h.respondWallet(c, accountID)
}

// Transactions lists ledger entries of the caller's wallet.
func (h *WalletHandler) Transactions(c *gin.Context) {
	accountID := getBusinessAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	page, size := pageParams(c)
	rows, total, errList := ledger.List(c.Request.Context(), h.db, accountID, ledger.ListQuery{
		Type:     strings.TrimSpace(c.Query("type")),
		Page:     page,
		PageSize: size,
	})
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": ledger.NewTransactionViews(rows),
		"total":        total,
		"page":         page,
		"page_size":    size,
	})
}

// Attempts lists auto-recharge attempts of the caller's wallet.
func (h *WalletHandler) Attempts(c *gin.Context) {
	accountID := getBusinessAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	page, size := pageParams(c)
	rows, total, errList := h.store.List(c.Request.Context(), recharge.ListQuery{
		BusinessAccountID: accountID,
		Status:            strings.TrimSpace(c.Query("status")),
		Page:              page,
		PageSize:          size,
	})
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list attempts failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempts":  recharge.NewAttemptViews(rows),
		"total":     total,
		"page":      page,
		"page_size": size,
	})
}

// UpdateAutoRecharge changes the wallet's auto-recharge settings. Owners and admins only.
func (h *WalletHandler) UpdateAutoRecharge(c *gin.Context) {
	accountID := getBusinessAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user := models.BusinessUser{ID: getUserID(c), Role: c.GetString("userRole")}
	if !user.CanManageBilling() {
		c.JSON(http.StatusForbidden, gin.H{"error": "billing permission required"})
		return
	}

	var body updateAutoRechargeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var account models.BusinessAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", accountID).
			Take(&account).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "business account not found"})
				return errFind
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query business account failed"})
			return errFind
		}

		updates := map[string]any{}
		if body.Enabled != nil {
			account.AutoRechargeEnabled = *body.Enabled
			updates["auto_recharge_enabled"] = *body.Enabled
		}
		if body.Threshold != nil {
			threshold, errParse := money.Parse(*body.Threshold, account.Currency)
			if errParse != nil || threshold < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
				return errors.New("invalid threshold")
			}
			account.AutoRechargeThresholdCents = threshold
			updates["auto_recharge_threshold_cents"] = threshold
		}
		if body.Amount != nil {
			amount, errParse := money.Parse(*body.Amount, account.Currency)
			if errParse != nil || amount <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
				return errors.New("invalid amount")
			}
			account.AutoRechargeAmountCents = amount
			updates["auto_recharge_amount_cents"] = amount
		}
		if body.MaxRetries != nil {
			if *body.MaxRetries < 0 || *body.MaxRetries > maxRechargeRetries {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_retries"})
				return errors.New("invalid max_retries")
			}
			updates["auto_recharge_max_retries"] = *body.MaxRetries
		}
		if body.PaymentMethodID != nil {
			var method models.PaymentMethod
			if errFind := tx.Where("id = ? AND business_account_id = ? AND is_active = ?", *body.PaymentMethodID, accountID, true).
				Take(&method).Error; errFind != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "payment method not found"})
				return errFind
			}
			account.DefaultPaymentMethodID = &method.ID
			updates["default_payment_method_id"] = method.ID
			if errUnset := tx.Model(&models.PaymentMethod{}).
				Where("business_account_id = ? AND id <> ?", accountID, method.ID).
				Update("is_default", false).Error; errUnset != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "update payment methods failed"})
				return errUnset
			}
			if errSet := tx.Model(&method).Update("is_default", true).Error; errSet != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "update payment methods failed"})
				return errSet
			}
		}

		if account.AutoRechargeEnabled {
			if account.AutoRechargeAmountCents <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required when auto-recharge is enabled"})
				return errors.New("missing amount")
			}
			if account.DefaultPaymentMethodID == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "a payment method is required when auto-recharge is enabled"})
				return errors.New("missing payment method")
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if errUpdate := tx.Model(&models.BusinessAccount{}).Where("id = ?", accountID).Updates(updates).Error; errUpdate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update auto-recharge failed"})
			return errUpdate
		}
		return nil
	})
	if errTx != nil {
		// response already written inside transaction on error paths
		return
	}

	log.WithFields(log.Fields{
		"business_account_id": accountID,
		"user_id":             user.ID,
	}).Info("auto-recharge settings updated")
	h.evaluate(c, accountID)
	h.respondWallet(c, accountID)
}

// evaluate runs the threshold check; failures never fail the request.
func (h *WalletHandler) evaluate(c *gin.Context, accountID uint64) {
	if h.trigger == nil {
		return
	}
	if _, _, errTrigger := h.trigger.Evaluate(c.Request.Context(), accountID, models.TriggerSourceThreshold); errTrigger != nil {
		log.WithError(errTrigger).WithField("business_account_id", accountID).Warn("auto-recharge trigger check failed")
	}
}

func (h *WalletHandler) respondWallet(c *gin.Context, accountID uint64) {
	ctx := c.Request.Context()
	var account models.BusinessAccount
	if errFind := h.db.WithContext(ctx).Preload("DefaultPaymentMethod").
		Where("id = ?", accountID).
		Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "business account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query business account failed"})
		return
	}

	latest, _, errLatest := h.store.List(ctx, recharge.ListQuery{BusinessAccountID: accountID, Page: 1, PageSize: 1})
	if errLatest != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query attempts failed"})
		return
	}

	dto := walletDTO{
		BusinessAccountID: account.ID,
		Name:              account.Name,
		Currency:          money.NormalizeCurrency(account.Currency),
		Balance:           money.Format(account.BalanceCents, account.Currency),
		BalanceCents:      account.BalanceCents,
		AutoRecharge: autoRechargeDTO{
			Enabled:    account.AutoRechargeEnabled,
			Threshold:  money.Format(account.AutoRechargeThresholdCents, account.Currency),
			Amount:     money.Format(account.AutoRechargeAmountCents, account.Currency),
			MaxRetries: account.AutoRechargeMaxRetries,
		},
		DefaultPaymentMethod: newPaymentMethodDTO(account.DefaultPaymentMethod),
	}
	if len(latest) > 0 {
		dto.LatestAttempt = recharge.NewAttemptView(&latest[0])
	}
	c.JSON(http.StatusOK, gin.H{"wallet": dto})
}
