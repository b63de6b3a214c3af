package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/gorm"
)

// PaymentMethodHandler lists saved cards.
type PaymentMethodHandler struct {
	db *gorm.DB
}

// NewPaymentMethodHandler constructs a PaymentMethodHandler.
func NewPaymentMethodHandler(db *gorm.DB) *PaymentMethodHandler {
	return &PaymentMethodHandler{db: db}
}

// paymentMethodDTO defines the saved card payload.
type paymentMethodDTO struct {
	ID        uint64 `json:"id"`
	Display   string `json:"display"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
	IsDefault bool   `json:"is_default"`
	Expired   bool   `json:"expired"`
}

func newPaymentMethodDTO(method *models.PaymentMethod) *paymentMethodDTO {
	if method == nil {
		return nil
	}
	return &paymentMethodDTO{
		ID:        method.ID,
		Display:   method.Masked(),
		Brand:     method.Brand,
		Last4:     method.Last4,
		ExpMonth:  method.ExpMonth,
		ExpYear:   method.ExpYear,
		IsDefault: method.IsDefault,
		Expired:   method.Expired(time.Now().UTC()),
	}
}

// List returns the active saved cards of the caller's account.
func (h *PaymentMethodHandler) List(c *gin.Context) {
	accountID := getBusinessAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var rows []models.PaymentMethod
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("business_account_id = ? AND is_active = ?", accountID, true).
		Order("is_default DESC").Order("id ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list payment methods failed"})
		return
	}
	out := make([]*paymentMethodDTO, 0, len(rows))
	for i := range rows {
		out = append(out, newPaymentMethodDTO(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"payment_methods": out})
}
