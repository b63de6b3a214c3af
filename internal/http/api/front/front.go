package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/http/api/front/handlers"
	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/recharge"
	"github.com/luxeride/business-wallet/internal/security"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers the business portal routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtSecret string, trigger *recharge.Trigger, store *recharge.Store) {
	if r == nil || db == nil {
		return
	}

	authed := r.Group("/v0/business")
	authed.Use(businessAuthMiddleware(db, jwtSecret))

	walletHandler := handlers.NewWalletHandler(db, trigger, store)
	authed.GET("/wallet", walletHandler.Get)
	authed.GET("/wallet/transactions", walletHandler.Transactions)
	authed.GET("/wallet/auto-recharge/attempts", walletHandler.Attempts)
	authed.PUT("/wallet/auto-recharge", walletHandler.UpdateAutoRecharge)

	paymentMethodHandler := handlers.NewPaymentMethodHandler(db)
	authed.GET("/payment-methods", paymentMethodHandler.List)

	notificationHandler := handlers.NewNotificationHandler(db)
	authed.GET("/notifications", notificationHandler.List)
	authed.POST("/notifications/:id/read", notificationHandler.MarkRead)
}

// businessAuthMiddleware validates business user JWTs and loads the user into context.
func businessAuthMiddleware(db *gorm.DB, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := security.BearerToken(authHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, errJWT := security.ParseBusinessToken(jwtSecret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.BusinessUser
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}
		if user.BusinessAccountID != claims.BusinessAccountID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account mismatch"})
			return
		}

		c.Set("userID", user.ID)
		c.Set("businessAccountID", user.BusinessAccountID)
		c.Set("userRole", strings.ToLower(user.Role))
		c.Next()
	}
}
