package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/http/api/cron/handlers"
	"github.com/luxeride/business-wallet/internal/recharge"
	"github.com/luxeride/business-wallet/internal/security"
	"gorm.io/gorm"
)

// RegisterCronRoutes registers scheduler-facing routes guarded by the shared cron secret.
func RegisterCronRoutes(r *gin.Engine, db *gorm.DB, cronSecret string, orchestrator *recharge.Orchestrator, trigger *recharge.Trigger) {
	if r == nil || db == nil || orchestrator == nil {
		return
	}

	internal := r.Group("/v0/internal")
	internal.Use(cronAuthMiddleware(cronSecret))

	rechargeHandler := handlers.NewAutoRechargeHandler(orchestrator)
	internal.GET("/auto-recharge/process", rechargeHandler.ProcessDue)
	internal.POST("/auto-recharge/process", rechargeHandler.Process)

	debitHandler := handlers.NewWalletDebitHandler(db, trigger)
	internal.POST("/wallet/debits", debitHandler.Create)
}

// cronAuthMiddleware rejects requests that do not present the cron secret as a bearer token.
func cronAuthMiddleware(cronSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := security.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		if !security.SecretMatches(cronSecret, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
