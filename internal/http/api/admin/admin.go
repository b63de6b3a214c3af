package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/http/api/admin/handlers"
	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/recharge"
	"github.com/luxeride/business-wallet/internal/security"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers back-office routes.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, adminSecret string, orchestrator *recharge.Orchestrator, trigger *recharge.Trigger) {
	if r == nil || db == nil || orchestrator == nil {
		return
	}

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(db, adminSecret))

	accountHandler := handlers.NewBusinessAccountHandler(db, trigger)
	authed.POST("/business-accounts/:id/adjustments", accountHandler.Adjust)
	authed.GET("/business-accounts/:id/ledger-check", accountHandler.LedgerCheck)

	rechargeHandler := handlers.NewAutoRechargeHandler(orchestrator)
	authed.GET("/auto-recharge/attempts", rechargeHandler.List)
	authed.POST("/auto-recharge/attempts/:id/reconcile", rechargeHandler.Reconcile)
}

// adminAuthMiddleware validates admin JWTs and loads the admin into context.
func adminAuthMiddleware(db *gorm.DB, adminSecret string) gin.HandlerFunc {
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

		claims, errJWT := security.ParseAdminToken(adminSecret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
