package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// parseIDParam reads a positive numeric path parameter.
func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(c.Param(name), 10, 64)
	if errParse != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// adminActor returns the ledger created_by tag for the current admin.
func adminActor(c *gin.Context) string {
	username := c.GetString("adminUsername")
	if username == "" {
		return "admin"
	}
	return "admin:" + username
}
