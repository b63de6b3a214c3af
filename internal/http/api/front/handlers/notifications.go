package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationHandler serves in-app notifications.
type NotificationHandler struct {
	db *gorm.DB
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

// notificationDTO defines the notification payload.
type notificationDTO struct {
	ID        uint64         `json:"id"`
	Category  string         `json:"category"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      datatypes.JSON `json:"data,omitempty"`
	Link      string         `json:"link,omitempty"`
	ReadAt    *time.Time     `json:"read_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns the caller's notifications, newest first. unread=1 filters unread ones.
func (h *NotificationHandler) List(c *gin.Context) {
	accountID := getBusinessAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	page, size := pageParams(c)

	base := h.db.WithContext(c.Request.Context()).Model(&models.Notification{}).Where("business_account_id = ?", accountID)
	if c.Query("unread") == "1" || c.Query("unread") == "true" {
		base = base.Where("read_at IS NULL")
	}
	if category := c.Query("category"); category != "" {
		base = base.Where("category = ?", category)
	}

	var total int64
	if errCount := base.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count notifications failed"})
		return
	}
	var rows []models.Notification
	if errFind := base.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list notifications failed"})
		return
	}

	out := make([]notificationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, notificationDTO{
			ID:        row.ID,
			Category:  row.Category,
			Type:      row.Type,
			Title:     row.Title,
			Message:   row.Message,
			Data:      row.Data,
			Link:      row.Link,
			ReadAt:    row.ReadAt,
			CreatedAt: row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out, "total": total, "page": page, "page_size": size})
}

// MarkRead marks one notification as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	accountID := getBusinessAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).
		Model(&models.Notification{}).
		Where("id = ? AND business_account_id = ?", id, accountID).
		Where("read_at IS NULL").
		Update("read_at", time.Now().UTC())
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update notification failed"})
		return
	}
	if res.RowsAffected == 0 {
		var count int64
		if errCount := h.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
			Where("id = ? AND business_account_id = ?", id, accountID).
			Count(&count).Error; errCount != nil || count == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
