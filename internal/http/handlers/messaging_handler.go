package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"flowgate/internal/auth"
	"flowgate/internal/messaging"
	"flowgate/internal/models"
)

// ListMessagingRules returns the org's rules plus globals in evaluation
// order.
func ListMessagingRules(svc *messaging.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		rules, err := svc.ListByOrg(c.Request.Context(), cl.OrgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

var messagingScopes = map[models.MessagingScope]bool{
	models.ScopeAll:       true,
	models.ScopeUser:      true,
	models.ScopeGroup:     true,
	models.ScopeRole:      true,
	models.ScopeSameOrg:   true,
	models.ScopeSameGroup: true,
}

// CreateMessagingRule stores a new rule scoped to the caller's org.
func CreateMessagingRule(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input struct {
			Name       string                `json:"name" binding:"required"`
			SourceType models.MessagingScope `json:"source_type" binding:"required"`
			SourceID   *int64                `json:"source_id"`
			TargetType models.MessagingScope `json:"target_type" binding:"required"`
			TargetID   *int64                `json:"target_id"`
			CanMessage *bool                 `json:"can_message" binding:"required"`
			Priority   int                   `json:"priority"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !messagingScopes[input.SourceType] || input.SourceType == models.ScopeSameOrg || input.SourceType == models.ScopeSameGroup {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source_type"})
			return
		}
		if !messagingScopes[input.TargetType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target_type"})
			return
		}
		if (input.SourceType == models.ScopeUser || input.SourceType == models.ScopeGroup || input.SourceType == models.ScopeRole) && input.SourceID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source_id is required for this source_type"})
			return
		}
		if (input.TargetType == models.ScopeUser || input.TargetType == models.ScopeGroup || input.TargetType == models.ScopeRole) && input.TargetID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_id is required for this target_type"})
			return
		}

		orgID := cl.OrgID
		rule := models.MessagingRule{
			OrgID:      &orgID,
			Name:       input.Name,
			SourceType: input.SourceType,
			SourceID:   input.SourceID,
			TargetType: input.TargetType,
			TargetID:   input.TargetID,
			CanMessage: *input.CanMessage,
			Priority:   input.Priority,
			IsActive:   true,
		}
		if err := db.Create(&rule).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"rule": rule})
	}
}

// UpdateMessagingRule applies a partial update to an org-scoped rule.
// Global rules are read-only through the API.
func UpdateMessagingRule(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		var rule models.MessagingRule
		if err := db.Where("id = ? AND org_id = ?", id, cl.OrgID).First(&rule).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}

		var input struct {
			Name       *string `json:"name"`
			CanMessage *bool   `json:"can_message"`
			Priority   *int    `json:"priority"`
			IsActive   *bool   `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		updates := map[string]any{}
		if input.Name != nil {
			updates["name"] = *input.Name
		}
		if input.CanMessage != nil {
			updates["can_message"] = *input.CanMessage
		}
		if input.Priority != nil {
			updates["priority"] = *input.Priority
		}
		if input.IsActive != nil {
			updates["is_active"] = *input.IsActive
		}

		if len(updates) > 0 {
			if err := db.Model(&rule).Updates(updates).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"rule": rule})
	}
}

// DeleteMessagingRule removes an org-scoped rule.
func DeleteMessagingRule(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		res := db.Where("id = ? AND org_id = ?", id, cl.OrgID).Delete(&models.MessagingRule{})
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// CanMessage answers whether the caller may message ?recipient_id=N.
func CanMessage(db *gorm.DB, svc *messaging.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		recipientID, err := strconv.ParseInt(c.Query("recipient_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id is required"})
			return
		}

		var sender, recipient models.User
		if err := db.First(&sender, cl.UserID).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := db.First(&recipient, recipientID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "recipient not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		allowed, reason, err := svc.CanMessage(c.Request.Context(), &sender, &recipient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"allowed": allowed, "reason": reason})
	}
}

// MessageableUsers lists recipients the caller can reach, with search and
// offset pagination.
func MessageableUsers(db *gorm.DB, svc *messaging.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var user models.User
		if err := db.First(&user, cl.UserID).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		users, total, err := svc.MessageableUsers(c.Request.Context(), &user, c.Query("q"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users, "total": total})
	}
}
