package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flowgate/internal/acl"
	"flowgate/internal/auth"
	"flowgate/internal/models"
)

// ListACLRules returns the org's rules in evaluation order.
func ListACLRules(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		query := db.Where("org_id = ?", cl.OrgID)
		if et := c.Query("entity_type"); et != "" {
			query = query.Where("entity_type = ?", et)
		}
		if op := c.Query("operation"); op != "" {
			query = query.Where("operation = ?", op)
		}

		var rules []models.AccessControlRule
		if err := query.Order("priority DESC, id ASC").Find(&rules).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

// CreateACLRule validates and stores a new rule. The condition is parsed
// up front so a malformed predicate is rejected at authoring time, not
// discovered at evaluation time.
func CreateACLRule(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input struct {
			Name             string          `json:"name" binding:"required"`
			Description      string          `json:"description"`
			EntityType       string          `json:"entity_type" binding:"required"`
			Operation        string          `json:"operation" binding:"required"`
			FieldName        *string         `json:"field_name"`
			Condition        json.RawMessage `json:"condition"`
			AllowedRoles     []string        `json:"allowed_roles"`
			DeniedRoles      []string        `json:"denied_roles"`
			AllowedUsers     []int64         `json:"allowed_users"`
			DeniedUsers      []int64         `json:"denied_users"`
			RequiresApproval bool            `json:"requires_approval"`
			Priority         *int            `json:"priority"`
			IsActive         *bool           `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if _, err := acl.ParseCondition(input.Condition); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rule := models.AccessControlRule{
			OrgID:            cl.OrgID,
			Name:             input.Name,
			Description:      input.Description,
			EntityType:       input.EntityType,
			Operation:        input.Operation,
			FieldName:        input.FieldName,
			Condition:        datatypes.JSON(input.Condition),
			AllowedRoles:     input.AllowedRoles,
			DeniedRoles:      input.DeniedRoles,
			AllowedUsers:     input.AllowedUsers,
			DeniedUsers:      input.DeniedUsers,
			RequiresApproval: input.RequiresApproval,
			Priority:         100,
			IsActive:         true,
			CreatedBy:        cl.UserID,
		}
		if input.Priority != nil {
			rule.Priority = *input.Priority
		}
		if input.IsActive != nil {
			rule.IsActive = *input.IsActive
		}

		if err := db.Create(&rule).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"rule": rule})
	}
}

// UpdateACLRule applies a partial update. Priority edits re-sort the
// evaluation order at read time; rows never move.
func UpdateACLRule(db *gorm.DB) gin.HandlerFunc {
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

		var rule models.AccessControlRule
		if err := db.Where("id = ? AND org_id = ?", id, cl.OrgID).First(&rule).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}

		var input struct {
			Name             *string         `json:"name"`
			Description      *string         `json:"description"`
			Condition        json.RawMessage `json:"condition"`
			AllowedRoles     []string        `json:"allowed_roles"`
			DeniedRoles      []string        `json:"denied_roles"`
			AllowedUsers     []int64         `json:"allowed_users"`
			DeniedUsers      []int64         `json:"denied_users"`
			RequiresApproval *bool           `json:"requires_approval"`
			Priority         *int            `json:"priority"`
			IsActive         *bool           `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		updates := map[string]any{}
		if input.Name != nil {
			updates["name"] = *input.Name
		}
		if input.Description != nil {
			updates["description"] = *input.Description
		}
		if input.Condition != nil {
			if _, err := acl.ParseCondition(input.Condition); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			updates["condition"] = datatypes.JSON(input.Condition)
		}
		if input.AllowedRoles != nil {
			updates["allowed_roles"] = datatypes.NewJSONSlice(input.AllowedRoles)
		}
		if input.DeniedRoles != nil {
			updates["denied_roles"] = datatypes.NewJSONSlice(input.DeniedRoles)
		}
		if input.AllowedUsers != nil {
			updates["allowed_users"] = datatypes.NewJSONSlice(input.AllowedUsers)
		}
		if input.DeniedUsers != nil {
			updates["denied_users"] = datatypes.NewJSONSlice(input.DeniedUsers)
		}
		if input.RequiresApproval != nil {
			updates["requires_approval"] = *input.RequiresApproval
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

// DisableACLRule soft-disables a rule; rows are never deleted.
func DisableACLRule(db *gorm.DB) gin.HandlerFunc {
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

		res := db.Model(&models.AccessControlRule{}).
			Where("id = ? AND org_id = ?", id, cl.OrgID).
			Update("is_active", false)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"disabled": true})
	}
}

// CheckAccess runs an authorization check and returns the decision with
// its reason. With field_name set it checks field-level access.
func CheckAccess(resolver *acl.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input struct {
			EntityType string         `json:"entity_type" binding:"required"`
			EntityID   string         `json:"entity_id"`
			FieldName  string         `json:"field_name"`
			Operation  string         `json:"operation" binding:"required"`
			EntityData map[string]any `json:"entity_data"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		actor := acl.Actor{UserID: cl.UserID, OrgID: cl.OrgID}
		var (
			decision acl.Decision
			err      error
		)
		if input.FieldName != "" {
			decision, err = resolver.CheckFieldAccess(c.Request.Context(), actor,
				input.EntityType, input.FieldName, input.Operation, input.EntityData)
		} else {
			decision, err = resolver.CheckRecordAccess(c.Request.Context(), actor,
				input.EntityType, input.EntityID, input.Operation, input.EntityData)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, decision)
	}
}
