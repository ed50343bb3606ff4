package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"flowgate/internal/acl"
	"flowgate/internal/auth"
)

// GrantRecordPermission creates an explicit per-record grant for a user or
// a role. Re-granting an active permission is a no-op.
func GrantRecordPermission(overlay *acl.Overlay) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input struct {
			EntityType string     `json:"entity_type" binding:"required"`
			EntityID   string     `json:"entity_id" binding:"required"`
			UserID     *int64     `json:"user_id"`
			RoleID     *int64     `json:"role_id"`
			Operation  string     `json:"operation" binding:"required"`
			ExpiresAt  *time.Time `json:"expires_at"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		perm, err := overlay.Grant(c.Request.Context(), acl.GrantParams{
			OrgID:      cl.OrgID,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			UserID:     input.UserID,
			RoleID:     input.RoleID,
			Operation:  input.Operation,
			GrantedBy:  cl.UserID,
			ExpiresAt:  input.ExpiresAt,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"permission": perm})
	}
}

// RevokeRecordPermission soft-deletes a grant.
func RevokeRecordPermission(overlay *acl.Overlay) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid permission id"})
			return
		}

		if err := overlay.Revoke(c.Request.Context(), id, cl.UserID); err != nil {
			if errors.Is(err, acl.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

// ListRecordPermissions returns the caller's active grants, direct or via
// roles.
func ListRecordPermissions(overlay *acl.Overlay) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		perms, err := overlay.ListForUser(c.Request.Context(), cl.UserID, cl.OrgID,
			c.Query("entity_type"), c.Query("entity_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"permissions": perms})
	}
}
