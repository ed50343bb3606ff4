package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"flowgate/internal/auth"
	"flowgate/internal/models"
)

// ListUserRoles lists users with their assigned roles.
func ListUserRoles(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var users []models.User
		if err := db.Where("org_id = ?", cl.OrgID).Preload("Roles").Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// AssignRoles replaces a user's role set within the org.
func AssignRoles(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}

		var input struct {
			RoleIDs []int64 `json:"role_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if err := db.Where("id = ? AND org_id = ?", userID, cl.OrgID).First(&user).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		var roles []models.Role
		if err := db.Where("org_id = ? AND id IN ?", cl.OrgID, input.RoleIDs).Find(&roles).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(roles) != len(input.RoleIDs) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "one or more role ids are unknown in this organization"})
			return
		}

		// Replace via the composite join table directly; the user_roles
		// table keys on (user_id, role_id, org_id).
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ? AND org_id = ?", user.ID, cl.OrgID).
				Delete(&models.UserRole{}).Error; err != nil {
				return err
			}
			for _, r := range roles {
				ur := models.UserRole{UserID: user.ID, RoleID: r.ID, OrgID: cl.OrgID}
				if err := tx.Create(&ur).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "roles": roles})
	}
}
