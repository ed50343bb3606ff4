package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"flowgate/internal/auth"
	"flowgate/internal/models"
)

// ListUsers returns the org's users.
func ListUsers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var users []models.User
		if err := db.Where("org_id = ?", cl.OrgID).Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// CreateUser inserts a new user
func CreateUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			OrgID    int64  `json:"org_id" binding:"required"`
			Email    string `json:"email" binding:"required,email"`
			Name     string `json:"name" binding:"required"`
			Password string `json:"password" binding:"required,min=8"`
			Status   string `json:"status"` // optional; e.g. "active"
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		in.Email = strings.TrimSpace(strings.ToLower(in.Email))
		in.Name = strings.TrimSpace(in.Name)
		if in.Status == "" {
			in.Status = string(models.UserActive)
		}

		// Prevent duplicate email per org (unique key recommended at DB level too)
		var existing int64
		if err := db.Model(&models.User{}).
			Where("org_id = ? AND email = ?", in.OrgID, in.Email).
			Count(&existing).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if existing > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "email already exists in this organization"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}

		user := models.User{
			OrgID:        in.OrgID,
			Email:        in.Email,
			Name:         in.Name,
			Status:       models.UserStatus(in.Status),
			PasswordHash: string(hash),
		}
		if err := db.Create(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"user": user})
	}
}

// DeactivateUser suspends a user account.
func DeactivateUser(db *gorm.DB) gin.HandlerFunc {
	return setUserStatus(db, models.UserSuspended)
}

// ActivateUser reinstates a suspended account.
func ActivateUser(db *gorm.DB) gin.HandlerFunc {
	return setUserStatus(db, models.UserActive)
}

func setUserStatus(db *gorm.DB, status models.UserStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}

		res := db.Model(&models.User{}).
			Where("id = ? AND org_id = ?", id, cl.OrgID).
			Update("status", status)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}
