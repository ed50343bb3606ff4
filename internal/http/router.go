package httpserver

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"flowgate/internal/acl"
	"flowgate/internal/audit"
	"flowgate/internal/auth"
	"flowgate/internal/config"
	"flowgate/internal/http/handlers"
	"flowgate/internal/messaging"
	"flowgate/internal/middleware"
	"flowgate/internal/rbac"
	"flowgate/internal/workflow"
)

func NewRouter(db *gorm.DB, cfg config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLog(log))
	r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	store := rbac.NewStore(db)
	recorder := audit.NewRecorder(db, log)
	overlay := acl.NewOverlay(db, store, recorder, log)
	resolver := acl.NewResolver(db, store, store, overlay, log)
	engine := workflow.NewEngine(db, store, recorder, log)
	msgSvc := messaging.NewService(db, store, log)

	// Public routes
	r.POST("/api/v1/auth/login", handlers.LoginHandler(db, cfg.JWTSecret))
	r.GET("/logout", handlers.LogoutHandler())

	chk := rbac.Checker{DB: db}
	authMW := auth.JWT(db, cfg.JWTSecret)

	api := r.Group("/api/v1", authMW)
	{
		// Current user info & permissions
		api.GET("/me", handlers.MeHandler(db))

		// Users
		api.GET("/users", require(chk, "users:read"), handlers.ListUsers(db))
		api.POST("/users", require(chk, "users:write"), handlers.CreateUser(db))
		api.POST("/users/:id/deactivate", require(chk, "users:assign-role"), handlers.DeactivateUser(db))
		api.POST("/users/:id/activate", require(chk, "users:assign-role"), handlers.ActivateUser(db))

		// Roles
		api.GET("/roles", require(chk, "roles:read"), handlers.ListRoles(db))
		api.POST("/roles", require(chk, "roles:write"), handlers.CreateRole(db))
		api.POST("/roles/:id/permissions", require(chk, "roles:write"), handlers.AssignPermissions(db))

		// Role assignment
		assign := api.Group("/assign")
		assign.GET("/users", require(chk, "roles:read"), handlers.ListUserRoles(db))
		api.POST("/users/:id/roles", require(chk, "users:assign-role"), handlers.AssignRoles(db))

		// Access control rules
		api.GET("/acl/rules", require(chk, "acl:read"), handlers.ListACLRules(db))
		api.POST("/acl/rules", require(chk, "acl:write"), handlers.CreateACLRule(db))
		api.PATCH("/acl/rules/:id", require(chk, "acl:write"), handlers.UpdateACLRule(db))
		api.POST("/acl/rules/:id/disable", require(chk, "acl:write"), handlers.DisableACLRule(db))
		api.POST("/acl/check", handlers.CheckAccess(resolver))

		// Record-level permission overlay
		api.GET("/acl/record-permissions", handlers.ListRecordPermissions(overlay))
		api.POST("/acl/record-permissions", require(chk, "acl:write"), handlers.GrantRecordPermission(overlay))
		api.DELETE("/acl/record-permissions/:id", require(chk, "acl:write"), handlers.RevokeRecordPermission(overlay))

		// Workflow templates
		api.GET("/workflows/templates", require(chk, "workflows:read"), handlers.ListTemplates(db))
		api.POST("/workflows/templates", require(chk, "workflows:write"), handlers.CreateTemplate(db))
		api.POST("/workflows/templates/:id/clone", require(chk, "workflows:write"), handlers.CloneTemplate(db))

		// Workflow instances
		api.GET("/workflows/instances", require(chk, "workflows:read"), handlers.ListInstances(db))
		api.POST("/workflows/instances", require(chk, "workflows:execute"), handlers.StartWorkflow(engine))
		api.GET("/workflows/instances/:id", require(chk, "workflows:read"), handlers.GetInstance(db))
		api.GET("/workflows/instances/:id/history", require(chk, "workflows:read"), handlers.InstanceHistory(engine))
		api.POST("/workflows/instances/:id/start", require(chk, "workflows:execute"), handlers.StartInstance(engine))
		api.POST("/workflows/instances/:id/actions", require(chk, "workflows:execute"), handlers.TransitionInstance(engine))
		api.POST("/workflows/instances/:id/cancel", require(chk, "workflows:execute"), handlers.CancelInstance(engine))
		api.POST("/workflows/instances/:id/suspend", require(chk, "workflows:execute"), handlers.SuspendInstance(engine))
		api.POST("/workflows/instances/:id/resume", require(chk, "workflows:execute"), handlers.ResumeInstance(engine))

		// Approvals
		api.POST("/workflows/approvals/:id/approve", require(chk, "workflows:execute"), handlers.ApproveTransition(engine))
		api.POST("/workflows/approvals/:id/reject", require(chk, "workflows:execute"), handlers.RejectTransition(engine))

		// Messaging permissions
		api.GET("/messaging/rules", require(chk, "messaging:read"), handlers.ListMessagingRules(msgSvc))
		api.POST("/messaging/rules", require(chk, "messaging:write"), handlers.CreateMessagingRule(db))
		api.PATCH("/messaging/rules/:id", require(chk, "messaging:write"), handlers.UpdateMessagingRule(db))
		api.DELETE("/messaging/rules/:id", require(chk, "messaging:write"), handlers.DeleteMessagingRule(db))
		api.GET("/messaging/can-message", handlers.CanMessage(db, msgSvc))
		api.GET("/messaging/users", handlers.MessageableUsers(db, msgSvc))

		// Audit trail
		api.GET("/audit", require(chk, "audit:read"), handlers.ListAudit(db))
	}

	return r
}

func require(chk rbac.Checker, permKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := c.Get("claims")
		cl := claims.(*auth.Claims)
		ok, err := chk.Can(c, cl.UserID, cl.OrgID, permKey)
		if err != nil || !ok {
			c.AbortWithStatusJSON(403, gin.H{"error": "forbidden", "missing": permKey})
			return
		}
		c.Next()
	}
}
