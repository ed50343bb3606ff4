package main

import (
	"fmt"
	"log"

	"flowgate/internal/config"
	"flowgate/internal/db"
	httpserver "flowgate/internal/http"
	"flowgate/internal/logging"
	"flowgate/internal/models"
	"flowgate/internal/seed"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	gdb := db.Connect(cfg.DSN)
	db.AutoMigrate(gdb,
		&models.Organization{},
		&models.User{},
		&models.Role{},
		&models.UserRole{},
		&models.Permission{},
		&models.Group{},
		&models.UserGroup{},
		&models.AccessControlRule{},
		&models.RecordPermission{},
		&models.WorkflowTemplate{},
		&models.WorkflowState{},
		&models.WorkflowTransition{},
		&models.WorkflowInstance{},
		&models.WorkflowHistory{},
		&models.WorkflowApproval{},
		&models.MessagingRule{},
		&models.AuditLog{},
	)

	if err := seed.FirstSetup(gdb); err != nil {
		log.Fatalf("❌ Seed failed: %v", err)
	}

	r := httpserver.NewRouter(gdb, cfg, logger)
	log.Printf("🚀 Server listening on :%s\n", cfg.AppPort)
	r.Run(fmt.Sprintf(":%s", cfg.AppPort))
}
