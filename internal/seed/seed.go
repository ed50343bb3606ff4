package seed

import (
	"log"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flowgate/internal/models"
)

func FirstSetup(db *gorm.DB) error {
	// -------------------------
	// 1) Ensure default org
	// -------------------------
	org := models.Organization{Name: "Default Organization", Slug: "default"}
	if err := db.Where("slug = ?", org.Slug).FirstOrCreate(&org).Error; err != nil {
		return err
	}

	// -------------------------
	// 2) Ensure roles
	// -------------------------
	adminRole := models.Role{OrgID: org.ID, Name: "Administrator", Slug: "admin", IsSystem: true}
	managerRole := models.Role{OrgID: org.ID, Name: "Manager", Slug: "manager", IsSystem: true}
	memberRole := models.Role{OrgID: org.ID, Name: "Member", Slug: "member", IsSystem: true}

	if err := db.Where("org_id=? AND slug=?", org.ID, adminRole.Slug).FirstOrCreate(&adminRole).Error; err != nil {
		return err
	}
	if err := db.Where("org_id=? AND slug=?", org.ID, managerRole.Slug).FirstOrCreate(&managerRole).Error; err != nil {
		return err
	}
	if err := db.Where("org_id=? AND slug=?", org.ID, memberRole.Slug).FirstOrCreate(&memberRole).Error; err != nil {
		return err
	}

	// -------------------------
	// 3) Ensure permissions
	// -------------------------
	perms := []models.Permission{
		{Key: "users:read", Description: "View users", Resource: "users", Action: "read"},
		{Key: "users:write", Description: "Manage users", Resource: "users", Action: "write"},
		{Key: "users:assign-role", Description: "Assign roles to users", Resource: "users", Action: "assign-role"},
		{Key: "roles:read", Description: "View roles", Resource: "roles", Action: "read"},
		{Key: "roles:write", Description: "Manage roles", Resource: "roles", Action: "write"},
		{Key: "acl:read", Description: "View access control rules", Resource: "acl", Action: "read"},
		{Key: "acl:write", Description: "Manage access control rules and grants", Resource: "acl", Action: "write"},
		{Key: "workflows:read", Description: "View workflow templates and instances", Resource: "workflows", Action: "read"},
		{Key: "workflows:write", Description: "Manage workflow templates", Resource: "workflows", Action: "write"},
		{Key: "workflows:execute", Description: "Start and transition workflow instances", Resource: "workflows", Action: "execute"},
		{Key: "messaging:read", Description: "View messaging rules", Resource: "messaging", Action: "read"},
		{Key: "messaging:write", Description: "Manage messaging rules", Resource: "messaging", Action: "write"},
		{Key: "audit:read", Description: "View audit logs", Resource: "audit", Action: "read"},
	}

	permIDs := map[string]int64{}

	for _, p := range perms {
		tmp := p
		if err := db.Where("`key` = ?", tmp.Key).FirstOrCreate(&tmp).Error; err != nil {
			return err
		}
		permIDs[tmp.Key] = tmp.ID
	}

	// -------------------------
	// 4) role_permissions mapping
	// -------------------------
	// Direct INSERT IGNORE into the join table to avoid GORM's "model value
	// required" error when operating on a table without a corresponding model.
	ensureRolePerm := func(roleID int64, permID int64) error {
		res := db.Exec("INSERT IGNORE INTO role_permissions (role_id, permission_id) VALUES (?, ?)", roleID, permID)
		return res.Error
	}

	// Admin gets ALL permissions
	for _, pid := range permIDs {
		if err := ensureRolePerm(adminRole.ID, pid); err != nil {
			return err
		}
	}

	// Manager: run workflows, manage grants, see everything
	managerKeys := []string{
		"users:read", "roles:read", "acl:read", "acl:write",
		"workflows:read", "workflows:write", "workflows:execute",
		"messaging:read", "audit:read",
	}
	for _, k := range managerKeys {
		if err := ensureRolePerm(managerRole.ID, permIDs[k]); err != nil {
			return err
		}
	}

	// Member: read + execute workflows
	memberKeys := []string{"users:read", "workflows:read", "workflows:execute", "messaging:read"}
	for _, k := range memberKeys {
		if err := ensureRolePerm(memberRole.ID, permIDs[k]); err != nil {
			return err
		}
	}

	// -------------------------
	// 5) Ensure admin user
	// -------------------------
	const adminEmail = "admin@example.com"
	const adminPass = "admin123" // change after first login

	passHash, _ := bcrypt.GenerateFromPassword([]byte(adminPass), bcrypt.DefaultCost)

	adminUser := models.User{
		OrgID:        org.ID,
		Email:        adminEmail,
		Name:         "Admin User",
		Status:       models.UserActive,
		AuthProvider: "local",
		PasswordHash: string(passHash),
		IsSuperuser:  true,
	}

	if err := db.Where("org_id=? AND email=?", org.ID, adminEmail).FirstOrCreate(&adminUser).Error; err != nil {
		return err
	}

	// -------------------------
	// 6) user_roles mapping (admin user -> admin role)
	// Direct INSERT IGNORE: the join table keys on (user_id, role_id, org_id).
	// -------------------------
	if res := db.Exec("INSERT IGNORE INTO user_roles (user_id, role_id, org_id) VALUES (?, ?, ?)", adminUser.ID, adminRole.ID, org.ID); res.Error != nil {
		return res.Error
	}

	// -------------------------
	// 7) Demo ACL rule: invoices above 1000 need a manager
	// -------------------------
	aclRule := models.AccessControlRule{
		OrgID:        org.ID,
		Name:         "high-value invoice approval",
		Description:  "Invoices above 1000 may only be approved by managers",
		EntityType:   "invoice",
		Operation:    "approve",
		Condition:    datatypes.JSON(`{"op":"gt","field":"entity_data.amount","value":1000}`),
		AllowedRoles: []string{"manager", "admin"},
		Priority:     200,
		IsActive:     true,
		CreatedBy:    adminUser.ID,
	}
	if err := db.Where("org_id=? AND name=?", org.ID, aclRule.Name).FirstOrCreate(&aclRule).Error; err != nil {
		return err
	}

	// -------------------------
	// 8) Document approval workflow template
	// -------------------------
	if err := seedDocumentWorkflow(db, org.ID, adminUser.ID); err != nil {
		return err
	}

	// -------------------------
	// 9) Default messaging rule: everyone may message within their org
	// -------------------------
	msgRule := models.MessagingRule{
		OrgID:      &org.ID,
		Name:       "default same-org messaging",
		SourceType: models.ScopeAll,
		TargetType: models.ScopeSameOrg,
		CanMessage: true,
		Priority:   0,
		IsActive:   true,
	}
	if err := db.Where("org_id=? AND source_type=? AND target_type=?",
		org.ID, models.ScopeAll, models.ScopeSameOrg).FirstOrCreate(&msgRule).Error; err != nil {
		return err
	}

	log.Printf("✅ Seed OK | admin=%s pass=%s | org=%s | roles=[admin,manager,member] | perms=%d",
		adminEmail, adminPass, org.Slug, len(perms),
	)
	return nil
}

func seedDocumentWorkflow(db *gorm.DB, orgID, createdBy int64) error {
	tpl := models.WorkflowTemplate{
		OrgID:       orgID,
		Name:        "document approval",
		Description: "Draft -> review -> approved/rejected",
		Version:     1,
		IsActive:    true,
		CreatedBy:   createdBy,
	}
	res := db.Where("org_id=? AND name=? AND version=?", orgID, tpl.Name, tpl.Version).FirstOrCreate(&tpl)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Template already seeded with its graph.
		return nil
	}

	states := []models.WorkflowState{
		{TemplateID: tpl.ID, Name: "draft", Label: "Draft", IsInitial: true},
		{TemplateID: tpl.ID, Name: "review", Label: "In Review"},
		{TemplateID: tpl.ID, Name: "approved", Label: "Approved", IsFinal: true},
		{TemplateID: tpl.ID, Name: "rejected", Label: "Rejected", IsFinal: true},
	}
	ids := map[string]int64{}
	for i := range states {
		if err := db.Create(&states[i]).Error; err != nil {
			return err
		}
		ids[states[i].Name] = states[i].ID
	}
	if err := db.Model(&tpl).Update("default_state_id", ids["draft"]).Error; err != nil {
		return err
	}

	transitions := []models.WorkflowTransition{
		{TemplateID: tpl.ID, FromStateID: ids["draft"], ToStateID: ids["review"], Action: "submit", Label: "Submit for review"},
		{TemplateID: tpl.ID, FromStateID: ids["review"], ToStateID: ids["approved"], Action: "approve", Label: "Approve",
			AllowedRoles: []string{"manager", "admin"}},
		{TemplateID: tpl.ID, FromStateID: ids["review"], ToStateID: ids["rejected"], Action: "reject", Label: "Reject",
			AllowedRoles: []string{"manager", "admin"}},
		{TemplateID: tpl.ID, FromStateID: ids["review"], ToStateID: ids["draft"], Action: "request_changes", Label: "Request changes"},
	}
	for i := range transitions {
		if err := db.Create(&transitions[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
