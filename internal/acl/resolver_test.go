package acl

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"flowgate/internal/audit"
	"flowgate/internal/models"
	"flowgate/internal/rbac"
)

const testOrgID int64 = 1

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Role{},
		&models.UserRole{},
		&models.Permission{},
		&models.Group{},
		&models.UserGroup{},
		&models.AccessControlRule{},
		&models.RecordPermission{},
		&models.AuditLog{},
	))
	return gdb
}

func newResolver(t *testing.T, gdb *gorm.DB) (*Resolver, *Overlay) {
	t.Helper()
	log := zerolog.Nop()
	store := rbac.NewStore(gdb)
	rec := audit.NewRecorder(gdb, log)
	overlay := NewOverlay(gdb, store, rec, log)
	return NewResolver(gdb, store, store, overlay, log), overlay
}

func seedUser(t *testing.T, gdb *gorm.DB, email string, roleSlugs ...string) *models.User {
	t.Helper()

	user := models.User{OrgID: testOrgID, Email: email, Name: email, Status: models.UserActive}
	require.NoError(t, gdb.Create(&user).Error)

	for _, slug := range roleSlugs {
		var role models.Role
		err := gdb.Where("org_id = ? AND slug = ?", testOrgID, slug).First(&role).Error
		if err != nil {
			role = models.Role{OrgID: testOrgID, Name: slug, Slug: slug}
			require.NoError(t, gdb.Create(&role).Error)
		}
		require.NoError(t, gdb.Create(&models.UserRole{
			UserID: user.ID, RoleID: role.ID, OrgID: testOrgID,
		}).Error)
	}
	return &user
}

func grantPermKey(t *testing.T, gdb *gorm.DB, roleSlug, key, resource, action string) {
	t.Helper()

	var role models.Role
	require.NoError(t, gdb.Where("org_id = ? AND slug = ?", testOrgID, roleSlug).First(&role).Error)

	perm := models.Permission{Key: key, Resource: resource, Action: action}
	require.NoError(t, gdb.Where("`key` = ?", key).FirstOrCreate(&perm).Error)
	require.NoError(t, gdb.Exec(
		"INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)",
		role.ID, perm.ID).Error)
}

func TestCheckRecordAccessNoRulesNoFallback(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "nobody@example.com", "member")

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "invoice", "inv-1", "approve", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "no matching rule")
}

func TestCheckRecordAccessFallbackPermission(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "reader@example.com", "member")
	grantPermKey(t, gdb, "member", "invoice:read", "invoice", "read")

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "invoice", "inv-1", "read", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.RuleID)
}

func TestCheckRecordAccessManageImpliesAction(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "owner@example.com", "member")
	grantPermKey(t, gdb, "member", "invoice:manage", "invoice", "manage")

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "invoice", "inv-1", "delete", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckRecordAccessSuperuserBypass(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)

	user := models.User{OrgID: testOrgID, Email: "root@example.com", IsSuperuser: true, Status: models.UserActive}
	require.NoError(t, gdb.Create(&user).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "invoice", "inv-1", "approve", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRuleAllowsByRole(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	manager := seedUser(t, gdb, "mgr@example.com", "manager")

	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "managers approve", EntityType: "invoice", Operation: "approve",
		AllowedRoles: []string{"manager"}, Priority: 100, IsActive: true,
	}
	require.NoError(t, gdb.Create(&rule).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: manager.ID, OrgID: testOrgID}, "invoice", "inv-1", "approve", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, rule.ID, d.RuleID)
}

func TestDenyBeatsAllowWithinRule(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "banned@example.com", "manager")

	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "managers minus one", EntityType: "invoice", Operation: "approve",
		AllowedRoles: []string{"manager"},
		DeniedUsers:  []int64{user.ID},
		Priority:     100, IsActive: true,
	}
	require.NoError(t, gdb.Create(&rule).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "invoice", "inv-1", "approve", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, rule.ID, d.RuleID)
}

func TestUserMembershipBeatsRoleMembership(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "exempt@example.com", "contractor")

	// Role is denied but the user is explicitly allowed; the user
	// membership check runs first.
	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "contractors out, except one", EntityType: "invoice", Operation: "read",
		DeniedRoles:  []string{"contractor"},
		AllowedUsers: []int64{user.ID},
		Priority:     100, IsActive: true,
	}
	require.NoError(t, gdb.Create(&rule).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "invoice", "inv-1", "read", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFirstMatchWinsByPriority(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "prio@example.com", "member")

	allow := models.AccessControlRule{
		OrgID: testOrgID, Name: "low allow", EntityType: "doc", Operation: "read",
		AllowedRoles: []string{"member"}, Priority: 10, IsActive: true,
	}
	deny := models.AccessControlRule{
		OrgID: testOrgID, Name: "high deny", EntityType: "doc", Operation: "read",
		DeniedRoles: []string{"member"}, Priority: 500, IsActive: true,
	}
	require.NoError(t, gdb.Create(&allow).Error)
	require.NoError(t, gdb.Create(&deny).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "doc", "d-1", "read", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, deny.ID, d.RuleID)
}

func TestEqualPriorityLowerIDWins(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "tie@example.com", "member")

	first := models.AccessControlRule{
		OrgID: testOrgID, Name: "first", EntityType: "doc", Operation: "read",
		AllowedRoles: []string{"member"}, Priority: 100, IsActive: true,
	}
	second := models.AccessControlRule{
		OrgID: testOrgID, Name: "second", EntityType: "doc", Operation: "read",
		DeniedRoles: []string{"member"}, Priority: 100, IsActive: true,
	}
	require.NoError(t, gdb.Create(&first).Error)
	require.NoError(t, gdb.Create(&second).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "doc", "d-1", "read", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, first.ID, d.RuleID)
}

func TestInactiveRuleIgnored(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "inactive@example.com", "member")

	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "disabled deny", EntityType: "doc", Operation: "read",
		DeniedRoles: []string{"member"}, Priority: 100, IsActive: false,
	}
	require.NoError(t, gdb.Create(&rule).Error)
	grantPermKey(t, gdb, "member", "doc:read", "doc", "read")

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "doc", "d-1", "read", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestHighValueInvoiceScenario(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	manager := seedUser(t, gdb, "approver@example.com", "manager")
	member := seedUser(t, gdb, "clerk@example.com", "member")
	grantPermKey(t, gdb, "member", "invoice:approve", "invoice", "approve")

	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "high-value invoice approval",
		EntityType: "invoice", Operation: "approve",
		Condition:    datatypes.JSON(`{"op":"gt","field":"entity_data.amount","value":1000}`),
		AllowedRoles: []string{"manager"},
		DeniedRoles:  []string{"member"},
		Priority:     200, IsActive: true,
	}
	require.NoError(t, gdb.Create(&rule).Error)

	ctx := context.Background()
	big := map[string]any{"amount": float64(1500)}
	small := map[string]any{"amount": float64(500)}

	d, err := resolver.CheckRecordAccess(ctx, Actor{UserID: manager.ID, OrgID: testOrgID},
		"invoice", "inv-1", "approve", big)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "manager approves a 1500 invoice")

	d, err = resolver.CheckRecordAccess(ctx, Actor{UserID: member.ID, OrgID: testOrgID},
		"invoice", "inv-1", "approve", big)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "member cannot approve a 1500 invoice")

	d, err = resolver.CheckRecordAccess(ctx, Actor{UserID: member.ID, OrgID: testOrgID},
		"invoice", "inv-2", "approve", small)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "rule does not apply below 1000, fallback permission decides")
}

func TestUnevaluableConditionSkipsRule(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "skipped@example.com", "member")
	grantPermKey(t, gdb, "member", "invoice:read", "invoice", "read")

	// The condition references a field absent from the snapshot. The rule
	// must be skipped, not turned into a blanket deny.
	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "broken condition deny",
		EntityType: "invoice", Operation: "read",
		Condition:   datatypes.JSON(`{"op":"gt","field":"entity_data.total","value":10}`),
		DeniedRoles: []string{"member"},
		Priority:    500, IsActive: true,
	}
	require.NoError(t, gdb.Create(&rule).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "invoice", "inv-1", "read",
		map[string]any{"amount": float64(5)})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.RuleID, "decision must come from the fallback, not the broken rule")
}

func TestRequiresApprovalPropagates(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "gated@example.com", "member")

	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "gated delete", EntityType: "doc", Operation: "delete",
		AllowedRoles: []string{"member"}, RequiresApproval: true,
		Priority: 100, IsActive: true,
	}
	require.NoError(t, gdb.Create(&rule).Error)

	d, err := resolver.CheckRecordAccess(context.Background(),
		Actor{UserID: user.ID, OrgID: testOrgID}, "doc", "d-1", "delete", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
}

func TestRecordGrantOverridesDenyRule(t *testing.T) {
	gdb := newTestDB(t)
	resolver, overlay := newResolver(t, gdb)
	user := seedUser(t, gdb, "granted@example.com", "member")

	rule := models.AccessControlRule{
		OrgID: testOrgID, Name: "members out", EntityType: "doc", Operation: "read",
		DeniedRoles: []string{"member"}, Priority: 100, IsActive: true,
	}
	require.NoError(t, gdb.Create(&rule).Error)

	_, err := overlay.Grant(context.Background(), GrantParams{
		OrgID: testOrgID, EntityType: "doc", EntityID: "d-7",
		UserID: &user.ID, Operation: "read", GrantedBy: 99,
	})
	require.NoError(t, err)

	ctx := context.Background()
	actor := Actor{UserID: user.ID, OrgID: testOrgID}

	d, err := resolver.CheckRecordAccess(ctx, actor, "doc", "d-7", "read", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "direct grant beats the deny rule for this record")

	d, err = resolver.CheckRecordAccess(ctx, actor, "doc", "d-8", "read", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "other records still follow the rules")
}

func TestCheckFieldAccess(t *testing.T) {
	gdb := newTestDB(t)
	resolver, _ := newResolver(t, gdb)
	user := seedUser(t, gdb, "fields@example.com", "member")
	grantPermKey(t, gdb, "member", "employee:read", "employee", "read")

	salary := "salary"
	fieldRule := models.AccessControlRule{
		OrgID: testOrgID, Name: "salary is hr-only", EntityType: "employee", Operation: "read",
		FieldName:   &salary,
		DeniedRoles: []string{"member"},
		Priority:    200, IsActive: true,
	}
	require.NoError(t, gdb.Create(&fieldRule).Error)

	ctx := context.Background()
	actor := Actor{UserID: user.ID, OrgID: testOrgID}

	d, err := resolver.CheckFieldAccess(ctx, actor, "employee", "salary", "read", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, fieldRule.ID, d.RuleID)

	d, err = resolver.CheckFieldAccess(ctx, actor, "employee", "name", "read", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "unrestricted fields fall through to the record check")
}
