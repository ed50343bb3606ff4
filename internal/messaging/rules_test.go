package messaging

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"flowgate/internal/models"
	"flowgate/internal/rbac"
)

const (
	orgA int64 = 1
	orgB int64 = 2
)

func newService(t *testing.T) (*gorm.DB, *Service) {
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
		&models.Group{},
		&models.UserGroup{},
		&models.MessagingRule{},
	))
	return gdb, NewService(gdb, rbac.NewStore(gdb), zerolog.Nop())
}

func seedUser(t *testing.T, gdb *gorm.DB, orgID int64, email string, roleSlugs ...string) *models.User {
	t.Helper()

	user := models.User{OrgID: orgID, Email: email, Name: email, Status: models.UserActive}
	require.NoError(t, gdb.Create(&user).Error)

	for _, slug := range roleSlugs {
		var role models.Role
		err := gdb.Where("org_id = ? AND slug = ?", orgID, slug).First(&role).Error
		if err != nil {
			role = models.Role{OrgID: orgID, Name: slug, Slug: slug}
			require.NoError(t, gdb.Create(&role).Error)
		}
		require.NoError(t, gdb.Create(&models.UserRole{
			UserID: user.ID, RoleID: role.ID, OrgID: orgID,
		}).Error)
	}
	return &user
}

func addToGroup(t *testing.T, gdb *gorm.DB, userID, groupID int64) {
	t.Helper()
	require.NoError(t, gdb.Create(&models.UserGroup{UserID: userID, GroupID: groupID}).Error)
}

func TestCannotMessageSelf(t *testing.T) {
	gdb, svc := newService(t)
	alice := seedUser(t, gdb, orgA, "alice@example.com")

	ok, _, err := svc.CanMessage(context.Background(), alice, alice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDefaultSameOrgOnly(t *testing.T) {
	gdb, svc := newService(t)
	alice := seedUser(t, gdb, orgA, "alice@example.com")
	bob := seedUser(t, gdb, orgA, "bob@example.com")
	eve := seedUser(t, gdb, orgB, "eve@example.com")

	ctx := context.Background()
	ok, reason, err := svc.CanMessage(ctx, alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, reason, "same organization")

	ok, _, err = svc.CanMessage(ctx, alice, eve)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDenyRuleBeatsDefault(t *testing.T) {
	gdb, svc := newService(t)
	alice := seedUser(t, gdb, orgA, "alice@example.com")
	bob := seedUser(t, gdb, orgA, "bob@example.com")

	org := orgA
	require.NoError(t, gdb.Create(&models.MessagingRule{
		OrgID: &org, Name: "alice is muted",
		SourceType: models.ScopeUser, SourceID: &alice.ID,
		TargetType: models.ScopeAll,
		CanMessage: false, Priority: 100, IsActive: true,
	}).Error)

	ok, reason, err := svc.CanMessage(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "alice is muted")

	// The rule only matches alice as the source; bob is unaffected.
	ok, _, err = svc.CanMessage(context.Background(), bob, alice)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPriorityOrdering(t *testing.T) {
	gdb, svc := newService(t)
	alice := seedUser(t, gdb, orgA, "alice@example.com")
	bob := seedUser(t, gdb, orgA, "bob@example.com")

	org := orgA
	require.NoError(t, gdb.Create(&models.MessagingRule{
		OrgID: &org, Name: "broad deny",
		SourceType: models.ScopeAll, TargetType: models.ScopeSameOrg,
		CanMessage: false, Priority: 10, IsActive: true,
	}).Error)
	require.NoError(t, gdb.Create(&models.MessagingRule{
		OrgID: &org, Name: "alice may message bob",
		SourceType: models.ScopeUser, SourceID: &alice.ID,
		TargetType: models.ScopeUser, TargetID: &bob.ID,
		CanMessage: true, Priority: 200, IsActive: true,
	}).Error)

	ctx := context.Background()
	ok, reason, err := svc.CanMessage(ctx, alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, reason, "alice may message bob")

	ok, _, err = svc.CanMessage(ctx, bob, alice)
	require.NoError(t, err)
	assert.False(t, ok, "the low-priority deny catches everyone else")
}

func TestRoleScopedRule(t *testing.T) {
	gdb, svc := newService(t)
	support := seedUser(t, gdb, orgA, "support@example.com", "support")
	customer := seedUser(t, gdb, orgB, "customer@example.com")

	var role models.Role
	require.NoError(t, gdb.Where("org_id = ? AND slug = ?", orgA, "support").First(&role).Error)

	// Global rule: the support role may message anyone, across orgs.
	require.NoError(t, gdb.Create(&models.MessagingRule{
		Name:       "support reaches everyone",
		SourceType: models.ScopeRole, SourceID: &role.ID,
		TargetType: models.ScopeAll,
		CanMessage: true, Priority: 300, IsActive: true,
	}).Error)

	ok, _, err := svc.CanMessage(context.Background(), support, customer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = svc.CanMessage(context.Background(), customer, support)
	require.NoError(t, err)
	assert.False(t, ok, "the rule is one-directional")
}

func TestGroupScopes(t *testing.T) {
	gdb, svc := newService(t)
	alice := seedUser(t, gdb, orgA, "alice@example.com")
	bob := seedUser(t, gdb, orgA, "bob@example.com")
	carol := seedUser(t, gdb, orgA, "carol@example.com")

	team := models.Group{OrgID: orgA, Name: "team"}
	require.NoError(t, gdb.Create(&team).Error)
	addToGroup(t, gdb, alice.ID, team.ID)
	addToGroup(t, gdb, bob.ID, team.ID)

	org := orgA
	require.NoError(t, gdb.Create(&models.MessagingRule{
		OrgID: &org, Name: "team talks internally only",
		SourceType: models.ScopeGroup, SourceID: &team.ID,
		TargetType: models.ScopeSameGroup,
		CanMessage: true, Priority: 200, IsActive: true,
	}).Error)
	require.NoError(t, gdb.Create(&models.MessagingRule{
		OrgID: &org, Name: "team members reach nobody else",
		SourceType: models.ScopeGroup, SourceID: &team.ID,
		TargetType: models.ScopeAll,
		CanMessage: false, Priority: 100, IsActive: true,
	}).Error)

	ctx := context.Background()
	ok, _, err := svc.CanMessage(ctx, alice, bob)
	require.NoError(t, err)
	assert.True(t, ok, "same group")

	ok, _, err = svc.CanMessage(ctx, alice, carol)
	require.NoError(t, err)
	assert.False(t, ok, "carol is outside the group")

	ok, _, err = svc.CanMessage(ctx, carol, alice)
	require.NoError(t, err)
	assert.True(t, ok, "carol is not a rule source, default same-org applies")
}

func TestInactiveRuleIgnored(t *testing.T) {
	gdb, svc := newService(t)
	alice := seedUser(t, gdb, orgA, "alice@example.com")
	bob := seedUser(t, gdb, orgA, "bob@example.com")

	org := orgA
	require.NoError(t, gdb.Create(&models.MessagingRule{
		OrgID: &org, Name: "disabled deny",
		SourceType: models.ScopeAll, TargetType: models.ScopeSameOrg,
		CanMessage: false, Priority: 100, IsActive: false,
	}).Error)

	ok, _, err := svc.CanMessage(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureDefaultRuleIdempotent(t *testing.T) {
	gdb, svc := newService(t)
	ctx := context.Background()

	first, err := svc.EnsureDefaultRule(ctx, orgA)
	require.NoError(t, err)
	second, err := svc.EnsureDefaultRule(ctx, orgA)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, gdb.Model(&models.MessagingRule{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestMessageableUsers(t *testing.T) {
	gdb, svc := newService(t)
	alice := seedUser(t, gdb, orgA, "alice@example.com")
	seedUser(t, gdb, orgA, "bob@example.com")
	seedUser(t, gdb, orgB, "eve@example.com")

	suspended := seedUser(t, gdb, orgA, "gone@example.com")
	require.NoError(t, gdb.Model(suspended).Update("status", models.UserSuspended).Error)

	users, total, err := svc.MessageableUsers(context.Background(), alice, "", 50, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, users, 1)
	assert.Equal(t, "bob@example.com", users[0].Email)
}
