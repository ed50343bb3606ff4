package rbac

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"flowgate/internal/models"
)

// RoleResolver resolves an actor's effective role set against current data.
// It is passed as a capability into the ACL resolver and workflow engine so
// tests can substitute a fixed role set.
type RoleResolver interface {
	RoleSlugs(ctx context.Context, userID, orgID int64) ([]string, error)
	RoleIDs(ctx context.Context, userID, orgID int64) ([]int64, error)
}

// PermissionChecker answers coarse-grained permission questions that are not
// tied to a specific record. The ACL resolver falls back to it when no rule
// applies.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, orgID int64, resource, action string) (bool, error)
}

// Store implements RoleResolver and PermissionChecker over the relational
// schema.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{DB: db} }

func (s *Store) RoleSlugs(ctx context.Context, userID, orgID int64) ([]string, error) {
	var slugs []string
	err := s.DB.WithContext(ctx).
		Table("user_roles ur").
		Joins("JOIN roles r ON r.id = ur.role_id").
		Where("ur.user_id = ? AND ur.org_id = ?", userID, orgID).
		Pluck("r.slug", &slugs).Error
	return slugs, err
}

func (s *Store) RoleIDs(ctx context.Context, userID, orgID int64) ([]int64, error) {
	var ids []int64
	err := s.DB.WithContext(ctx).
		Table("user_roles ur").
		Joins("JOIN roles r ON r.id = ur.role_id").
		Where("ur.user_id = ? AND ur.org_id = ?", userID, orgID).
		Pluck("r.id", &ids).Error
	return ids, err
}

// HasPermission checks the actor's general permission for resource:action.
// Superusers pass unconditionally, and a "manage" permission on a resource
// implies every action on it.
func (s *Store) HasPermission(ctx context.Context, userID, orgID int64, resource, action string) (bool, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Select("is_superuser").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.IsSuperuser {
		return true, nil
	}

	chk := Checker{DB: s.DB}
	ok, err := chk.Can(ctx, userID, orgID, Key(resource, action))
	if ok || err != nil {
		return ok, err
	}
	return chk.Can(ctx, userID, orgID, Key(resource, "manage"))
}
