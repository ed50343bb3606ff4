package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"flowgate/internal/models"
	"flowgate/internal/rbac"
)

// ErrNotFound is returned for unknown rule ids.
var ErrNotFound = errors.New("not found")

// Service decides who can message whom. Rules are checked highest
// priority first; the first rule whose source clause matches the sender
// and whose target clause matches the recipient wins. With no match the
// default is same-org messaging only.
type Service struct {
	db    *gorm.DB
	roles rbac.RoleResolver
	log   zerolog.Logger
}

func NewService(db *gorm.DB, roles rbac.RoleResolver, log zerolog.Logger) *Service {
	return &Service{db: db, roles: roles, log: log}
}

// CanMessage reports whether sender may message recipient, with the
// deciding rule's name as the reason.
func (s *Service) CanMessage(ctx context.Context, sender, recipient *models.User) (bool, string, error) {
	if sender.ID == recipient.ID {
		return false, "cannot message yourself", nil
	}

	var rules []models.MessagingRule
	err := s.db.WithContext(ctx).
		Where("(org_id = ? OR org_id IS NULL) AND is_active = ?", sender.OrgID, true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	if err != nil {
		return false, "", err
	}

	for i := range rules {
		rule := &rules[i]
		srcOK, err := s.sourceMatches(ctx, rule, sender)
		if err != nil {
			return false, "", err
		}
		if !srcOK {
			continue
		}
		tgtOK, err := s.targetMatches(ctx, rule, sender, recipient)
		if err != nil {
			return false, "", err
		}
		if !tgtOK {
			continue
		}
		verdict := "denied"
		if rule.CanMessage {
			verdict = "allowed"
		}
		return rule.CanMessage, fmt.Sprintf("%s by messaging rule %q", verdict, rule.Name), nil
	}

	if sender.OrgID == recipient.OrgID {
		return true, "default: same organization", nil
	}
	return false, "denied: no rule permits messaging across organizations", nil
}

func (s *Service) sourceMatches(ctx context.Context, rule *models.MessagingRule, sender *models.User) (bool, error) {
	switch rule.SourceType {
	case models.ScopeAll:
		return true, nil
	case models.ScopeUser:
		return rule.SourceID != nil && *rule.SourceID == sender.ID, nil
	case models.ScopeGroup:
		if rule.SourceID == nil {
			return false, nil
		}
		return s.inGroup(ctx, sender.ID, *rule.SourceID)
	case models.ScopeRole:
		if rule.SourceID == nil {
			return false, nil
		}
		return s.hasRole(ctx, sender, *rule.SourceID)
	default:
		return false, nil
	}
}

func (s *Service) targetMatches(ctx context.Context, rule *models.MessagingRule, sender, recipient *models.User) (bool, error) {
	switch rule.TargetType {
	case models.ScopeAll:
		return true, nil
	case models.ScopeUser:
		return rule.TargetID != nil && *rule.TargetID == recipient.ID, nil
	case models.ScopeSameOrg:
		return sender.OrgID == recipient.OrgID, nil
	case models.ScopeSameGroup:
		return s.shareGroup(ctx, sender.ID, recipient.ID)
	case models.ScopeGroup:
		if rule.TargetID == nil {
			return false, nil
		}
		return s.inGroup(ctx, recipient.ID, *rule.TargetID)
	case models.ScopeRole:
		if rule.TargetID == nil {
			return false, nil
		}
		return s.hasRole(ctx, recipient, *rule.TargetID)
	default:
		return false, nil
	}
}

func (s *Service) inGroup(ctx context.Context, userID, groupID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UserGroup{}).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) shareGroup(ctx context.Context, a, b int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("user_groups ga").
		Joins("JOIN user_groups gb ON gb.group_id = ga.group_id AND gb.user_id = ?", b).
		Where("ga.user_id = ?", a).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) hasRole(ctx context.Context, user *models.User, roleID int64) (bool, error) {
	ids, err := s.roles.RoleIDs(ctx, user.ID, user.OrgID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

// EnsureDefaultRule guarantees the org has its baseline all->same_org
// allow rule.
func (s *Service) EnsureDefaultRule(ctx context.Context, orgID int64) (*models.MessagingRule, error) {
	var rule models.MessagingRule
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND source_type = ? AND target_type = ?",
			orgID, models.ScopeAll, models.ScopeSameOrg).
		First(&rule).Error
	if err == nil {
		return &rule, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	rule = models.MessagingRule{
		OrgID:      &orgID,
		Name:       "default same-org messaging",
		SourceType: models.ScopeAll,
		TargetType: models.ScopeSameOrg,
		CanMessage: true,
		Priority:   0,
		IsActive:   true,
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// MessageableUsers lists candidate recipients for a user. Same-org only:
// cross-org reach needs an explicit rule and is resolved per recipient by
// CanMessage.
func (s *Service) MessageableUsers(ctx context.Context, user *models.User, search string, limit, offset int) ([]models.User, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id != ? AND org_id = ? AND status = ?", user.ID, user.OrgID, models.UserActive)
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("(name LIKE ? OR email LIKE ?)", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var users []models.User
	err := q.Order("name, email").Limit(limit).Offset(offset).Find(&users).Error
	return users, total, err
}

// Get returns one rule by id.
func (s *Service) Get(ctx context.Context, id int64) (*models.MessagingRule, error) {
	var rule models.MessagingRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("messaging rule %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &rule, nil
}

// ListByOrg returns the org's rules plus the globals, in evaluation order.
func (s *Service) ListByOrg(ctx context.Context, orgID int64) ([]models.MessagingRule, error) {
	var rules []models.MessagingRule
	err := s.db.WithContext(ctx).
		Where("org_id = ? OR org_id IS NULL", orgID).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	return rules, err
}
