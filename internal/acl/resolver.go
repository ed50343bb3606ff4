package acl

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flowgate/internal/models"
	"flowgate/internal/rbac"
)

// Actor identifies who is asking for access.
type Actor struct {
	UserID int64
	OrgID  int64
}

// Decision is the outcome of an access check. Reason is human-readable so
// operators can audit why access was granted or denied.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason"`
	RuleID           int64  `json:"rule_id,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
}

// Resolver decides allow/deny for (actor, entity, operation). Evaluation
// order: explicit record grant, then active rules by priority DESC, id ASC
// with first-match-wins, then the coarse fallback permission.
type Resolver struct {
	db      *gorm.DB
	roles   rbac.RoleResolver
	perms   rbac.PermissionChecker
	overlay *Overlay
	log     zerolog.Logger
}

func NewResolver(db *gorm.DB, roles rbac.RoleResolver, perms rbac.PermissionChecker, overlay *Overlay, log zerolog.Logger) *Resolver {
	return &Resolver{db: db, roles: roles, perms: perms, overlay: overlay, log: log}
}

// CheckRecordAccess answers "can this actor perform operation on this
// record". entityData is the record snapshot conditions evaluate against;
// it may be nil when no rule needs it.
func (r *Resolver) CheckRecordAccess(ctx context.Context, actor Actor, entityType, entityID, operation string, entityData map[string]any) (Decision, error) {
	// Explicit grants override every rule for that one record.
	if entityID != "" {
		ok, reason, err := r.overlay.Check(ctx, actor.UserID, actor.OrgID, entityType, entityID, operation)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Allowed: true, Reason: reason}, nil
		}
	}

	rules, err := r.activeRules(ctx, actor.OrgID, entityType, operation, "")
	if err != nil {
		return Decision{}, err
	}

	evalCtx, err := r.buildContext(ctx, actor, entityData)
	if err != nil {
		return Decision{}, err
	}

	for i := range rules {
		if d, applies := r.applyRule(&rules[i], evalCtx); applies {
			return d, nil
		}
	}

	return r.fallback(ctx, actor, entityType, operation)
}

// CheckFieldAccess is the field-level variant: field-specific rules plus
// the record-level generals for the same operation, falling through to the
// record check when none applies.
func (r *Resolver) CheckFieldAccess(ctx context.Context, actor Actor, entityType, fieldName, operation string, entityData map[string]any) (Decision, error) {
	rules, err := r.activeRules(ctx, actor.OrgID, entityType, operation, fieldName)
	if err != nil {
		return Decision{}, err
	}

	evalCtx, err := r.buildContext(ctx, actor, entityData)
	if err != nil {
		return Decision{}, err
	}

	for i := range rules {
		if d, applies := r.applyRule(&rules[i], evalCtx); applies {
			return d, nil
		}
	}

	return r.CheckRecordAccess(ctx, actor, entityType, "", operation, entityData)
}

func (r *Resolver) buildContext(ctx context.Context, actor Actor, entityData map[string]any) (*Context, error) {
	roleSlugs, err := r.roles.RoleSlugs(ctx, actor.UserID, actor.OrgID)
	if err != nil {
		return nil, err
	}
	return &Context{UserID: actor.UserID, UserRoles: roleSlugs, EntityData: entityData}, nil
}

// activeRules loads the candidate rule set in deterministic evaluation
// order. Priority changes re-sort at read time; rules are never physically
// reordered.
func (r *Resolver) activeRules(ctx context.Context, orgID int64, entityType, operation, fieldName string) ([]models.AccessControlRule, error) {
	q := r.db.WithContext(ctx).
		Where("org_id = ? AND entity_type = ? AND operation = ? AND is_active = ?",
			orgID, entityType, operation, true)
	if fieldName == "" {
		q = q.Where("field_name IS NULL")
	} else {
		q = q.Where("field_name IS NULL OR field_name = ?", fieldName)
	}

	var rules []models.AccessControlRule
	err := q.Order("priority DESC, id ASC").Find(&rules).Error
	return rules, err
}

// applyRule evaluates one rule. The second return value reports whether
// the rule applied at all; a rule whose condition fails to evaluate is
// skipped, logged, and never escalated to deny-all or allow-all.
func (r *Resolver) applyRule(rule *models.AccessControlRule, evalCtx *Context) (Decision, bool) {
	cond, err := ParseCondition(rule.Condition)
	if err == nil && cond != nil {
		var ok bool
		ok, err = cond.Eval(evalCtx)
		if err == nil && !ok {
			return Decision{}, false
		}
	}
	if err != nil {
		r.log.Warn().Err(err).
			Int64("rule_id", rule.ID).
			Str("rule", rule.Name).
			Msg("skipping rule: condition evaluation failed")
		return Decision{}, false
	}

	// User membership decides before roles; deny beats allow within a rule.
	if slices.Contains(rule.DeniedUsers, evalCtx.UserID) {
		return Decision{
			Reason: fmt.Sprintf("denied by rule %q (user %d explicitly denied)", rule.Name, evalCtx.UserID),
			RuleID: rule.ID,
		}, true
	}
	if slices.Contains(rule.AllowedUsers, evalCtx.UserID) {
		return Decision{
			Allowed:          true,
			Reason:           fmt.Sprintf("allowed by rule %q (user match)", rule.Name),
			RuleID:           rule.ID,
			RequiresApproval: rule.RequiresApproval,
		}, true
	}
	if role := firstIntersect(rule.DeniedRoles, evalCtx.UserRoles); role != "" {
		return Decision{
			Reason: fmt.Sprintf("denied by rule %q (role %q)", rule.Name, role),
			RuleID: rule.ID,
		}, true
	}
	if role := firstIntersect(rule.AllowedRoles, evalCtx.UserRoles); role != "" {
		return Decision{
			Allowed:          true,
			Reason:           fmt.Sprintf("allowed by rule %q (role match: %s)", rule.Name, role),
			RuleID:           rule.ID,
			RequiresApproval: rule.RequiresApproval,
		}, true
	}

	return Decision{}, false
}

func (r *Resolver) fallback(ctx context.Context, actor Actor, entityType, operation string) (Decision, error) {
	ok, err := r.perms.HasPermission(ctx, actor.UserID, actor.OrgID, entityType, operation)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return Decision{
			Allowed: true,
			Reason:  fmt.Sprintf("no matching rule; general %s permission on %s", operation, entityType),
		}, nil
	}
	return Decision{
		Reason: "denied: no matching rule, fallback permission absent",
	}, nil
}

func firstIntersect(ruleRoles datatypes.JSONSlice[string], actorRoles []string) string {
	for _, role := range ruleRoles {
		if slices.Contains(actorRoles, role) {
			return role
		}
	}
	return ""
}
