package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flowgate/internal/acl"
	"flowgate/internal/audit"
	"flowgate/internal/models"
	"flowgate/internal/rbac"
)

// AdminRole may cancel any instance regardless of creator or assignee.
const AdminRole = "admin"

const actionCancel = "cancel"

// Engine drives workflow instances against their template's transition
// table. Every state change appends exactly one history row; concurrent
// transitions on the same instance serialize on a row lock.
type Engine struct {
	db    *gorm.DB
	roles rbac.RoleResolver
	audit *audit.Recorder
	log   zerolog.Logger
}

func NewEngine(db *gorm.DB, roles rbac.RoleResolver, rec *audit.Recorder, log zerolog.Logger) *Engine {
	return &Engine{db: db, roles: roles, audit: rec, log: log}
}

// CreateParams binds a new instance to an external business entity.
type CreateParams struct {
	TemplateID int64
	OrgID      int64
	EntityType string
	EntityID   string
	Title      string
	Data       map[string]any
	AssignedTo *int64
	Deadline   *time.Time
	Priority   int
	CreatedBy  int64
}

// Create builds a pending instance at the template's initial state.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*models.WorkflowInstance, error) {
	var tpl models.WorkflowTemplate
	if err := e.db.WithContext(ctx).First(&tpl, p.TemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template %d: %w", p.TemplateID, ErrNotFound)
		}
		return nil, err
	}
	if !tpl.IsActive {
		return nil, fmt.Errorf("template %d is not active", tpl.ID)
	}

	initial, err := e.initialState(ctx, &tpl)
	if err != nil {
		return nil, err
	}

	title := p.Title
	if title == "" {
		title = fmt.Sprintf("%s - %s", tpl.Name, p.EntityID)
	}
	inst := models.WorkflowInstance{
		OrgID:          p.OrgID,
		TemplateID:     tpl.ID,
		CurrentStateID: initial.ID,
		Status:         models.InstancePending,
		EntityType:     p.EntityType,
		EntityID:       p.EntityID,
		Title:          title,
		Data:           p.Data,
		ActiveNodes:    []int64{initial.ID},
		Deadline:       p.Deadline,
		Priority:       p.Priority,
		AssignedTo:     p.AssignedTo,
		CreatedBy:      p.CreatedBy,
	}
	if err := e.db.WithContext(ctx).Create(&inst).Error; err != nil {
		return nil, err
	}
	return &inst, nil
}

// Start moves a pending instance to running. This edge is one-way and
// one-time: starting anything but a pending instance fails.
func (e *Engine) Start(ctx context.Context, instanceID, actorID int64) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockInstance(tx, instanceID, &inst); err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return &TerminalStateError{InstanceID: inst.ID, Status: inst.Status}
		}
		if inst.Status != models.InstancePending {
			return fmt.Errorf("instance %d already started (status %s)", inst.ID, inst.Status)
		}

		initial, err := e.instanceInitialState(tx, &inst)
		if err != nil {
			return err
		}
		if inst.CurrentStateID != initial.ID {
			return fmt.Errorf("instance %d is not at the template's initial state", inst.ID)
		}

		now := time.Now()
		updates := map[string]any{"status": models.InstanceRunning, "started_at": now}
		if err := tx.Model(&inst).Updates(updates).Error; err != nil {
			return err
		}
		inst.Status = models.InstanceRunning
		inst.StartedAt = &now

		return tx.Create(&models.WorkflowHistory{
			InstanceID: inst.ID,
			ToStateID:  inst.CurrentStateID,
			Action:     "workflow_started",
			UserID:     actorID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, audit.Entry{
		OrgID:        inst.OrgID,
		UserID:       actorID,
		Action:       "workflow.start",
		ResourceType: "workflow_instance",
		ResourceID:   fmt.Sprint(inst.ID),
	})
	e.log.Info().Int64("instance_id", inst.ID).Msg("workflow started")
	return &inst, nil
}

// StartWorkflow creates and starts an instance in one call.
func (e *Engine) StartWorkflow(ctx context.Context, p CreateParams) (*models.WorkflowInstance, error) {
	inst, err := e.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.Start(ctx, inst.ID, p.CreatedBy)
}

// Transition executes an action on a running instance. The transition
// table decides validity, allowed_roles decides authorization, and a
// requires_approval edge leaves the instance untouched behind a pending
// approval.
func (e *Engine) Transition(ctx context.Context, instanceID int64, action string, actorID int64, comment string) (*models.WorkflowInstance, error) {
	var (
		inst       models.WorkflowInstance
		approvalID int64
	)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockInstance(tx, instanceID, &inst); err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return &TerminalStateError{InstanceID: inst.ID, Status: inst.Status}
		}
		if inst.Status != models.InstanceRunning {
			return fmt.Errorf("instance %d is not running (status %s)", inst.ID, inst.Status)
		}

		tr, err := e.findTransition(tx, &inst, action)
		if err != nil {
			return err
		}

		roleSlugs, err := e.roles.RoleSlugs(ctx, actorID, inst.OrgID)
		if err != nil {
			return err
		}
		if len(tr.AllowedRoles) > 0 && firstCommon(tr.AllowedRoles, roleSlugs) == "" {
			return &ForbiddenTransitionError{Action: action, RequiredRoles: tr.AllowedRoles}
		}

		if ok := e.conditionHolds(tr, actorID, roleSlugs, inst.Data); !ok {
			return &InvalidTransitionError{InstanceID: inst.ID, Action: action,
				ValidActions: e.validActions(tx, &inst)}
		}

		if tr.RequiresApproval {
			approval := models.WorkflowApproval{
				InstanceID:   inst.ID,
				TransitionID: tr.ID,
				RequestedBy:  actorID,
				Comment:      comment,
				Status:       models.ApprovalPending,
			}
			if err := tx.Create(&approval).Error; err != nil {
				return err
			}
			approvalID = approval.ID
			return nil
		}

		return e.applyTransition(tx, &inst, tr, actorID, comment)
	})
	if err != nil {
		return nil, err
	}

	if approvalID != 0 {
		e.log.Info().Int64("instance_id", inst.ID).Int64("approval_id", approvalID).
			Str("action", action).Msg("transition held for approval")
		return nil, &ApprovalRequiredError{ApprovalID: approvalID, Action: action}
	}

	e.audit.Record(ctx, audit.Entry{
		OrgID:        inst.OrgID,
		UserID:       actorID,
		Action:       "workflow.transition",
		ResourceType: inst.EntityType,
		ResourceID:   inst.EntityID,
		Metadata:     map[string]any{"instance_id": inst.ID, "action": action, "to_state_id": inst.CurrentStateID},
	})
	e.log.Info().Int64("instance_id", inst.ID).Str("action", action).
		Int64("state_id", inst.CurrentStateID).Msg("workflow transition")
	return &inst, nil
}

// Approve completes a transition that was held for approval. The decider
// must hold one of the transition's allowed roles.
func (e *Engine) Approve(ctx context.Context, approvalID, deciderID int64, comment string) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var approval models.WorkflowApproval
		if err := tx.First(&approval, approvalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("approval %d: %w", approvalID, ErrNotFound)
			}
			return err
		}
		if approval.Status != models.ApprovalPending {
			return fmt.Errorf("approval %d already decided (%s)", approval.ID, approval.Status)
		}

		if err := lockInstance(tx, approval.InstanceID, &inst); err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return &TerminalStateError{InstanceID: inst.ID, Status: inst.Status}
		}

		var tr models.WorkflowTransition
		if err := tx.First(&tr, approval.TransitionID).Error; err != nil {
			return err
		}
		if inst.CurrentStateID != tr.FromStateID {
			return &InvalidTransitionError{InstanceID: inst.ID, Action: tr.Action,
				ValidActions: e.validActions(tx, &inst)}
		}

		roleSlugs, err := e.roles.RoleSlugs(ctx, deciderID, inst.OrgID)
		if err != nil {
			return err
		}
		if len(tr.AllowedRoles) > 0 && firstCommon(tr.AllowedRoles, roleSlugs) == "" {
			return &ForbiddenTransitionError{Action: tr.Action, RequiredRoles: tr.AllowedRoles}
		}

		now := time.Now()
		err = tx.Model(&approval).Updates(map[string]any{
			"status": models.ApprovalApproved, "decided_by": deciderID, "decided_at": now,
		}).Error
		if err != nil {
			return err
		}

		return e.applyTransition(tx, &inst, &tr, deciderID, comment)
	})
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, audit.Entry{
		OrgID:        inst.OrgID,
		UserID:       deciderID,
		Action:       "workflow.approve",
		ResourceType: "workflow_instance",
		ResourceID:   fmt.Sprint(inst.ID),
		Metadata:     map[string]any{"approval_id": approvalID},
	})
	return &inst, nil
}

// Reject declines a pending approval; the instance stays where it is.
func (e *Engine) Reject(ctx context.Context, approvalID, deciderID int64, comment string) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var approval models.WorkflowApproval
		if err := tx.First(&approval, approvalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("approval %d: %w", approvalID, ErrNotFound)
			}
			return err
		}
		if approval.Status != models.ApprovalPending {
			return fmt.Errorf("approval %d already decided (%s)", approval.ID, approval.Status)
		}
		now := time.Now()
		return tx.Model(&approval).Updates(map[string]any{
			"status": models.ApprovalRejected, "decided_by": deciderID, "decided_at": now,
			"comment": comment,
		}).Error
	})
}

// Cancel moves any non-terminal instance to cancelled. Only the creator,
// the assignee or an admin may cancel.
func (e *Engine) Cancel(ctx context.Context, instanceID, actorID int64) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockInstance(tx, instanceID, &inst); err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return &TerminalStateError{InstanceID: inst.ID, Status: inst.Status}
		}

		allowed := inst.CreatedBy == actorID ||
			(inst.AssignedTo != nil && *inst.AssignedTo == actorID)
		if !allowed {
			roleSlugs, err := e.roles.RoleSlugs(ctx, actorID, inst.OrgID)
			if err != nil {
				return err
			}
			allowed = slices.Contains(roleSlugs, AdminRole)
		}
		if !allowed {
			return &ForbiddenTransitionError{Action: actionCancel, RequiredRoles: []string{AdminRole}}
		}

		if err := tx.Model(&inst).Update("status", models.InstanceCancelled).Error; err != nil {
			return err
		}
		inst.Status = models.InstanceCancelled

		from := inst.CurrentStateID
		return tx.Create(&models.WorkflowHistory{
			InstanceID:  inst.ID,
			FromStateID: &from,
			ToStateID:   inst.CurrentStateID,
			Action:      actionCancel,
			UserID:      actorID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, audit.Entry{
		OrgID:        inst.OrgID,
		UserID:       actorID,
		Action:       "workflow.cancel",
		ResourceType: "workflow_instance",
		ResourceID:   fmt.Sprint(inst.ID),
	})
	e.log.Info().Int64("instance_id", inst.ID).Msg("workflow cancelled")
	return &inst, nil
}

// Suspend pauses a running instance. The running<->suspended pair is the
// only reversible status edge.
func (e *Engine) Suspend(ctx context.Context, instanceID, actorID int64) (*models.WorkflowInstance, error) {
	return e.flipStatus(ctx, instanceID, actorID, models.InstanceRunning, models.InstanceSuspended)
}

// Resume puts a suspended instance back to running.
func (e *Engine) Resume(ctx context.Context, instanceID, actorID int64) (*models.WorkflowInstance, error) {
	return e.flipStatus(ctx, instanceID, actorID, models.InstanceSuspended, models.InstanceRunning)
}

func (e *Engine) flipStatus(ctx context.Context, instanceID, actorID int64, from, to models.InstanceStatus) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockInstance(tx, instanceID, &inst); err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return &TerminalStateError{InstanceID: inst.ID, Status: inst.Status}
		}
		if inst.Status != from {
			return fmt.Errorf("instance %d is %s, not %s", inst.ID, inst.Status, from)
		}
		if err := tx.Model(&inst).Update("status", to).Error; err != nil {
			return err
		}
		inst.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Int64("instance_id", inst.ID).Str("status", string(to)).
		Int64("user_id", actorID).Msg("instance status changed")
	return &inst, nil
}

// History returns the instance's transition log in creation order.
func (e *Engine) History(ctx context.Context, instanceID int64) ([]models.WorkflowHistory, error) {
	var rows []models.WorkflowHistory
	err := e.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (e *Engine) applyTransition(tx *gorm.DB, inst *models.WorkflowInstance, tr *models.WorkflowTransition, actorID int64, comment string) error {
	var toState models.WorkflowState
	if err := tx.First(&toState, tr.ToStateID).Error; err != nil {
		return err
	}

	from := inst.CurrentStateID
	updates := map[string]any{"current_state_id": tr.ToStateID}
	if toState.IsFinal {
		now := time.Now()
		updates["status"] = models.InstanceCompleted
		updates["completed_at"] = now
		inst.Status = models.InstanceCompleted
		inst.CompletedAt = &now
	}
	if err := tx.Model(inst).Updates(updates).Error; err != nil {
		return err
	}
	inst.CurrentStateID = tr.ToStateID

	return tx.Create(&models.WorkflowHistory{
		InstanceID:  inst.ID,
		FromStateID: &from,
		ToStateID:   tr.ToStateID,
		Action:      tr.Action,
		Comment:     comment,
		UserID:      actorID,
	}).Error
}

func (e *Engine) findTransition(tx *gorm.DB, inst *models.WorkflowInstance, action string) (*models.WorkflowTransition, error) {
	var tr models.WorkflowTransition
	err := tx.Where("template_id = ? AND from_state_id = ? AND action = ?",
		inst.TemplateID, inst.CurrentStateID, action).First(&tr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &InvalidTransitionError{InstanceID: inst.ID, Action: action,
				ValidActions: e.validActions(tx, inst)}
		}
		return nil, err
	}
	return &tr, nil
}

// conditionHolds evaluates a transition's guard. An unevaluable guard is
// logged and treated as not holding, never as an open gate.
func (e *Engine) conditionHolds(tr *models.WorkflowTransition, actorID int64, roleSlugs []string, data map[string]any) bool {
	cond, err := acl.ParseCondition(tr.Condition)
	if err == nil && cond == nil {
		return true
	}
	var ok bool
	if err == nil {
		ok, err = cond.Eval(&acl.Context{UserID: actorID, UserRoles: roleSlugs, EntityData: data})
	}
	if err != nil {
		e.log.Warn().Err(err).Int64("transition_id", tr.ID).Msg("transition condition failed to evaluate")
		return false
	}
	return ok
}

func (e *Engine) validActions(tx *gorm.DB, inst *models.WorkflowInstance) []string {
	var actions []string
	if err := tx.Model(&models.WorkflowTransition{}).
		Where("template_id = ? AND from_state_id = ?", inst.TemplateID, inst.CurrentStateID).
		Order("action").
		Pluck("action", &actions).Error; err != nil {
		return nil
	}
	return actions
}

func (e *Engine) initialState(ctx context.Context, tpl *models.WorkflowTemplate) (*models.WorkflowState, error) {
	var state models.WorkflowState
	if tpl.DefaultStateID != nil {
		if err := e.db.WithContext(ctx).First(&state, *tpl.DefaultStateID).Error; err != nil {
			return nil, fmt.Errorf("template %d default state: %w", tpl.ID, err)
		}
		return &state, nil
	}
	err := e.db.WithContext(ctx).
		Where("template_id = ? AND is_initial = ?", tpl.ID, true).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template %d has no initial state", tpl.ID)
		}
		return nil, err
	}
	return &state, nil
}

func (e *Engine) instanceInitialState(tx *gorm.DB, inst *models.WorkflowInstance) (*models.WorkflowState, error) {
	var tpl models.WorkflowTemplate
	if err := tx.First(&tpl, inst.TemplateID).Error; err != nil {
		return nil, err
	}
	var state models.WorkflowState
	if tpl.DefaultStateID != nil {
		if err := tx.First(&state, *tpl.DefaultStateID).Error; err != nil {
			return nil, err
		}
		return &state, nil
	}
	err := tx.Where("template_id = ? AND is_initial = ?", tpl.ID, true).First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// lockInstance loads an instance under a row lock so two concurrent
// approvals cannot both transition from the same state.
func lockInstance(tx *gorm.DB, id int64, out *models.WorkflowInstance) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(out, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	return err
}

func firstCommon(a []string, b []string) string {
	for _, v := range a {
		if slices.Contains(b, v) {
			return v
		}
	}
	return ""
}
