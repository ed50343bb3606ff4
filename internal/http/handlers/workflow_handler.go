package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flowgate/internal/acl"
	"flowgate/internal/auth"
	"flowgate/internal/models"
	"flowgate/internal/workflow"
)

type templateStateInput struct {
	Name      string `json:"name" binding:"required"`
	Label     string `json:"label"`
	IsInitial bool   `json:"is_initial"`
	IsFinal   bool   `json:"is_final"`
}

type templateTransitionInput struct {
	From             string          `json:"from" binding:"required"`
	To               string          `json:"to" binding:"required"`
	Action           string          `json:"action" binding:"required"`
	Label            string          `json:"label"`
	AllowedRoles     []string        `json:"allowed_roles"`
	RequiresApproval bool            `json:"requires_approval"`
	Condition        json.RawMessage `json:"condition"`
}

// CreateTemplate stores a new template with its full state/transition
// graph in one shot. Exactly one state must be flagged initial; it
// becomes the template's default state.
func CreateTemplate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input struct {
			Name        string                    `json:"name" binding:"required"`
			Description string                    `json:"description"`
			States      []templateStateInput      `json:"states" binding:"required,min=1,dive"`
			Transitions []templateTransitionInput `json:"transitions" binding:"dive"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		initials := 0
		for _, s := range input.States {
			if s.IsInitial {
				initials++
			}
		}
		if initials != 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one state must be flagged is_initial"})
			return
		}
		for _, t := range input.Transitions {
			if _, err := acl.ParseCondition(t.Condition); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		var tpl models.WorkflowTemplate
		err := db.Transaction(func(tx *gorm.DB) error {
			tpl = models.WorkflowTemplate{
				OrgID:       cl.OrgID,
				Name:        input.Name,
				Description: input.Description,
				Version:     1,
				IsActive:    true,
				CreatedBy:   cl.UserID,
			}
			if err := tx.Create(&tpl).Error; err != nil {
				return err
			}

			stateIDs := map[string]int64{}
			for _, s := range input.States {
				state := models.WorkflowState{
					TemplateID: tpl.ID,
					Name:       s.Name,
					Label:      s.Label,
					IsInitial:  s.IsInitial,
					IsFinal:    s.IsFinal,
				}
				if err := tx.Create(&state).Error; err != nil {
					return err
				}
				stateIDs[s.Name] = state.ID
				if s.IsInitial {
					if err := tx.Model(&tpl).Update("default_state_id", state.ID).Error; err != nil {
						return err
					}
					id := state.ID
					tpl.DefaultStateID = &id
				}
			}

			for _, t := range input.Transitions {
				fromID, ok := stateIDs[t.From]
				if !ok {
					return fmt.Errorf("transition %q: unknown state %q", t.Action, t.From)
				}
				toID, ok := stateIDs[t.To]
				if !ok {
					return fmt.Errorf("transition %q: unknown state %q", t.Action, t.To)
				}
				tr := models.WorkflowTransition{
					TemplateID:       tpl.ID,
					FromStateID:      fromID,
					ToStateID:        toID,
					Action:           t.Action,
					Label:            t.Label,
					Condition:        datatypes.JSON(t.Condition),
					RequiresApproval: t.RequiresApproval,
					AllowedRoles:     t.AllowedRoles,
				}
				if err := tx.Create(&tr).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"template": tpl})
	}
}

// ListTemplates returns the org's templates with their graphs.
func ListTemplates(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var templates []models.WorkflowTemplate
		err := db.Where("org_id = ?", cl.OrgID).
			Preload("States").Preload("Transitions").
			Find(&templates).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"templates": templates})
	}
}

// CloneTemplate creates the next version of a template's graph. A
// template's graph is frozen once instances reference it; edits go
// through a clone instead.
func CloneTemplate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
			return
		}

		var src models.WorkflowTemplate
		err = db.Where("id = ? AND org_id = ?", id, cl.OrgID).
			Preload("States").Preload("Transitions").
			First(&src).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
			return
		}

		var clone models.WorkflowTemplate
		err = db.Transaction(func(tx *gorm.DB) error {
			clone = models.WorkflowTemplate{
				OrgID:       src.OrgID,
				Name:        src.Name,
				Description: src.Description,
				Version:     src.Version + 1,
				IsActive:    true,
				CreatedBy:   cl.UserID,
			}
			if err := tx.Create(&clone).Error; err != nil {
				return err
			}

			idMap := map[int64]int64{}
			for _, s := range src.States {
				state := models.WorkflowState{
					TemplateID: clone.ID,
					Name:       s.Name,
					Label:      s.Label,
					IsInitial:  s.IsInitial,
					IsFinal:    s.IsFinal,
				}
				if err := tx.Create(&state).Error; err != nil {
					return err
				}
				idMap[s.ID] = state.ID
				if src.DefaultStateID != nil && *src.DefaultStateID == s.ID {
					if err := tx.Model(&clone).Update("default_state_id", state.ID).Error; err != nil {
						return err
					}
				}
			}

			for _, t := range src.Transitions {
				tr := models.WorkflowTransition{
					TemplateID:       clone.ID,
					FromStateID:      idMap[t.FromStateID],
					ToStateID:        idMap[t.ToStateID],
					Action:           t.Action,
					Label:            t.Label,
					Condition:        t.Condition,
					RequiresApproval: t.RequiresApproval,
					AllowedRoles:     t.AllowedRoles,
				}
				if err := tx.Create(&tr).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"template": clone})
	}
}

// StartWorkflow creates an instance bound to a business entity and starts
// it. Pass "autostart": false to leave it pending.
func StartWorkflow(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input struct {
			TemplateID int64          `json:"template_id" binding:"required"`
			EntityType string         `json:"entity_type" binding:"required"`
			EntityID   string         `json:"entity_id" binding:"required"`
			Title      string         `json:"title"`
			Data       map[string]any `json:"data"`
			AssignedTo *int64         `json:"assigned_to"`
			Deadline   *time.Time     `json:"deadline"`
			Priority   int            `json:"priority"`
			Autostart  *bool          `json:"autostart"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		params := workflow.CreateParams{
			TemplateID: input.TemplateID,
			OrgID:      cl.OrgID,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Title:      input.Title,
			Data:       input.Data,
			AssignedTo: input.AssignedTo,
			Deadline:   input.Deadline,
			Priority:   input.Priority,
			CreatedBy:  cl.UserID,
		}

		var (
			inst *models.WorkflowInstance
			err  error
		)
		if input.Autostart != nil && !*input.Autostart {
			inst, err = engine.Create(c.Request.Context(), params)
		} else {
			inst, err = engine.StartWorkflow(c.Request.Context(), params)
		}
		if err != nil {
			writeWorkflowError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"instance": inst})
	}
}

// StartInstance moves a pending instance to running.
func StartInstance(engine *workflow.Engine) gin.HandlerFunc {
	return instanceOp(func(c *gin.Context, e *workflow.Engine, id, actorID int64) (*models.WorkflowInstance, error) {
		return e.Start(c.Request.Context(), id, actorID)
	}, engine)
}

// TransitionInstance executes an action on an instance.
func TransitionInstance(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
			return
		}

		var input struct {
			Action  string `json:"action" binding:"required"`
			Comment string `json:"comment"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		inst, err := engine.Transition(c.Request.Context(), id, input.Action, cl.UserID, input.Comment)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"instance": inst})
	}
}

// CancelInstance cancels any non-terminal instance.
func CancelInstance(engine *workflow.Engine) gin.HandlerFunc {
	return instanceOp(func(c *gin.Context, e *workflow.Engine, id, actorID int64) (*models.WorkflowInstance, error) {
		return e.Cancel(c.Request.Context(), id, actorID)
	}, engine)
}

// SuspendInstance pauses a running instance.
func SuspendInstance(engine *workflow.Engine) gin.HandlerFunc {
	return instanceOp(func(c *gin.Context, e *workflow.Engine, id, actorID int64) (*models.WorkflowInstance, error) {
		return e.Suspend(c.Request.Context(), id, actorID)
	}, engine)
}

// ResumeInstance puts a suspended instance back to running.
func ResumeInstance(engine *workflow.Engine) gin.HandlerFunc {
	return instanceOp(func(c *gin.Context, e *workflow.Engine, id, actorID int64) (*models.WorkflowInstance, error) {
		return e.Resume(c.Request.Context(), id, actorID)
	}, engine)
}

func instanceOp(op func(*gin.Context, *workflow.Engine, int64, int64) (*models.WorkflowInstance, error), engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
			return
		}

		inst, err := op(c, engine, id, cl.UserID)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"instance": inst})
	}
}

// ListInstances returns the org's instances, optionally filtered.
func ListInstances(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		query := db.Where("org_id = ?", cl.OrgID)
		if et := c.Query("entity_type"); et != "" {
			query = query.Where("entity_type = ?", et)
		}
		if st := c.Query("status"); st != "" {
			query = query.Where("status = ?", st)
		}

		var instances []models.WorkflowInstance
		if err := query.Preload("CurrentState").Order("id DESC").Limit(100).Find(&instances).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"instances": instances})
	}
}

// GetInstance returns one instance with its current state.
func GetInstance(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
			return
		}

		var inst models.WorkflowInstance
		err = db.Where("id = ? AND org_id = ?", id, cl.OrgID).
			Preload("CurrentState").
			First(&inst).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"instance": inst})
	}
}

// InstanceHistory returns the append-only transition log.
func InstanceHistory(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
			return
		}

		history, err := engine.History(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history})
	}
}

// ApproveTransition completes a held transition.
func ApproveTransition(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval id"})
			return
		}

		var input struct {
			Comment string `json:"comment"`
		}
		_ = c.ShouldBindJSON(&input)

		inst, err := engine.Approve(c.Request.Context(), id, cl.UserID, input.Comment)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"instance": inst})
	}
}

// RejectTransition declines a held transition.
func RejectTransition(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := auth.ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval id"})
			return
		}

		var input struct {
			Comment string `json:"comment"`
		}
		_ = c.ShouldBindJSON(&input)

		if err := engine.Reject(c.Request.Context(), id, cl.UserID, input.Comment); err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rejected": true})
	}
}

// writeWorkflowError maps engine errors to HTTP statuses: unknown ids to
// 404, invalid actions to 400 with the valid-actions list, missing roles
// to 403, terminal instances to 409, approval holds to 202.
func writeWorkflowError(c *gin.Context, err error) {
	var (
		invalid   *workflow.InvalidTransitionError
		forbidden *workflow.ForbiddenTransitionError
		terminal  *workflow.TerminalStateError
		approval  *workflow.ApprovalRequiredError
	)
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &approval):
		c.JSON(http.StatusAccepted, gin.H{
			"message":     err.Error(),
			"approval_id": approval.ApprovalID,
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":         err.Error(),
			"valid_actions": invalid.ValidActions,
		})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &terminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	}
}
