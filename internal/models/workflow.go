package models

import (
	"time"

	"gorm.io/datatypes"
)

// InstanceStatus is the lifecycle status of a workflow instance. Statuses
// move forward only, except running<->suspended.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceRunning   InstanceStatus = "running"
	InstanceCompleted InstanceStatus = "completed"
	InstanceFailed    InstanceStatus = "failed"
	InstanceCancelled InstanceStatus = "cancelled"
	InstanceSuspended InstanceStatus = "suspended"
)

// IsTerminal reports whether no further transitions are accepted.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCancelled
}

// ApprovalStatus is the decision state of a gated transition.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// WorkflowTemplate is the static state/transition graph one class of
// instances runs against. Templates are versioned: once an instance
// references a template its graph must not change, edits clone a new
// version instead.
type WorkflowTemplate struct {
	ID             int64  `gorm:"primaryKey" json:"id"`
	OrgID          int64  `gorm:"index;not null" json:"org_id"`
	Name           string `gorm:"size:200;not null" json:"name"`
	Description    string `gorm:"size:500" json:"description"`
	Version        int    `gorm:"default:1" json:"version"`
	DefaultStateID *int64 `json:"default_state_id,omitempty"`
	IsActive       bool   `gorm:"default:true" json:"is_active"`
	CreatedBy      int64  `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	States      []WorkflowState      `gorm:"foreignKey:TemplateID" json:"states,omitempty"`
	Transitions []WorkflowTransition `gorm:"foreignKey:TemplateID" json:"transitions,omitempty"`
}

func (WorkflowTemplate) TableName() string { return "workflow_templates" }

// WorkflowState is one node of a template graph. Domain state names are
// opaque to the engine; only is_initial and is_final carry meaning.
type WorkflowState struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	TemplateID int64  `gorm:"index;not null" json:"template_id"`
	Name       string `gorm:"size:100;not null" json:"name"`
	Label      string `gorm:"size:200" json:"label"`
	IsInitial  bool   `gorm:"default:false" json:"is_initial"`
	IsFinal    bool   `gorm:"default:false" json:"is_final"`
	CreatedAt  time.Time `json:"created_at"`
}

func (WorkflowState) TableName() string { return "workflow_states" }

// WorkflowTransition is a static edge of the template graph: the rulebook
// consulted when an action is requested on an instance.
type WorkflowTransition struct {
	ID               int64          `gorm:"primaryKey" json:"id"`
	TemplateID       int64          `gorm:"index:idx_transition_lookup,priority:1;not null" json:"template_id"`
	FromStateID      int64          `gorm:"index:idx_transition_lookup,priority:2;not null" json:"from_state_id"`
	ToStateID        int64          `gorm:"not null" json:"to_state_id"`
	Action           string         `gorm:"size:100;index:idx_transition_lookup,priority:3;not null" json:"action"`
	Label            string         `gorm:"size:200" json:"label"`
	Condition        datatypes.JSON `gorm:"type:json" json:"condition,omitempty"`
	RequiresApproval bool           `gorm:"default:false" json:"requires_approval"`

	AllowedRoles datatypes.JSONSlice[string] `gorm:"type:json" json:"allowed_roles"`

	CreatedAt time.Time `json:"created_at"`

	FromState *WorkflowState `gorm:"foreignKey:FromStateID" json:"-"`
	ToState   *WorkflowState `gorm:"foreignKey:ToStateID" json:"-"`
}

func (WorkflowTransition) TableName() string { return "workflow_transitions" }

// WorkflowInstance is one running execution of a template, bound to an
// external business entity.
type WorkflowInstance struct {
	ID             int64          `gorm:"primaryKey" json:"id"`
	OrgID          int64          `gorm:"index;not null" json:"org_id"`
	TemplateID     int64          `gorm:"index;not null" json:"template_id"`
	CurrentStateID int64          `gorm:"not null" json:"current_state_id"`
	Status         InstanceStatus `gorm:"size:20;default:pending;index" json:"status"`
	EntityType     string         `gorm:"size:100;index:idx_instance_entity,priority:1;not null" json:"entity_type"`
	EntityID       string         `gorm:"size:100;index:idx_instance_entity,priority:2;not null" json:"entity_id"`
	Title          string         `gorm:"size:255" json:"title"`

	Data        datatypes.JSONMap          `gorm:"type:json" json:"data,omitempty"`
	ActiveNodes datatypes.JSONSlice[int64] `gorm:"type:json" json:"active_nodes,omitempty"`

	Deadline   *time.Time `json:"deadline,omitempty"`
	Priority   int        `gorm:"default:0" json:"priority"`
	AssignedTo *int64     `gorm:"index" json:"assigned_to,omitempty"`
	CreatedBy  int64      `gorm:"not null" json:"created_by"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Template     *WorkflowTemplate `gorm:"foreignKey:TemplateID" json:"-"`
	CurrentState *WorkflowState    `gorm:"foreignKey:CurrentStateID" json:"current_state,omitempty"`
	History      []WorkflowHistory `gorm:"foreignKey:InstanceID" json:"-"`
}

func (WorkflowInstance) TableName() string { return "workflow_instances" }

// WorkflowHistory is the append-only transition log: one row per
// transition, in creation order, never updated or deleted.
type WorkflowHistory struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	InstanceID  int64  `gorm:"index;not null" json:"instance_id"`
	FromStateID *int64 `json:"from_state_id,omitempty"` // nil on workflow start
	ToStateID   int64  `gorm:"not null" json:"to_state_id"`
	Action      string `gorm:"size:100;not null" json:"action"`
	Comment     string `gorm:"size:500" json:"comment"`
	UserID      int64  `gorm:"not null" json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (WorkflowHistory) TableName() string { return "workflow_history" }

// WorkflowApproval is a pending decision for a transition gated by
// requires_approval. The instance stays unmodified until it is approved.
type WorkflowApproval struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	InstanceID   int64          `gorm:"index;not null" json:"instance_id"`
	TransitionID int64          `gorm:"not null" json:"transition_id"`
	RequestedBy  int64          `gorm:"not null" json:"requested_by"`
	Comment      string         `gorm:"size:500" json:"comment"`
	Status       ApprovalStatus `gorm:"size:20;default:pending;index" json:"status"`
	DecidedBy    *int64         `json:"decided_by,omitempty"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`

	Instance   *WorkflowInstance   `gorm:"foreignKey:InstanceID" json:"-"`
	Transition *WorkflowTransition `gorm:"foreignKey:TransitionID" json:"-"`
}

func (WorkflowApproval) TableName() string { return "workflow_approvals" }
