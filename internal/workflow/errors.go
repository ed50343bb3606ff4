package workflow

import (
	"errors"
	"fmt"
	"strings"

	"flowgate/internal/models"
)

// ErrNotFound is returned for unknown instances, templates or approvals.
var ErrNotFound = errors.New("not found")

// InvalidTransitionError means the requested action has no usable
// transition from the instance's current state.
type InvalidTransitionError struct {
	InstanceID   int64
	Action       string
	ValidActions []string
}

func (e *InvalidTransitionError) Error() string {
	if len(e.ValidActions) > 0 {
		return fmt.Sprintf("action %q is not valid for instance %d (valid: %s)",
			e.Action, e.InstanceID, strings.Join(e.ValidActions, ", "))
	}
	return fmt.Sprintf("action %q is not valid for instance %d", e.Action, e.InstanceID)
}

// ForbiddenTransitionError means the transition exists but the actor lacks
// a required role.
type ForbiddenTransitionError struct {
	Action        string
	RequiredRoles []string
}

func (e *ForbiddenTransitionError) Error() string {
	return fmt.Sprintf("action %q requires one of roles: %s", e.Action, strings.Join(e.RequiredRoles, ", "))
}

// TerminalStateError means the instance already completed, failed or was
// cancelled; nothing further is accepted.
type TerminalStateError struct {
	InstanceID int64
	Status     models.InstanceStatus
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("instance %d is in terminal status %q", e.InstanceID, e.Status)
}

// ApprovalRequiredError is not a failure: the transition is gated and a
// pending approval record was created instead of moving the instance.
type ApprovalRequiredError struct {
	ApprovalID int64
	Action     string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("action %q requires approval (approval %d pending)", e.Action, e.ApprovalID)
}
