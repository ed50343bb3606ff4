package acl

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced rule or permission does not
// exist or is already inactive.
var ErrNotFound = errors.New("not found")

// EvaluationError reports a condition that could not be evaluated: bad
// JSON, an unknown operator, an unresolvable field or a type mismatch.
// Callers treat the owning rule as "does not apply" and keep going.
type EvaluationError struct {
	Condition string
	Cause     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate condition %q: %v", e.Condition, e.Cause)
}

func (e *EvaluationError) Unwrap() error { return e.Cause }
