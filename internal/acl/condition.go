package acl

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Condition operators. Conditions are stored as a JSON predicate tree, not
// executable text, so administrators keep their expressiveness without the
// evaluator becoming a code-execution surface.
const (
	OpEq          = "eq"
	OpNe          = "ne"
	OpGt          = "gt"
	OpGte         = "gte"
	OpLt          = "lt"
	OpLte         = "lte"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpAnd         = "and"
	OpOr          = "or"
	OpNot         = "not"
	OpRoleHas     = "role_has"
)

// Context is the variable set a condition is evaluated against. The
// evaluator reads only what is in here: no clock, no randomness, no
// traversal beyond these values.
type Context struct {
	UserID     int64
	UserRoles  []string
	EntityData map[string]any
	Extra      map[string]any
}

// Condition is one node of the predicate tree. Leaf operators compare the
// value at Field (a path such as "entity_data.amount" or "user_id")
// against Value; and/or/not combine Args.
type Condition struct {
	Op    string       `json:"op"`
	Field string       `json:"field,omitempty"`
	Value any          `json:"value,omitempty"`
	Args  []*Condition `json:"args,omitempty"`
}

// ParseCondition decodes a stored predicate. Empty or null input is the
// always-true condition, represented as nil.
func ParseCondition(raw []byte) (*Condition, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return nil, nil
	}
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &EvaluationError{Condition: trimmed, Cause: err}
	}
	if c.Op == "" {
		return nil, &EvaluationError{Condition: trimmed, Cause: errors.New("missing op")}
	}
	return &c, nil
}

func (c *Condition) String() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// Eval evaluates the predicate against ctx. Any failure comes back as an
// *EvaluationError; the caller decides whether that means "rule does not
// apply" (the ACL resolver) or a rejected transition (the workflow engine).
func (c *Condition) Eval(ctx *Context) (bool, error) {
	if c == nil {
		return true, nil
	}
	ok, err := c.eval(ctx)
	if err != nil {
		return false, &EvaluationError{Condition: c.String(), Cause: err}
	}
	return ok, nil
}

func (c *Condition) eval(ctx *Context) (bool, error) {
	switch c.Op {
	case OpAnd:
		if len(c.Args) == 0 {
			return false, errors.New("and needs at least one argument")
		}
		for _, a := range c.Args {
			ok, err := a.eval(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case OpOr:
		if len(c.Args) == 0 {
			return false, errors.New("or needs at least one argument")
		}
		for _, a := range c.Args {
			ok, err := a.eval(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		if len(c.Args) != 1 {
			return false, errors.New("not takes exactly one argument")
		}
		ok, err := c.Args[0].eval(ctx)
		return !ok, err

	case OpRoleHas:
		name, ok := c.Value.(string)
		if !ok {
			return false, errors.New("role_has needs a string value")
		}
		return slices.Contains(ctx.UserRoles, name), nil

	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpNotContains:
		return c.evalLeaf(ctx)

	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

func (c *Condition) evalLeaf(ctx *Context) (bool, error) {
	left, err := ctx.resolve(c.Field)
	if err != nil {
		return false, err
	}

	switch c.Op {
	case OpEq:
		return looseEqual(left, c.Value), nil
	case OpNe:
		return !looseEqual(left, c.Value), nil

	case OpGt, OpGte, OpLt, OpLte:
		lf, lok := toFloat(left)
		rf, rok := toFloat(c.Value)
		if !lok || !rok {
			return false, fmt.Errorf("%s compares numbers, got %T and %T", c.Op, left, c.Value)
		}
		switch c.Op {
		case OpGt:
			return lf > rf, nil
		case OpGte:
			return lf >= rf, nil
		case OpLt:
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}

	case OpIn, OpNotIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("%s needs a list value, got %T", c.Op, c.Value)
		}
		found := slices.ContainsFunc(list, func(v any) bool { return looseEqual(left, v) })
		if c.Op == OpNotIn {
			return !found, nil
		}
		return found, nil

	case OpContains, OpNotContains:
		found, err := containsValue(left, c.Value)
		if err != nil {
			return false, err
		}
		if c.Op == OpNotContains {
			return !found, nil
		}
		return found, nil
	}

	return false, fmt.Errorf("unknown operator %q", c.Op)
}

// resolve looks up a field path. "user_id" and "user_roles" come from the
// actor; "entity_data.<key>" and "context.<key>" descend into the provided
// maps; a bare name reads the entity snapshot directly.
func (ctx *Context) resolve(path string) (any, error) {
	if path == "" {
		return nil, errors.New("missing field")
	}
	switch path {
	case "user_id":
		return ctx.UserID, nil
	case "user_roles":
		return ctx.UserRoles, nil
	}

	root := ctx.EntityData
	rest := path
	switch {
	case strings.HasPrefix(path, "entity_data."):
		rest = strings.TrimPrefix(path, "entity_data.")
	case strings.HasPrefix(path, "context."):
		root = ctx.Extra
		rest = strings.TrimPrefix(path, "context.")
	}

	cur := any(root)
	for _, part := range strings.Split(rest, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", path, part)
		}
		v, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("field %q is not defined", path)
		}
		cur = v
	}
	return cur, nil
}

// looseEqual compares with numeric coercion so that an int64 snapshot value
// equals the float64 the JSON decoder produced for the rule.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsValue(left, val any) (bool, error) {
	switch l := left.(type) {
	case string:
		s, ok := val.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string needs a string value, got %T", val)
		}
		return strings.Contains(l, s), nil
	case []any:
		return slices.ContainsFunc(l, func(v any) bool { return looseEqual(v, val) }), nil
	case []string:
		s, ok := val.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string list needs a string value, got %T", val)
		}
		return slices.Contains(l, s), nil
	default:
		return false, fmt.Errorf("contains needs a string or list field, got %T", left)
	}
}
