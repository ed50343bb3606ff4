package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditionEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "{}", "  "} {
		cond, err := ParseCondition([]byte(raw))
		require.NoError(t, err, "input %q", raw)
		assert.Nil(t, cond, "input %q", raw)
	}
}

func TestParseConditionInvalid(t *testing.T) {
	_, err := ParseCondition([]byte(`{not json`))
	require.Error(t, err)

	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)

	_, err = ParseCondition([]byte(`{"field":"user_id","value":1}`))
	require.Error(t, err, "missing op must be rejected")
}

func TestNilConditionIsAlwaysTrue(t *testing.T) {
	var cond *Condition
	ok, err := cond.Eval(&Context{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeafOperators(t *testing.T) {
	ctx := &Context{
		UserID:    42,
		UserRoles: []string{"member", "reviewer"},
		EntityData: map[string]any{
			"amount": float64(1500),
			"status": "draft",
			"tags":   []any{"urgent", "finance"},
			"owner":  map[string]any{"id": float64(42)},
		},
	}

	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"eq string", `{"op":"eq","field":"entity_data.status","value":"draft"}`, true},
		{"eq number coerced", `{"op":"eq","field":"entity_data.amount","value":1500}`, true},
		{"eq user_id", `{"op":"eq","field":"user_id","value":42}`, true},
		{"ne", `{"op":"ne","field":"entity_data.status","value":"final"}`, true},
		{"gt true", `{"op":"gt","field":"entity_data.amount","value":1000}`, true},
		{"gt false", `{"op":"gt","field":"entity_data.amount","value":2000}`, false},
		{"gte boundary", `{"op":"gte","field":"entity_data.amount","value":1500}`, true},
		{"lt", `{"op":"lt","field":"entity_data.amount","value":1501}`, true},
		{"lte boundary", `{"op":"lte","field":"entity_data.amount","value":1500}`, true},
		{"in", `{"op":"in","field":"entity_data.status","value":["draft","review"]}`, true},
		{"not_in", `{"op":"not_in","field":"entity_data.status","value":["final"]}`, true},
		{"contains list", `{"op":"contains","field":"entity_data.tags","value":"urgent"}`, true},
		{"not_contains list", `{"op":"not_contains","field":"entity_data.tags","value":"hr"}`, true},
		{"contains string", `{"op":"contains","field":"entity_data.status","value":"raf"}`, true},
		{"nested path", `{"op":"eq","field":"entity_data.owner.id","value":42}`, true},
		{"bare path reads entity data", `{"op":"eq","field":"status","value":"draft"}`, true},
		{"role_has", `{"op":"role_has","value":"reviewer"}`, true},
		{"role_has miss", `{"op":"role_has","value":"admin"}`, false},
		{"contains user_roles", `{"op":"contains","field":"user_roles","value":"member"}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := ParseCondition([]byte(tc.raw))
			require.NoError(t, err)
			got, err := cond.Eval(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCombinators(t *testing.T) {
	ctx := &Context{
		UserID:     7,
		UserRoles:  []string{"manager"},
		EntityData: map[string]any{"amount": float64(500)},
	}

	and := `{"op":"and","args":[
		{"op":"role_has","value":"manager"},
		{"op":"lt","field":"entity_data.amount","value":1000}
	]}`
	cond, err := ParseCondition([]byte(and))
	require.NoError(t, err)
	ok, err := cond.Eval(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	or := `{"op":"or","args":[
		{"op":"role_has","value":"admin"},
		{"op":"eq","field":"user_id","value":7}
	]}`
	cond, err = ParseCondition([]byte(or))
	require.NoError(t, err)
	ok, err = cond.Eval(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	not := `{"op":"not","args":[{"op":"role_has","value":"admin"}]}`
	cond, err = ParseCondition([]byte(not))
	require.NoError(t, err)
	ok, err = cond.Eval(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalErrors(t *testing.T) {
	ctx := &Context{EntityData: map[string]any{"amount": "not a number"}}

	cases := []struct {
		name string
		raw  string
	}{
		{"undefined field", `{"op":"eq","field":"entity_data.missing","value":1}`},
		{"non-numeric comparison", `{"op":"gt","field":"entity_data.amount","value":10}`},
		{"in without list", `{"op":"in","field":"entity_data.amount","value":"x"}`},
		{"unknown operator", `{"op":"matches","field":"entity_data.amount","value":"x"}`},
		{"empty and", `{"op":"and","args":[]}`},
		{"not with two args", `{"op":"not","args":[{"op":"role_has","value":"a"},{"op":"role_has","value":"b"}]}`},
		{"role_has without string", `{"op":"role_has","value":5}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := ParseCondition([]byte(tc.raw))
			require.NoError(t, err)
			_, err = cond.Eval(ctx)
			require.Error(t, err)

			var evalErr *EvaluationError
			assert.ErrorAs(t, err, &evalErr)
		})
	}
}

func TestEvalIsDeterministic(t *testing.T) {
	ctx := &Context{
		UserID:     1,
		UserRoles:  []string{"member"},
		EntityData: map[string]any{"amount": float64(100), "status": "open"},
	}
	cond, err := ParseCondition([]byte(`{"op":"and","args":[
		{"op":"gte","field":"entity_data.amount","value":100},
		{"op":"in","field":"entity_data.status","value":["open","held"]}
	]}`))
	require.NoError(t, err)

	first, err := cond.Eval(ctx)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := cond.Eval(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}
