package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_StepRefs(t *testing.T) {
	c := AllOf(
		*Where(Ref("a", "x"), nil),
		*AnyOf(
			*Where(Ref("b", "y"), nil),
			*Where(Ref("trigger", "z"), nil),
		),
	)
	assert.Equal(t, []string{"a", "b", "trigger"}, c.StepRefs())

	var none *Condition
	assert.Nil(t, none.StepRefs())
}

func TestVariableReference_WholeValue(t *testing.T) {
	assert.True(t, Ref("a", "").WholeValue())
	assert.True(t, Ref("a", ".").WholeValue())
	assert.True(t, Ref("a", " . ").WholeValue())
	assert.False(t, Ref("a", "x.y").WholeValue())
}

func TestVariableReference_IsTrigger(t *testing.T) {
	assert.True(t, Ref(TriggerStepID, "a").IsTrigger())
	assert.False(t, Ref("fetch", "a").IsTrigger())
}

func TestConditionBuilders(t *testing.T) {
	leaf := Where(Ref("a", "ok"), map[string]any{"$eq": true})
	require.NotNil(t, leaf.Ref)
	assert.Equal(t, "a", leaf.Ref.StepID)

	all := AllOf(*leaf, *leaf)
	assert.Len(t, all.And, 2)
	assert.Nil(t, all.Ref)

	either := AnyOf(*leaf)
	assert.Len(t, either.Or, 1)
}

func TestParseDefinition_YAML(t *testing.T) {
	doc := []byte(`
name: order-flow
trigger_schema:
  type: object
  required: [order_id]
steps:
  - id: fetch
    action: echo
    params:
      source: api
    variables:
      id:
        step_id: trigger
        path: order_id
    transitions:
      - to: ship
        condition:
          ref: {step_id: fetch, path: ok}
          query: {$eq: true}
      - to: cancel
  - id: ship
    action: echo
  - id: cancel
    action: echo
schedules:
  - cron: "*/5 * * * *"
    trigger: {order_id: 7}
`)
	def, err := ParseDefinition(doc)
	require.NoError(t, err)

	assert.Equal(t, "order-flow", def.Name)
	require.Len(t, def.Steps, 3)
	fetch := def.Steps[0]
	assert.Equal(t, "echo", fetch.Action)
	assert.Equal(t, Ref("trigger", "order_id"), fetch.Variables["id"])
	require.Len(t, fetch.Transitions, 2)
	assert.Equal(t, "ship", fetch.Transitions[0].Target)
	require.NotNil(t, fetch.Transitions[0].Condition)
	assert.Equal(t, true, fetch.Transitions[0].Condition.Query["$eq"])
	assert.Nil(t, fetch.Transitions[1].Condition)
	require.Len(t, def.Schedules, 1)
	assert.Equal(t, "*/5 * * * *", def.Schedules[0].Cron)
}

func TestParseDefinition_JSON(t *testing.T) {
	doc := []byte(`{"name":"j","steps":[{"id":"only","action":"echo"}]}`)
	def, err := ParseDefinition(doc)
	require.NoError(t, err)
	assert.Equal(t, "j", def.Name)
	require.Len(t, def.Steps, 1)
	assert.Empty(t, def.Steps[0].Transitions)
}

func TestParseDefinition_Invalid(t *testing.T) {
	_, err := ParseDefinition([]byte("steps: [unterminated"))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidation))
}
