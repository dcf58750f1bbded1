package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

// mockAction is a minimal Action for registry tests.
type mockAction struct {
	name string
	desc string
}

func (m *mockAction) Name() string { return m.name }
func (m *mockAction) Schema() ActionSchema {
	return ActionSchema{Description: m.desc}
}
func (m *mockAction) Execute(_ context.Context, params map[string]any) (any, error) {
	return params, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&mockAction{name: "a", desc: "first"}))

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name())
	assert.True(t, reg.Has("a"))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_GetMissing(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, schema.HasCode(reg.Register(nil), schema.ErrCodeValidation))
	assert.True(t, schema.HasCode(reg.Register(&mockAction{}), schema.ErrCodeValidation))

	require.NoError(t, reg.Register(&mockAction{name: "dup"}))
	assert.True(t, schema.HasCode(reg.Register(&mockAction{name: "dup"}), schema.ErrCodeConflict))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&mockAction{name: "zeta"}))
	require.NoError(t, reg.Register(&mockAction{name: "alpha", desc: "A"}))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "A", list[0].Description)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestNewBuiltinRegistry(t *testing.T) {
	reg, err := NewBuiltinRegistry(Config{})
	require.NoError(t, err)
	for _, name := range []string{"echo", "fail", "jq", "expr.eval", "crypto.hash", "crypto.uuid", "http.request"} {
		assert.True(t, reg.Has(name), name)
	}

	// Registering twice collides.
	assert.Error(t, RegisterBuiltins(reg, Config{}))
}

func TestRegistry_RegisterFunc(t *testing.T) {
	reg := NewRegistry()
	err := reg.RegisterFunc("double", "Double n", []byte(`{"type":"object"}`),
		func(_ context.Context, params map[string]any) (any, error) {
			return params["n"].(int) * 2, nil
		})
	require.NoError(t, err)

	a, err := reg.Get("double")
	require.NoError(t, err)
	assert.Equal(t, "Double n", a.Schema().Description)
	assert.JSONEq(t, `{"type":"object"}`, string(a.Schema().InputSchema))

	out, err := a.Execute(context.Background(), map[string]any{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	assert.True(t, schema.HasCode(reg.RegisterFunc("nil", "", nil, nil), schema.ErrCodeValidation))
	assert.True(t, schema.HasCode(reg.RegisterFunc("double", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, nil
	}), schema.ErrCodeConflict))
}
