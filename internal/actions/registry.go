package actions

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// Registry maps action names to actions. Workflow documents resolve their
// steps' action names against it when they are loaded.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Action)}
}

// Register adds action. Names are unique: a second action with the same
// name is a CONFLICT.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "cannot register a nil action")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}
	r.byName[name] = action
	return nil
}

// RegisterFunc registers fn under name. inputSchema may be empty.
func (r *Registry) RegisterFunc(name, description string, inputSchema json.RawMessage, fn func(context.Context, map[string]any) (any, error)) error {
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "action %q has no function", name)
	}
	return r.Register(&funcAction{
		name:   name,
		schema: ActionSchema{Description: description, InputSchema: inputSchema},
		fn:     fn,
	})
}

// Get returns the action registered under name, or NOT_FOUND.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	a, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// List describes every registered action, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	infos := make([]ActionInfo, 0, len(r.byName))
	for name, a := range r.byName {
		s := a.Schema()
		infos = append(infos, ActionInfo{Name: name, Description: s.Description, InputSchema: s.InputSchema})
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ActionInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// funcAction adapts a plain function to Action.
type funcAction struct {
	name   string
	schema ActionSchema
	fn     func(context.Context, map[string]any) (any, error)
}

func (a *funcAction) Name() string         { return a.name }
func (a *funcAction) Schema() ActionSchema { return a.schema }

func (a *funcAction) Execute(ctx context.Context, params map[string]any) (any, error) {
	return a.fn(ctx, params)
}
