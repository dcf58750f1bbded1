package actions

import (
	"context"
	"encoding/json"
)

// Action is a named, reusable step handler that declarative workflow
// documents bind to by name.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// ActionSchema describes the input contract of an action. A step that
// declares no input schema of its own is validated against InputSchema.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
