package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

// CoreActions returns the data-shaping actions: echo, fail, jq and expr.eval.
func CoreActions() []Action {
	return []Action{
		&echoAction{},
		&failAction{},
		&jqAction{engine: expressions.NewGoJQEngine()},
		&exprEvalAction{engine: expressions.NewExprEngine()},
	}
}

// --- echo ---

type echoAction struct{}

func (a *echoAction) Name() string { return "echo" }

func (a *echoAction) Schema() ActionSchema {
	return ActionSchema{Description: "Return the step input unchanged"}
}

func (a *echoAction) Execute(_ context.Context, params map[string]any) (any, error) {
	return withoutKeys(params), nil
}

// --- fail ---

const failInputSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "details": {"type": "object"}
  }
}`

type failAction struct{}

func (a *failAction) Name() string { return "fail" }

func (a *failAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Fail the step with the given message",
		InputSchema: json.RawMessage(failInputSchema),
	}
}

func (a *failAction) Execute(_ context.Context, params map[string]any) (any, error) {
	err := schema.NewError(schema.ErrCodeStepFailed, stringParam(params, "message", "step failed"))
	if details, ok := params["details"].(map[string]any); ok {
		err = err.WithDetails(details)
	}
	return nil, err
}

// --- jq ---

const jqInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "input": {}
  },
  "required": ["query"]
}`

type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Run a jq program over 'input', or over the other params when no input is given",
		InputSchema: json.RawMessage(jqInputSchema),
	}
}

func (a *jqAction) Execute(ctx context.Context, params map[string]any) (any, error) {
	query := stringParam(params, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'query' string parameter")
	}

	input, ok := params["input"]
	if !ok {
		input = withoutKeys(params, "query")
	}

	out, err := a.engine.Evaluate(ctx, query, map[string]any{"value": input})
	if err != nil {
		return nil, actionError(a.Name(), err)
	}
	return out, nil
}

// --- expr.eval ---

const exprEvalInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "env": {"type": "object"}
  },
  "required": ["expression"]
}`

type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate an Expr expression; 'env' (or the other params) are its variables",
		InputSchema: json.RawMessage(exprEvalInputSchema),
	}
}

func (a *exprEvalAction) Execute(ctx context.Context, params map[string]any) (any, error) {
	expression := stringParam(params, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' string parameter")
	}

	env, ok := params["env"].(map[string]any)
	if !ok {
		env = withoutKeys(params, "expression")
	}

	out, err := a.engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, actionError(a.Name(), err)
	}
	return out, nil
}

// actionError reports an expression failure as a step failure of the action.
func actionError(name string, err error) error {
	msg := err.Error()
	if fe, ok := err.(*schema.FlowError); ok {
		msg = fe.Message
	}
	return schema.NewErrorf(schema.ErrCodeStepFailed, "%s: %s", name, msg).WithCause(err)
}
