package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/stepflow/pkg/schema"
)

// CELEngine evaluates the `cel` predicate of condition leaves with Google's
// Common Expression Language. The environment declares three variables:
//
//	value    dyn                 the resolved reference value
//	trigger  dyn                 the run's trigger payload
//	steps    map(string, dyn)    completed step results by step ID
//
// Compiled programs are cached, so an engine is safe to share.
type CELEngine struct {
	env      *cel.Env
	programs *programs[cel.Program]
}

func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("trigger", cel.DynType),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	e := &CELEngine{env: env}
	e.programs = newPrograms(e.compile)
	return e, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if err := issues.Err(); err != nil {
		return nil, exprError("CEL", "compile", expression, err)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, exprError("CEL", "program", expression, err)
	}
	return prg, nil
}

// Evaluate runs expression against data. A missing steps map is bound as
// empty so that `steps.x` fails as a missing key rather than a nil map.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeCondition, "empty CEL expression")
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	steps, _ := data["steps"].(map[string]any)
	if steps == nil {
		steps = map[string]any{}
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{
		"value":   data["value"],
		"trigger": data["trigger"],
		"steps":   steps,
	})
	if err != nil {
		return nil, exprError("CEL", "evaluation", expression, err)
	}
	return out.Value(), nil
}

// Test evaluates a CEL expression that must produce a boolean.
func (e *CELEngine) Test(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	return requireBool("CEL", expression, out)
}

var _ Predicate = (*CELEngine)(nil)
