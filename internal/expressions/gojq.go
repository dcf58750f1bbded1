package expressions

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/rendis/stepflow/pkg/schema"
)

// GoJQEngine runs jq programs with data["value"] as input and $trigger and
// $steps bound as variables. Environment access ($ENV, env) sees nothing.
type GoJQEngine struct {
	programs *programs[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{programs: newPrograms(compileJQ)}
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, exprError("jq", "parse", expression, err)
	}
	code, err := gojq.Compile(query,
		gojq.WithVariables([]string{"$trigger", "$steps"}),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, exprError("jq", "compile", expression, err)
	}
	return code, nil
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs a jq program. A single output is returned as is, several
// are collected into []any and no output yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll returns every output of the program.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeCondition, "empty jq expression")
	}
	code, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	steps, _ := Normalize(data["steps"]).(map[string]any)
	if steps == nil {
		steps = map[string]any{}
	}
	iter := code.RunWithContext(ctx, Normalize(data["value"]), Normalize(data["trigger"]), steps)

	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			return results, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, exprError("jq", "evaluation", expression, err)
		}
		results = append(results, v)
	}
}

// Test applies jq truthiness to the first output: false and null are false,
// anything else is true. No output is false.
func (e *GoJQEngine) Test(ctx context.Context, expression string, data map[string]any) (bool, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil || len(results) == 0 {
		return false, err
	}
	switch v := results[0].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return true, nil
	}
}

var _ Predicate = (*GoJQEngine)(nil)
