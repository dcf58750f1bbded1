package expressions

import "context"

// Engine evaluates expressions against condition data.
// Three implementations: CEL, GoJQ and Expr.
//
// data carries three keys: "value" (the resolved reference value),
// "trigger" (the run's trigger payload) and "steps" (completed step results).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Predicate is an Engine whose results can be read as a boolean.
type Predicate interface {
	Engine
	Test(ctx context.Context, expression string, data map[string]any) (bool, error)
}
