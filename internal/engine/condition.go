package engine

import (
	"context"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

// Engines holds the expression engines condition leaves may use.
// A nil engine makes leaves that need it fail with CONDITION_ERROR.
type Engines struct {
	CEL  expressions.Predicate
	Expr expressions.Predicate
	JQ   expressions.Predicate
}

// DefaultEngines builds the CEL, Expr and jq engines.
func DefaultEngines() (Engines, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return Engines{}, err
	}
	return Engines{
		CEL:  cel,
		Expr: expressions.NewExprEngine(),
		JQ:   expressions.NewGoJQEngine(),
	}, nil
}

// ConditionEvaluator evaluates transition guards against a run's context.
// Evaluation is pure: it reads results, never runs handlers.
type ConditionEvaluator struct {
	engines Engines
}

// NewConditionEvaluator creates an evaluator over the given engines.
func NewConditionEvaluator(engines Engines) *ConditionEvaluator {
	return &ConditionEvaluator{engines: engines}
}

// Evaluate computes base AND all(And) AND any(Or). A node without a ref has
// a true base; absent And/Or lists are vacuously true. A nil condition holds.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, cond *schema.Condition, ec *ExecutionContext) (bool, error) {
	if cond == nil {
		return true, nil
	}
	ev := &evaluation{ConditionEvaluator: e, ec: ec}
	return ev.eval(ctx, cond)
}

// evaluation carries the lazily built expression scope of one Evaluate call.
type evaluation struct {
	*ConditionEvaluator
	ec    *ExecutionContext
	scope *expressions.Scope
}

func (ev *evaluation) eval(ctx context.Context, cond *schema.Condition) (bool, error) {
	base, err := ev.leaf(ctx, cond)
	if err != nil || !base {
		return false, err
	}

	for i := range cond.And {
		ok, err := ev.eval(ctx, &cond.And[i])
		if err != nil || !ok {
			return false, err
		}
	}

	if len(cond.Or) == 0 {
		return true, nil
	}
	for i := range cond.Or {
		ok, err := ev.eval(ctx, &cond.Or[i])
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// leaf evaluates every predicate a node declares against its ref value.
func (ev *evaluation) leaf(ctx context.Context, cond *schema.Condition) (bool, error) {
	hasPredicate := cond.Query != nil || cond.CEL != "" || cond.Expr != "" || cond.JQ != ""
	if cond.Ref == nil {
		if hasPredicate {
			return false, schema.NewError(schema.ErrCodeCondition, "condition predicate requires a ref")
		}
		return true, nil
	}

	ref := *cond.Ref
	source, ok := ev.ec.Source(ref.StepID)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeUnresolvedStep,
			"Cannot evaluate condition: Step %s has not been executed yet", ref.StepID).
			WithDetails(map[string]any{"ref_step_id": ref.StepID, "path": ref.Path})
	}
	value, found := source, true
	if !ref.WholeValue() {
		value, found = expressions.Lookup(source, ref.Path)
	}

	if cond.Query != nil {
		var (
			matched bool
			err     error
		)
		if found {
			matched, err = expressions.Match(cond.Query, value)
		} else {
			matched, err = expressions.MatchMissing(cond.Query)
		}
		if err != nil || !matched {
			return false, err
		}
	}

	for _, p := range []struct {
		engine     expressions.Predicate
		name, expr string
	}{
		{ev.engines.CEL, "cel", cond.CEL},
		{ev.engines.Expr, "expr", cond.Expr},
		{ev.engines.JQ, "jq", cond.JQ},
	} {
		if p.expr == "" {
			continue
		}
		if p.engine == nil {
			return false, schema.NewErrorf(schema.ErrCodeCondition, "%s engine not configured", p.name)
		}
		ok, err := p.engine.Test(ctx, p.expr, ev.data(value))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (ev *evaluation) data(value any) map[string]any {
	if ev.scope == nil {
		ev.scope = expressions.NewScope(ev.ec.TriggerData, ev.ec.StepResults)
	}
	return ev.scope.Data(value)
}
