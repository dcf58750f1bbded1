package expressions

import (
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// programs caches compiled programs by source text. Compilation happens at
// most once per expression; a failed compile is not cached.
type programs[P any] struct {
	mu      sync.RWMutex
	byText  map[string]P
	compile func(string) (P, error)
}

func newPrograms[P any](compile func(string) (P, error)) *programs[P] {
	return &programs[P]{byText: make(map[string]P), compile: compile}
}

func (c *programs[P]) get(expression string) (P, error) {
	c.mu.RLock()
	p, ok := c.byText[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byText[expression]; ok {
		return p, nil
	}
	p, err := c.compile(expression)
	if err != nil {
		return p, err
	}
	c.byText[expression] = p
	return p, nil
}

func (c *programs[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byText)
}

// exprError reports a failure of one predicate language as a CONDITION_ERROR
// carrying the offending expression.
func exprError(lang, stage, expression string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeCondition, "%s %s failed for %q: %s", lang, stage, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "language": lang})
}

// requireBool reads out as the boolean a predicate must produce.
func requireBool(lang, expression string, out any) (bool, error) {
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeCondition, "%s expression %q must evaluate to bool, got %T", lang, expression, out).
			WithDetails(map[string]any{"expression": expression, "language": lang})
	}
	return b, nil
}
