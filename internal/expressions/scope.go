package expressions

// Scope is the read-only view of a run that predicate expressions see.
// Trigger data and step results are normalized to generic JSON values and
// copied on construction, so expressions can never mutate the run.
type Scope struct {
	Trigger any
	Steps   map[string]any
}

// NewScope snapshots trigger data and step results.
func NewScope(trigger any, steps map[string]any) *Scope {
	s := &Scope{
		Trigger: Normalize(trigger),
		Steps:   make(map[string]any, len(steps)),
	}
	for id, result := range steps {
		s.Steps[id] = Normalize(result)
	}
	return s
}

// Data builds the expression environment for one reference value.
func (s *Scope) Data(value any) map[string]any {
	return map[string]any{
		"value":   Normalize(value),
		"trigger": s.Trigger,
		"steps":   s.Steps,
	}
}
