package workflow

import (
	"github.com/rendis/stepflow/pkg/schema"
)

// parseVariables keeps the well-formed references of a step's variable map:
// a non-empty step id and a string path. Malformed entries are dropped.
func parseVariables(vars map[string]any) map[string]schema.VariableReference {
	out := make(map[string]schema.VariableReference, len(vars))
	for field, raw := range vars {
		if ref, ok := asReference(raw); ok {
			out[field] = ref
		}
	}
	return out
}

func asReference(raw any) (schema.VariableReference, bool) {
	switch v := raw.(type) {
	case schema.VariableReference:
		return v, v.StepID != ""
	case *schema.VariableReference:
		if v == nil {
			return schema.VariableReference{}, false
		}
		return *v, v.StepID != ""
	case map[string]any:
		stepID, ok := v["stepId"].(string)
		if !ok {
			stepID, ok = v["step_id"].(string)
		}
		path, hasPath := v["path"].(string)
		if !ok || stepID == "" || !hasPath {
			return schema.VariableReference{}, false
		}
		return schema.Ref(stepID, path), true
	case map[string]string:
		stepID, ok := v["stepId"]
		if !ok {
			stepID, ok = v["step_id"]
		}
		path, hasPath := v["path"]
		if !ok || stepID == "" || !hasPath {
			return schema.VariableReference{}, false
		}
		return schema.Ref(stepID, path), true
	default:
		return schema.VariableReference{}, false
	}
}
