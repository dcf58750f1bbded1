package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
	"github.com/robfig/cron/v3"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// documentSchemaJSON is the JSON Schema for declarative workflow documents.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stepflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "trigger_schema": { "type": "object" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "schedules": {
      "type": "array",
      "items": { "$ref": "#/$defs/schedule" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "action"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "action": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "input_schema": { "type": "object" },
        "variables": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/ref" }
        },
        "transitions": {
          "type": "array",
          "items": { "$ref": "#/$defs/transition" }
        }
      },
      "additionalProperties": false
    },
    "ref": {
      "type": "object",
      "required": ["step_id"],
      "properties": {
        "step_id": { "type": "string", "minLength": 1 },
        "path": { "type": "string" }
      },
      "additionalProperties": false
    },
    "transition": {
      "type": "object",
      "required": ["to"],
      "properties": {
        "to": { "type": "string", "minLength": 1 },
        "condition": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "properties": {
        "ref": { "$ref": "#/$defs/ref" },
        "query": { "type": "object" },
        "cel": { "type": "string" },
        "expr": { "type": "string" },
        "jq": { "type": "string" },
        "and": { "type": "array", "items": { "$ref": "#/$defs/condition" } },
        "or": { "type": "array", "items": { "$ref": "#/$defs/condition" } }
      },
      "dependentRequired": {
        "query": ["ref"],
        "cel": ["ref"],
        "expr": ["ref"],
        "jq": ["ref"]
      },
      "additionalProperties": false
    },
    "schedule": {
      "type": "object",
      "required": ["cron"],
      "properties": {
        "cron": { "type": "string", "minLength": 1 },
        "trigger": {}
      },
      "additionalProperties": false
    }
  }
}`

const documentSchemaURL = "https://stepflow.dev/schemas/workflow.json"

// cronParser accepts standard 5-field expressions and @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ActionLookup checks whether an action name is registered.
type ActionLookup interface {
	Has(name string) bool
}

// DefinitionValidator checks declarative workflow documents in two stages:
// structural (JSON Schema) then semantic (unique IDs, registered actions,
// known step references). Graph soundness is left to ValidateGraph at commit.
type DefinitionValidator struct {
	document *jsonschema.Schema
	actions  ActionLookup
}

// NewDefinitionValidator creates a DefinitionValidator.
// lookup may be nil to skip action existence checks.
func NewDefinitionValidator(lookup ActionLookup) (*DefinitionValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &DefinitionValidator{document: compiled, actions: lookup}, nil
}

// ValidateDocument checks raw YAML or JSON against the document schema and,
// when it conforms, decodes and semantically validates it.
func (v *DefinitionValidator) ValidateDocument(data []byte) (*schema.WorkflowDefinition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse workflow document: %s", err.Error()).WithCause(err)
	}

	doc, err := toJSONValue(raw)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow document").WithCause(err)
	}
	if err := v.document.Validate(doc); err != nil {
		return nil, toFlowError(err)
	}

	def, err := schema.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateDefinition(def); err != nil {
		return nil, err
	}
	return def, nil
}

// ValidateDefinition performs the semantic checks JSON Schema cannot express.
func (v *DefinitionValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	var violations []string
	add := func(path, format string, args ...any) {
		violations = append(violations, path+": "+fmt.Sprintf(format, args...))
	}

	if len(def.Steps) == 0 {
		add("steps", "workflow has no steps")
	}

	ids := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		if ids[s.ID] {
			add(fmt.Sprintf("steps[%d].id", i), "duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
	}

	for i, s := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if v.actions != nil && s.Action != "" && !v.actions.Has(s.Action) {
			add(path+".action", "action %q not registered", s.Action)
		}
		for name, ref := range s.Variables {
			if ref.StepID != schema.TriggerStepID && !ids[ref.StepID] {
				add(fmt.Sprintf("%s.variables.%s", path, name), "references non-existent step %q", ref.StepID)
			}
		}
		for j, t := range s.Transitions {
			tpath := fmt.Sprintf("%s.transitions[%d]", path, j)
			if !ids[t.Target] {
				add(tpath+".to", "references non-existent step %q", t.Target)
			}
			for _, ref := range t.Condition.StepRefs() {
				if ref != schema.TriggerStepID && !ids[ref] {
					add(tpath+".condition", "references non-existent step %q", ref)
				}
			}
		}
	}

	for i, sch := range def.Schedules {
		if _, err := cronParser.Parse(sch.Cron); err != nil {
			add(fmt.Sprintf("schedules[%d].cron", i), "invalid cron expression %q: %s", sch.Cron, err.Error())
		}
	}

	switch len(violations) {
	case 0:
		return nil
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}
