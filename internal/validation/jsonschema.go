package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema validates arbitrary values against a JSON Schema (draft 2020-12).
// It is safe for concurrent use.
type JSONSchema struct {
	raw      string
	compiled *jsonschema.Schema
}

var (
	schemaCacheMu sync.RWMutex
	schemaCache   = make(map[string]*jsonschema.Schema)
)

// CompileJSONSchema compiles a raw JSON Schema document. Compiled schemas are
// cached by their source text and shared between callers.
func CompileJSONSchema(raw []byte) (*JSONSchema, error) {
	if len(raw) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty JSON schema")
	}
	compiled, err := getOrCompile(string(raw))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid JSON schema").WithCause(err)
	}
	return &JSONSchema{raw: string(raw), compiled: compiled}, nil
}

// CompileJSONSchemaMap is CompileJSONSchema for a schema held as decoded JSON
// or YAML data.
func CompileJSONSchemaMap(doc map[string]any) (*JSONSchema, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize JSON schema").WithCause(err)
	}
	return CompileJSONSchema(b)
}

// Validate checks v against the schema. v may be any JSON-encodable value.
func (s *JSONSchema) Validate(v any) error {
	doc, err := toJSONValue(v)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize value").WithCause(err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// String returns the schema source.
func (s *JSONSchema) String() string {
	return s.raw
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func getOrCompile(key string) (*jsonschema.Schema, error) {
	schemaCacheMu.RLock()
	if cached, ok := schemaCache[key]; ok {
		schemaCacheMu.RUnlock()
		return cached, nil
	}
	schemaCacheMu.RUnlock()

	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := schemaCache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("stepflow://schema/%d", len(schemaCache))

	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	schemaCache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError listing
// every leaf violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

// Violations extracts the per-location messages from a schema validation error.
func Violations(err error) []string {
	fe, ok := err.(*schema.FlowError)
	if !ok || fe.Details == nil {
		return nil
	}
	v, _ := fe.Details["violations"].([]string)
	return v
}
