package workflow

import (
	"time"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/validation"
)

// WithTimeout wraps h so each call fails with TIMEOUT_ERROR after d.
// The engine itself never times out a handler.
func WithTimeout(h Handler, d time.Duration) Handler {
	return engine.WithTimeout(h, d)
}

// WithRetry wraps h so retryable failures are retried per policy.
// The engine itself never retries.
func WithRetry(h Handler, policy RetryPolicy) Handler {
	return engine.WithRetry(h, policy)
}

// JSONSchema compiles a JSON Schema (draft 2020-12) document into a Schema
// usable as a step input or trigger schema.
func JSONSchema(raw []byte) (Schema, error) {
	s, err := validation.CompileJSONSchema(raw)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MustJSONSchema is JSONSchema that panics on an invalid document.
func MustJSONSchema(raw []byte) Schema {
	s, err := JSONSchema(raw)
	if err != nil {
		panic(err)
	}
	return s
}
