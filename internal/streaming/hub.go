package streaming

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	Workflow string   `json:"workflow,omitempty"`
	RunID    string   `json:"run_id,omitempty"`
	Types    []string `json:"types,omitempty"`
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e schema.Event) bool {
	if f.Workflow != "" && f.Workflow != e.Workflow {
		return false
	}
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// EventHub provides pub/sub for run lifecycle events.
type EventHub interface {
	Publish(ctx context.Context, event schema.Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.Event, func(), error)
}

// Appender is the sink side of the runtime's event stream.
type Appender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// Tee appends each event to every sink in order. Order matters: the event
// log assigns sequence numbers in place, so it goes before publishers.
// The first error is returned after all sinks have been tried.
func Tee(sinks ...Appender) Appender {
	return tee(sinks)
}

type tee []Appender

func (t tee) AppendEvent(ctx context.Context, event *schema.Event) error {
	var first error
	for _, sink := range t {
		if sink == nil {
			continue
		}
		if err := sink.AppendEvent(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
