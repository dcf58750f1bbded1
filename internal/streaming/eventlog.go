package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultRunHistory is the number of runs an EventLog keeps by default.
const DefaultRunHistory = 256

// RunSummary describes one run retained by an EventLog.
type RunSummary struct {
	Workflow  string           `json:"workflow"`
	RunID     string           `json:"run_id"`
	Status    schema.RunStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Error     string           `json:"error,omitempty"`
	Events    int              `json:"events"`
}

// StepState is a step's status reconstructed from its events.
type StepState struct {
	StepID      string            `json:"step_id"`
	Status      schema.StepStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	Result      any               `json:"result,omitempty"`
	Error       any               `json:"error,omitempty"`
}

type runLog struct {
	summary RunSummary
	events  []schema.Event
}

// EventLog is a bounded in-memory history of recent runs. Each run's events
// carry a contiguous sequence starting at 1. When more than capacity runs
// are held, the oldest run is evicted whole.
type EventLog struct {
	mu       sync.RWMutex
	capacity int
	runs     map[string]*runLog
	order    []string
	now      func() time.Time
}

// NewEventLog creates an EventLog keeping at most capacity runs.
// A non-positive capacity selects DefaultRunHistory.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultRunHistory
	}
	return &EventLog{
		capacity: capacity,
		runs:     make(map[string]*runLog),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AppendEvent records event, assigning its per-run sequence and a
// timestamp when unset. The event is updated in place.
func (l *EventLog) AppendEvent(ctx context.Context, event *schema.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil || event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event requires a run id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	rl, ok := l.runs[event.RunID]
	if !ok {
		rl = &runLog{summary: RunSummary{
			Workflow:  event.Workflow,
			RunID:     event.RunID,
			Status:    schema.RunStatusPending,
			StartedAt: event.Timestamp,
		}}
		l.runs[event.RunID] = rl
		l.order = append(l.order, event.RunID)
		l.evict()
	}

	event.Sequence = int64(len(rl.events) + 1)
	rl.events = append(rl.events, *event)
	rl.summary.Events = len(rl.events)

	switch event.Type {
	case schema.EventRunStarted:
		rl.summary.Status = schema.RunStatusRunning
	case schema.EventRunCompleted, schema.EventRunFailed:
		rl.summary.Status = schema.RunStatusCompleted
		if event.Type == schema.EventRunFailed {
			rl.summary.Status = schema.RunStatusFailed
			if msg, ok := event.Payload["error"].(string); ok {
				rl.summary.Error = msg
			}
		}
		ts := event.Timestamp
		rl.summary.EndedAt = &ts
	}
	return nil
}

func (l *EventLog) evict() {
	for len(l.order) > l.capacity {
		delete(l.runs, l.order[0])
		l.order = l.order[1:]
	}
}

// Events returns a run's events with sequence > since, in order.
func (l *EventLog) Events(runID string, since int64) ([]schema.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rl, ok := l.runs[runID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", runID)
	}
	if since < 0 {
		since = 0
	}
	if since >= int64(len(rl.events)) {
		return []schema.Event{}, nil
	}
	out := make([]schema.Event, len(rl.events)-int(since))
	copy(out, rl.events[since:])
	return out, nil
}

// Run returns the summary of one retained run.
func (l *EventLog) Run(runID string) (RunSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rl, ok := l.runs[runID]
	if !ok {
		return RunSummary{}, false
	}
	return rl.summary, true
}

// Runs returns retained run summaries, newest first, optionally limited to
// one workflow. limit <= 0 returns all of them.
func (l *EventLog) Runs(workflow string, limit int) []RunSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []RunSummary
	for i := len(l.order) - 1; i >= 0; i-- {
		rl := l.runs[l.order[i]]
		if workflow != "" && rl.summary.Workflow != workflow {
			continue
		}
		out = append(out, rl.summary)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Replay reconstructs the step states of a run from its events.
func (l *EventLog) Replay(runID string) (map[string]*StepState, error) {
	events, err := l.Events(runID, 0)
	if err != nil {
		return nil, err
	}

	states := make(map[string]*StepState)
	for _, e := range events {
		if e.StepID == "" || e.Type == schema.EventTransitionTaken {
			continue
		}
		ss, ok := states[e.StepID]
		if !ok {
			ss = &StepState{StepID: e.StepID, Status: schema.StepStatusPending}
			states[e.StepID] = ss
		}

		switch e.Type {
		case schema.EventStepStarted:
			ss.Status = schema.StepStatusRunning
			ts := e.Timestamp
			ss.StartedAt = &ts
		case schema.EventStepCompleted:
			ss.Status = schema.StepStatusCompleted
			ts := e.Timestamp
			ss.CompletedAt = &ts
			ss.Result = e.Payload["result"]
			if ss.StartedAt != nil {
				ss.DurationMs = ts.Sub(*ss.StartedAt).Milliseconds()
			}
		case schema.EventStepFailed:
			ss.Status = schema.StepStatusFailed
			ss.Error = e.Payload["error"]
		}
	}
	return states, nil
}
