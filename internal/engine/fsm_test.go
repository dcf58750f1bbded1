package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*schema.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *schema.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*schema.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*schema.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockAppender) Types() []string {
	var out []string
	for _, e := range m.Events() {
		out = append(out, e.Type)
	}
	return out
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *schema.Event) error {
	return errors.New("sink unavailable")
}

// --- RunFSM ---

func TestRunFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "wf", "run-1", schema.RunStatusPending, schema.RunStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, "wf", "run-1", schema.RunStatusRunning, schema.RunStatusCompleted,
		map[string]any{"results": map[string]any{}}))

	events := app.Events()
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, events[1].Type)
	assert.Equal(t, "wf", events[1].Workflow)
	assert.Equal(t, "run-1", events[1].RunID)
	assert.Contains(t, events[1].Payload, "results")
}

func TestRunFSM_RejectedBeforeStart(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)

	require.NoError(t, fsm.Transition(context.Background(), "wf", "run-1", schema.RunStatusPending, schema.RunStatusFailed, nil))
	assert.Equal(t, []string{schema.EventRunFailed}, app.Types())
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)

	err := fsm.Transition(context.Background(), "wf", "run-1", schema.RunStatusPending, schema.RunStatusCompleted, nil)
	require.Error(t, err)

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeInvalidTransition, fe.Code)
	assert.Contains(t, fe.Message, "pending")
	assert.Empty(t, app.Events())
}

func TestRunFSM_TerminalStatesAreFinal(t *testing.T) {
	fsm := NewRunFSM(nil)
	for _, from := range []schema.RunStatus{schema.RunStatusCompleted, schema.RunStatusFailed} {
		for _, to := range []schema.RunStatus{schema.RunStatusPending, schema.RunStatusRunning, schema.RunStatusCompleted, schema.RunStatusFailed} {
			assert.Error(t, fsm.Transition(context.Background(), "wf", "r", from, to, nil), "%s -> %s", from, to)
		}
	}
}

func TestRunFSM_AppenderError(t *testing.T) {
	fsm := NewRunFSM(&failAppender{})
	err := fsm.Transition(context.Background(), "wf", "r", schema.RunStatusPending, schema.RunStatusRunning, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink unavailable")
}

func TestRunFSM_NilAppender(t *testing.T) {
	fsm := NewRunFSM(nil)
	assert.NoError(t, fsm.Transition(context.Background(), "wf", "r", schema.RunStatusPending, schema.RunStatusRunning, nil))
}

// --- StepFSM ---

func TestStepFSM_Lifecycle(t *testing.T) {
	app := &mockAppender{}
	fsm := NewStepFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "wf", "r", "a", schema.StepStatusPending, schema.StepStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, "wf", "r", "a", schema.StepStatusRunning, schema.StepStatusFailed,
		map[string]any{"error": "boom"}))

	events := app.Events()
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventStepStarted, events[0].Type)
	assert.Equal(t, schema.EventStepFailed, events[1].Type)
	assert.Equal(t, "a", events[1].StepID)
	assert.Equal(t, "boom", events[1].Payload["error"])
}

func TestStepFSM_InvalidTransition(t *testing.T) {
	fsm := NewStepFSM(&mockAppender{})
	err := fsm.Transition(context.Background(), "wf", "r", "a", schema.StepStatusPending, schema.StepStatusCompleted, nil)
	require.Error(t, err)

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeInvalidTransition, fe.Code)
	assert.Equal(t, "a", fe.StepID)
}

func TestStepFSM_AppenderError(t *testing.T) {
	fsm := NewStepFSM(&failAppender{})
	err := fsm.Transition(context.Background(), "wf", "r", "a", schema.StepStatusPending, schema.StepStatusRunning, nil)

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, fe.Code)
	assert.Equal(t, "a", fe.StepID)
	assert.Contains(t, fe.Message, "sink unavailable")
}
