package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/pkg/schema"
	"github.com/rendis/stepflow/pkg/workflow"
)

func exampleFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("..", "..", "examples", "*", "workflow.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

func loadExample(t *testing.T, name string) *workflow.Workflow {
	t.Helper()
	reg, err := actions.NewBuiltinRegistry(actions.Config{})
	require.NoError(t, err)
	w, err := workflow.LoadFile(filepath.Join("..", "..", "examples", name, "workflow.yaml"), reg)
	require.NoError(t, err)
	return w
}

func TestExamples_Validate(t *testing.T) {
	out, err := execute(t, append([]string{"validate"}, exampleFiles(t)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `workflow "order-approval" is valid (3 steps)`)
	assert.Contains(t, out, `workflow "service-health" is valid (3 steps)`)
	assert.NotContains(t, out, "warning:")
}

func TestExamples_OrderApproval(t *testing.T) {
	w := loadExample(t, "order-approval")
	ctx := context.Background()

	res, err := w.Execute(ctx, map[string]any{"order_id": "A-1", "amount": 5000})
	require.NoError(t, err)
	assert.Equal(t, []string{"classify", "review"}, res.Completed)
	assert.Equal(t, map[string]any{"queue": "manual-review", "order_id": "A-1"}, res.Results["review"])

	res, err = w.Execute(ctx, map[string]any{"order_id": "A-2", "amount": 12})
	require.NoError(t, err)
	assert.Equal(t, []string{"classify", "approve"}, res.Completed)
	approved, ok := res.Results["approve"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sha256", approved["algorithm"])
	assert.Len(t, approved["hash"], 64)

	_, err = w.Execute(ctx, map[string]any{"order_id": "A-3", "amount": -1})
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeTriggerSchema, fe.Code)
}

func TestExamples_ServiceHealth(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"service": "billing"})
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	w := loadExample(t, "service-health")
	ctx := context.Background()

	res, err := w.Execute(ctx, map[string]any{"url": up.URL})
	require.NoError(t, err)
	assert.Equal(t, []string{"check", "healthy"}, res.Completed)
	assert.Equal(t, map[string]any{"status": "up", "service": "billing"}, res.Results["healthy"])

	_, err = w.Execute(ctx, map[string]any{"url": down.URL})
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeStepFailed, fe.Code)
	assert.Equal(t, "unhealthy", fe.StepID)
	assert.Contains(t, fe.Message, "service is down")
}
