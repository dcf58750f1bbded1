package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/workflow"
)

func opsServer(t *testing.T) (*httptest.Server, *services) {
	t.Helper()
	cfg = defaultConfig()
	logger = logging.Discard()

	reg, err := builtinActions()
	require.NoError(t, err)
	svc, err := buildServices([]string{writeDoc(t, "route.yaml", routeYAML)}, reg)
	require.NoError(t, err)

	srv := httptest.NewServer(newOpsRouter(svc.collector, svc.catalog))
	t.Cleanup(srv.Close)
	return srv, svc
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestOpsRouter_Health(t *testing.T) {
	srv, _ := opsServer(t)
	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestOpsRouter_Workflows(t *testing.T) {
	srv, _ := opsServer(t)

	resp, body := get(t, srv.URL+"/workflows")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []workflow.Info
	require.NoError(t, json.Unmarshal(body, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "route", infos[0].Name)

	resp, body = get(t, srv.URL+"/workflows/route")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info workflow.Info
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Len(t, info.Steps, 3)

	resp, _ = get(t, srv.URL+"/workflows/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOpsRouter_Metrics(t *testing.T) {
	srv, svc := opsServer(t)

	_, err := svc.catalog.Execute(context.Background(), "route", map[string]any{"amount": 500})
	require.NoError(t, err)

	resp, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stepflow_runs_total{status="completed",workflow="route"} 1`)
}
