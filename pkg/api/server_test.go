package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/foreman/pkg/blocker"
	"github.com/crewline/foreman/pkg/lead"
	"github.com/crewline/foreman/pkg/orchestrator"
	"github.com/crewline/foreman/pkg/state"
	"github.com/crewline/foreman/pkg/subagent"
	"github.com/crewline/foreman/pkg/ticket"
	"github.com/crewline/foreman/pkg/types"
)

func testServer(t *testing.T) (*Server, *blocker.Registry, *state.ExecutionState) {
	t.Helper()

	services := []types.ServiceSpec{
		{Name: "auth", Tasks: []types.TaskSpec{{ID: "t1", Title: "Login"}}},
	}
	es := state.New(t.TempDir(), "proj-1", services)

	orch := orchestrator.New(orchestrator.Config{
		ProjectID:          "proj-1",
		MaxConcurrentLeads: 1,
		State:              es,
	})
	l := lead.New(lead.Config{
		ServiceName: "auth",
		Tasks:       services[0].Tasks,
		Dispatcher:  subagent.NewDispatcher(nil, 1),
	})
	require.NoError(t, orch.Add(l))

	blockers := blocker.NewRegistry(nil, "", nil)
	return NewServer(orch, blockers, es, ticket.NewWebhookHandler("")), blockers, es
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := testServer(t)
	w := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := testServer(t)
	w := do(s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var ps orchestrator.ProjectStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ps))
	assert.Equal(t, "proj-1", ps.ProjectID)
	assert.Equal(t, 1, ps.TotalTasks)
	require.Len(t, ps.Services, 1)
	assert.Equal(t, "auth", ps.Services[0].Name)
}

func TestStatusRejectsPost(t *testing.T) {
	s, _, _ := testServer(t)
	w := do(s, http.MethodPost, "/v1/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestPauseAndResumeAll(t *testing.T) {
	s, _, _ := testServer(t)

	w := do(s, http.MethodPost, "/v1/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var ps orchestrator.ProjectStatus
	w = do(s, http.MethodGet, "/v1/status", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ps))
	assert.True(t, ps.Services[0].Paused)

	w = do(s, http.MethodPost, "/v1/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/v1/status", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ps))
	assert.False(t, ps.Services[0].Paused)
}

func TestPauseOneService(t *testing.T) {
	s, _, _ := testServer(t)

	w := do(s, http.MethodPost, "/v1/services/auth/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodPost, "/v1/services/unknown/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPost, "/v1/services/auth/explode", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodGet, "/v1/services/auth/pause", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListAndResolveBlockers(t *testing.T) {
	s, blockers, es := testServer(t)

	b, err := blockers.Create(context.Background(), "proj-1", "auth", "Which database?", es)
	require.NoError(t, err)

	w := do(s, http.MethodGet, "/v1/blockers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []blockerView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, b.BlockerID, list[0].BlockerID)
	assert.Equal(t, "Which database?", list[0].Question)

	w = do(s, http.MethodPost, "/v1/blockers/"+b.BlockerID+"/resolve", []byte(`{"answer":"Use Postgres"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Use Postgres", b.Answer())

	rec, ok := es.Blocker(b.BlockerID)
	require.True(t, ok)
	assert.True(t, rec.Resolved)
}

func TestResolveBlockerValidation(t *testing.T) {
	s, _, _ := testServer(t)

	w := do(s, http.MethodPost, "/v1/blockers/nope/resolve", []byte(`{"answer":"x"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPost, "/v1/blockers/b1/resolve", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPost, "/v1/blockers/b1/resolve", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookEndpointMounted(t *testing.T) {
	s, _, _ := testServer(t)
	w := do(s, http.MethodPost, "/webhooks/linear", []byte(`{"action":"create","type":"Comment","data":{}}`))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpointMounted(t *testing.T) {
	s, _, _ := testServer(t)
	w := do(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "foreman_")
}
