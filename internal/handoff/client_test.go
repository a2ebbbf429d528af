package handoff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupai/intake/internal/models"
)

func TestEnsureProject(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"project_id":"proj-7"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret-token", 5*time.Second)
	projectID, err := c.EnsureProject(context.Background(), "sess-1", "founder-1", models.Brief{"solution_type": "software"})
	require.NoError(t, err)

	assert.Equal(t, "proj-7", projectID)
	assert.Equal(t, "/api/v1/projects/by-session/sess-1", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "sess-1", gotBody["session_id"])
	assert.Equal(t, "founder-1", gotBody["owner_id"])
}

func TestEnsureProject_EmptyProjectID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.EnsureProject(context.Background(), "sess-1", "founder-1", nil)
	assert.ErrorContains(t, err, "empty project_id")
}

func TestStartWorkflow(t *testing.T) {
	var gotReq WorkflowRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/workflows/analyze", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"job_id":"job-42","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	jobID, err := c.StartWorkflow(context.Background(), WorkflowRequest{
		SessionID: "sess-1",
		OwnerID:   "founder-1",
		ProjectID: "proj-7",
		Brief:     models.Brief{"customer_type": "b2b"},
		History:   []models.Turn{{Role: models.TurnRoleUser, Content: "hi", Stage: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-42", jobID)
	assert.Equal(t, "sess-1", gotReq.SessionID)
	assert.Equal(t, "proj-7", gotReq.ProjectID)
	require.Len(t, gotReq.History, 1)
	assert.Equal(t, "hi", gotReq.History[0].Content)
}

func TestStartWorkflow_EmptyJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.StartWorkflow(context.Background(), WorkflowRequest{SessionID: "sess-1"})
	assert.ErrorContains(t, err, "empty job_id")
}

func TestDo_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.EnsureProject(context.Background(), "sess-1", "founder-1", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "status 502")
	assert.ErrorContains(t, err, "upstream exploded")
}

func TestDo_TransportFailure(t *testing.T) {
	// Server closed before the call: connection refused
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.EnsureProject(context.Background(), "sess-1", "founder-1", nil)
	assert.Error(t, err)
}

func TestNoAuthHeaderWithoutToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"project_id":"proj-1"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.EnsureProject(context.Background(), "sess-1", "founder-1", nil)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}
