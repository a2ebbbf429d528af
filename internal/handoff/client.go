// Package handoff turns a claimed completion queue item into one outbound
// call to the external analysis-workflow starter. It performs no retries of
// its own: any failure is reported back to the queue, and re-claiming is the
// queue's job.
package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/startupai/intake/internal/models"
)

// WorkflowRequest is the payload for the workflow starter. It carries the
// normalized session data plus the identifiers the downstream job needs to
// report results back.
type WorkflowRequest struct {
	SessionID string       `json:"session_id"`
	OwnerID   string       `json:"owner_id"`
	ProjectID string       `json:"project_id"`
	Brief     models.Brief `json:"brief"`
	History   []models.Turn `json:"history"`
}

// WorkflowResponse is the starter's reply.
type WorkflowResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Client starts downstream analysis workflows.
type Client interface {
	// EnsureProject returns the downstream project for a session, creating it
	// if needed. Keyed by session id so retries after a mid-handoff crash
	// reuse the existing project instead of minting duplicates.
	EnsureProject(ctx context.Context, sessionID, ownerID string, brief models.Brief) (string, error)

	// StartWorkflow launches the long-running analysis job and returns its id.
	StartWorkflow(ctx context.Context, req WorkflowRequest) (string, error)
}

// HTTPClient implements Client against the workflow service's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a workflow client for the given base URL. The token
// is sent as a bearer credential when non-empty.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// EnsureProject PUTs the project keyed by session id. The workflow service
// treats the call as create-or-return, so the same session always maps to
// the same project.
func (c *HTTPClient) EnsureProject(ctx context.Context, sessionID, ownerID string, brief models.Brief) (string, error) {
	body := map[string]any{
		"session_id": sessionID,
		"owner_id":   ownerID,
		"brief":      brief,
	}
	var out struct {
		ProjectID string `json:"project_id"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/projects/by-session/"+sessionID, body, &out); err != nil {
		return "", err
	}
	if out.ProjectID == "" {
		return "", fmt.Errorf("ensure project: empty project_id in response")
	}
	return out.ProjectID, nil
}

func (c *HTTPClient) StartWorkflow(ctx context.Context, req WorkflowRequest) (string, error) {
	var out WorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows/analyze", req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("start workflow: empty job_id in response")
	}
	return out.JobID, nil
}
