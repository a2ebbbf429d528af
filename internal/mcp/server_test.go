package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return NewServer(s), s
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func seedSession(t *testing.T, s *store.SQLiteStore, owner string) *models.Session {
	t.Helper()
	sess := &models.Session{OwnerID: owner}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

// completeSeededSession drives a session to completed, producing a queue item.
func completeSeededSession(t *testing.T, s *store.SQLiteStore, owner string) (*models.Session, string) {
	t.Helper()
	sess := seedSession(t, s, owner)
	res, err := s.ApplyTurn(context.Background(), store.ApplyTurnParams{
		SessionID:        sess.ID,
		OwnerID:          owner,
		MessageID:        "msg-final",
		UserMessage:      "done",
		AssistantMessage: "congrats",
		Assessment:       &models.Assessment{IsComplete: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.QueueItemID)
	return sess, res.QueueItemID
}

func TestMCPServer_RegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())
}

func TestHandleListSessions_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleListSessions(context.Background(), callToolReq("intake_list_sessions", nil))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.Equal(t, "[]", resultText(t, result))
}

func TestHandleListSessions_Filtered(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	seedSession(t, s, "founder-1")
	seedSession(t, s, "founder-2")

	result, err := srv.handleListSessions(ctx, callToolReq("intake_list_sessions", map[string]any{"owner": "founder-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "founder-1", out[0]["owner_id"])
	assert.Equal(t, "Welcome & Introduction", out[0]["stage_name"])
}

func TestHandleGetSession(t *testing.T) {
	srv, s := newTestServer(t)
	sess := seedSession(t, s, "founder-1")

	result, err := srv.handleGetSession(context.Background(), callToolReq("intake_get_session", map[string]any{"session_id": sess.ID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var got models.Session
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
	assert.Equal(t, sess.ID, got.ID)
}

func TestHandleGetSession_MissingArg(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetSession(context.Background(), callToolReq("intake_get_session", nil))
	require.NoError(t, err, "handler wraps errors in the result")
	assert.True(t, result.IsError)
}

func TestHandleGetSession_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetSession(context.Background(), callToolReq("intake_get_session", map[string]any{"session_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleGetBrief(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	sess := seedSession(t, s, "founder-1")

	_, err := s.ApplyTurn(ctx, store.ApplyTurnParams{
		SessionID:   sess.ID,
		OwnerID:     "founder-1",
		MessageID:   "msg-1",
		UserMessage: "building an app",
		Assessment:  &models.Assessment{ExtractedData: models.Brief{"solution_type": "software"}},
	})
	require.NoError(t, err)

	result, err := srv.handleGetBrief(ctx, callToolReq("intake_get_brief", map[string]any{"session_id": sess.ID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"solution_type":"software"}`, resultText(t, result))
}

func TestHandleQueueStats(t *testing.T) {
	srv, s := newTestServer(t)
	completeSeededSession(t, s, "founder-1")

	result, err := srv.handleQueueStats(context.Background(), callToolReq("intake_queue_stats", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var stats models.QueueStats
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &stats))
	assert.Equal(t, 1, stats.Pending)
}

func TestHandleRequeueItem(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	_, itemID := completeSeededSession(t, s, "founder-1")

	// Drive the item to dead_letter first
	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	outcome, err := s.FailItem(ctx, itemID, "fatal", 1)
	require.NoError(t, err)
	require.Equal(t, store.FailOutcomeDeadLetter, outcome)

	result, err := srv.handleRequeueItem(ctx, callToolReq("intake_requeue_item", map[string]any{"item_id": itemID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "requeued")

	got, err := s.GetQueueItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusPending, got.Status)
}

func TestHandleRequeueItem_NotDeadLetter(t *testing.T) {
	srv, s := newTestServer(t)
	_, itemID := completeSeededSession(t, s, "founder-1")

	result, err := srv.handleRequeueItem(context.Background(), callToolReq("intake_requeue_item", map[string]any{"item_id": itemID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
