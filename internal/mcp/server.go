// Package mcp exposes the intake data layer as MCP tools for agent tooling.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/session"
	"github.com/startupai/intake/internal/store"
)

// Server wraps the intake data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("intake", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.getBriefTool())
	srv.AddTool(s.queueStatsTool())
	srv.AddTool(s.requeueItemTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// intake_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("intake_list_sessions",
		mcp.WithDescription("List onboarding sessions. Returns a JSON array with id, owner, status, stage, progress, and version."),
		mcp.WithString("owner", mcp.Description("Filter by owner id")),
		mcp.WithString("status", mcp.Description("Filter by status: active, completed, expired")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionListFilter{
		OwnerID: request.GetString("owner", ""),
		Status:  models.SessionStatus(request.GetString("status", "")),
	}
	sessions, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID              string `json:"id"`
		OwnerID         string `json:"owner_id"`
		Status          string `json:"status"`
		CurrentStage    int    `json:"current_stage"`
		StageName       string `json:"stage_name"`
		OverallProgress int    `json:"overall_progress"`
		Version         int    `json:"version"`
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionOut{
			ID:              sess.ID,
			OwnerID:         sess.OwnerID,
			Status:          string(sess.Status),
			CurrentStage:    sess.CurrentStage,
			StageName:       session.StageName(sess.CurrentStage),
			OverallProgress: sess.OverallProgress,
			Version:         sess.Version,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// intake_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("intake_get_session",
		mcp.WithDescription("Get one onboarding session including history, brief, stage state, and completion summary."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleGetSession
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get session: %v", err)), nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// intake_get_brief
func (s *Server) getBriefTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("intake_get_brief",
		mcp.WithDescription("Get the accumulated entrepreneur brief for a session as a JSON object."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleGetBrief
}

func (s *Server) handleGetBrief(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get session: %v", err)), nil
	}
	data, err := json.Marshal(sess.Brief)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal brief: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// intake_queue_stats
func (s *Server) queueStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("intake_queue_stats",
		mcp.WithDescription("Get completion queue depth by status (pending, processing, completed, dead_letter)."),
	)
	return tool, s.handleQueueStats
}

func (s *Server) handleQueueStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.QueueStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get queue stats: %v", err)), nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// intake_requeue_item
func (s *Server) requeueItemTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("intake_requeue_item",
		mcp.WithDescription("Reset a dead-lettered completion queue item for a fresh round of handoff attempts."),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("Queue item id")),
	)
	return tool, s.handleRequeueItem
}

func (s *Server) handleRequeueItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.RequeueItem(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to requeue item: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"status":"requeued","item_id":%q}`, id)), nil
}
