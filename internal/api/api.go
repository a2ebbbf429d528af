// Package api exposes the intake service over REST. Turn outcomes that are
// not errors (duplicate, version_conflict) come back as 200 responses with a
// status field so clients branch on data, matching the store contract.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/startupai/intake/internal/assess"
	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/queue"
	"github.com/startupai/intake/internal/session"
	"github.com/startupai/intake/internal/store"
)

// ownerHeader carries the caller identity. Authentication happens upstream
// (gateway); this service only enforces the ownership check.
const ownerHeader = "X-Owner-ID"

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	assessor assess.Assessor
	worker   *queue.Worker
	log      *slog.Logger
}

// NewServer creates a new API server. The assessor may be nil, in which case
// turns must carry a caller-supplied assessment. The worker may be nil, which
// disables the scheduler trigger endpoint.
func NewServer(s store.Store, assessor assess.Assessor, worker *queue.Worker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: s, assessor: assessor, worker: worker, log: log}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sessions", s.createSession)
	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/turns", s.applyTurn)
	mux.HandleFunc("POST /api/v1/sessions/{id}/expire", s.expireSession)

	mux.HandleFunc("GET /api/v1/queue", s.listQueueItems)
	mux.HandleFunc("GET /api/v1/queue/stats", s.queueStats)
	mux.HandleFunc("GET /api/v1/queue/{id}", s.getQueueItem)
	mux.HandleFunc("POST /api/v1/queue/{id}/requeue", s.requeueItem)
	mux.HandleFunc("POST /api/v1/queue/run", s.runQueueCycle)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ownerHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the store's sentinel errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrSessionEnded):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func ownerID(r *http.Request) string {
	return r.Header.Get(ownerHeader)
}

// --- Sessions ---

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing "+ownerHeader+" header")
		return
	}

	sess := &models.Session{OwnerID: owner}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("session created", "session", sess.ID, "owner", owner)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionListFilter{
		OwnerID: ownerID(r),
		Status:  models.SessionStatus(r.URL.Query().Get("status")),
	}
	sessions, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetOwnedSession(r.Context(), r.PathValue("id"), ownerID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) expireSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.ExpireSession(r.Context(), id, ownerID(r)); err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("session expired", "session", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "expired"})
}

// --- Turns ---

type turnRequest struct {
	MessageID        string             `json:"message_id"`
	UserMessage      string             `json:"user_message"`
	AssistantMessage string             `json:"assistant_message"`
	Assessment       *models.Assessment `json:"assessment,omitempty"`
	ExpectedVersion  *int               `json:"expected_version,omitempty"`
}

type turnResponse struct {
	Status          store.ApplyOutcome `json:"status"`
	Version         int                `json:"version"`
	CurrentStage    int                `json:"current_stage"`
	StageName       string             `json:"stage_name"`
	StageProgress   int                `json:"stage_progress"`
	OverallProgress int                `json:"overall_progress"`
	StageAdvanced   bool               `json:"stage_advanced"`
	Completed       bool               `json:"completed"`
	QueueItemID     string             `json:"queue_item_id,omitempty"`
}

func (s *Server) applyTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.MessageID == "" || req.UserMessage == "" {
		writeError(w, http.StatusBadRequest, "message_id and user_message are required")
		return
	}

	id := r.PathValue("id")
	owner := ownerID(r)

	// When the caller does not supply a verdict, run the configured assessor
	// against the committed session state.
	if req.Assessment == nil && s.assessor != nil {
		sess, err := s.store.GetOwnedSession(r.Context(), id, owner)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		a, err := s.assessor.Assess(r.Context(), sess, req.UserMessage)
		if err != nil {
			s.log.Error("assess turn", "session", id, "error", err)
			writeError(w, http.StatusBadGateway, "assessment failed: "+err.Error())
			return
		}
		req.Assessment = a
	}

	result, err := s.store.ApplyTurn(r.Context(), store.ApplyTurnParams{
		SessionID:        id,
		OwnerID:          owner,
		MessageID:        req.MessageID,
		UserMessage:      req.UserMessage,
		AssistantMessage: req.AssistantMessage,
		Assessment:       req.Assessment,
		ExpectedVersion:  req.ExpectedVersion,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.log.Info("turn applied", "session", id, "outcome", result.Outcome,
		"version", result.Session.Version, "stage", result.Session.CurrentStage)

	writeJSON(w, http.StatusOK, turnResponse{
		Status:          result.Outcome,
		Version:         result.Session.Version,
		CurrentStage:    result.Session.CurrentStage,
		StageName:       session.StageName(result.Session.CurrentStage),
		StageProgress:   result.Session.StageProgress,
		OverallProgress: result.Session.OverallProgress,
		StageAdvanced:   result.StageAdvanced,
		Completed:       result.Completed,
		QueueItemID:     result.QueueItemID,
	})
}

// --- Queue ---

func (s *Server) listQueueItems(w http.ResponseWriter, r *http.Request) {
	filter := store.QueueListFilter{
		Status: models.QueueItemStatus(r.URL.Query().Get("status")),
	}
	items, err := s.store.ListQueueItems(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetQueueItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) requeueItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.RequeueItem(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("queue item requeued", "item", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.QueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// runQueueCycle is the external scheduler hook: one claim-and-process cycle.
func (s *Server) runQueueCycle(w http.ResponseWriter, r *http.Request) {
	if s.worker == nil {
		writeError(w, http.StatusServiceUnavailable, "queue worker not configured")
		return
	}
	processed := s.worker.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}
