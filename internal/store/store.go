package store

import (
	"context"
	"errors"
	"time"

	"github.com/startupai/intake/internal/models"
)

// Sentinel errors for structural failures. Everything else the turn protocol
// can produce (duplicate, version_conflict) is returned as data, not error,
// so callers can branch deterministically.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrSessionEnded = errors.New("session already completed or expired")
)

// ApplyOutcome is the first-class result of applying a turn.
type ApplyOutcome string

const (
	OutcomeCommitted       ApplyOutcome = "committed"
	OutcomeDuplicate       ApplyOutcome = "duplicate"
	OutcomeVersionConflict ApplyOutcome = "version_conflict"
)

// ApplyTurnParams carries one exchange into the turn protocol.
// ExpectedVersion, when non-nil, enables optimistic-concurrency detection.
type ApplyTurnParams struct {
	SessionID        string
	OwnerID          string
	MessageID        string
	UserMessage      string
	AssistantMessage string
	Assessment       *models.Assessment
	ExpectedVersion  *int
}

// ApplyTurnResult reports the outcome plus the session snapshot: the new
// state on committed, the current unmodified state on duplicate and
// version_conflict.
type ApplyTurnResult struct {
	Outcome       ApplyOutcome
	Session       *models.Session
	StageAdvanced bool
	Completed     bool
	QueueItemID   string // set when this turn completed the session
}

// FailOutcome is the result of failing a claimed queue item.
type FailOutcome string

const (
	FailOutcomeRequeued   FailOutcome = "requeued"
	FailOutcomeDeadLetter FailOutcome = "dead_letter"
)

// SessionListFilter specifies filters for listing sessions.
type SessionListFilter struct {
	OwnerID string
	Status  models.SessionStatus
	Limit   int
}

// QueueListFilter specifies filters for listing queue items.
type QueueListFilter struct {
	Status models.QueueItemStatus
	Limit  int
}

// Store defines the persistence interface for intake.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetOwnedSession(ctx context.Context, id, ownerID string) (*models.Session, error)
	ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error)
	ExpireSession(ctx context.Context, id, ownerID string) error

	// Turn protocol
	ApplyTurn(ctx context.Context, params ApplyTurnParams) (*ApplyTurnResult, error)

	// Completion queue
	EnqueueCompletion(ctx context.Context, sessionID string) (string, error)
	ClaimOne(ctx context.Context) (*models.QueueItem, error)
	CompleteItem(ctx context.Context, id, workflowJobID, projectID string) error
	FailItem(ctx context.Context, id, errorMessage string, maxAttempts int) (FailOutcome, error)
	ReapStale(ctx context.Context, olderThan time.Duration) (int64, error)
	RequeueItem(ctx context.Context, id string) error
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	ListQueueItems(ctx context.Context, filter QueueListFilter) ([]*models.QueueItem, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
