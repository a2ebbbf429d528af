package models

import "time"

// SessionStatus represents the lifecycle state of an onboarding session.
// completed and expired are terminal; no transition leaves them.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired
}

// Brief is the accumulated structured data built from extracted-data
// fragments across turns. Values are scalars, nested maps, or arrays.
type Brief map[string]any

// Session is one onboarding conversation. The row is the single source of
// truth for history, the brief, stage progress, and the version counter.
type Session struct {
	ID              string             `json:"id"`
	OwnerID         string             `json:"owner_id"`
	Status          SessionStatus      `json:"status"`
	CurrentStage    int                `json:"current_stage"`
	StageProgress   int                `json:"stage_progress"`
	OverallProgress int                `json:"overall_progress"`
	History         []Turn             `json:"history"`
	Brief           Brief              `json:"brief"`
	AppliedMessages []string           `json:"applied_messages"`
	Version         int                `json:"version"`
	Summary         *CompletionSummary `json:"summary,omitempty"`
	WorkflowJobID   string             `json:"workflow_job_id,omitempty"`
	ProjectID       string             `json:"project_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// HasApplied reports whether a message id is already in the idempotency ledger.
func (s *Session) HasApplied(messageID string) bool {
	for _, id := range s.AppliedMessages {
		if id == messageID {
			return true
		}
	}
	return false
}

// TurnRole identifies which party produced a history entry.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is one history entry, tagged with the stage active when it was applied.
type Turn struct {
	MessageID string    `json:"message_id"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Stage     int       `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
}

// Assessment is the classifier verdict for one exchange. It drives stage
// advancement, brief accumulation, and completion detection.
type Assessment struct {
	Coverage      float64  `json:"coverage"`
	ShouldAdvance bool     `json:"should_advance"`
	IsComplete    bool     `json:"is_complete"`
	ExtractedData Brief    `json:"extracted_data,omitempty"`
	Progress      int      `json:"progress,omitempty"` // overall estimate, 0-100
	Insights      []string `json:"insights,omitempty"`
	NextSteps     []string `json:"next_steps,omitempty"`
	Readiness     float64  `json:"readiness,omitempty"` // 0.0-1.0
}

// CompletionSummary is populated once a session reaches completed status.
type CompletionSummary struct {
	Insights    []string  `json:"insights"`
	NextSteps   []string  `json:"next_steps"`
	Readiness   float64   `json:"readiness"`
	GeneratedAt time.Time `json:"generated_at"`
}
