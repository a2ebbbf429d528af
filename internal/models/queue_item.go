package models

import "time"

// QueueItemStatus represents the state of a completion queue item.
type QueueItemStatus string

const (
	QueueItemStatusPending    QueueItemStatus = "pending"
	QueueItemStatusProcessing QueueItemStatus = "processing"
	QueueItemStatusCompleted  QueueItemStatus = "completed"
	QueueItemStatusFailed     QueueItemStatus = "failed"
	QueueItemStatusDeadLetter QueueItemStatus = "dead_letter"
)

// QueueItem records that a session finished and must be handed off to the
// downstream analysis workflow. Exactly one item exists per completed session.
type QueueItem struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	OwnerID         string          `json:"owner_id"`
	HistorySnapshot []Turn          `json:"history_snapshot"`
	BriefSnapshot   Brief           `json:"brief_snapshot"`
	Status          QueueItemStatus `json:"status"`
	Attempts        int             `json:"attempts"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	WorkflowJobID   string          `json:"workflow_job_id,omitempty"`
	ProjectID       string          `json:"project_id,omitempty"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// QueueStats summarizes queue depth by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	DeadLetter int `json:"dead_letter"`
}
