package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/startupai/intake/internal/models"
)

const queueColumns = `id, session_id, owner_id, history_snapshot, brief_snapshot, status, attempts, error_message, workflow_job_id, project_id, claimed_at, completed_at, created_at`

// insertQueueItem creates the pending handoff item for a completed session
// inside the given transaction.
func insertQueueItem(ctx context.Context, tx *sql.Tx, sess *models.Session) (string, error) {
	id := newULID()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO completion_queue (id, session_id, owner_id, history_snapshot, brief_snapshot, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sess.ID, sess.OwnerID,
		mustJSON(sess.History, "[]"), mustJSON(sess.Brief, "{}"),
		string(models.QueueItemStatusPending), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue completion: %w", err)
	}
	return id, nil
}

// EnqueueCompletion creates a handoff item for an already-completed session.
// ApplyTurn enqueues automatically on completion; this path exists for
// operational recovery when an item was manually deleted. The UNIQUE
// constraint on session_id rejects a second item for the same session.
func (s *SQLiteStore) EnqueueCompletion(ctx context.Context, sessionID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.getSession(ctx, tx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.Status != models.SessionStatusCompleted {
		return "", fmt.Errorf("session %s is not completed", sessionID)
	}

	id, err := insertQueueItem(ctx, tx, sess)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// scanQueueItem scans one queue item row from any row scanner.
func scanQueueItem(row interface{ Scan(...any) error }) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	var status, history, brief string
	var claimedAt, completedAt sql.NullTime

	err := row.Scan(&item.ID, &item.SessionID, &item.OwnerID, &history, &brief,
		&status, &item.Attempts, &item.ErrorMessage,
		&item.WorkflowJobID, &item.ProjectID,
		&claimedAt, &completedAt, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	item.Status = models.QueueItemStatus(status)
	if err := json.Unmarshal([]byte(history), &item.HistorySnapshot); err != nil {
		return nil, fmt.Errorf("decode history snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(brief), &item.BriefSnapshot); err != nil {
		return nil, fmt.Errorf("decode brief snapshot: %w", err)
	}
	if claimedAt.Valid {
		item.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return item, nil
}

// ClaimOne atomically claims the oldest pending item: marks it processing and
// increments attempts. Candidates that another worker claims first affect
// zero rows on the guarded update and are skipped, never waited on. Returns
// nil when no pending item remains.
func (s *SQLiteStore) ClaimOne(ctx context.Context) (*models.QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM completion_queue WHERE status = ? ORDER BY created_at, id`,
		string(models.QueueItemStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		candidates = append(candidates, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}

	for _, id := range candidates {
		result, err := tx.ExecContext(ctx,
			`UPDATE completion_queue SET status = ?, attempts = attempts + 1, claimed_at = ? WHERE id = ? AND status = ?`,
			string(models.QueueItemStatusProcessing), time.Now().UTC(), id,
			string(models.QueueItemStatusPending),
		)
		if err != nil {
			return nil, fmt.Errorf("claim item: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			// Raced away by another worker; skip to the next candidate.
			continue
		}

		item, err := scanQueueItem(tx.QueryRowContext(ctx,
			`SELECT `+queueColumns+` FROM completion_queue WHERE id = ?`, id))
		if err != nil {
			return nil, fmt.Errorf("reload claimed item: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return item, nil
	}

	return nil, nil
}

// CompleteItem is the terminal success transition. The originating session is
// annotated with the workflow job in the same transaction.
func (s *SQLiteStore) CompleteItem(ctx context.Context, id, workflowJobID, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionID string
	err = tx.QueryRowContext(ctx,
		`SELECT session_id FROM completion_queue WHERE id = ? AND status = ?`,
		id, string(models.QueueItemStatusProcessing)).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("processing queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get queue item: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE completion_queue SET status = ?, workflow_job_id = ?, project_id = ?, error_message = '', completed_at = ? WHERE id = ?`,
		string(models.QueueItemStatusCompleted), workflowJobID, projectID,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}

	if err := annotateSessionJob(ctx, tx, sessionID, workflowJobID, projectID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// FailItem records a handoff failure. Items that exhausted maxAttempts are
// parked as dead_letter; everything else goes back to pending for a future
// claim cycle, attempts preserved.
func (s *SQLiteStore) FailItem(ctx context.Context, id, errorMessage string, maxAttempts int) (FailOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT attempts FROM completion_queue WHERE id = ? AND status = ?`,
		id, string(models.QueueItemStatusProcessing)).Scan(&attempts)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("processing queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get queue item: %w", err)
	}

	outcome := FailOutcomeRequeued
	next := models.QueueItemStatusPending
	if attempts >= maxAttempts {
		outcome = FailOutcomeDeadLetter
		next = models.QueueItemStatusDeadLetter
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE completion_queue SET status = ?, error_message = ?, claimed_at = NULL WHERE id = ?`,
		string(next), errorMessage, id,
	)
	if err != nil {
		return "", fmt.Errorf("fail item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return outcome, nil
}

// ReapStale requeues items stuck in processing longer than olderThan,
// covering workers that crashed mid-handoff without failing their item.
func (s *SQLiteStore) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx,
		`UPDATE completion_queue SET status = ?, claimed_at = NULL, error_message = 'reclaimed from stale worker' WHERE status = ? AND claimed_at < ?`,
		string(models.QueueItemStatusPending), string(models.QueueItemStatusProcessing), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reap stale items: %w", err)
	}
	return result.RowsAffected()
}

// RequeueItem resets a dead-lettered item for a fresh round of attempts.
// Manual recovery path; not called by the worker.
func (s *SQLiteStore) RequeueItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE completion_queue SET status = ?, attempts = 0, error_message = '', claimed_at = NULL WHERE id = ? AND status = ?`,
		string(models.QueueItemStatusPending), id, string(models.QueueItemStatusDeadLetter),
	)
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dead-lettered queue item %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := scanQueueItem(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM completion_queue WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) ListQueueItems(ctx context.Context, filter QueueListFilter) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM completion_queue`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM completion_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch models.QueueItemStatus(status) {
		case models.QueueItemStatusPending, models.QueueItemStatusFailed:
			stats.Pending += count
		case models.QueueItemStatusProcessing:
			stats.Processing = count
		case models.QueueItemStatusCompleted:
			stats.Completed = count
		case models.QueueItemStatusDeadLetter:
			stats.DeadLetter = count
		}
	}
	return stats, rows.Err()
}
