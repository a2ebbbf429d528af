package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupai/intake/internal/models"
)

// completeSession creates a session and applies its completing turn,
// returning the session and the enqueued item id.
func completeSession(t *testing.T, s *SQLiteStore, owner string) (*models.Session, string) {
	t.Helper()
	sess := newTestSession(t, s, owner)
	res, err := s.ApplyTurn(context.Background(), turnParams(sess.ID, owner, "msg-final", completingAssessment()))
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.NotEmpty(t, res.QueueItemID)
	return sess, res.QueueItemID
}

func TestEnqueueCompletion_RequiresCompletedSession(t *testing.T) {
	s := newTestStore(t)
	sess := newTestSession(t, s, "founder-1")

	_, err := s.EnqueueCompletion(context.Background(), sess.ID)
	assert.Error(t, err)
}

func TestEnqueueCompletion_RejectsSecondItem(t *testing.T) {
	s := newTestStore(t)
	sess, _ := completeSession(t, s, "founder-1")

	// UNIQUE(session_id) keeps completion exactly-once even on the manual path
	_, err := s.EnqueueCompletion(context.Background(), sess.ID)
	assert.Error(t, err)
}

func TestClaimOne_Empty(t *testing.T) {
	s := newTestStore(t)

	item, err := s.ClaimOne(context.Background())
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestClaimOne_MarksProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, itemID := completeSession(t, s, "founder-1")

	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, itemID, item.ID)
	assert.Equal(t, sess.ID, item.SessionID)
	assert.Equal(t, models.QueueItemStatusProcessing, item.Status)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.ClaimedAt)

	// Claim exclusivity: the only pending item is gone
	second, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestClaimOne_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, firstID := completeSession(t, s, "founder-1")
	time.Sleep(5 * time.Millisecond)
	_, secondID := completeSession(t, s, "founder-2")

	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, firstID, item.ID)

	item, err = s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, secondID, item.ID)
}

func TestCompleteItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := completeSession(t, s, "founder-1")

	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	require.NoError(t, s.CompleteItem(ctx, item.ID, "job-42", "proj-7"))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusCompleted, got.Status)
	assert.Equal(t, "job-42", got.WorkflowJobID)
	assert.Equal(t, "proj-7", got.ProjectID)
	require.NotNil(t, got.CompletedAt)

	// The originating session is annotated in the same transaction
	gotSess, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-42", gotSess.WorkflowJobID)
	assert.Equal(t, "proj-7", gotSess.ProjectID)

	// Completed items are never claimable again
	next, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCompleteItem_RequiresProcessing(t *testing.T) {
	s := newTestStore(t)
	_, itemID := completeSession(t, s, "founder-1")

	// Still pending, not claimed
	err := s.CompleteItem(context.Background(), itemID, "job-1", "proj-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailItem_Requeues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, itemID := completeSession(t, s, "founder-1")

	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	outcome, err := s.FailItem(ctx, itemID, "connection refused", 10)
	require.NoError(t, err)
	assert.Equal(t, FailOutcomeRequeued, outcome)

	got, err := s.GetQueueItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts, "attempts preserved across requeue")
	assert.Equal(t, "connection refused", got.ErrorMessage)
	assert.Nil(t, got.ClaimedAt)
}

func TestFailItem_RetryExhaustion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, itemID := completeSession(t, s, "founder-1")

	const maxAttempts = 10
	for i := 1; i <= maxAttempts; i++ {
		item, err := s.ClaimOne(ctx)
		require.NoError(t, err)
		require.NotNil(t, item, "attempt %d should claim the item", i)
		require.Equal(t, i, item.Attempts)

		outcome, err := s.FailItem(ctx, itemID, "still down", maxAttempts)
		require.NoError(t, err)
		if i < maxAttempts {
			assert.Equal(t, FailOutcomeRequeued, outcome, "attempt %d", i)
		} else {
			assert.Equal(t, FailOutcomeDeadLetter, outcome)
		}
	}

	got, err := s.GetQueueItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusDeadLetter, got.Status)
	assert.Equal(t, maxAttempts, got.Attempts)

	// Dead-lettered items are never claimed again
	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestFailItem_RequiresProcessing(t *testing.T) {
	s := newTestStore(t)
	_, itemID := completeSession(t, s, "founder-1")

	_, err := s.FailItem(context.Background(), itemID, "boom", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReapStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, itemID := completeSession(t, s, "founder-1")

	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	// Backdate the claim to simulate a worker that died mid-handoff
	_, err = s.db.ExecContext(ctx,
		`UPDATE completion_queue SET claimed_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), itemID)
	require.NoError(t, err)

	reaped, err := s.ReapStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped)

	got, err := s.GetQueueItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusPending, got.Status)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, 1, got.Attempts, "reaping does not reset attempts")
}

func TestReapStale_LeavesFreshClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, itemID := completeSession(t, s, "founder-1")

	_, err := s.ClaimOne(ctx)
	require.NoError(t, err)

	reaped, err := s.ReapStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reaped)

	got, err := s.GetQueueItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusProcessing, got.Status)
}

func TestRequeueItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, itemID := completeSession(t, s, "founder-1")

	// Drive to dead_letter with a single allowed attempt
	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	outcome, err := s.FailItem(ctx, itemID, "fatal", 1)
	require.NoError(t, err)
	require.Equal(t, FailOutcomeDeadLetter, outcome)

	require.NoError(t, s.RequeueItem(ctx, itemID))

	got, err := s.GetQueueItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts, "requeue grants a fresh round of attempts")
	assert.Empty(t, got.ErrorMessage)
}

func TestRequeueItem_OnlyDeadLetter(t *testing.T) {
	s := newTestStore(t)
	_, itemID := completeSession(t, s, "founder-1")

	// Pending items cannot be requeued
	err := s.RequeueItem(context.Background(), itemID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListQueueItems_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	completeSession(t, s, "founder-1")
	time.Sleep(5 * time.Millisecond)
	completeSession(t, s, "founder-2")

	_, err := s.ClaimOne(ctx)
	require.NoError(t, err)

	pending, err := s.ListQueueItems(ctx, QueueListFilter{Status: models.QueueItemStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	processing, err := s.ListQueueItems(ctx, QueueListFilter{Status: models.QueueItemStatusProcessing})
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	all, err := s.ListQueueItems(ctx, QueueListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQueueStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	completeSession(t, s, "founder-1")
	time.Sleep(5 * time.Millisecond)
	completeSession(t, s, "founder-2")

	item, err := s.ClaimOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	stats, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 0, stats.Completed)
	assert.Equal(t, 0, stats.DeadLetter)
}

func TestGetQueueItem_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetQueueItem(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}
