// Package session holds the pure turn-application logic for onboarding
// sessions: history appends, brief merging, and the stage state machine.
// All durability and locking concerns live in the store; everything here
// operates on an in-memory session the store has already loaded under its
// transaction.
package session

import (
	"time"

	"github.com/startupai/intake/internal/models"
)

// Input is one user/assistant exchange plus the classifier verdict.
type Input struct {
	MessageID        string
	UserMessage      string
	AssistantMessage string
	Assessment       *models.Assessment
	Now              time.Time
}

// Result reports what an applied turn changed.
type Result struct {
	StageAdvanced bool
	Completed     bool
}

// Apply mutates sess in place with one committed turn: appends both messages
// to history tagged with the active stage, merges extracted data into the
// brief, records the idempotency marker, advances the stage machine, detects
// completion, and bumps the version by exactly one.
//
// Apply assumes the caller has already rejected duplicates and version
// conflicts; it never fails.
func Apply(sess *models.Session, in Input) Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	stage := sess.CurrentStage
	sess.History = append(sess.History,
		models.Turn{MessageID: in.MessageID, Role: models.TurnRoleUser, Content: in.UserMessage, Stage: stage, CreatedAt: now},
		models.Turn{MessageID: in.MessageID, Role: models.TurnRoleAssistant, Content: in.AssistantMessage, Stage: stage, CreatedAt: now},
	)
	sess.AppliedMessages = append(sess.AppliedMessages, in.MessageID)

	var res Result
	if a := in.Assessment; a != nil {
		if len(a.ExtractedData) > 0 {
			sess.Brief = DeepMerge(sess.Brief, a.ExtractedData)
		}

		if a.ShouldAdvance && sess.CurrentStage < TotalStages {
			sess.CurrentStage++
			sess.StageProgress = 0
			sess.OverallProgress = OverallProgressAt(sess.CurrentStage)
			res.StageAdvanced = true
		} else {
			if a.Coverage > 0 {
				pct := a.Coverage
				// Assessors report coverage on a 0.0-1.0 scale.
				if pct <= 1 {
					pct *= 100
				}
				sess.StageProgress = min(int(pct), 100)
			}
			if a.Progress > 0 {
				// The classifier's own estimate; not guaranteed monotonic.
				sess.OverallProgress = min(a.Progress, 100)
			}
		}

		if a.IsComplete {
			sess.Status = models.SessionStatusCompleted
			sess.OverallProgress = 100
			sess.Summary = &models.CompletionSummary{
				Insights:    a.Insights,
				NextSteps:   a.NextSteps,
				Readiness:   a.Readiness,
				GeneratedAt: now,
			}
			res.Completed = true
		}
	}

	sess.Version++
	sess.UpdatedAt = now
	return res
}
