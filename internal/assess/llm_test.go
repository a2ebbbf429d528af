package assess

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/startupai/intake/internal/models"
)

func TestBuildPrompt(t *testing.T) {
	t.Run("system prompt specifies verdict fields", func(t *testing.T) {
		system, _ := buildPrompt(sessionAtStage(1, 0), "hello")

		assert.Contains(t, system, `"coverage"`)
		assert.Contains(t, system, `"should_advance"`)
		assert.Contains(t, system, `"is_complete"`)
		assert.Contains(t, system, `"extracted_data"`)
		assert.Contains(t, system, `"progress"`)
		assert.Contains(t, system, `"readiness"`)
		assert.Contains(t, system, "valid JSON only")
	})

	t.Run("user prompt carries stage context", func(t *testing.T) {
		sess := sessionAtStage(3, 2)
		_, user := buildPrompt(sess, "scheduling is painful")

		assert.Contains(t, user, "Stage 3 of 7: Problem Definition")
		assert.Contains(t, user, "Prior exchanges in this stage: 2")
		assert.Contains(t, user, "scheduling is painful")
	})

	t.Run("user prompt includes brief when present", func(t *testing.T) {
		sess := sessionAtStage(4, 0)
		sess.Brief = models.Brief{"solution_type": "software"}
		_, user := buildPrompt(sess, "our solution")

		assert.Contains(t, user, "Brief so far:")
		assert.Contains(t, user, `"solution_type":"software"`)
	})

	t.Run("empty brief omitted", func(t *testing.T) {
		_, user := buildPrompt(sessionAtStage(1, 0), "hi")
		assert.NotContains(t, user, "Brief so far:")
	})
}

func TestStageExchanges(t *testing.T) {
	sess := sessionAtStage(2, 3)
	// Turns from other stages do not count
	sess.History = append(sess.History,
		models.Turn{Role: models.TurnRoleUser, Stage: 1},
		models.Turn{Role: models.TurnRoleAssistant, Stage: 1},
	)

	assert.Equal(t, 3, stageExchanges(sess))
}
