package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/session"
)

// LLM assesses turns with the Anthropic API. The model returns a strict JSON
// verdict; anything it cannot parse falls through as an error so the caller
// can decide whether to fall back to the heuristic assessor.
type LLM struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewLLM creates an LLM assessor with the given API key and model.
func NewLLM(apiKey, model string) *LLM {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &LLM{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildPrompt constructs the system and user prompts for turn assessment.
func buildPrompt(sess *models.Session, userMessage string) (system string, user string) {
	system = `You assess one message in a founder onboarding conversation. Return ONLY a JSON object with these fields:
- "coverage": number 0.0-1.0, how thoroughly the message covers the current stage's topic
- "should_advance": boolean, true when the current stage's topic is sufficiently covered and the conversation should move to the next stage
- "is_complete": boolean, true ONLY when the conversation is in its final stage AND that stage is sufficiently covered
- "extracted_data": object of structured facts learned from the message (e.g. solution_type, customer_type, problem_description, budget_range); omit keys you cannot support from the message
- "progress": integer 0-100, your estimate of overall conversation completion
- "insights": array of strings, only when is_complete is true
- "next_steps": array of strings, only when is_complete is true
- "readiness": number 0.0-1.0, only when is_complete is true

Rules:
- Never mark is_complete before the final stage
- extracted_data values must come from the message, not be invented
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Stage %d of %d: %s\n", sess.CurrentStage, session.TotalStages, session.StageName(sess.CurrentStage))
	fmt.Fprintf(&sb, "Prior exchanges in this stage: %d\n", stageExchanges(sess))
	if len(sess.Brief) > 0 {
		if data, err := json.Marshal(sess.Brief); err == nil {
			fmt.Fprintf(&sb, "Brief so far: %s\n", data)
		}
	}
	sb.WriteString("\nAssess this founder message:\n\n")
	sb.WriteString(userMessage)
	user = sb.String()
	return
}

func stageExchanges(sess *models.Session) int {
	n := 0
	for _, t := range sess.History {
		if t.Role == models.TurnRoleUser && t.Stage == sess.CurrentStage {
			n++
		}
	}
	return n
}

// Assess sends the message to the LLM and parses its JSON verdict.
func (c *LLM) Assess(ctx context.Context, sess *models.Session, userMessage string) (*models.Assessment, error) {
	systemPrompt, userPrompt := buildPrompt(sess, userMessage)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var a models.Assessment
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	// The model never gets to complete a session early.
	if sess.CurrentStage < session.TotalStages {
		a.IsComplete = false
	}
	return &a, nil
}
