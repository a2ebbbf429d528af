// Package assess produces the per-turn verdict that drives the session state
// machine: coverage, stage advancement, completion, and extracted brief data.
package assess

import (
	"context"
	"regexp"
	"strings"

	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/session"
)

// Assessor evaluates one user message in the context of its session.
type Assessor interface {
	Assess(ctx context.Context, sess *models.Session, userMessage string) (*models.Assessment, error)
}

var (
	specificityRe = regexp.MustCompile(`(?i)\b(specifically|exactly|particularly|mainly|primarily)\b`)
	budgetRe      = regexp.MustCompile(`\$[\d,]+`)

	painWords = []string{"painful", "frustrating", "difficult", "expensive", "time-consuming", "annoying"}
)

// advanceThresholds is the stage progress (percent) required to move past
// each stage.
var advanceThresholds = [session.TotalStages + 1]int{0, 80, 75, 80, 75, 70, 75, 85}

// Heuristic scores messages without any model call: detail length,
// specificity markers, and per-stage keyword extraction. It is the fallback
// assessor when no API key is configured, and the deterministic one in tests.
type Heuristic struct{}

// NewHeuristic returns the rule-based assessor.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Assess(_ context.Context, sess *models.Session, userMessage string) (*models.Assessment, error) {
	stage := sess.CurrentStage
	if stage < 1 || stage > session.TotalStages {
		stage = 1
	}

	msg := strings.TrimSpace(userMessage)
	lower := strings.ToLower(msg)
	hasDetails := len(msg) > 50
	hasSpecifics := specificityRe.MatchString(msg)

	// Prior exchanges in this stage count toward its progress.
	stageTurns := 0
	for _, t := range sess.History {
		if t.Role == models.TurnRoleUser && t.Stage == stage {
			stageTurns++
		}
	}

	progress := stageTurns * 15
	if hasDetails {
		progress += 20
	} else {
		progress += 10
	}
	if hasSpecifics {
		progress += 15
	}
	if progress > 100 {
		progress = 100
	}

	stageComplete := progress >= advanceThresholds[stage]
	overall := (stage-1)*100/session.TotalStages + progress/session.TotalStages
	if overall > 100 {
		overall = 100
	}

	a := &models.Assessment{
		Coverage:      float64(progress) / 100,
		ShouldAdvance: stageComplete && stage < session.TotalStages,
		IsComplete:    stageComplete && stage == session.TotalStages,
		ExtractedData: extractBriefData(stage, msg, lower),
		Progress:      overall,
	}

	if a.IsComplete {
		a.Insights = completionInsights(sess.Brief, a.ExtractedData)
		a.NextSteps = []string{
			"Complete the strategic analysis",
			"Develop MVP requirements",
			"Identify first 10 potential customers",
			"Create validation experiments",
		}
		a.Readiness = a.Coverage
	}
	return a, nil
}

// extractBriefData mirrors the per-stage extraction rules of the original
// conversation engine.
func extractBriefData(stage int, msg, lower string) models.Brief {
	data := models.Brief{}
	switch stage {
	case 1:
		if strings.Contains(lower, "app") || strings.Contains(lower, "software") {
			data["business_stage"] = "idea"
			data["solution_type"] = "software"
		} else if strings.Contains(lower, "service") || strings.Contains(lower, "consulting") {
			data["business_stage"] = "idea"
			data["solution_type"] = "service"
		}
	case 2:
		if strings.Contains(lower, "business") || strings.Contains(lower, "company") {
			data["customer_type"] = "b2b"
		} else if strings.Contains(lower, "people") || strings.Contains(lower, "individual") {
			data["customer_type"] = "b2c"
		}
	case 3:
		painLevel := 6
		for _, w := range painWords {
			if strings.Contains(lower, w) {
				painLevel = 8
				break
			}
		}
		data["problem_pain_level"] = painLevel
		data["problem_description"] = truncate(msg, 500)
	case 4:
		data["solution_description"] = truncate(msg, 500)
	case 6:
		if m := budgetRe.FindString(msg); m != "" {
			data["budget_range"] = m
		}
	case 7:
		data["three_month_goals"] = []any{truncate(msg, 200)}
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

func completionInsights(brief models.Brief, update models.Brief) []string {
	merged := session.DeepMerge(models.Brief{}, brief)
	merged = session.DeepMerge(merged, update)

	insights := []string{"Onboarding conversation covered all seven stages"}
	if v, ok := merged["solution_type"]; ok {
		insights = append(insights, "Solution type identified: "+toString(v))
	}
	if v, ok := merged["customer_type"]; ok {
		insights = append(insights, "Primary customer segment: "+toString(v))
	}
	if v, ok := merged["budget_range"]; ok {
		insights = append(insights, "Starting budget indicated: "+toString(v))
	}
	return insights
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
