package session

// TotalStages is the fixed number of conversation stages.
const TotalStages = 7

// stageNames indexes stage names by stage number (1-based).
var stageNames = [TotalStages + 1]string{
	"",
	"Welcome & Introduction",
	"Customer Discovery",
	"Problem Definition",
	"Solution Validation",
	"Competitive Analysis",
	"Resources & Constraints",
	"Goals & Next Steps",
}

// StageName returns the human-readable name for a stage number, or "" when
// the stage is out of range.
func StageName(stage int) string {
	if stage < 1 || stage > TotalStages {
		return ""
	}
	return stageNames[stage]
}

// OverallProgressAt returns the overall completion percentage for having
// fully finished all stages before the given one: floor((stage-1)*100/N).
func OverallProgressAt(stage int) int {
	if stage < 1 {
		return 0
	}
	if stage > TotalStages {
		return 100
	}
	return (stage - 1) * 100 / TotalStages
}
