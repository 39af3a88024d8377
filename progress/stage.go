// Package progress projects server-reported job progress onto the four
// user-visible processing stages.
package progress

// Stage is one of the four coarse processing phases shown to the user.
type Stage int

const (
	StageAnalyzing Stage = iota
	StageAIProcessing
	StageEditing
	StageFinalizing
)

// StageCount is the number of user-visible stages.
const StageCount = 4

type stageInfo struct {
	title       string
	description string
}

var stages = [StageCount]stageInfo{
	{"Analyzing video", "Examining content and structure"},
	{"AI processing", "Applying intelligent editing algorithms"},
	{"Editing content", "Optimizing for viewer engagement"},
	{"Finalizing", "Preparing your edited video"},
}

// Stages lists every stage in display order.
func Stages() []Stage {
	return []Stage{StageAnalyzing, StageAIProcessing, StageEditing, StageFinalizing}
}

func (s Stage) clamp() Stage {
	if s < StageAnalyzing {
		return StageAnalyzing
	}
	if s > StageFinalizing {
		return StageFinalizing
	}
	return s
}

func (s Stage) Title() string {
	return stages[s.clamp()].title
}

func (s Stage) Description() string {
	return stages[s.clamp()].description
}

func (s Stage) String() string {
	return s.Title()
}

// MapStep maps raw progress to a stage. When the backend reports step
// counters (totalSteps > 0) they win over percent.
//
// The step thresholds assume the backend's five-step pipeline: extracting
// audio and detecting speech both show as Analyzing, then transcribing,
// processing segments and creating the final video map to one stage each.
func MapStep(percent float64, currentStep, totalSteps int) Stage {
	if totalSteps > 0 {
		switch {
		case currentStep >= 5:
			return StageFinalizing
		case currentStep >= 4:
			return StageEditing
		case currentStep >= 3:
			return StageAIProcessing
		default:
			return StageAnalyzing
		}
	}

	switch {
	case percent >= 80:
		return StageFinalizing
	case percent >= 50:
		return StageEditing
	case percent >= 20:
		return StageAIProcessing
	default:
		return StageAnalyzing
	}
}
