package progress

import "github.com/sells-group/sightline/internal/model"

// Stage is a named checkpoint in a job's life with its nominal percent.
type Stage struct {
	Name    string
	Percent int
	Status  model.TaskStatus
}

// The stage sequence a job walks through.
var (
	StageQueued              = Stage{"Queued", 0, model.TaskStatusQueued}
	StageConnecting          = Stage{"Connecting", 10, model.TaskStatusProcessing}
	StageFetchingMetadata    = Stage{"Fetching video metadata", 25, model.TaskStatusProcessing}
	StageAcquiringTranscript = Stage{"Extracting transcript", 40, model.TaskStatusProcessing}
	StageSummarizing         = Stage{"Summarizing", 60, model.TaskStatusProcessing}
	StageGeneratingSummary   = Stage{"Generating summary", 80, model.TaskStatusProcessing}
	StageFinalizing          = Stage{"Finalizing", 95, model.TaskStatusProcessing}
	StageCompleted           = Stage{"Completed", 100, model.TaskStatusCompleted}
)

// FailedStage is the label written with a failed status.
const FailedStage = "Failed"

// Stages lists the success path in order.
func Stages() []Stage {
	return []Stage{
		StageQueued, StageConnecting, StageFetchingMetadata, StageAcquiringTranscript,
		StageSummarizing, StageGeneratingSummary, StageFinalizing, StageCompleted,
	}
}
