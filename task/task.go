// Package task runs the local job API emulator's queue: uploaded jobs wait
// for a worker slot, then walk the backend's five-step pipeline.
package task

import (
	"context"
	"math"
	"time"

	"autoeditor/job"
)

// Steps are the backend pipeline steps, in order. Step numbers are 1-based.
var Steps = []string{
	"Extracting audio",
	"Detecting speech",
	"Transcribing",
	"Processing segments",
	"Creating final video",
}

const (
	completeMessage = "Processing complete!"
	unknownError    = "Unknown error"
	canceledError   = "Task was canceled or timed out"

	minEstimateSeconds = 30
)

// Task is one emulated job. Values stored in the manager are never mutated;
// updates replace the stored pointer with a modified copy.
type Task struct {
	ID               string
	Status           job.Status
	Step             int
	Message          string
	VideoName        string
	VideoPath        string
	ScriptPath       string
	ScriptText       string
	OutputPath       string
	Error            string
	Log              string
	EstimatedSeconds float64
	CreatedAt        time.Time
	StartedAt        time.Time
	CompletedAt      time.Time

	cancelFunc context.CancelFunc
}

// Dir is where the task's uploads and artifact live, relative to the data dir.
func (t *Task) Dir() string {
	return t.ID
}

// Percent follows the backend: step/total capped at 95 until completion.
func (t *Task) Percent() float64 {
	switch {
	case t.Status == job.StatusCompleted:
		return 100
	case t.Step <= 0:
		return 0
	}
	return math.Min(95, math.Floor(float64(t.Step)/float64(len(Steps))*100))
}

// RemainingSeconds extrapolates from the time spent so far. ok is false
// until there is progress to extrapolate from.
func (t *Task) RemainingSeconds(now time.Time) (secs int, ok bool) {
	pct := t.Percent()
	if t.Status != job.StatusProcessing || t.Step <= 0 || pct <= 0 || t.StartedAt.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(t.StartedAt).Seconds()
	total := elapsed / pct * 100
	return int(math.Max(0, total-elapsed)), true
}

// StatusResponse renders the task as GET /api/status returns it.
func (t *Task) StatusResponse(now time.Time) job.StatusResponse {
	resp := job.StatusResponse{Status: t.Status}

	if t.Status != job.StatusQueued {
		p := &job.Progress{
			Percent:     t.Percent(),
			CurrentStep: t.Step,
			TotalSteps:  len(Steps),
			Message:     t.Message,
		}
		if secs, ok := t.RemainingSeconds(now); ok {
			p.EstimatedRemainingSeconds = &secs
			p.FormattedRemainingTime = job.FormatRemainingTime(secs)
		}
		resp.Progress = p
	}

	switch t.Status {
	case job.StatusCompleted:
		resp.DownloadURL = job.DownloadPath(t.ID)
	case job.StatusFailed:
		resp.Error = t.Error
		if resp.Error == "" {
			resp.Error = unknownError
		}
	}
	return resp
}

// EstimateSeconds predicts processing time for a pipeline whose steps take
// stepDuration each, never less than 30 seconds.
func EstimateSeconds(stepDuration time.Duration) float64 {
	est := stepDuration.Seconds() * float64(len(Steps)) * 1.5
	return math.Max(minEstimateSeconds, est)
}
