// Package job holds the job-processing API's wire model, shared by the client
// and the local emulator.
package job

import (
	"fmt"
	"math"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further status changes will follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is the latest progress snapshot reported for a job.
// TotalSteps <= 0 means the server did not report pipeline step counters.
type Progress struct {
	Percent                   float64 `json:"percent"`
	CurrentStep               int     `json:"current_step"`
	TotalSteps                int     `json:"total_steps"`
	Message                   string  `json:"message"`
	EstimatedRemainingSeconds *int    `json:"estimated_remaining_seconds,omitempty"`
	FormattedRemainingTime    string  `json:"formatted_remaining_time,omitempty"`
}

// HasSteps reports whether backend step counters are usable.
func (p Progress) HasSteps() bool {
	return p.TotalSteps > 0
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	JobID            string  `json:"job_id"`
	Status           Status  `json:"status"`
	EstimatedSeconds float64 `json:"estimated_seconds,omitempty"`
}

// EstimatedWholeSeconds rounds the upload-time estimate to whole seconds.
func (r UploadResponse) EstimatedWholeSeconds() int {
	return int(math.Round(r.EstimatedSeconds))
}

// StatusResponse is returned by GET /api/status/{job_id}.
type StatusResponse struct {
	Status      Status    `json:"status"`
	Progress    *Progress `json:"progress,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Job is the client's view of one server-side task.
type Job struct {
	ID          string
	Status      Status
	Error       string
	DownloadURL string
}

// DefaultTotalSteps is the number of pipeline steps the backend reports.
const DefaultTotalSteps = 5

// DownloadPath is the download route for a job id.
func DownloadPath(jobID string) string {
	return "/api/download/" + jobID
}

// StatusPath is the status route for a job id.
func StatusPath(jobID string) string {
	return "/api/status/" + jobID
}

// FormatRemainingTime renders seconds as "45s" or "2m 5s".
func FormatRemainingTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}

// InitialProgress seeds the snapshot shown between upload and the first poll.
func InitialProgress(estimatedSeconds int) *Progress {
	est := estimatedSeconds
	return &Progress{
		Percent:                   0,
		CurrentStep:               0,
		TotalSteps:                DefaultTotalSteps,
		Message:                   "Starting processing...",
		EstimatedRemainingSeconds: &est,
		FormattedRemainingTime:    FormatRemainingTime(estimatedSeconds),
	}
}
