package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"autoeditor/config"
	"autoeditor/form"
	"autoeditor/job"
	"autoeditor/task"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
	logger      logrus.FieldLogger
}

func NewHandler(tm *task.Manager, cfg *config.Config, logger logrus.FieldLogger) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
		logger:      logger,
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// handleUpload accepts a video plus at most one of script text or a script
// file, and queues the job.
func (h *Handler) handleUpload(c *gin.Context) {
	video, err := c.FormFile(form.FieldVideo)
	if err != nil {
		badRequest(c, "No video file uploaded")
		return
	}
	if video.Filename == "" {
		badRequest(c, "No video file selected")
		return
	}
	if !form.VideoAllowed(video.Filename) {
		badRequest(c, "Video file format not allowed")
		return
	}
	if h.cfg.MaxVideoSize > 0 && video.Size > h.cfg.MaxVideoSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Video file is too large"})
		return
	}

	scriptText := c.PostForm(form.FieldScriptText)
	script, err := c.FormFile(form.FieldScript)
	if err != nil {
		script = nil
	}
	if script != nil && scriptText != "" {
		badRequest(c, "Provide either script text or a script file, not both")
		return
	}
	if script != nil && !form.ScriptAllowed(script.Filename) {
		badRequest(c, "Script file format not allowed")
		return
	}

	in := task.Input{VideoName: video.Filename, ScriptText: scriptText}

	videoFile, err := video.Open()
	if err != nil {
		badRequest(c, "Could not read video file")
		return
	}
	defer videoFile.Close()
	in.Video = videoFile

	if script != nil {
		var scriptFile multipart.File
		if scriptFile, err = script.Open(); err != nil {
			badRequest(c, "Could not read script file")
			return
		}
		defer scriptFile.Close()
		in.ScriptName = script.Filename
		in.Script = scriptFile
	}

	t, err := h.taskManager.Submit(in)
	if errors.Is(err, task.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is full, try again later"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to queue upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job.UploadResponse{
		JobID:            t.ID,
		Status:           t.Status,
		EstimatedSeconds: t.EstimatedSeconds,
	})
}

func (h *Handler) handleStatus(c *gin.Context) {
	t, found := h.taskManager.Get(c.Param("job_id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, h.statusResponse(t, time.Now()))
}

// statusResponse renders t for the wire. With BASE set, download links are
// absolute so clients behind a proxy need no API base of their own.
func (h *Handler) statusResponse(t *task.Task, now time.Time) job.StatusResponse {
	resp := t.StatusResponse(now)
	if resp.DownloadURL != "" && h.cfg.BaseURL != "" {
		resp.DownloadURL = strings.TrimSuffix(h.cfg.BaseURL, "/") + resp.DownloadURL
	}
	return resp
}

// handleDownload serves the artifact of a completed job.
func (h *Handler) handleDownload(c *gin.Context) {
	id := c.Param("job_id")
	path, err := h.taskManager.OutputPath(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Processed video not available"})
		return
	}
	name := "edited" + filepath.Ext(path)
	if t, ok := h.taskManager.Get(id); ok && t.VideoName != "" {
		name = "edited_" + t.VideoName
	}
	c.FileAttachment(path, name)
}

func (h *Handler) handleListJobs(c *gin.Context) {
	tasks := h.taskManager.List()
	now := time.Now()
	out := make([]gin.H, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, gin.H{
			"job_id":     t.ID,
			"created_at": t.CreatedAt,
			"state":      h.statusResponse(t, now),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleCancel(c *gin.Context) {
	err := h.taskManager.Cancel(c.Param("job_id"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case err != nil:
		badRequest(c, err.Error())
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Job cancellation requested"})
	}
}

// handleCleanup expires finished jobs older than OUTPUT_LIFETIME.
func (h *Handler) handleCleanup(c *gin.Context) {
	expired := h.taskManager.Cleanup(h.cfg.OutputLifetime)
	c.JSON(http.StatusOK, gin.H{
		"message":      "Cleaned up expired jobs",
		"expired_jobs": expired,
	})
}
