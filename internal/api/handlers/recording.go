package handlers

import (
	"github.com/gin-gonic/gin"

	"flowcraft/backend/internal/models"
	"flowcraft/backend/pkg/response"
)

func (h *Handlers) StartRecording(c *gin.Context) {
	if err := h.Recorder.Start(c.Request.Context()); err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Recording started", gin.H{"status": models.StatusRecording})
}

func (h *Handlers) StopRecording(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.Recorder.Stop(ctx); err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	status, err := h.Recorder.Status(ctx)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Recording stopped", gin.H{"status": status})
}

func (h *Handlers) GetRecordingStatus(c *gin.Context) {
	status, err := h.Recorder.Status(c.Request.Context())
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.Success(c, gin.H{
		"status":      status,
		"isRecording": status == models.StatusRecording,
	})
}

// GetRecording returns the workflow assembled from the current recording.
func (h *Handlers) GetRecording(c *gin.Context) {
	rec, err := h.Recorder.Data(c.Request.Context())
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.Success(c, rec)
}

// SaveRecording stores the current recording as a new workflow.
func (h *Handlers) SaveRecording(c *gin.Context) {
	var req struct {
		Name     string   `json:"name" binding:"max=200"`
		Category string   `json:"category"`
		Tags     []string `json:"tags"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	rec, err := h.Recorder.Data(ctx)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	if rec.Status == models.StatusRecording {
		response.BadRequest(c, "Stop the recording before saving it")
		return
	}
	if len(rec.Workflow.Steps) == 0 {
		response.BadRequest(c, "No steps were recorded")
		return
	}

	wf := rec.Workflow
	wf.Category = req.Category
	wf.Tags = req.Tags
	saved, err := h.Store.SaveRecording(ctx, wf, req.Name)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Workflow saved", saved)
}
