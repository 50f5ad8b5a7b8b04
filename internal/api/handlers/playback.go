package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"flowcraft/backend/internal/models"
	"flowcraft/backend/pkg/response"
)

// decodeWorkflow reads an inline workflow, either {"workflow": {...}} or a
// bare workflow.
func decodeWorkflow(body []byte) (models.Workflow, error) {
	var wf models.Workflow
	raw := body
	if inner := gjson.GetBytes(body, "workflow"); inner.IsObject() {
		raw = []byte(inner.Raw)
	}
	err := json.Unmarshal(raw, &wf)
	return wf, err
}

// StartPlayback replays a workflow. With ?wait=true the reply is sent when
// the replay ends; otherwise it runs in the background and the run id is
// returned.
func (h *Handlers) StartPlayback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		response.BadRequest(c, "A workflow or workflow_id is required")
		return
	}
	var wf models.Workflow
	if id := gjson.GetBytes(body, "workflow_id"); id.Exists() {
		if wf, err = h.Store.Workflow(c.Request.Context(), id.String()); err != nil {
			response.FromError(c, errorCodes, err)
			return
		}
	} else if wf, err = decodeWorkflow(body); err != nil {
		response.BadRequest(c, "Invalid workflow: "+err.Error())
		return
	}
	if len(wf.Steps) == 0 {
		response.BadRequest(c, "Workflow has no steps")
		return
	}

	if c.Query("wait") == "true" {
		if err := h.Player.StartPlayback(c.Request.Context(), wf); err != nil {
			response.FromError(c, errorCodes, err)
			return
		}
		response.SuccessWithMessage(c, "Playback completed", h.Player.Status())
		return
	}

	runID, err := h.Player.Launch(h.background(), wf)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	h.logger().WithField("run", runID).Info("▶️ Playback launched")
	response.SuccessWithMessage(c, "Playback started", gin.H{"run_id": runID})
}

func (h *Handlers) StopPlayback(c *gin.Context) {
	h.Player.StopPlayback()
	response.SuccessWithMessage(c, "Playback stop requested", h.Player.Status())
}

func (h *Handlers) GetPlaybackStatus(c *gin.Context) {
	response.Success(c, h.Player.Status())
}
