package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flowcraft/backend/internal/models"
	"flowcraft/backend/pkg/response"
)

func (h *Handlers) GetWorkflows(c *gin.Context) {
	list, err := h.Store.WorkflowsByCategory(c.Request.Context(), c.Query("category"))
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.Success(c, list)
}

func (h *Handlers) GetWorkflow(c *gin.Context) {
	wf, err := h.Store.Workflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.Success(c, wf)
}

func (h *Handlers) bindWorkflow(c *gin.Context) (models.Workflow, bool) {
	var wf models.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		response.BadRequest(c, err.Error())
		return wf, false
	}
	if wf.Name == "" {
		response.BadRequest(c, "name is required")
		return wf, false
	}
	return wf, true
}

func (h *Handlers) CreateWorkflow(c *gin.Context) {
	wf, ok := h.bindWorkflow(c)
	if !ok {
		return
	}
	saved, err := h.Store.SaveWorkflow(c.Request.Context(), wf)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Workflow created", saved)
}

func (h *Handlers) UpdateWorkflow(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.Store.Workflow(ctx, id); err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	wf, ok := h.bindWorkflow(c)
	if !ok {
		return
	}
	wf.ID = id
	saved, err := h.Store.SaveWorkflow(ctx, wf)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Workflow updated", saved)
}

func (h *Handlers) DeleteWorkflow(c *gin.Context) {
	if err := h.Store.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Workflow deleted", nil)
}

func (h *Handlers) DuplicateWorkflow(c *gin.Context) {
	dup, err := h.Store.DuplicateWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Workflow duplicated", dup)
}

// Export sends every workflow and group as a JSON download.
func (h *Handlers) Export(c *gin.Context) {
	data, err := h.Store.Export(c.Request.Context())
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	name := "flowcraft-export-" + time.Now().Format("20060102-150405") + ".json"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *Handlers) Import(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.Store.Import(c.Request.Context(), data); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "Import completed", nil)
}
