package handlers

import (
	"github.com/gin-gonic/gin"

	"flowcraft/backend/pkg/response"
)

type groupRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

func (h *Handlers) GetGroups(c *gin.Context) {
	groups, err := h.Store.Groups(c.Request.Context())
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.Success(c, groups)
}

func (h *Handlers) CreateGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	g, err := h.Store.CreateGroup(c.Request.Context(), req.Name)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Group created", g)
}

func (h *Handlers) UpdateGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	g, err := h.Store.RenameGroup(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Group updated", g)
}

func (h *Handlers) DeleteGroup(c *gin.Context) {
	if err := h.Store.DeleteGroup(c.Request.Context(), c.Param("id")); err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Group deleted", nil)
}

func (h *Handlers) AddToGroup(c *gin.Context) {
	var req struct {
		WorkflowID string `json:"workflow_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	g, err := h.Store.AddToGroup(c.Request.Context(), c.Param("id"), req.WorkflowID)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.SuccessWithMessage(c, "Workflow added to group", g)
}
