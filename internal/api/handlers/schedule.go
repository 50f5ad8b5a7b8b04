package handlers

import (
	"github.com/gin-gonic/gin"

	"flowcraft/backend/internal/models"
	"flowcraft/backend/pkg/response"
)

func (h *Handlers) GetSchedules(c *gin.Context) {
	list, err := h.Store.Schedules(c.Request.Context())
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	response.Success(c, list)
}

func (h *Handlers) SaveSchedule(c *gin.Context) {
	var sch models.Schedule
	if err := c.ShouldBindJSON(&sch); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	saved, err := h.Store.SaveSchedule(ctx, sch)
	if err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	h.reloadSchedules(c)
	response.SuccessWithMessage(c, "Schedule saved", saved)
}

func (h *Handlers) DeleteSchedule(c *gin.Context) {
	if err := h.Store.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		response.FromError(c, errorCodes, err)
		return
	}
	h.reloadSchedules(c)
	response.SuccessWithMessage(c, "Schedule deleted", nil)
}

func (h *Handlers) reloadSchedules(c *gin.Context) {
	if h.Scheduler == nil {
		return
	}
	if err := h.Scheduler.Reload(c.Request.Context()); err != nil {
		h.logger().WithError(err).Error("Failed to reload schedules")
	}
}
