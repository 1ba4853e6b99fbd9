package participant

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/service/participant"
)

type Handler struct {
	service *participant.Service
}

func NewHandler(service *participant.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	participants := r.Group("/participants")
	{
		participants.GET("/:nhsNumber", h.GetParticipant)
		participants.POST("/load/:recordId", h.LoadFromRecord)
		participants.PUT("/:nhsNumber/exception-flag", h.SetExceptionFlag)
	}
}

func (h *Handler) GetParticipant(c *gin.Context) {
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.service.GetByNHSNumber(c.Request.Context(), nhsNumber)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) LoadFromRecord(c *gin.Context) {
	recordID, err := handler.Int64Param(c, "recordId")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	inserted, err := h.service.LoadByRecordID(c.Request.Context(), recordID)
	if err != nil {
		c.Error(err)
		return
	}
	action := "updated"
	if inserted {
		action = "inserted"
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"action": action}))
}

type exceptionFlagRequest struct {
	Flag *bool `json:"flag" binding:"required"`
}

func (h *Handler) SetExceptionFlag(c *gin.Context) {
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	var req exceptionFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.service.SetExceptionFlag(c.Request.Context(), nhsNumber, *req.Flag); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"exception_flag": *req.Flag}))
}
