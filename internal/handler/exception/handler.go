package exception

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/service/exception"
	"github.com/nhs-screening/cohort-manager/internal/service/participant"
)

type Handler struct {
	service      *exception.Service
	participants *participant.Service
}

func NewHandler(service *exception.Service, participants *participant.Service) *Handler {
	return &Handler{service: service, participants: participants}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	exceptions := r.Group("/exceptions")
	{
		exceptions.POST("", h.CreateExceptions)
		exceptions.GET("/:nhsNumber", h.ListExceptions)
		exceptions.POST("/:nhsNumber/resolve", h.ResolveAll)
	}
}

type createRequest struct {
	Exceptions []*model.ExceptionRecord `json:"exceptions" binding:"required,min=1,dive"`
}

func (h *Handler) CreateExceptions(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	ids, err := h.service.RecordExceptions(c.Request.Context(), req.Exceptions)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(gin.H{"ids": ids}))
}

func (h *Handler) ListExceptions(c *gin.Context) {
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	exceptions, err := h.service.ListByNHSNumber(c.Request.Context(), nhsNumber)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(exceptions))
}

// ResolveAll stamps every open exception for the participant. With
// clear_flag=true the participant-level exception marker is also lowered;
// the two are otherwise independent.
func (h *Handler) ResolveAll(c *gin.Context) {
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	resolved, resolvedAt, err := h.service.ResolveAll(c.Request.Context(), nhsNumber)
	if err != nil {
		c.Error(err)
		return
	}

	if c.Query("clear_flag") == "true" && resolved > 0 {
		if err := h.participants.SetExceptionFlag(c.Request.Context(), nhsNumber, false); err != nil {
			c.Error(err)
			return
		}
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"resolved":    resolved,
		"resolved_at": resolvedAt,
	}))
}
