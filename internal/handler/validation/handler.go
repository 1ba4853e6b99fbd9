package validation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/service/validation"
)

type Handler struct {
	service *validation.Service
}

func NewHandler(service *validation.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	v := r.Group("/validation")
	{
		v.POST("/participants/:nhsNumber", h.ValidateParticipant)
		v.POST("/batch", h.ValidateBatch)
	}
}

// ValidateParticipant runs the full rule set against one participant's
// current state and returns the ordered outcomes. It never writes exceptions;
// that is the pipeline's job.
func (h *Handler) ValidateParticipant(c *gin.Context) {
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	summary, err := h.service.ValidateParticipant(c.Request.Context(), nhsNumber)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}

type batchRequest struct {
	NHSNumbers []int64 `json:"nhs_numbers" binding:"required,min=1"`
}

func (h *Handler) ValidateBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	summaries, err := h.service.ValidateBatch(c.Request.Context(), req.NHSNumbers)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summaries))
}
