package distribution

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/service/distribution"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

type Handler struct {
	service *distribution.Service
}

func NewHandler(service *distribution.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	dist := r.Group("/distribution")
	{
		dist.POST("/claims", h.ClaimBatch)
		dist.GET("/claims/:requestId", h.Replay)
	}
}

type claimRequest struct {
	Limit int `json:"limit" binding:"required,min=1"`
}

// ClaimBatch hands up to limit unextracted records to the caller under a
// fresh claim id. A second call sees none of the same records.
func (h *Handler) ClaimBatch(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	requestID, records, err := h.service.ClaimBatch(c.Request.Context(), req.Limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"request_id": requestID,
		"count":      len(records),
		"records":    records,
	}))
}

// Replay re-reads an earlier claim without changing any state.
func (h *Handler) Replay(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusBadRequest,
			handler.NewErrorResponse(apperrors.BadRequest("invalid request id", err).Error()))
		return
	}

	records, err := h.service.Replay(c.Request.Context(), requestID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"request_id": requestID,
		"count":      len(records),
		"records":    records,
	}))
}
