package transformation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/service/transformation"
)

type Handler struct {
	service *transformation.Service
}

func NewHandler(service *transformation.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	t := r.Group("/transformations")
	{
		t.POST("/participants/:nhsNumber", h.TransformParticipant)
	}
}

// TransformParticipant previews the outbound view for one participant. The
// stored rows are never modified, so this is safe to call repeatedly.
func (h *Handler) TransformParticipant(c *gin.Context) {
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	out, err := h.service.TransformParticipant(c.Request.Context(), nhsNumber)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(out))
}
