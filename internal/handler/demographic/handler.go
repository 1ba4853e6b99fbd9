package demographic

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/service/demographic"
)

type Handler struct {
	service *demographic.Service
}

func NewHandler(service *demographic.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	demographics := r.Group("/demographics")
	{
		demographics.GET("/:nhsNumber", h.GetDemographic)
		demographics.POST("/load/:recordId", h.LoadFromRecord)
	}
}

func (h *Handler) GetDemographic(c *gin.Context) {
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	d, err := h.service.GetByNHSNumber(c.Request.Context(), nhsNumber)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(d))
}

// LoadFromRecord upserts the demographic profile from a single staged record,
// outside a full file run.
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
