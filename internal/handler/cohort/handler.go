package cohort

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	"github.com/nhs-screening/cohort-manager/internal/service/orchestration"
)

type Handler struct {
	cohortRepo   repository.CohortRepository
	orchestrator *orchestration.Service
}

func NewHandler(cohortRepo repository.CohortRepository, orchestrator *orchestration.Service) *Handler {
	return &Handler{
		cohortRepo:   cohortRepo,
		orchestrator: orchestrator,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	files := r.Group("/cohort-files")
	{
		files.POST("", h.IngestFile)
		files.GET("/:fileId", h.GetFile)
		files.GET("/:fileId/records", h.ListRecords)
	}
}

type ingestRequest struct {
	Filename string                `json:"filename" binding:"required"`
	Records  []*model.CohortRecord `json:"records" binding:"required,min=1,dive"`
}

// IngestFile stages a cohort file. Processing is a separate call so callers
// can stage ahead of a processing window.
func (h *Handler) IngestFile(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	fs, err := h.orchestrator.IngestFile(c.Request.Context(), req.Filename, req.Records)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(fs))
}

func (h *Handler) GetFile(c *gin.Context) {
	fileID, err := handler.Int64Param(c, "fileId")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	file, err := h.cohortRepo.GetFile(c.Request.Context(), fileID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(file))
}

func (h *Handler) ListRecords(c *gin.Context) {
	fileID, err := handler.Int64Param(c, "fileId")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	records, err := h.cohortRepo.ListByFile(c.Request.Context(), fileID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}
