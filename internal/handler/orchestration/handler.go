package orchestration

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhs-screening/cohort-manager/internal/handler"
	"github.com/nhs-screening/cohort-manager/internal/service/orchestration"
)

type Handler struct {
	service *orchestration.Service
}

func NewHandler(service *orchestration.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	files := r.Group("/cohort-files")
	{
		files.POST("/:fileId/process", h.ProcessFile)
		files.GET("/:fileId/status", h.GetFileStatus)
		files.GET("/:fileId/record-statuses", h.ListRecordStatuses)
		files.GET("/:fileId/record-statuses/:nhsNumber", h.GetRecordStatus)
	}
}

// ProcessFile runs the pipeline for a staged file. Calling it again on a
// partially processed file resumes from the last checkpoint.
func (h *Handler) ProcessFile(c *gin.Context) {
	fileID, err := handler.Int64Param(c, "fileId")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	fs, err := h.service.ProcessFile(c.Request.Context(), fileID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(fs))
}

func (h *Handler) GetFileStatus(c *gin.Context) {
	fileID, err := handler.Int64Param(c, "fileId")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	fs, err := h.service.FileStatus(c.Request.Context(), fileID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(fs))
}

func (h *Handler) ListRecordStatuses(c *gin.Context) {
	fileID, err := handler.Int64Param(c, "fileId")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	statuses, err := h.service.ListRecordStatuses(c.Request.Context(), fileID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(statuses))
}

func (h *Handler) GetRecordStatus(c *gin.Context) {
	fileID, err := handler.Int64Param(c, "fileId")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	nhsNumber, err := handler.Int64Param(c, "nhsNumber")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	rs, err := h.service.RecordStatus(c.Request.Context(), fileID, nhsNumber)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rs))
}
