package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

// Int64Param parses a path parameter as int64.
func Int64Param(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, apperrors.BadRequest("invalid "+name, err)
	}
	return v, nil
}
