package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"videoshop/internal/service"
	"videoshop/internal/task"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ==================== Response envelope ====================

// success/error mirror code/message for storefront clients.
func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "success": true, "message": "success", "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "success": false, "message": message, "error": message})
}

// failErr maps service errors onto HTTP statuses.
func failErr(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	fail(c, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRunInProgress),
		errors.Is(err, service.ErrOrderNotFulfillable),
		errors.Is(err, service.ErrOrderInFlight):
		return http.StatusConflict
	case errors.Is(err, service.ErrQuotaExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, task.ErrTaskDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
