package controller

import (
	"context"
	"net/http"
	"time"

	"videoshop/internal/api/dto"
	"videoshop/internal/service"

	"github.com/gin-gonic/gin"
)

// Fulfillment order dispatch to suppliers.
type Fulfillment interface {
	ProcessOrder(ctx context.Context, orderID int64) error
	RetryFailed(ctx context.Context, window time.Duration) (*service.RetryReport, error)
	Stats(ctx context.Context, days int) (*service.FulfillmentStats, error)
}

type FulfillmentController struct {
	fulfillment Fulfillment
	timeout     time.Duration
}

func NewFulfillmentController(fulfillment Fulfillment, timeout time.Duration) *FulfillmentController {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &FulfillmentController{fulfillment: fulfillment, timeout: timeout}
}

// detached keeps supplier orders going when the client hangs up.
func (ctrl *FulfillmentController) detached(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), ctrl.timeout)
}

// Retry
// @Summary Re-dispatch failed items of recent paid orders
// @Tags Fulfillment
// @Param body body dto.RetryReq false "window"
// @Success 200 {object} service.RetryReport
// @Router /api/fulfillment/retry [post]
func (ctrl *FulfillmentController) Retry(c *gin.Context) {
	var req dto.RetryReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx, cancel := ctrl.detached(c)
	defer cancel()

	rep, err := ctrl.fulfillment.RetryFailed(ctx, time.Duration(req.WindowHours)*time.Hour)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, rep)
}

// Stats
// @Summary Item and supplier breakdown of recent orders
// @Tags Fulfillment
// @Param days query int false "window" default(30)
// @Success 200 {object} service.FulfillmentStats
// @Router /api/fulfillment/stats [get]
func (ctrl *FulfillmentController) Stats(c *gin.Context) {
	var q dto.StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := ctrl.fulfillment.Stats(c.Request.Context(), q.Days)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, stats)
}

// ProcessOrder
// @Summary Dispatch one order to its suppliers now
// @Tags Fulfillment
// @Param id path int true "order id"
// @Failure 409 "order cancelled or refunded"
// @Router /api/fulfillment/orders/{id}/process [post]
func (ctrl *FulfillmentController) ProcessOrder(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	ctx, cancel := ctrl.detached(c)
	defer cancel()

	if err := ctrl.fulfillment.ProcessOrder(ctx, id); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "order processed", "data": gin.H{"order_id": id}})
}
