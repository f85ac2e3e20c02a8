package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"videoshop/internal/api/dto"
	"videoshop/internal/model"
	"videoshop/internal/service"
	"videoshop/internal/task"

	"github.com/gin-gonic/gin"
)

// Automation what the automation endpoints need from the pipeline service.
type Automation interface {
	RunPipeline(ctx context.Context, opts service.RunOptions) (*service.RunReport, error)
	CheckSystemHealth(ctx context.Context) service.SystemHealth
	Stats() service.AutomationStats
	ResetStats()
	AutomatedProducts(ctx context.Context, limit int) ([]service.TopProduct, int64, error)
	CatalogReport(ctx context.Context) (*service.CatalogReport, error)
	PerformanceReport(ctx context.Context, days int) (*service.PerformanceReport, error)
	ProductsNeedingReview(ctx context.Context, limit int) ([]model.Product, error)
	PurgeAutomated(ctx context.Context) (int64, error)
}

// Jobs scheduled job bookkeeping, optional.
type Jobs interface {
	TriggerRun(ctx context.Context, opts service.RunOptions) (*service.RunReport, error)
	Status() []task.JobStatus
}

type AutomationController struct {
	svc        Automation
	jobs       Jobs
	runTimeout time.Duration
}

// NewAutomationController jobs may be nil; runs then bypass job tracking.
func NewAutomationController(svc Automation, jobs Jobs, runTimeout time.Duration) *AutomationController {
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	return &AutomationController{svc: svc, jobs: jobs, runTimeout: runTimeout}
}

// ==================== Pipeline ====================

// Run triggers one pipeline run
// @Summary Run the discovery pipeline once
// @Tags Automation
// @Param body body dto.RunReq false "run options"
// @Success 200 {object} service.RunReport
// @Failure 409 "a run is already in progress"
// @Failure 429 "cooling down"
// @Router /api/automation/run [post]
func (ctrl *AutomationController) Run(c *gin.Context) {
	var req dto.RunReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	opts := service.RunOptions{
		TimeWindow:         req.TimeFrame,
		ScanLimit:          req.Limit,
		MaxProductsToMatch: req.MaxProducts,
	}

	// a dropped client must not abort a half-written run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), ctrl.runTimeout)
	defer cancel()

	var (
		rep *service.RunReport
		err error
	)
	if ctrl.jobs != nil {
		rep, err = ctrl.jobs.TriggerRun(ctx, opts)
	} else {
		rep, err = ctrl.svc.RunPipeline(ctx, opts)
	}
	if err != nil {
		if rep != nil && errorStatus(err) == http.StatusInternalServerError {
			// partial report still tells the operator which stage broke
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error(), "data": rep})
			return
		}
		failErr(c, err)
		return
	}
	ok(c, rep)
}

// Health probes every dependency
// @Summary Probe pipeline dependencies
// @Tags Automation
// @Success 200 {object} service.SystemHealth
// @Failure 503 {object} service.SystemHealth
// @Router /api/automation/health [get]
func (ctrl *AutomationController) Health(c *gin.Context) {
	health := ctrl.svc.CheckSystemHealth(c.Request.Context())
	if health.Status == service.HealthUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "message": "unhealthy", "data": health})
		return
	}
	ok(c, health)
}

// Stats run counters since start
// @Summary Cumulative run statistics and scheduled jobs
// @Tags Automation
// @Router /api/automation/stats [get]
func (ctrl *AutomationController) Stats(c *gin.Context) {
	data := gin.H{"stats": ctrl.svc.Stats()}
	if ctrl.jobs != nil {
		data["jobs"] = ctrl.jobs.Status()
	}
	ok(c, data)
}

// ==================== Catalog ====================

// Products lists automated products
// @Summary Newest automated products
// @Tags Automation
// @Param limit query int false "max rows" default(50)
// @Router /api/automation/products [get]
func (ctrl *AutomationController) Products(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list, total, err := ctrl.svc.AutomatedProducts(c.Request.Context(), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"count": len(list), "total": total, "products": list})
}

// Report profit and sales reports
// @Summary Profit breakdown and sales performance of automated products
// @Tags Automation
// @Param days query int false "performance window" default(30)
// @Router /api/automation/report [get]
func (ctrl *AutomationController) Report(c *gin.Context) {
	var q dto.ReportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	catalog, err := ctrl.svc.CatalogReport(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	perf, err := ctrl.svc.PerformanceReport(ctx, q.Days)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"catalog": catalog, "performance": perf})
}

// ReviewQueue products awaiting manual review
// @Summary Automated products flagged for manual review
// @Tags Automation
// @Router /api/automation/review-queue [get]
func (ctrl *AutomationController) ReviewQueue(c *gin.Context) {
	var q dto.ReviewQueueQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	products, err := ctrl.svc.ProductsNeedingReview(c.Request.Context(), q.Limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"count": len(products), "products": products})
}

// Reset purges automated products
// @Summary Delete every automated product and reset run statistics
// @Tags Automation
// @Router /api/automation/reset [delete]
func (ctrl *AutomationController) Reset(c *gin.Context) {
	n, err := ctrl.svc.PurgeAutomated(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ctrl.svc.ResetStats()
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "deleted " + strconv.FormatInt(n, 10) + " automated products",
		"data":    gin.H{"deleted_count": n},
	})
}
