package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/service"
	"videoshop/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAutomation struct {
	lastOpts   service.RunOptions
	runErr     error
	health     service.SystemHealth
	purged     int64
	purgeErr   error
	statsReset bool
}

func (s *stubAutomation) RunPipeline(_ context.Context, opts service.RunOptions) (*service.RunReport, error) {
	s.lastOpts = opts
	rep := &service.RunReport{Summary: service.RunSummary{Status: service.RunStatusCompleted, TotalProductsProcessed: 2}}
	if s.runErr != nil {
		rep.Summary.Status = service.RunStatusFailed
		rep.Summary.Error = s.runErr.Error()
	}
	return rep, s.runErr
}

func (s *stubAutomation) CheckSystemHealth(context.Context) service.SystemHealth { return s.health }
func (s *stubAutomation) Stats() service.AutomationStats                      { return service.AutomationStats{TotalRuns: 3} }
func (s *stubAutomation) ResetStats()                                         { s.statsReset = true }

func (s *stubAutomation) AutomatedProducts(_ context.Context, limit int) ([]service.TopProduct, int64, error) {
	return []service.TopProduct{{ID: 1, Name: "Lamp", Profit: 5.6}}, int64(limit), nil
}

func (s *stubAutomation) CatalogReport(context.Context) (*service.CatalogReport, error) {
	return &service.CatalogReport{Profit: service.ProfitAnalysis{TotalProducts: 4}}, nil
}

func (s *stubAutomation) PerformanceReport(_ context.Context, days int) (*service.PerformanceReport, error) {
	return &service.PerformanceReport{Days: days}, nil
}

func (s *stubAutomation) ProductsNeedingReview(context.Context, int) ([]model.Product, error) {
	return []model.Product{{Name: "Blurry"}}, nil
}

func (s *stubAutomation) PurgeAutomated(context.Context) (int64, error) { return s.purged, s.purgeErr }

type stubJobs struct {
	triggered int
	svc       *stubAutomation
}

func (j *stubJobs) TriggerRun(ctx context.Context, opts service.RunOptions) (*service.RunReport, error) {
	j.triggered++
	return j.svc.RunPipeline(ctx, opts)
}

func (j *stubJobs) Status() []task.JobStatus {
	return []task.JobStatus{{Name: task.JobAutomationRun, Runs: j.triggered}}
}

func setupAutomationCtlRouter(svc *stubAutomation, jobs Jobs) *gin.Engine {
	ctl := NewAutomationController(svc, jobs, time.Minute)
	r := gin.New()
	a := r.Group("/api/automation")
	{
		a.POST("/run", ctl.Run)
		a.GET("/health", ctl.Health)
		a.GET("/stats", ctl.Stats)
		a.GET("/products", ctl.Products)
		a.GET("/report", ctl.Report)
		a.GET("/review-queue", ctl.ReviewQueue)
		a.DELETE("/reset", ctl.Reset)
	}
	return r
}

func TestAutomationController_Run(t *testing.T) {
	svc := &stubAutomation{}
	jobs := &stubJobs{svc: svc}
	r := setupAutomationCtlRouter(svc, jobs)

	w := perform(r, http.MethodPost, "/api/automation/run", map[string]interface{}{
		"timeFrame": "week", "limit": 25, "maxProducts": 4,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rep service.RunReport
	decode(t, w, &rep)
	assert.Equal(t, service.RunStatusCompleted, rep.Summary.Status)
	assert.Equal(t, service.RunOptions{TimeWindow: "week", ScanLimit: 25, MaxProductsToMatch: 4}, svc.lastOpts)
	assert.Equal(t, 1, jobs.triggered)

	// empty body keeps the service defaults
	w = perform(r, http.MethodPost, "/api/automation/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.RunOptions{}, svc.lastOpts)

	w = perform(r, http.MethodPost, "/api/automation/run", map[string]interface{}{"timeFrame": "decade"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutomationController_RunErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    int
		wantPartial bool
	}{
		{"already running", service.ErrRunInProgress, http.StatusConflict, false},
		{"stage failure keeps partial report", fmt.Errorf("scan stage: %w", service.ErrNoCandidates), http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupAutomationCtlRouter(&stubAutomation{runErr: tt.err}, nil)
			w := perform(r, http.MethodPost, "/api/automation/run", nil)
			require.Equal(t, tt.wantCode, w.Code)
			var rep service.RunReport
			env := decode(t, w, &rep)
			assert.Equal(t, tt.wantCode, env.Code)
			assert.Contains(t, env.Message, tt.err.Error())
			assert.Equal(t, tt.wantPartial, rep.Summary.Status == service.RunStatusFailed)
		})
	}
}

func TestAutomationController_Health(t *testing.T) {
	for status, want := range map[string]int{
		service.HealthHealthy:   http.StatusOK,
		service.HealthDegraded:  http.StatusOK,
		service.HealthUnhealthy: http.StatusServiceUnavailable,
	} {
		r := setupAutomationCtlRouter(&stubAutomation{health: service.SystemHealth{Status: status}}, nil)
		w := perform(r, http.MethodGet, "/api/automation/health", nil)
		assert.Equal(t, want, w.Code, status)
		var h service.SystemHealth
		decode(t, w, &h)
		assert.Equal(t, status, h.Status)
	}
}

func TestAutomationController_Queries(t *testing.T) {
	svc := &stubAutomation{}
	r := setupAutomationCtlRouter(svc, &stubJobs{svc: svc})

	w := perform(r, http.MethodGet, "/api/automation/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Stats service.AutomationStats `json:"stats"`
		Jobs  []task.JobStatus        `json:"jobs"`
	}
	decode(t, w, &stats)
	assert.Equal(t, 3, stats.Stats.TotalRuns)
	assert.Len(t, stats.Jobs, 1)

	w = perform(r, http.MethodGet, "/api/automation/products?limit=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var products struct {
		Count int   `json:"count"`
		Total int64 `json:"total"`
	}
	decode(t, w, &products)
	assert.Equal(t, 1, products.Count)
	assert.EqualValues(t, 7, products.Total)

	w = perform(r, http.MethodGet, "/api/automation/report?days=14", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Catalog     service.CatalogReport     `json:"catalog"`
		Performance service.PerformanceReport `json:"performance"`
	}
	decode(t, w, &report)
	assert.Equal(t, 4, report.Catalog.Profit.TotalProducts)
	assert.Equal(t, 14, report.Performance.Days)

	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/api/automation/report?days=0", nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/api/automation/review-queue", nil).Code)
}

func TestAutomationController_Reset(t *testing.T) {
	svc := &stubAutomation{purged: 5}
	r := setupAutomationCtlRouter(svc, nil)

	w := perform(r, http.MethodDelete, "/api/automation/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Deleted int64 `json:"deleted_count"`
	}
	env := decode(t, w, &data)
	assert.EqualValues(t, 5, data.Deleted)
	assert.Contains(t, env.Message, "deleted 5")
	assert.True(t, svc.statsReset)

	busy := &stubAutomation{purgeErr: service.ErrRunInProgress}
	w = perform(setupAutomationCtlRouter(busy, nil), http.MethodDelete, "/api/automation/reset", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, busy.statsReset)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", service.ErrValidation), http.StatusBadRequest},
		{service.ErrInvalidSignature, http.StatusBadRequest},
		{fmt.Errorf("get: %w", service.ErrProductNotFound), http.StatusNotFound},
		{service.ErrOrderNotFulfillable, http.StatusConflict},
		{service.ErrOrderInFlight, http.StatusConflict},
		{service.ErrQuotaExhausted, http.StatusTooManyRequests},
		{task.ErrTaskDisabled, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}
