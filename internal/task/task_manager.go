package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"videoshop/internal/service"
	"videoshop/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ==================== Dependencies ====================

// Pipeline discovery side of the automation service.
type Pipeline interface {
	RunPipeline(ctx context.Context, opts service.RunOptions) (*service.RunReport, error)
	RefreshStalePrices(ctx context.Context, olderThan time.Duration) (*service.PriceRefreshReport, error)
}

// FulfillmentRetrier re-dispatches failed fulfillment.
type FulfillmentRetrier interface {
	RetryFailed(ctx context.Context, window time.Duration) (*service.RetryReport, error)
}

// ==================== TaskManager ====================

// Job names
const (
	JobAutomationRun    = "automation-run"
	JobPriceRefresh     = "price-refresh"
	JobFulfillmentRetry = "fulfillment-retry"
)

type TaskManagerConfig struct {
	RunCron       string
	PriceSyncCron string
	RetryCron     string
	// RetryEnabled schedules the retry sweep; manual triggers work regardless.
	RetryEnabled bool

	RunOptions  service.RunOptions
	StaleAfter  time.Duration
	RetryWindow time.Duration

	RunTimeout   time.Duration
	PriceTimeout time.Duration
	RetryTimeout time.Duration
}

// DefaultConfig every 6h run, daily price refresh, hourly retry sweep (off).
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		RunCron:       "0 0 */6 * * *",
		PriceSyncCron: "0 30 3 * * *",
		RetryCron:     "0 0 * * * *",
		StaleAfter:    7 * 24 * time.Hour,
		RetryWindow:   24 * time.Hour,
		RunTimeout:    30 * time.Minute,
		PriceTimeout:  30 * time.Minute,
		RetryTimeout:  15 * time.Minute,
	}
}

func (c *TaskManagerConfig) applyDefaults() {
	d := DefaultConfig()
	if c.RunCron == "" {
		c.RunCron = d.RunCron
	}
	if c.PriceSyncCron == "" {
		c.PriceSyncCron = d.PriceSyncCron
	}
	if c.RetryCron == "" {
		c.RetryCron = d.RetryCron
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.RetryWindow == 0 {
		c.RetryWindow = d.RetryWindow
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = d.RunTimeout
	}
	if c.PriceTimeout == 0 {
		c.PriceTimeout = d.PriceTimeout
	}
	if c.RetryTimeout == 0 {
		c.RetryTimeout = d.RetryTimeout
	}
}

// JobStatus last outcome of a job, scheduled or triggered.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule,omitempty"`
	Runs      int        `json:"runs"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Next      *time.Time `json:"next,omitempty"`
}

// TaskManager owns the recurring jobs of the service.
type TaskManager struct {
	cfg      *TaskManagerConfig
	pipeline Pipeline
	retrier  FulfillmentRetrier
	cron     *cron.Cron

	mu      sync.Mutex
	status  map[string]*JobStatus
	entries map[string]cron.EntryID

	log *zap.SugaredLogger
}

// NewTaskManager retrier may be nil, which disables the retry job.
func NewTaskManager(cfg *TaskManagerConfig, pipeline Pipeline, retrier FulfillmentRetrier) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()
	return &TaskManager{
		cfg:      cfg,
		pipeline: pipeline,
		retrier:  retrier,
		cron:     cron.New(cron.WithSeconds()),
		status:   make(map[string]*JobStatus),
		entries:  make(map[string]cron.EntryID),
		log:      logger.Named("[TaskManager]"),
	}
}

// ==================== Lifecycle ====================

type cronJob struct {
	name, spec string
	timeout    time.Duration
	run        func(ctx context.Context) error
}

// Start registers the jobs and starts the cron loop.
func (tm *TaskManager) Start() error {
	jobs := []cronJob{
		{JobAutomationRun, tm.cfg.RunCron, tm.cfg.RunTimeout, tm.runPipeline},
		{JobPriceRefresh, tm.cfg.PriceSyncCron, tm.cfg.PriceTimeout, tm.refreshPrices},
	}
	if tm.cfg.RetryEnabled && tm.retrier != nil {
		jobs = append(jobs, cronJob{JobFulfillmentRetry, tm.cfg.RetryCron, tm.cfg.RetryTimeout, tm.retryFulfillment})
	}

	for _, j := range jobs {
		j := j
		id, err := tm.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
			defer cancel()
			_ = tm.track(ctx, j.name, j.run)
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
		tm.mu.Lock()
		tm.entries[j.name] = id
		tm.jobStatus(j.name).Schedule = j.spec
		tm.mu.Unlock()
	}

	tm.cron.Start()
	tm.log.Infow("scheduled jobs started", "jobs", len(jobs), "retry_enabled", tm.cfg.RetryEnabled)
	return nil
}

// Stop waits for running jobs to finish.
func (tm *TaskManager) Stop() {
	<-tm.cron.Stop().Done()
	tm.log.Infow("scheduled jobs stopped")
}

// ==================== Jobs ====================

// jobStatus caller holds tm.mu.
func (tm *TaskManager) jobStatus(name string) *JobStatus {
	st, ok := tm.status[name]
	if !ok {
		st = &JobStatus{Name: name}
		tm.status[name] = st
	}
	return st
}

func (tm *TaskManager) track(ctx context.Context, name string, run func(ctx context.Context) error) error {
	began := time.Now()
	err := run(ctx)

	tm.mu.Lock()
	st := tm.jobStatus(name)
	st.Runs++
	st.LastRun = &began
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	tm.mu.Unlock()

	if err != nil {
		tm.log.Errorw("job failed", "job", name, "took", time.Since(began).Round(time.Millisecond), "error", err)
	} else {
		tm.log.Infow("job done", "job", name, "took", time.Since(began).Round(time.Millisecond))
	}
	return err
}

func (tm *TaskManager) runPipeline(ctx context.Context) error {
	_, err := tm.pipeline.RunPipeline(ctx, tm.cfg.RunOptions)
	return err
}

func (tm *TaskManager) refreshPrices(ctx context.Context) error {
	_, err := tm.pipeline.RefreshStalePrices(ctx, tm.cfg.StaleAfter)
	return err
}

func (tm *TaskManager) retryFulfillment(ctx context.Context) error {
	_, err := tm.retrier.RetryFailed(ctx, tm.cfg.RetryWindow)
	return err
}

// ==================== Manual triggers ====================

// TriggerRun runs the pipeline now with the given options.
func (tm *TaskManager) TriggerRun(ctx context.Context, opts service.RunOptions) (*service.RunReport, error) {
	var rep *service.RunReport
	err := tm.track(ctx, JobAutomationRun, func(ctx context.Context) error {
		var err error
		rep, err = tm.pipeline.RunPipeline(ctx, opts)
		return err
	})
	return rep, err
}

func (tm *TaskManager) TriggerPriceRefresh(ctx context.Context) (*service.PriceRefreshReport, error) {
	var rep *service.PriceRefreshReport
	err := tm.track(ctx, JobPriceRefresh, func(ctx context.Context) error {
		var err error
		rep, err = tm.pipeline.RefreshStalePrices(ctx, tm.cfg.StaleAfter)
		return err
	})
	return rep, err
}

// TriggerFulfillmentRetry sweeps failed orders within window; window <= 0
// uses the configured one.
func (tm *TaskManager) TriggerFulfillmentRetry(ctx context.Context, window time.Duration) (*service.RetryReport, error) {
	if tm.retrier == nil {
		return nil, ErrTaskDisabled
	}
	if window <= 0 {
		window = tm.cfg.RetryWindow
	}
	var rep *service.RetryReport
	err := tm.track(ctx, JobFulfillmentRetry, func(ctx context.Context) error {
		var err error
		rep, err = tm.retrier.RetryFailed(ctx, window)
		return err
	})
	return rep, err
}

// ==================== Status ====================

// Status every job that is scheduled or has run, by name.
func (tm *TaskManager) Status() []JobStatus {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	out := make([]JobStatus, 0, len(tm.status))
	for name, st := range tm.status {
		cp := *st
		if id, ok := tm.entries[name]; ok {
			if next := tm.cron.Entry(id).Next; !next.IsZero() {
				cp.Next = &next
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ==================== Errors ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)
