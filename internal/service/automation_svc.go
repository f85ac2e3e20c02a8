package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"
	"videoshop/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

var (
	ErrRunInProgress = errors.New("pipeline run already in progress")
	ErrNoCandidates  = errors.New("no product candidates found")
	ErrNoMatches     = errors.New("no supplier matches found")
	ErrNothingSaved  = errors.New("no matched product could be saved")
)

// Health states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// ==================== Collaborators ====================

type CandidateScanner interface {
	DiscoverCandidates(ctx context.Context, timeWindow string, perChannelLimit int) ([]Candidate, error)
	TestConnection(ctx context.Context) error
}

type CandidateMatcher interface {
	MatchCandidates(ctx context.Context, candidates []Candidate, maxToProcess int) MatchResult
	Catalogs() []SupplierCatalog
}

type VideoResolver interface {
	ResolveVideos(ctx context.Context, q VideoQuery, maxResults int) ([]model.VideoCacheEntry, error)
	SearchTrending(ctx context.Context, maxPerQuery, totalMax int) ([]model.VideoCacheEntry, error)
	HealthCheck(ctx context.Context) error
}

type ReviewFetcher interface {
	FetchReviews(ctx context.Context, product *model.Product) ([]model.Review, string, error)
}

type AlertDispatcher interface {
	FanOut(ctx context.Context, products []model.Product) (int, error)
}

type ProductMirror interface {
	MirrorProduct(ctx context.Context, p *model.Product) (bool, error)
}

// AutomationDeps collaborators of the pipeline. Mirror is optional.
type AutomationDeps struct {
	Scanner  CandidateScanner
	Matcher  CandidateMatcher
	Products repository.ProductRepository
	Videos   VideoResolver
	Reviews  ReviewFetcher
	Alerts   AlertDispatcher
	Mirror   ProductMirror
}

// ==================== Config & state ====================

type AutomationConfig struct {
	TimeWindow         string
	ScanLimit          int
	MaxProducts        int
	VideoProductLimit  int
	VideosPerProduct   int
	MinVideos          int
	TrendingTarget     int
	ReviewProductLimit int
	MarkupPercentage   float64
	RefreshBatch       int
	ProbeTimeout       time.Duration
}

type RunOptions struct {
	TimeWindow         string `json:"time_window"`
	ScanLimit          int    `json:"scan_limit"`
	MaxProductsToMatch int    `json:"max_products"`
}

// AutomationStats cumulative counters across runs.
type AutomationStats struct {
	TotalRuns               int        `json:"total_runs"`
	ProductsDiscovered      int        `json:"products_discovered"`
	ProductsMatched         int        `json:"products_matched"`
	ProductsSaved           int        `json:"products_saved"`
	TotalProfit             float64    `json:"total_profit"`
	VideosAdded             int        `json:"videos_added"`
	AlertsSent              int        `json:"alerts_sent"`
	Errors                  int        `json:"errors"`
	LastRun                 *time.Time `json:"last_run,omitempty"`
	SuccessRate             float64    `json:"success_rate"`
	AverageProfitPerProduct float64    `json:"average_profit_per_product"`
}

type ComponentHealth struct {
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

type SystemHealth struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// AutomationService runs the discovery pipeline end to end.
type AutomationService struct {
	cfg  *AutomationConfig
	deps AutomationDeps

	running atomic.Bool
	mu      sync.Mutex
	stats   AutomationStats

	now func() time.Time
	log *zap.SugaredLogger
}

func NewAutomationService(cfg *AutomationConfig, deps AutomationDeps) *AutomationService {
	if cfg.TimeWindow == "" {
		cfg.TimeWindow = "day"
	}
	if cfg.ScanLimit == 0 {
		cfg.ScanLimit = 50
	}
	if cfg.MaxProducts == 0 {
		cfg.MaxProducts = 8
	}
	if cfg.VideoProductLimit == 0 {
		cfg.VideoProductLimit = 4
	}
	if cfg.VideosPerProduct == 0 {
		cfg.VideosPerProduct = 3
	}
	if cfg.MinVideos == 0 {
		cfg.MinVideos = 3
	}
	if cfg.TrendingTarget == 0 {
		cfg.TrendingTarget = 6
	}
	if cfg.ReviewProductLimit == 0 {
		cfg.ReviewProductLimit = 4
	}
	if cfg.MarkupPercentage == 0 {
		cfg.MarkupPercentage = 28
	}
	if cfg.RefreshBatch == 0 {
		cfg.RefreshBatch = 50
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &AutomationService{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		log:  logger.Named("[Automation]"),
	}
}

func (s *AutomationService) withDefaults(opts RunOptions) RunOptions {
	if opts.TimeWindow == "" {
		opts.TimeWindow = s.cfg.TimeWindow
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = s.cfg.ScanLimit
	}
	if opts.MaxProductsToMatch <= 0 {
		opts.MaxProductsToMatch = s.cfg.MaxProducts
	}
	return opts
}

// Running reports whether a pipeline run is in flight.
func (s *AutomationService) Running() bool {
	return s.running.Load()
}

// ==================== Pipeline ====================

// pipelineRun per-run working state.
type pipelineRun struct {
	svc        *AutomationService
	opts       RunOptions
	report     *RunReport
	candidates []Candidate
	matches    []SupplierMatch
	saved      []model.Product
	created    map[int64]bool // ids first inserted by this run
	videos     int
	alerts     int
}

type pipelineStage struct {
	name string
	fn   func(ctx context.Context, st *StageReport) error
}

// RunPipeline runs one discovery pass: health, scan, match, persist, media,
// videos, reviews and alerts. Only one run may be in flight. A cancelled
// context yields the partial report together with ctx.Err().
func (s *AutomationService) RunPipeline(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	start := s.now()
	run := &pipelineRun{
		svc:  s,
		opts: s.withDefaults(opts),
		report: &RunReport{
			Summary: RunSummary{Timestamp: start, Status: RunStatusRunning},
		},
	}
	s.log.Infow("pipeline started", "window", run.opts.TimeWindow,
		"scan_limit", run.opts.ScanLimit, "max_products", run.opts.MaxProductsToMatch)

	err := run.execute(ctx)
	return s.finish(ctx, run, start, err)
}

func (r *pipelineRun) execute(ctx context.Context) error {
	stages := []pipelineStage{
		{"health", r.health},
		{"scan", r.scan},
		{"match", r.match},
		{"persist", r.persist},
	}
	if r.svc.deps.Mirror != nil {
		stages = append(stages, pipelineStage{"mirror", r.mirror})
	}
	stages = append(stages,
		pipelineStage{"videos", r.resolveVideos},
		pipelineStage{"reviews", r.fetchReviews},
		pipelineStage{"alerts", r.sendAlerts},
	)

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := StageReport{Name: stage.name}
		began := time.Now()
		err := stage.fn(ctx, &st)
		st.Duration = time.Since(began)
		r.report.Stages = append(r.report.Stages, st)
		metrics.PipelineProducts(stage.name, st.Count)
		if err != nil {
			return fmt.Errorf("%s stage: %w", stage.name, err)
		}
	}
	return nil
}

func (s *AutomationService) finish(ctx context.Context, run *pipelineRun, start time.Time, err error) (*RunReport, error) {
	rep := run.report
	buildReport(rep, run.saved)
	rep.Summary.Runtime = s.now().Sub(start).Round(time.Millisecond).String()
	rep.Summary.TotalProductsProcessed = len(run.saved)
	rep.Summary.TotalVideosAdded = run.videos

	status := RunStatusCompleted
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = RunStatusCancelled
		err = ctx.Err()
	default:
		status = RunStatusFailed
	}
	rep.Summary.Status = status
	if err != nil {
		rep.Summary.Error = err.Error()
	}

	s.mu.Lock()
	s.stats.TotalRuns++
	s.stats.LastRun = &start
	s.stats.ProductsDiscovered += len(run.candidates)
	s.stats.ProductsMatched += len(run.matches)
	s.stats.ProductsSaved += len(run.saved)
	s.stats.TotalProfit = round2(s.stats.TotalProfit + rep.ProfitAnalysis.TotalProfit)
	s.stats.VideosAdded += run.videos
	s.stats.AlertsSent += run.alerts
	if status != RunStatusCompleted {
		s.stats.Errors++
	}
	rep.Stats = s.snapshotLocked()
	s.mu.Unlock()

	metrics.PipelineRun(status)
	if err != nil {
		s.log.Errorw("pipeline finished", "status", status, "runtime", rep.Summary.Runtime, "error", err)
	} else {
		s.log.Infow("pipeline finished", "status", status, "runtime", rep.Summary.Runtime,
			"saved", len(run.saved), "videos", run.videos, "profit", rep.ProfitAnalysis.TotalProfit)
	}
	return rep, err
}

func (r *pipelineRun) health(ctx context.Context, st *StageReport) error {
	h := r.svc.CheckSystemHealth(ctx)
	r.report.Health = &h
	for name, c := range h.Components {
		if c.Status == HealthHealthy {
			st.Count++
			continue
		}
		st.Errors = append(st.Errors, fmt.Sprintf("%s: %s", name, c.Error))
	}
	sort.Strings(st.Errors)
	if h.Status != HealthHealthy {
		r.svc.log.Warnw("system degraded, continuing", "problems", st.Errors)
	}
	return nil
}

func (r *pipelineRun) scan(ctx context.Context, st *StageReport) error {
	cands, err := r.svc.deps.Scanner.DiscoverCandidates(ctx, r.opts.TimeWindow, r.opts.ScanLimit)
	if err != nil {
		return err
	}
	r.candidates = cands
	st.Count = len(cands)
	if len(cands) == 0 {
		return ErrNoCandidates
	}
	return nil
}

func (r *pipelineRun) match(ctx context.Context, st *StageReport) error {
	res := r.svc.deps.Matcher.MatchCandidates(ctx, r.candidates, r.opts.MaxProductsToMatch)
	r.matches = res.Matches
	st.Count = len(res.Matches)
	st.Errors = res.Errors
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(res.Matches) == 0 {
		return fmt.Errorf("%w (%d attempted, %d skipped by cooldown)", ErrNoMatches, res.Attempted, res.CooldownSkips)
	}
	return nil
}

func (r *pipelineRun) persist(ctx context.Context, st *StageReport) error {
	for _, m := range r.matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := m.Product
		created, err := r.svc.deps.Products.UpsertByDiscovery(ctx, p)
		if err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			r.svc.log.Warnw("save product failed", "product", p.Name, "error", err)
			continue
		}
		r.saved = append(r.saved, *p)
		if created {
			if r.created == nil {
				r.created = make(map[int64]bool)
			}
			r.created[p.ID] = true
		}
		r.svc.log.Infow("product saved", "id", p.ID, "name", p.Name, "created", created, "profit", p.Profit())
	}
	st.Count = len(r.saved)
	if len(r.saved) == 0 {
		return ErrNothingSaved
	}
	return nil
}

func (r *pipelineRun) mirror(ctx context.Context, st *StageReport) error {
	for i := range r.saved {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := &r.saved[i]
		changed, err := r.svc.deps.Mirror.MirrorProduct(ctx, p)
		if err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		if !changed {
			continue
		}
		if err := r.svc.deps.Products.Update(ctx, p); err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		st.Count++
	}
	return nil
}

// resolveVideos looks up videos for products created by this run only.
// Updated products already went through this on the run that created them.
func (r *pipelineRun) resolveVideos(ctx context.Context, st *StageReport) error {
	cfg := r.svc.cfg
	resolved := 0
	for i := range r.saved {
		p := &r.saved[i]
		if !r.created[p.ID] {
			continue
		}
		if resolved >= cfg.VideoProductLimit {
			break
		}
		resolved++
		if err := ctx.Err(); err != nil {
			return err
		}
		vids, err := r.svc.deps.Videos.ResolveVideos(ctx, VideoQuery{
			ProductID:   p.ID,
			ProductName: p.Name,
			Category:    p.Category,
		}, cfg.VideosPerProduct)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		r.videos += len(vids)
	}

	if r.videos < cfg.MinVideos {
		extra, err := r.svc.deps.Videos.SearchTrending(ctx, 3, cfg.TrendingTarget-r.videos)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			st.Errors = append(st.Errors, "trending: "+err.Error())
		default:
			r.videos += len(extra)
		}
	}
	st.Count = r.videos
	return nil
}

func (r *pipelineRun) fetchReviews(ctx context.Context, st *StageReport) error {
	for i := range r.saved {
		if i >= r.svc.cfg.ReviewProductLimit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p := &r.saved[i]
		reviews, source, err := r.svc.deps.Reviews.FetchReviews(ctx, p)
		if errors.Is(err, ErrNoReviews) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		p.Reviews = datatypes.JSONSlice[model.Review](reviews)
		if err := r.svc.deps.Products.Update(ctx, p); err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		r.svc.log.Debugw("reviews attached", "product", p.ID, "source", source, "count", len(reviews))
		st.Count++
	}
	return nil
}

func (r *pipelineRun) sendAlerts(ctx context.Context, st *StageReport) error {
	sent, err := r.svc.deps.Alerts.FanOut(ctx, r.saved)
	r.alerts = sent
	st.Count = sent
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.Errors = append(st.Errors, err.Error())
	}
	return nil
}

// ==================== Stats ====================

func (s *AutomationService) snapshotLocked() AutomationStats {
	st := s.stats
	if st.LastRun != nil {
		t := *st.LastRun
		st.LastRun = &t
	}
	if st.TotalRuns > 0 {
		st.SuccessRate = round2(float64(st.TotalRuns-st.Errors) / float64(st.TotalRuns) * 100)
	}
	if st.ProductsSaved > 0 {
		st.AverageProfitPerProduct = round2(st.TotalProfit / float64(st.ProductsSaved))
	}
	return st
}

// Stats copy of the cumulative counters with derived rates.
func (s *AutomationService) Stats() AutomationStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *AutomationService) ResetStats() {
	s.mu.Lock()
	s.stats = AutomationStats{}
	s.mu.Unlock()
	s.log.Infow("stats reset")
}

// ==================== Health ====================

// CheckSystemHealth probes every external dependency in parallel. Any failing
// probe marks the system degraded.
func (s *AutomationService) CheckSystemHealth(ctx context.Context) SystemHealth {
	probes := map[string]func(context.Context) error{
		"scanner":     s.deps.Scanner.TestConnection,
		"database":    s.pingDatabase,
		"video_quota": s.deps.Videos.HealthCheck,
	}
	for _, c := range s.deps.Matcher.Catalogs() {
		probes["supplier:"+c.Platform()] = c.HealthCheck
	}

	h := SystemHealth{
		Status:     HealthHealthy,
		Components: make(map[string]ComponentHealth, len(probes)),
		CheckedAt:  s.now(),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, probe := range probes {
		name, probe := name, probe
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, s.cfg.ProbeTimeout)
			defer cancel()
			began := time.Now()
			err := probe(pctx)
			c := ComponentHealth{Status: HealthHealthy, Latency: time.Since(began)}
			if err != nil {
				c.Status = HealthUnhealthy
				c.Error = err.Error()
			}
			mu.Lock()
			h.Components[name] = c
			if err != nil {
				h.Status = HealthDegraded
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return h
}

func (s *AutomationService) pingDatabase(ctx context.Context) error {
	_, _, err := s.deps.Products.List(ctx, repository.ProductFilter{PageSize: 1})
	return err
}

// ==================== Maintenance ====================

// ProductsNeedingReview automated products flagged for a human look.
func (s *AutomationService) ProductsNeedingReview(ctx context.Context, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	needs := true
	products, _, err := s.deps.Products.List(ctx, repository.ProductFilter{
		Source:      model.ProductSourceDiscovery,
		NeedsReview: &needs,
		Page:        1,
		PageSize:    limit,
	})
	return products, err
}

type PriceRefreshReport struct {
	Total     int      `json:"total"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

func lowestVariantPrice(vs []SupplierVariant) float64 {
	lowest := 0.0
	for _, v := range vs {
		if v.Price > 0 && (lowest == 0 || v.Price < lowest) {
			lowest = v.Price
		}
	}
	return lowest
}

// RefreshStalePrices re-prices automated products not synced for olderThan
// from their supplier variants. Suppliers inside their cooldown window are
// left alone for this pass.
func (s *AutomationService) RefreshStalePrices(ctx context.Context, olderThan time.Duration) (*PriceRefreshReport, error) {
	if olderThan <= 0 {
		olderThan = 7 * 24 * time.Hour
	}
	stale, err := s.deps.Products.ListStaleAutomated(ctx, s.now().Add(-olderThan), s.cfg.RefreshBatch)
	if err != nil {
		return nil, fmt.Errorf("list stale products: %w", err)
	}

	catalogs := make(map[string]SupplierCatalog)
	for _, c := range s.deps.Matcher.Catalogs() {
		if c.State().Status().Ready {
			catalogs[c.Platform()] = c
		} else {
			s.log.Infow("supplier cooling down, prices left for next pass", "supplier", c.Platform())
		}
	}

	rep := &PriceRefreshReport{Total: len(stale)}
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		p := &stale[i]
		catalog, ok := catalogs[p.SupplierPlatform]
		if !ok || p.SupplierProductID == "" {
			rep.Skipped++
			continue
		}

		vs, err := catalog.ProductVariants(ctx, p.SupplierProductID)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		price := lowestVariantPrice(vs)
		if price <= 0 {
			rep.Skipped++
			continue
		}

		now := s.now()
		old := p.Pricing.Data()
		markup := old.MarkupPercentage
		if markup == 0 {
			markup = s.cfg.MarkupPercentage
		}
		pricing := model.NewPricing(price, markup, now)
		p.Pricing = datatypes.NewJSONType(pricing)
		p.Price = pricing.FinalPrice
		p.Variants = datatypes.JSONSlice[model.Variant](NormalizeVariants(vs))
		meta := p.Automation.Data()
		meta.LastSync = &now
		p.Automation = datatypes.NewJSONType(meta)

		if err := s.deps.Products.Update(ctx, p); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		if pricing.SupplierPrice != old.SupplierPrice {
			rep.Updated++
			s.log.Infow("price updated", "product", p.ID, "from", old.SupplierPrice, "to", pricing.SupplierPrice)
		} else {
			rep.Unchanged++
		}
	}

	s.log.Infow("price refresh finished", "total", rep.Total, "updated", rep.Updated,
		"skipped", rep.Skipped, "errors", len(rep.Errors))
	return rep, nil
}

// ==================== Performance ====================

type PerformanceSummary struct {
	TotalProducts     int     `json:"total_products"`
	TotalRevenue      float64 `json:"total_revenue"`
	TotalOrders       int     `json:"total_orders"`
	TotalViews        int     `json:"total_views"`
	AverageOrderValue float64 `json:"average_order_value"`
	// ConversionRate orders per view, percent
	ConversionRate float64 `json:"conversion_rate"`
}

type ProductPerformance struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Revenue  float64 `json:"revenue"`
	Orders   int     `json:"orders"`
	Views    int     `json:"views"`
	Profit   float64 `json:"profit"`
}

type SegmentPerformance struct {
	Name     string  `json:"name"`
	Products int     `json:"products"`
	Revenue  float64 `json:"revenue"`
	Orders   int     `json:"orders"`
}

type PerformanceReport struct {
	Days          int                        `json:"days"`
	Since         time.Time                  `json:"since"`
	Summary       PerformanceSummary         `json:"summary"`
	TopPerformers []ProductPerformance       `json:"top_performers"`
	Categories    []SegmentPerformance       `json:"categories"`
	Channels      []SegmentPerformance       `json:"channels"`
	NewProducts   []repository.CategoryCount `json:"new_products"`
}

const performancePageSize = 200

// automatedProducts every discovered product created at or after since, newest first.
func (s *AutomationService) automatedProducts(ctx context.Context, since time.Time) ([]model.Product, error) {
	var products []model.Product
	for page := 1; ; page++ {
		batch, total, err := s.deps.Products.List(ctx, repository.ProductFilter{
			Source:   model.ProductSourceDiscovery,
			Page:     page,
			PageSize: performancePageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list automated products: %w", err)
		}
		for _, p := range batch {
			if !p.CreatedAt.Before(since) {
				products = append(products, p)
			}
		}
		if len(batch) < performancePageSize || int64(page*performancePageSize) >= total {
			return products, nil
		}
	}
}

// PerformanceReport sales analytics of automated products created in the
// last days days.
func (s *AutomationService) PerformanceReport(ctx context.Context, days int) (*PerformanceReport, error) {
	if days <= 0 {
		days = 30
	}
	since := s.now().AddDate(0, 0, -days)

	products, err := s.automatedProducts(ctx, since)
	if err != nil {
		return nil, err
	}

	counts, err := s.deps.Products.CountByCategory(ctx, model.ProductSourceDiscovery, since)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}

	rep := &PerformanceReport{Days: days, Since: since, NewProducts: counts}
	categories := map[string]*SegmentPerformance{}
	channels := map[string]*SegmentPerformance{}
	segment := func(m map[string]*SegmentPerformance, name string) *SegmentPerformance {
		seg, ok := m[name]
		if !ok {
			seg = &SegmentPerformance{Name: name}
			m[name] = seg
		}
		return seg
	}

	perf := make([]ProductPerformance, 0, len(products))
	for i := range products {
		p := &products[i]
		a := p.Analytics.Data()
		rep.Summary.TotalRevenue += a.Revenue
		rep.Summary.TotalOrders += a.Orders
		rep.Summary.TotalViews += a.Views
		perf = append(perf, ProductPerformance{
			ID: p.ID, Name: p.Name, Category: p.Category,
			Revenue: a.Revenue, Orders: a.Orders, Views: a.Views, Profit: p.Profit(),
		})

		for _, seg := range []*SegmentPerformance{segment(categories, p.Category), segment(channels, productChannel(p))} {
			seg.Products++
			seg.Revenue += a.Revenue
			seg.Orders += a.Orders
		}
	}
	rep.Summary.TotalProducts = len(products)
	if rep.Summary.TotalOrders > 0 {
		rep.Summary.AverageOrderValue = round2(rep.Summary.TotalRevenue / float64(rep.Summary.TotalOrders))
	}
	if rep.Summary.TotalViews > 0 {
		rep.Summary.ConversionRate = round2(float64(rep.Summary.TotalOrders) / float64(rep.Summary.TotalViews) * 100)
	}
	rep.Summary.TotalRevenue = round2(rep.Summary.TotalRevenue)

	sort.SliceStable(perf, func(i, j int) bool { return perf[i].Revenue > perf[j].Revenue })
	if len(perf) > 10 {
		perf = perf[:10]
	}
	rep.TopPerformers = perf
	rep.Categories = sortedSegments(categories)
	rep.Channels = sortedSegments(channels)
	return rep, nil
}

func sortedSegments(m map[string]*SegmentPerformance) []SegmentPerformance {
	out := make([]SegmentPerformance, 0, len(m))
	for name, seg := range m {
		if name == "" {
			continue
		}
		seg.Revenue = round2(seg.Revenue)
		out = append(out, *seg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ==================== Catalog ====================

// CatalogReport profit and source breakdown over every automated product.
type CatalogReport struct {
	GeneratedAt     time.Time           `json:"generated_at"`
	Profit          ProfitAnalysis      `json:"profit_analysis"`
	Categories      []CategoryBreakdown `json:"categories"`
	Channels        []ChannelBreakdown  `json:"channels"`
	Recent          []TopProduct        `json:"recent_products"`
	Recommendations []Recommendation    `json:"recommendations"`
}

func (s *AutomationService) CatalogReport(ctx context.Context) (*CatalogReport, error) {
	products, err := s.automatedProducts(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	rep := &CatalogReport{
		GeneratedAt: s.now(),
		Profit:      AnalyzeProfit(products),
		Categories:  BreakdownByCategory(products),
		Channels:    BreakdownByChannel(products),
		Recent:      make([]TopProduct, 0, 10),
	}
	for i := 0; i < len(products) && i < 10; i++ {
		rep.Recent = append(rep.Recent, summarize(&products[i]))
	}
	rep.Recommendations = Recommend(products, rep.Categories)
	return rep, nil
}

// AutomatedProducts newest automated products, summarized.
func (s *AutomationService) AutomatedProducts(ctx context.Context, limit int) ([]TopProduct, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	products, total, err := s.deps.Products.List(ctx, repository.ProductFilter{
		Source:   model.ProductSourceDiscovery,
		PageSize: limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list automated products: %w", err)
	}
	out := make([]TopProduct, 0, len(products))
	for i := range products {
		out = append(out, summarize(&products[i]))
	}
	return out, total, nil
}

// PurgeAutomated hard-deletes every automated product. Refused while a run
// is writing to the catalog.
func (s *AutomationService) PurgeAutomated(ctx context.Context) (int64, error) {
	if s.running.Load() {
		return 0, ErrRunInProgress
	}
	n, err := s.deps.Products.Purge(ctx, model.ProductSourceDiscovery)
	if err != nil {
		return 0, fmt.Errorf("purge automated products: %w", err)
	}
	s.log.Warnw("automated products purged", "deleted", n)
	return n, nil
}
