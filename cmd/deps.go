package main

import (
	"context"
	"fmt"
	"time"

	"videoshop/internal/controller"
	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/internal/router"
	"videoshop/internal/service"
	"videoshop/internal/task"
	"videoshop/pkg/config"
	"videoshop/pkg/database"
	"videoshop/pkg/logger"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ==================== Dependency container ====================

// Dependencies everything a command needs, built once from config.
type Dependencies struct {
	Cfg      *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Repos    *Repositories
	Services *Services
}

type Repositories struct {
	Product      repository.ProductRepository
	Order        repository.OrderRepository
	Subscription repository.SubscriptionRepository
	Video        repository.VideoRepository
}

type Services struct {
	Trend         *service.TrendService
	CJ            *service.CJClient
	Matcher       *service.MatcherService
	Videos        *service.VideoService
	Reviews       *service.ReviewService
	Alerts        *service.AlertService
	Mirror        *service.ImageMirror
	Gateway       *service.StripeGateway
	Fulfillment   *service.FulfillmentService
	Checkout      *service.CheckoutService
	Subscriptions *service.SubscriptionService
	Products      *service.ProductService
	Automation    *service.AutomationService
}

// initDependencies scheduler runs delayed fulfillment follow-ups.
func initDependencies(ctx context.Context, cfg *config.Config, scheduler service.Scheduler) (*Dependencies, error) {
	db, err := initDatabase(cfg)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Cfg:   cfg,
		DB:    db,
		Repos: initRepositories(db),
	}
	quota := deps.initQuotaStore(ctx)
	deps.Services = initServices(cfg, deps.Repos, quota, scheduler)
	return deps, nil
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.InitDB(cfg.Database.DSN, database.Options{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.VideoCacheEntry{},
		&model.VideoProductLink{},
		&model.Subscription{},
	)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	return db, nil
}

func initRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Product:      repository.NewProductRepository(db),
		Order:        repository.NewOrderRepository(db),
		Subscription: repository.NewSubscriptionRepository(db),
		Video:        repository.NewVideoRepository(db),
	}
}

// initQuotaStore shares the video quota through Redis when configured so
// several instances spend one daily budget. Falls back to process memory.
func (d *Dependencies) initQuotaStore(ctx context.Context) service.QuotaStore {
	limit := d.Cfg.YouTube.DailyQuota
	if d.Cfg.Redis.Addr == "" {
		return service.NewMemoryQuotaStore(limit)
	}
	client, err := service.NewRedisClient(ctx, d.Cfg.Redis.Addr, d.Cfg.Redis.Password, d.Cfg.Redis.DB)
	if err != nil {
		logger.Named("[Main]").Warnw("redis unavailable, video quota kept in memory", "addr", d.Cfg.Redis.Addr, "error", err)
		return service.NewMemoryQuotaStore(limit)
	}
	d.Redis = client
	return service.NewRedisQuotaStore(client, limit)
}

func initServices(cfg *config.Config, repos *Repositories, quota service.QuotaStore, scheduler service.Scheduler) *Services {
	svc := &Services{}

	svc.Trend = service.NewTrendService(&service.TrendConfig{
		BaseURL:      cfg.Reddit.BaseURL,
		UserAgent:    cfg.Reddit.UserAgent,
		Channels:     cfg.Reddit.Channels,
		MaxResults:   cfg.Reddit.MaxResults,
		RequestEvery: cfg.Reddit.RequestEvery,
		Timeout:      cfg.Reddit.Timeout,
	}, service.NewHeuristicClassifier())

	svc.CJ = service.NewCJClient(&service.CJConfig{
		BaseURL:  cfg.CJ.BaseURL,
		Email:    cfg.CJ.Email,
		Password: cfg.CJ.Password,
		Cooldown: cfg.CJ.Cooldown,
		Timeout:  cfg.CJ.Timeout,
	}, service.NewSupplierState("cj", cfg.CJ.Cooldown))

	svc.Matcher = service.NewMatcherService(&service.MatcherConfig{
		MarkupPercentage: cfg.CJ.MarkupPercentage,
		MaxPages:         cfg.CJ.MaxPages,
	}, repos.Product, svc.CJ)

	videoCfg := &service.VideoConfig{
		APIKey:       cfg.YouTube.APIKey,
		BaseURL:      cfg.YouTube.BaseURL,
		SearchCost:   cfg.YouTube.SearchCost,
		VideoCost:    cfg.YouTube.VideoCost,
		ChannelCost:  cfg.YouTube.ChannelCost,
		ResultBuffer: cfg.YouTube.ResultBuffer,
		Timeout:      cfg.YouTube.Timeout,
	}
	svc.Videos = service.NewVideoService(videoCfg, repos.Video, quota)

	svc.Reviews = service.NewReviewService(&service.ReviewConfig{MaxReviews: cfg.Reviews.MaxReviews},
		reviewSources(cfg, videoCfg, repos.Video, quota)...)

	svc.Alerts = service.NewAlertService(repos.Subscription, service.NewNotifier(cfg.Notify.WebhookURL))
	svc.Mirror = initMirror(cfg)

	svc.Gateway = service.NewStripeGateway(&service.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		BaseURL:       cfg.Stripe.BaseURL,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	})

	svc.Fulfillment = service.NewFulfillmentService(&service.FulfillmentConfig{
		ItemDelay:        cfg.Fulfillment.ItemDelay,
		StatusCheckDelay: cfg.Fulfillment.StatusCheckDelay,
		RetryWindow:      cfg.Fulfillment.RetryWindow,
		RetryDelay:       cfg.Fulfillment.RetryDelay,
	}, repos.Order, scheduler, service.NewNotifier(cfg.Notify.WebhookURL),
		svc.CJ,
		service.NewAmazonDispatcher(cfg.Fulfillment.ItemDelay, service.ContextSleep),
	)
	svc.Checkout = service.NewCheckoutService(repos.Order, repos.Product, svc.Gateway, svc.Fulfillment, scheduler)

	svc.Subscriptions = service.NewSubscriptionService(repos.Subscription)
	svc.Products = service.NewProductService(repos.Product)

	autoDeps := service.AutomationDeps{
		Scanner:  svc.Trend,
		Matcher:  svc.Matcher,
		Products: repos.Product,
		Videos:   svc.Videos,
		Reviews:  svc.Reviews,
		Alerts:   svc.Alerts,
	}
	if svc.Mirror != nil {
		autoDeps.Mirror = svc.Mirror
	}
	svc.Automation = service.NewAutomationService(&service.AutomationConfig{
		TimeWindow:         cfg.Automation.TimeWindow,
		ScanLimit:          cfg.Automation.ScanLimit,
		MaxProducts:        cfg.Automation.MaxProducts,
		VideoProductLimit:  cfg.Automation.VideoProductLimit,
		MinVideos:          cfg.Automation.MinVideos,
		ReviewProductLimit: cfg.Automation.ReviewProductLimit,
		MarkupPercentage:   cfg.CJ.MarkupPercentage,
	}, autoDeps)

	return svc
}

// reviewSources marketplace page first when configured, then Reddit, then
// YouTube comments when an API key is set.
func reviewSources(cfg *config.Config, videoCfg *service.VideoConfig, videos repository.VideoRepository, quota service.QuotaStore) []service.ReviewSource {
	var sources []service.ReviewSource
	if cfg.Reviews.HTMLSearchURL != "" {
		sources = append(sources, service.NewHTMLReviewSource(cfg.Reviews.HTMLName, cfg.Reviews.HTMLSearchURL, nil, cfg.Reviews.Timeout))
	}
	sources = append(sources, service.NewRedditReviewSource(cfg.Reddit.BaseURL, cfg.Reddit.UserAgent, cfg.Reviews.Timeout))
	if videoCfg.APIKey != "" {
		sources = append(sources, service.NewYouTubeCommentSource(videoCfg, videos, quota))
	}
	return sources
}

func initMirror(cfg *config.Config) *service.ImageMirror {
	if !cfg.Storage.Enabled() {
		return nil
	}
	store, err := service.NewObjectStore(&service.StorageConfig{
		Provider:  cfg.Storage.Provider,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Endpoint:  cfg.Storage.Endpoint,
		CDNDomain: cfg.Storage.CDNDomain,
		BasePath:  cfg.Storage.BasePath,
	})
	if err != nil {
		logger.Named("[Main]").Warnw("object storage unavailable, images stay on supplier CDNs", "error", err)
		return nil
	}
	return service.NewImageMirror(store, cfg.Storage.BasePath)
}

// uploadsDir directory served at /uploads when mirroring to local disk.
func uploadsDir(cfg *config.Config) string {
	if cfg.Storage.Provider != "local" {
		return ""
	}
	if cfg.Storage.BasePath == "" {
		return "./uploads"
	}
	return cfg.Storage.BasePath
}

// ==================== HTTP wiring ====================

func taskConfig(cfg *config.Config) *task.TaskManagerConfig {
	return &task.TaskManagerConfig{
		RunCron:       cfg.Automation.RunCron,
		PriceSyncCron: cfg.Automation.PriceSyncCron,
		RetryCron:     cfg.Fulfillment.RetryCron,
		RetryEnabled:  cfg.Fulfillment.RetryCronEnabled,
		RetryWindow:   cfg.Fulfillment.RetryWindow,
	}
}

func initControllers(svc *Services, jobs *task.TaskManager) *router.Controllers {
	return &router.Controllers{
		Automation:   controller.NewAutomationController(svc.Automation, jobs, 30*time.Minute),
		Product:      controller.NewProductController(svc.Products),
		Video:        controller.NewVideoController(svc.Videos),
		Checkout:     controller.NewCheckoutController(svc.Checkout),
		Fulfillment:  controller.NewFulfillmentController(svc.Fulfillment, 10*time.Minute),
		Subscription: controller.NewSubscriptionController(svc.Subscriptions),
	}
}

// Close releases the connections opened by initDependencies.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if sqlDB, err := d.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
