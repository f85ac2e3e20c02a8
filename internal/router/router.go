package router

import (
	"net/http"
	"time"

	"videoshop/internal/controller"
	"videoshop/internal/middleware"
	"videoshop/pkg/metrics"
	"videoshop/pkg/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Controllers every HTTP controller of the service
type Controllers struct {
	Automation   *controller.AutomationController
	Product      *controller.ProductController
	Video        *controller.VideoController
	Checkout     *controller.CheckoutController
	Fulfillment  *controller.FulfillmentController
	Subscription *controller.SubscriptionController
}

// Options transport settings
type Options struct {
	CORSOrigins []string
	// RunCooldown minimum gap between manual pipeline runs
	RunCooldown time.Duration
	Limiter     *ratelimit.Cooldown
	// UploadsDir served under /uploads when images are mirrored to local disk
	UploadsDir string
	// Ready backs /healthz; nil always reports ok
	Ready func() error
}

const runCooldownKey = "automation-run"

// SetupRouter builds the engine and registers all routes.
func SetupRouter(ctl *Controllers, opts Options) *gin.Engine {
	if opts.RunCooldown <= 0 {
		opts.RunCooldown = 5 * time.Minute
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewCooldown()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Observe(), corsMiddleware(opts.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		if opts.Ready != nil {
			if err := opts.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if opts.UploadsDir != "" {
		r.Static("/uploads", opts.UploadsDir)
	}

	InitRoutes(r.Group("/api"), ctl, opts)
	return r
}

// InitRoutes registers the /api routes
func InitRoutes(api *gin.RouterGroup, ctl *Controllers, opts Options) {
	// automation pipeline
	automation := api.Group("/automation")
	{
		// POST /api/automation/run, one run per cooldown window
		automation.POST("/run",
			middleware.Cooldown(opts.Limiter, runCooldownKey, opts.RunCooldown),
			ctl.Automation.Run,
		)
		automation.GET("/health", ctl.Automation.Health)
		automation.GET("/stats", ctl.Automation.Stats)
		automation.GET("/products", ctl.Automation.Products)
		automation.GET("/report", ctl.Automation.Report)
		automation.GET("/review-queue", ctl.Automation.ReviewQueue)
		automation.DELETE("/reset", ctl.Automation.Reset)
	}

	// storefront catalog
	products := api.Group("/products")
	{
		products.GET("", ctl.Product.GetProducts)
		products.GET("/featured", ctl.Product.GetFeatured)
		products.GET("/:id", ctl.Product.GetProduct)
		products.POST("/:id/rate", ctl.Product.RateProduct)
	}

	videos := api.Group("/videos")
	{
		videos.GET("", ctl.Video.GetVideos)
		videos.GET("/featured", ctl.Video.GetFeatured)
		videos.GET("/quota", ctl.Video.GetQuota)
		videos.POST("/quota/reset", ctl.Video.ResetQuota)
	}

	checkout := api.Group("/checkout")
	{
		checkout.POST("/create-session", ctl.Checkout.CreateSession)
		// raw body, verified against the Stripe-Signature header
		checkout.POST("/webhook", ctl.Checkout.Webhook)
		checkout.GET("/success/:sessionId", ctl.Checkout.Success)
		checkout.GET("/orders/:email", ctl.Checkout.OrdersByEmail)
	}

	fulfillment := api.Group("/fulfillment")
	{
		fulfillment.POST("/retry", ctl.Fulfillment.Retry)
		fulfillment.GET("/stats", ctl.Fulfillment.Stats)
		fulfillment.POST("/orders/:id/process", ctl.Fulfillment.ProcessOrder)
	}

	subscriptions := api.Group("/subscriptions")
	{
		subscriptions.POST("", ctl.Subscription.Create)
		subscriptions.GET("", ctl.Subscription.List)
		subscriptions.PATCH("/:id", ctl.Subscription.Update)
		subscriptions.DELETE("/:id", ctl.Subscription.Delete)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", middleware.RequestIDHeader, "Stripe-Signature")
	cfg.ExposeHeaders = []string{middleware.RequestIDHeader, "Retry-After"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
