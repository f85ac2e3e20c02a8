package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ==================== Config ====================

// Config application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Reddit      RedditConfig
	CJ          CJConfig
	YouTube     YouTubeConfig
	Stripe      StripeConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Notify      NotifyConfig
	Reviews     ReviewsConfig
	Fulfillment FulfillmentConfig
	Automation  AutomationConfig
}

type ServerConfig struct {
	Port        string
	Mode        string // debug | release
	CORSOrigins []string
	RunCooldown time.Duration // minimum gap between manual pipeline runs
}

type DatabaseConfig struct {
	DSN string
}

type RedditConfig struct {
	BaseURL      string
	UserAgent    string
	Channels     []string
	MaxResults   int
	RequestEvery time.Duration
	Timeout      time.Duration
}

type CJConfig struct {
	BaseURL          string
	Email            string
	Password         string
	Cooldown         time.Duration
	MarkupPercentage float64
	MaxPages         int
	Timeout          time.Duration
}

type YouTubeConfig struct {
	APIKey       string
	BaseURL      string
	DailyQuota   int
	SearchCost   int
	VideoCost    int
	ChannelCost  int
	ResultBuffer int
	Timeout      time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	SuccessURL    string
	CancelURL     string
}

type StorageConfig struct {
	Provider  string // s3 | local
	Endpoint  string // S3-compatible endpoint; local: public base URL
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	CDNDomain string
	BasePath  string
}

// Enabled image mirroring needs a bucket and region, unless it writes to
// the local disk under BasePath.
func (s StorageConfig) Enabled() bool {
	if s.Provider == "local" {
		return true
	}
	return s.Bucket != "" && s.Region != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NotifyConfig struct {
	WebhookURL string
}

// ReviewsConfig HTMLSearchURL holds one %s for the escaped product name;
// empty disables the HTML source.
type ReviewsConfig struct {
	MaxReviews    int
	HTMLName      string
	HTMLSearchURL string
	Timeout       time.Duration
}

type FulfillmentConfig struct {
	ItemDelay        time.Duration
	StatusCheckDelay time.Duration
	RetryWindow      time.Duration
	RetryDelay       time.Duration
	RetryCron        string
	RetryCronEnabled bool
}

type AutomationConfig struct {
	RunCron            string
	PriceSyncCron      string
	TimeWindow         string
	ScanLimit          int
	MaxProducts        int
	VideoProductLimit  int
	ReviewProductLimit int
	MinVideos          int
}

// ==================== Loading ====================

// Load reads .env (optional), then an optional config file, then the environment.
// Environment keys use underscores: CJ_EMAIL overrides cj.email.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.run_cooldown", 5*time.Minute)

	v.SetDefault("database.dsn", "host=localhost user=videoshop password=videoshop dbname=videoshop port=5432 sslmode=disable")

	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.user_agent", "VideoShop Product Discovery Bot 1.0")
	v.SetDefault("reddit.channels", []string{
		"BuyItForLife", "shutupandtakemymoney", "ProductPorn", "gadgets",
		"DidntKnowIWantedThat", "amazon", "deals",
	})
	v.SetDefault("reddit.max_results", 50)
	v.SetDefault("reddit.request_every", time.Second)
	v.SetDefault("reddit.timeout", 15*time.Second)

	v.SetDefault("cj.base_url", "https://developers.cjdropshipping.com/api2.0/v1")
	v.SetDefault("cj.cooldown", 310*time.Second)
	v.SetDefault("cj.markup_percentage", 28.0)
	v.SetDefault("cj.max_pages", 1)
	v.SetDefault("cj.timeout", 30*time.Second)

	v.SetDefault("youtube.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("youtube.daily_quota", 10000)
	v.SetDefault("youtube.search_cost", 100)
	v.SetDefault("youtube.video_cost", 1)
	v.SetDefault("youtube.channel_cost", 1)
	v.SetDefault("youtube.result_buffer", 2)
	v.SetDefault("youtube.timeout", 15*time.Second)

	v.SetDefault("stripe.base_url", "https://api.stripe.com/v1")
	v.SetDefault("stripe.success_url", "http://localhost:3000/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancel_url", "http://localhost:3000/cart")

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.base_path", "videoshop")

	v.SetDefault("reviews.max_reviews", 5)
	v.SetDefault("reviews.html_name", "web")
	v.SetDefault("reviews.timeout", 15*time.Second)

	v.SetDefault("fulfillment.item_delay", 2*time.Second)
	v.SetDefault("fulfillment.status_check_delay", 60*time.Second)
	v.SetDefault("fulfillment.retry_window", 24*time.Hour)
	v.SetDefault("fulfillment.retry_delay", 5*time.Second)
	v.SetDefault("fulfillment.retry_cron", "0 0 * * * *")
	v.SetDefault("fulfillment.retry_cron_enabled", false)

	v.SetDefault("automation.run_cron", "0 0 */6 * * *")
	v.SetDefault("automation.price_sync_cron", "0 30 3 * * *")
	v.SetDefault("automation.time_window", "day")
	v.SetDefault("automation.scan_limit", 50)
	v.SetDefault("automation.max_products", 8)
	v.SetDefault("automation.video_product_limit", 4)
	v.SetDefault("automation.review_product_limit", 4)
	v.SetDefault("automation.min_videos", 3)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Mode:        v.GetString("server.mode"),
			CORSOrigins: v.GetStringSlice("server.cors_origins"),
			RunCooldown: v.GetDuration("server.run_cooldown"),
		},
		Database: DatabaseConfig{DSN: v.GetString("database.dsn")},
		Reddit: RedditConfig{
			BaseURL:      v.GetString("reddit.base_url"),
			UserAgent:    v.GetString("reddit.user_agent"),
			Channels:     v.GetStringSlice("reddit.channels"),
			MaxResults:   v.GetInt("reddit.max_results"),
			RequestEvery: v.GetDuration("reddit.request_every"),
			Timeout:      v.GetDuration("reddit.timeout"),
		},
		CJ: CJConfig{
			BaseURL:          v.GetString("cj.base_url"),
			Email:            v.GetString("cj.email"),
			Password:         v.GetString("cj.password"),
			Cooldown:         v.GetDuration("cj.cooldown"),
			MarkupPercentage: v.GetFloat64("cj.markup_percentage"),
			MaxPages:         v.GetInt("cj.max_pages"),
			Timeout:          v.GetDuration("cj.timeout"),
		},
		YouTube: YouTubeConfig{
			APIKey:       v.GetString("youtube.api_key"),
			BaseURL:      v.GetString("youtube.base_url"),
			DailyQuota:   v.GetInt("youtube.daily_quota"),
			SearchCost:   v.GetInt("youtube.search_cost"),
			VideoCost:    v.GetInt("youtube.video_cost"),
			ChannelCost:  v.GetInt("youtube.channel_cost"),
			ResultBuffer: v.GetInt("youtube.result_buffer"),
			Timeout:      v.GetDuration("youtube.timeout"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe.secret_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
			BaseURL:       v.GetString("stripe.base_url"),
			SuccessURL:    v.GetString("stripe.success_url"),
			CancelURL:     v.GetString("stripe.cancel_url"),
		},
		Storage: StorageConfig{
			Provider:  v.GetString("storage.provider"),
			Endpoint:  v.GetString("storage.endpoint"),
			Bucket:    v.GetString("storage.bucket"),
			Region:    v.GetString("storage.region"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			CDNDomain: v.GetString("storage.cdn_domain"),
			BasePath:  v.GetString("storage.base_path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Notify: NotifyConfig{WebhookURL: v.GetString("notify.webhook_url")},
		Reviews: ReviewsConfig{
			MaxReviews:    v.GetInt("reviews.max_reviews"),
			HTMLName:      v.GetString("reviews.html_name"),
			HTMLSearchURL: v.GetString("reviews.html_search_url"),
			Timeout:       v.GetDuration("reviews.timeout"),
		},
		Fulfillment: FulfillmentConfig{
			ItemDelay:        v.GetDuration("fulfillment.item_delay"),
			StatusCheckDelay: v.GetDuration("fulfillment.status_check_delay"),
			RetryWindow:      v.GetDuration("fulfillment.retry_window"),
			RetryDelay:       v.GetDuration("fulfillment.retry_delay"),
			RetryCron:        v.GetString("fulfillment.retry_cron"),
			RetryCronEnabled: v.GetBool("fulfillment.retry_cron_enabled"),
		},
		Automation: AutomationConfig{
			RunCron:            v.GetString("automation.run_cron"),
			PriceSyncCron:      v.GetString("automation.price_sync_cron"),
			TimeWindow:         v.GetString("automation.time_window"),
			ScanLimit:          v.GetInt("automation.scan_limit"),
			MaxProducts:        v.GetInt("automation.max_products"),
			VideoProductLimit:  v.GetInt("automation.video_product_limit"),
			ReviewProductLimit: v.GetInt("automation.review_product_limit"),
			MinVideos:          v.GetInt("automation.min_videos"),
		},
	}
}
