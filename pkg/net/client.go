package net

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientConfig outbound client settings
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	ProxyURL  string
	// Retries on transport errors and 5xx. 0 disables retrying.
	Retries int
	Debug   bool
}

// NewClient returns the resty client every integration goes through.
// Calls are always bounded by a timeout; 20s when unset.
func NewClient(cfg ClientConfig) *resty.Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "VideoShop/1.0"
	}

	client := resty.New().
		SetDebug(cfg.Debug).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}
	if cfg.ProxyURL != "" {
		client.SetProxy(cfg.ProxyURL)
	}
	if cfg.Retries > 0 {
		client.SetRetryCount(cfg.Retries).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(3 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}

	return client
}
