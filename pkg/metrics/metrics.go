package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoshop_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videoshop_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)
	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoshop_pipeline_runs_total",
			Help: "Pipeline runs by final status.",
		},
		[]string{"status"},
	)
	pipelineProducts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoshop_pipeline_products_total",
			Help: "Products flowing through pipeline stages.",
		},
		[]string{"stage"},
	)
	supplierSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoshop_supplier_cooldown_skips_total",
			Help: "Supplier calls skipped because of the cooldown window.",
		},
		[]string{"supplier"},
	)
	videoQuotaUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "videoshop_video_quota_used_units",
			Help: "Estimated video API quota units spent today.",
		},
	)
	fulfillmentItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoshop_fulfillment_items_total",
			Help: "Fulfillment dispatches by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration,
		pipelineRuns, pipelineProducts, supplierSkips,
		videoQuotaUsed, fulfillmentItems,
	)
}

// RecordRequest records metrics for one HTTP request.
func RecordRequest(method, route string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func classifyStatus(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "unknown"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}

func PipelineRun(status string) {
	pipelineRuns.WithLabelValues(status).Inc()
}

func PipelineProducts(stage string, n int) {
	pipelineProducts.WithLabelValues(stage).Add(float64(n))
}

func SupplierSkip(supplier string) {
	supplierSkips.WithLabelValues(supplier).Inc()
}

func VideoQuotaUsed(units int) {
	videoQuotaUsed.Set(float64(units))
}

func FulfillmentItem(platform, outcome string) {
	fulfillmentItems.WithLabelValues(platform, outcome).Inc()
}

// Handler exports the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
