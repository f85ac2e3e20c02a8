package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"videoshop/internal/model"
	"videoshop/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownPlatform an order item names a supplier with no dispatcher.
var ErrUnknownPlatform = errors.New("unknown supplier platform")

// ==================== Dispatcher contract ====================

// SupplierOrderRequest one item handed to a supplier.
type SupplierOrderRequest struct {
	// Reference our order number plus item position, e.g. VS-123456-AB12-1
	Reference string
	ProductID string
	VariantID string
	Quantity  int
	Address   model.Address
	Remark    string
}

type SupplierOrderResult struct {
	SupplierOrderID string
	TrackingNumber  string
	TrackingURL     string
	// Raw supplier response kept on the fulfillment attempt
	Raw string
}

type SupplierOrderStatus struct {
	SupplierOrderID string
	Status          string
	TrackingNumber  string
	TrackingURL     string
}

// SupplierDispatcher order side of a supplier integration.
type SupplierDispatcher interface {
	Platform() string
	CreateOrder(ctx context.Context, req SupplierOrderRequest) (*SupplierOrderResult, error)
	OrderStatus(ctx context.Context, supplierOrderID string) (*SupplierOrderStatus, error)
}

// ==================== Sleeper ====================

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately; for tests and dry runs.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// ==================== Simulated Amazon ====================

// AmazonDispatcher there is no public ordering API, so orders are simulated:
// ids and tracking numbers are generated after a short processing pause.
type AmazonDispatcher struct {
	delay time.Duration
	sleep Sleeper
	now   func() time.Time
	log   *zap.SugaredLogger
}

func NewAmazonDispatcher(delay time.Duration, sleep Sleeper) *AmazonDispatcher {
	if sleep == nil {
		sleep = ContextSleep
	}
	return &AmazonDispatcher{
		delay: delay,
		sleep: sleep,
		now:   time.Now,
		log:   logger.Named("[Amazon]"),
	}
}

func (a *AmazonDispatcher) Platform() string {
	return model.PlatformAmazon
}

func (a *AmazonDispatcher) CreateOrder(ctx context.Context, req SupplierOrderRequest) (*SupplierOrderResult, error) {
	if err := a.sleep(ctx, a.delay); err != nil {
		return nil, fmt.Errorf("amazon fulfillment failed: %w", err)
	}

	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	orderID := fmt.Sprintf("AMZ-%d-%s", a.now().UnixMilli(), strings.ToLower(token[:8]))
	tracking := "1Z" + token[8:24]

	raw, _ := json.Marshal(map[string]string{
		"orderId":        orderID,
		"trackingNumber": tracking,
		"status":         "confirmed",
	})
	a.log.Infow("simulated order placed", "reference", req.Reference, "order", orderID)
	return &SupplierOrderResult{
		SupplierOrderID: orderID,
		TrackingNumber:  tracking,
		TrackingURL:     "https://www.amazon.com/gp/your-account/order-details?orderID=" + orderID,
		Raw:             string(raw),
	}, nil
}

// OrderStatus simulated orders never report progress on their own.
func (a *AmazonDispatcher) OrderStatus(_ context.Context, supplierOrderID string) (*SupplierOrderStatus, error) {
	return &SupplierOrderStatus{SupplierOrderID: supplierOrderID, Status: "confirmed"}, nil
}

// ==================== Delivery estimate ====================

// EstimatedDeliveryDays typical transit time per supplier platform.
func EstimatedDeliveryDays(platform string) int {
	switch platform {
	case model.PlatformCJ:
		return 10
	case model.PlatformAmazon:
		return 2
	default:
		return 5
	}
}

// EstimatedDelivery the slowest item decides the order's estimate.
func EstimatedDelivery(order *model.Order, now time.Time) time.Time {
	days := 0
	for i := range order.Items {
		if d := EstimatedDeliveryDays(order.Items[i].Platform()); d > days {
			days = d
		}
	}
	if days == 0 {
		days = EstimatedDeliveryDays("")
	}
	return now.AddDate(0, 0, days)
}
