package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"
	"videoshop/pkg/metrics"

	"go.uber.org/zap"
)

var (
	ErrOrderNotFulfillable = errors.New("order cannot be fulfilled")
	ErrOrderInFlight       = errors.New("order is already being fulfilled")
)

// Scheduler runs fn once after delay. Implementations live in internal/task.
type Scheduler interface {
	Schedule(delay time.Duration, name string, fn func(ctx context.Context)) string
}

// ==================== FulfillmentService ====================

type FulfillmentConfig struct {
	ItemDelay        time.Duration
	StatusCheckDelay time.Duration
	RetryWindow      time.Duration
	RetryDelay       time.Duration
	RetryBatch       int
}

// FulfillmentService dispatches paid orders to suppliers item by item.
type FulfillmentService struct {
	cfg         *FulfillmentConfig
	orders      repository.OrderRepository
	dispatchers map[string]SupplierDispatcher
	scheduler   Scheduler
	notifier    Notifier
	sleep       Sleeper
	now         func() time.Time
	log         *zap.SugaredLogger

	// order id -> struct{} while ProcessOrder runs for it
	inflight sync.Map
}

func NewFulfillmentService(
	cfg *FulfillmentConfig,
	orders repository.OrderRepository,
	scheduler Scheduler,
	notifier Notifier,
	dispatchers ...SupplierDispatcher,
) *FulfillmentService {
	if cfg.ItemDelay == 0 {
		cfg.ItemDelay = 2 * time.Second
	}
	if cfg.StatusCheckDelay == 0 {
		cfg.StatusCheckDelay = time.Minute
	}
	if cfg.RetryWindow == 0 {
		cfg.RetryWindow = 24 * time.Hour
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.RetryBatch == 0 {
		cfg.RetryBatch = 100
	}
	if notifier == nil {
		notifier = NewLogNotifier()
	}

	byPlatform := make(map[string]SupplierDispatcher, len(dispatchers))
	for _, d := range dispatchers {
		byPlatform[d.Platform()] = d
	}
	return &FulfillmentService{
		cfg:         cfg,
		orders:      orders,
		dispatchers: byPlatform,
		scheduler:   scheduler,
		notifier:    notifier,
		sleep:       ContextSleep,
		now:         time.Now,
		log:         logger.Named("[Fulfillment]"),
	}
}

// WithSleeper replaces the inter-item pause; tests pass NoSleep.
func (s *FulfillmentService) WithSleeper(sleep Sleeper) *FulfillmentService {
	s.sleep = sleep
	return s
}

// ProcessOrder dispatches every pending item of an order to its supplier.
// Item failures are recorded on the item and never abort the loop. Any other
// failure marks the order's fulfillment failed with an internal note, so the
// retry sweep picks up the items still pending.
//
// Only one ProcessOrder runs per order in this process; a second caller gets
// ErrOrderInFlight. Across processes each item is claimed in the database
// before it is dispatched.
func (s *FulfillmentService) ProcessOrder(ctx context.Context, orderID int64) error {
	if _, busy := s.inflight.LoadOrStore(orderID, struct{}{}); busy {
		return fmt.Errorf("%w: order %d", ErrOrderInFlight, orderID)
	}
	defer s.inflight.Delete(orderID)

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	switch order.Status {
	case model.OrderStatusCancelled, model.OrderStatusRefunded:
		return fmt.Errorf("%w: %s is %s", ErrOrderNotFulfillable, order.OrderNumber, order.Status)
	}

	s.log.Infow("processing order", "order", order.OrderNumber, "items", len(order.Items))
	if err := s.dispatchItems(ctx, order); err != nil {
		s.log.Errorw("order fulfillment failed", "order", order.OrderNumber, "error", err)
		notes := "Auto-fulfillment failed: " + err.Error()
		// detached so a cancelled run still leaves the note behind
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if uerr := s.orders.UpdateFields(saveCtx, order.ID, map[string]interface{}{
			"status":             model.OrderStatusProcessing,
			"fulfillment_status": model.OrderFulfillmentFailed,
			"internal_notes":     notes,
		}); uerr != nil {
			s.log.Errorw("record failure note", "order", order.OrderNumber, "error", uerr)
		}
		return err
	}

	s.log.Infow("order processed", "order", order.OrderNumber, "fulfillment", order.FulfillmentStatus)
	s.notify(ctx, fulfillmentUpdate(order, s.now()))
	return nil
}

func (s *FulfillmentService) dispatchItems(ctx context.Context, order *model.Order) error {
	order.Status = model.OrderStatusProcessing
	order.FulfillmentStatus = model.OrderFulfillmentProcessing
	if err := s.orders.UpdateFields(ctx, order.ID, map[string]interface{}{
		"status":             order.Status,
		"fulfillment_status": order.FulfillmentStatus,
	}); err != nil {
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.FulfillmentStatus != model.ItemPending && item.FulfillmentStatus != "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		claimed, err := s.orders.ClaimItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if !claimed {
			s.log.Infow("item claimed elsewhere", "order", order.OrderNumber, "item", i+1)
			item.FulfillmentStatus = model.ItemProcessing
			continue
		}

		s.log.Infow("dispatching item", "order", order.OrderNumber, "item", i+1, "of", len(order.Items), "product", item.ProductName)
		if err := item.Transition(model.ItemProcessing); err != nil {
			return err
		}
		result, err := s.dispatch(ctx, order, i)
		if err != nil {
			s.failItem(order, i, err)
		} else {
			s.itemOrdered(order, i, result)
		}
		// the supplier call happened, so its outcome is recorded even after cancel
		if err := s.orders.SaveProgress(context.WithoutCancel(ctx), order, item); err != nil {
			return err
		}

		if i < len(order.Items)-1 {
			if err := s.sleep(ctx, s.cfg.ItemDelay); err != nil {
				return err
			}
		}
	}

	order.RecomputeFulfillmentStatus()
	return s.orders.UpdateFields(ctx, order.ID, map[string]interface{}{
		"fulfillment_status": order.FulfillmentStatus,
	})
}

func (s *FulfillmentService) dispatch(ctx context.Context, order *model.Order, idx int) (*SupplierOrderResult, error) {
	item := &order.Items[idx]
	sup := item.Supplier.Data()
	d, ok := s.dispatchers[sup.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, sup.Platform)
	}

	addr := order.ShippingAddress.Data()
	if addr.Phone == "" {
		addr.Phone = order.Customer.Data().Phone
	}
	if addr.Name == "" {
		addr.Name = order.Customer.Data().Name
	}
	return d.CreateOrder(ctx, SupplierOrderRequest{
		Reference: fmt.Sprintf("%s-%d", order.OrderNumber, idx+1),
		ProductID: sup.ProductID,
		VariantID: sup.VariantID,
		Quantity:  item.Quantity,
		Address:   addr,
		Remark:    "VideoShop Order " + order.OrderNumber,
	})
}

func (s *FulfillmentService) failItem(order *model.Order, idx int, cause error) {
	item := &order.Items[idx]
	platform := item.Platform()
	if err := item.Transition(model.ItemFailed); err != nil {
		s.log.Warnw("item transition", "order", order.OrderNumber, "item", idx+1, "error", err)
	}
	item.FulfillmentNotes = cause.Error()
	order.AddAttempt(model.FulfillmentAttempt{
		Timestamp: s.now(),
		Supplier:  platform,
		ItemIndex: idx,
		Status:    model.AttemptFailed,
		Error:     cause.Error(),
	})
	metrics.FulfillmentItem(platform, model.AttemptFailed)
	s.log.Warnw("item failed", "order", order.OrderNumber, "item", idx+1, "product", item.ProductName, "error", cause)
}

func (s *FulfillmentService) itemOrdered(order *model.Order, idx int, res *SupplierOrderResult) {
	item := &order.Items[idx]
	platform := item.Platform()
	if err := item.Transition(model.ItemOrdered); err != nil {
		s.log.Warnw("item transition", "order", order.OrderNumber, "item", idx+1, "error", err)
	}
	item.SupplierOrderID = res.SupplierOrderID
	item.TrackingNumber = res.TrackingNumber
	item.TrackingURL = res.TrackingURL
	item.FulfillmentNotes = fmt.Sprintf("%s order placed successfully. Order ID: %s", platform, res.SupplierOrderID)
	order.AddAttempt(model.FulfillmentAttempt{
		Timestamp: s.now(),
		Supplier:  platform,
		ItemIndex: idx,
		Status:    model.AttemptSuccess,
		Response:  res.Raw,
	})
	metrics.FulfillmentItem(platform, model.AttemptSuccess)
	s.log.Infow("item ordered", "order", order.OrderNumber, "item", idx+1, "supplier_order", res.SupplierOrderID)

	// tracking arrives later for suppliers that ship asynchronously
	if res.TrackingNumber == "" && s.scheduler != nil {
		orderID := order.ID
		name := fmt.Sprintf("status-check %s#%d", order.OrderNumber, idx+1)
		s.scheduler.Schedule(s.cfg.StatusCheckDelay, name, func(ctx context.Context) {
			if err := s.CheckItemStatus(ctx, orderID, idx); err != nil {
				s.log.Warnw("status check failed", "job", name, "error", err)
			}
		})
	}
}

// CheckItemStatus polls the supplier for one item. A tracking number moves
// the item to shipped and a delivered report moves it to delivered. The order
// ships once every item has, and is delivered once every item is.
func (s *FulfillmentService) CheckItemStatus(ctx context.Context, orderID int64, itemIndex int) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	if itemIndex < 0 || itemIndex >= len(order.Items) {
		return fmt.Errorf("order %s has no item %d", order.OrderNumber, itemIndex)
	}
	item := &order.Items[itemIndex]
	if item.SupplierOrderID == "" {
		return fmt.Errorf("item %d of %s has no supplier order", itemIndex, order.OrderNumber)
	}
	d, ok := s.dispatchers[item.Platform()]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, item.Platform())
	}

	st, err := d.OrderStatus(ctx, item.SupplierOrderID)
	if err != nil {
		return err
	}
	delivered := strings.EqualFold(st.Status, model.ItemDelivered)
	if st.TrackingNumber == "" && !delivered {
		s.log.Infow("no tracking yet", "order", order.OrderNumber, "item", itemIndex+1, "supplier_status", st.Status)
		return nil
	}

	now := s.now()
	shipped := false
	if st.TrackingNumber != "" && model.CanTransition(item.FulfillmentStatus, model.ItemShipped) {
		_ = item.Transition(model.ItemShipped)
		item.TrackingNumber = st.TrackingNumber
		item.TrackingURL = st.TrackingURL
		if item.TrackingURL == "" {
			item.TrackingURL = "https://www.17track.net/en/track#nums=" + st.TrackingNumber
		}
		item.FulfillmentNotes = "Shipped with tracking: " + st.TrackingNumber
		item.ShippedAt = &now
		shipped = true
	}
	arrived := false
	if delivered && model.CanTransition(item.FulfillmentStatus, model.ItemDelivered) {
		_ = item.Transition(model.ItemDelivered)
		if item.ShippedAt == nil {
			item.ShippedAt = &now
		}
		item.FulfillmentNotes = "Delivered"
		arrived = true
	}
	if !shipped && !arrived {
		return nil
	}

	if order.AllShipped() && order.ShippedAt == nil {
		order.ShippedAt = &now
		order.Status = model.OrderStatusShipped
	}
	if order.AllDelivered() && order.DeliveredAt == nil {
		order.DeliveredAt = &now
		order.Status = model.OrderStatusDelivered
	}
	order.RecomputeFulfillmentStatus()
	if err := s.orders.Save(ctx, order); err != nil {
		return err
	}

	if !shipped {
		s.log.Infow("item delivered", "order", order.OrderNumber, "item", itemIndex+1, "fulfillment", order.FulfillmentStatus)
		return nil
	}
	s.log.Infow("tracking updated", "order", order.OrderNumber, "item", itemIndex+1, "tracking", st.TrackingNumber)
	s.notify(ctx, Notification{
		Kind:      NotifyTracking,
		Recipient: order.CustomerEmail,
		Subject:   "Your order has shipped - " + order.OrderNumber,
		Data: map[string]interface{}{
			"product":            item.ProductName,
			"tracking_number":    item.TrackingNumber,
			"tracking_url":       item.TrackingURL,
			"estimated_delivery": now.AddDate(0, 0, EstimatedDeliveryDays(item.Platform())).Format("Monday, January 2, 2006"),
		},
	})
	return nil
}

// ==================== Retry sweep ====================

type RetryReport struct {
	Found     int      `json:"found"`
	Retried   int      `json:"retried"`
	Recovered int      `json:"recovered"`
	Errors    []string `json:"errors,omitempty"`
}

// RetryFailed re-dispatches failed items of paid orders created within the
// window, one order at a time. window <= 0 uses the configured default.
func (s *FulfillmentService) RetryFailed(ctx context.Context, window time.Duration) (*RetryReport, error) {
	if window <= 0 {
		window = s.cfg.RetryWindow
	}
	orders, err := s.orders.ListFailedSince(ctx, s.now().Add(-window), s.cfg.RetryBatch)
	if err != nil {
		return nil, fmt.Errorf("list failed orders: %w", err)
	}

	report := &RetryReport{Found: len(orders)}
	s.log.Infow("retrying failed fulfillments", "orders", len(orders), "window", window)
	for i := range orders {
		order := &orders[i]
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
				return report, err
			}
		}

		var resetErr error
		for j := range order.Items {
			if order.Items[j].ResetForRetry() {
				if err := s.orders.SaveItem(ctx, &order.Items[j]); err != nil {
					resetErr = err
					break
				}
			}
		}
		if resetErr != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", order.OrderNumber, resetErr))
			continue
		}

		report.Retried++
		if err := s.ProcessOrder(ctx, order.ID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", order.OrderNumber, err))
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			continue
		}
		if fresh, err := s.orders.GetByID(ctx, order.ID); err == nil && fresh.FulfillmentStatus != model.OrderFulfillmentFailed {
			report.Recovered++
		}
	}
	return report, nil
}

// ==================== Stats ====================

type SupplierCounts struct {
	Orders int `json:"orders"`
	Items  int `json:"items"`
}

type FulfillmentStats struct {
	Days               int                       `json:"days"`
	TotalOrders        int                       `json:"total_orders"`
	TotalItems         int                       `json:"total_items"`
	ItemStatus         map[string]int            `json:"item_status"`
	Suppliers          map[string]SupplierCounts `json:"suppliers"`
	Attempts           int                       `json:"attempts"`
	AttemptSuccessRate float64                   `json:"attempt_success_rate"`
}

// Stats item and supplier breakdown of paid orders from the last days.
func (s *FulfillmentService) Stats(ctx context.Context, days int) (*FulfillmentStats, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().AddDate(0, 0, -days)

	stats := &FulfillmentStats{
		Days: days,
		ItemStatus: map[string]int{
			model.ItemPending: 0, model.ItemProcessing: 0, model.ItemOrdered: 0,
			model.ItemShipped: 0, model.ItemDelivered: 0, model.ItemFailed: 0,
		},
		Suppliers: map[string]SupplierCounts{},
	}
	successes := 0
	for page := 1; ; page++ {
		orders, total, err := s.orders.List(ctx, repository.OrderFilter{
			PaymentStatus: model.PaymentStatusPaid,
			StartDate:     &since,
			Page:          page,
			PageSize:      200,
		})
		if err != nil {
			return nil, err
		}
		for _, o := range orders {
			stats.TotalOrders++
			stats.TotalItems += len(o.Items)
			platforms := map[string]bool{}
			for i := range o.Items {
				it := &o.Items[i]
				status := it.FulfillmentStatus
				if status == "" {
					status = model.ItemPending
				}
				stats.ItemStatus[status]++
				c := stats.Suppliers[it.Platform()]
				c.Items++
				stats.Suppliers[it.Platform()] = c
				platforms[it.Platform()] = true
			}
			for p := range platforms {
				c := stats.Suppliers[p]
				c.Orders++
				stats.Suppliers[p] = c
			}
			for _, a := range o.FulfillmentAttempts {
				stats.Attempts++
				if a.Status == model.AttemptSuccess {
					successes++
				}
			}
		}
		if len(orders) == 0 || int64(page*200) >= total {
			break
		}
	}
	if stats.Attempts > 0 {
		stats.AttemptSuccessRate = float64(successes) / float64(stats.Attempts) * 100
	}
	return stats, nil
}

// ==================== Notifications ====================

func (s *FulfillmentService) notify(ctx context.Context, n Notification) {
	if n.Recipient == "" {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warnw("notification failed", "kind", n.Kind, "to", n.Recipient, "error", err)
	}
}

func fulfillmentUpdate(order *model.Order, now time.Time) Notification {
	items := make([]map[string]interface{}, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, map[string]interface{}{
			"name":            it.ProductName,
			"quantity":        it.Quantity,
			"status":          it.FulfillmentStatus,
			"tracking_number": it.TrackingNumber,
		})
	}
	name := order.Customer.Data().Name
	if name == "" {
		name = order.ShippingAddress.Data().Name
	}
	return Notification{
		Kind:      NotifyFulfillmentUpdate,
		Recipient: order.CustomerEmail,
		Subject:   "Order Update - " + order.OrderNumber,
		Data: map[string]interface{}{
			"order_number":       order.OrderNumber,
			"customer_name":      name,
			"items":              items,
			"order_total":        order.Total,
			"estimated_delivery": EstimatedDelivery(order, now).Format("Monday, January 2, 2006"),
		},
	}
}
