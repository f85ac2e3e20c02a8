package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"

	"gorm.io/datatypes"
)

type fulfillmentFixture struct {
	orders    repository.OrderRepository
	cj        *fakeCJ
	scheduler *queuedScheduler
	notifier  *recordingNotifier
	svc       *FulfillmentService
}

func newFulfillmentFixture(t *testing.T) *fulfillmentFixture {
	t.Helper()
	f := &fulfillmentFixture{
		orders:    repository.NewOrderRepository(setupTestDB(t)),
		cj:        newFakeCJ(t),
		scheduler: &queuedScheduler{},
		notifier:  &recordingNotifier{},
	}
	// token expiry must lie in the future of the real clock
	f.cj.expiry = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	cj := NewCJClient(&CJConfig{BaseURL: f.cj.URL(), Email: "ops@example.com", Password: "x", Timeout: 5 * time.Second}, nil)
	f.svc = NewFulfillmentService(&FulfillmentConfig{}, f.orders, f.scheduler, f.notifier,
		cj, NewAmazonDispatcher(0, NoSleep)).WithSleeper(NoSleep)
	return f
}

type testItem struct {
	platform, productID string
	qty                 int
}

func (f *fulfillmentFixture) createPaidOrder(t *testing.T, items ...testItem) *model.Order {
	t.Helper()
	order := &model.Order{
		OrderNumber:     model.NewOrderNumber(time.Now()),
		CustomerEmail:   "buyer@example.com",
		Customer:        datatypes.NewJSONType(model.Customer{Name: "Buyer", Email: "buyer@example.com"}),
		ShippingAddress: datatypes.NewJSONType(model.Address{Name: "Buyer", Line1: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701", Country: "US"}),
		Status:          model.OrderStatusPaid,
		PaymentStatus:   model.PaymentStatusPaid,
	}
	for _, it := range items {
		order.Items = append(order.Items, model.OrderItem{
			ProductName:       "Product " + it.productID,
			Quantity:          it.qty,
			UnitPrice:         20,
			SupplierPrice:     12,
			FulfillmentStatus: model.ItemPending,
			Supplier:          datatypes.NewJSONType(model.ItemSupplier{Platform: it.platform, ProductID: it.productID}),
		})
	}
	order.CalculateTotals()
	if err := f.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (f *fulfillmentFixture) reload(t *testing.T, id int64) *model.Order {
	t.Helper()
	o, err := f.orders.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return o
}

func TestFulfillment_PartialFailure(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.cj.failOrder["p-bad"] = true
	ctx := context.Background()

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p-good", 1}, testItem{model.PlatformCJ, "p-bad", 2})
	if err := f.svc.ProcessOrder(ctx, order.ID); err != nil {
		t.Fatalf("ProcessOrder() error = %v", err)
	}

	got := f.reload(t, order.ID)
	if got.Items[0].FulfillmentStatus != model.ItemOrdered || got.Items[0].SupplierOrderID != "CJO-p-good" {
		t.Errorf("item 1 = %s / %q", got.Items[0].FulfillmentStatus, got.Items[0].SupplierOrderID)
	}
	if got.Items[1].FulfillmentStatus != model.ItemFailed || !strings.Contains(got.Items[1].FulfillmentNotes, "Insufficient inventory") {
		t.Errorf("item 2 = %s / %q", got.Items[1].FulfillmentStatus, got.Items[1].FulfillmentNotes)
	}
	if got.FulfillmentStatus != model.OrderFulfillmentProcessing || got.Status != model.OrderStatusProcessing {
		t.Errorf("order = %s / %s, want processing / processing", got.Status, got.FulfillmentStatus)
	}
	attempts := got.FulfillmentAttempts
	if len(attempts) != 2 || attempts[0].Status != model.AttemptSuccess || attempts[1].Status != model.AttemptFailed || attempts[1].ItemIndex != 1 {
		t.Errorf("attempts = %+v", attempts)
	}
	if orders := f.cj.Orders(); len(orders) != 2 || orders[0].OrderNumber != order.OrderNumber+"-1" || orders[0].ShippingAddress.Phone != "555-0123" {
		t.Errorf("cj orders = %+v", orders)
	}

	// one delayed status check for the placed item
	if f.scheduler.Pending() != 1 {
		t.Fatalf("scheduled jobs = %d, want 1", f.scheduler.Pending())
	}
	f.cj.mu.Lock()
	f.cj.tracking["CJO-p-good"] = "YT123456"
	f.cj.mu.Unlock()
	f.scheduler.RunAll(ctx)

	got = f.reload(t, order.ID)
	item := got.Items[0]
	if item.FulfillmentStatus != model.ItemShipped || item.TrackingNumber != "YT123456" || item.ShippedAt == nil {
		t.Errorf("after status check item = %+v", item)
	}
	if !strings.HasPrefix(item.TrackingURL, "https://www.17track.net/") {
		t.Errorf("tracking url = %q", item.TrackingURL)
	}
	if got.Status == model.OrderStatusShipped || got.ShippedAt != nil {
		t.Error("order must not ship while an item is failed")
	}

	kinds := map[string]int{}
	for _, n := range f.notifier.Sent() {
		kinds[n.Kind]++
	}
	if kinds[NotifyFulfillmentUpdate] != 1 || kinds[NotifyTracking] != 1 {
		t.Errorf("notifications = %v", kinds)
	}
}

func TestFulfillment_AllShippedShipsOrder(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p1", 1})
	if err := f.svc.ProcessOrder(ctx, order.ID); err != nil {
		t.Fatal(err)
	}
	f.cj.mu.Lock()
	f.cj.tracking["CJO-p1"] = "LP0001"
	f.cj.mu.Unlock()
	if err := f.svc.CheckItemStatus(ctx, order.ID, 0); err != nil {
		t.Fatalf("CheckItemStatus() error = %v", err)
	}

	got := f.reload(t, order.ID)
	if got.Status != model.OrderStatusShipped || got.ShippedAt == nil {
		t.Errorf("order = %s shippedAt=%v", got.Status, got.ShippedAt)
	}

	// a second check is a no-op: items never move backwards
	if err := f.svc.CheckItemStatus(ctx, order.ID, 0); err != nil {
		t.Errorf("repeat check error = %v", err)
	}
	if err := f.svc.CheckItemStatus(ctx, order.ID, 5); err == nil {
		t.Error("out of range item should error")
	}
}

func TestFulfillment_AmazonIsSimulated(t *testing.T) {
	f := newFulfillmentFixture(t)
	order := f.createPaidOrder(t, testItem{model.PlatformAmazon, "B0TEST", 1})

	if err := f.svc.ProcessOrder(context.Background(), order.ID); err != nil {
		t.Fatal(err)
	}
	item := f.reload(t, order.ID).Items[0]
	if item.FulfillmentStatus != model.ItemOrdered || !strings.HasPrefix(item.SupplierOrderID, "AMZ-") {
		t.Errorf("item = %s / %q", item.FulfillmentStatus, item.SupplierOrderID)
	}
	if !strings.HasPrefix(item.TrackingNumber, "1Z") || len(item.TrackingNumber) != 18 {
		t.Errorf("tracking = %q", item.TrackingNumber)
	}
	if f.scheduler.Pending() != 0 {
		t.Error("items with tracking need no status check")
	}
	if f.cj.Total() != 0 {
		t.Error("amazon items must not reach CJ")
	}
}

func TestFulfillment_AllFailedThenRetry(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.cj.failOrder["p1"] = true
	ctx := context.Background()

	order := f.createPaidOrder(t, testItem{"aliexpress", "x1", 1}, testItem{model.PlatformCJ, "p1", 1})
	if err := f.svc.ProcessOrder(ctx, order.ID); err != nil {
		t.Fatal(err)
	}
	got := f.reload(t, order.ID)
	if got.FulfillmentStatus != model.OrderFulfillmentFailed {
		t.Fatalf("fulfillment = %s, want failed", got.FulfillmentStatus)
	}
	if !strings.Contains(got.Items[0].FulfillmentNotes, ErrUnknownPlatform.Error()) {
		t.Errorf("unknown platform note = %q", got.Items[0].FulfillmentNotes)
	}

	f.cj.mu.Lock()
	delete(f.cj.failOrder, "p1")
	f.cj.mu.Unlock()

	report, err := f.svc.RetryFailed(ctx, 0)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if report.Found != 1 || report.Retried != 1 || report.Recovered != 1 {
		t.Errorf("report = %+v", report)
	}
	got = f.reload(t, order.ID)
	if got.Items[1].FulfillmentStatus != model.ItemOrdered || got.Items[0].FulfillmentStatus != model.ItemFailed {
		t.Errorf("items after retry = %s, %s", got.Items[0].FulfillmentStatus, got.Items[1].FulfillmentStatus)
	}
	if len(got.FulfillmentAttempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(got.FulfillmentAttempts))
	}

	// nothing failed-only is left, so a second sweep finds nothing
	report, _ = f.svc.RetryFailed(ctx, time.Hour)
	if report.Found != 0 {
		t.Errorf("second sweep found %d", report.Found)
	}
}

func TestFulfillment_OrderLevelErrorMarksFailed(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.svc.WithSleeper(func(context.Context, time.Duration) error { return errors.New("worker shutting down") })

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p1", 1}, testItem{model.PlatformCJ, "p2", 1})
	err := f.svc.ProcessOrder(context.Background(), order.ID)
	if err == nil {
		t.Fatal("ProcessOrder() should surface the loop error")
	}

	got := f.reload(t, order.ID)
	if got.Status != model.OrderStatusProcessing || got.FulfillmentStatus != model.OrderFulfillmentFailed {
		t.Errorf("order = %s / %s, want processing / failed", got.Status, got.FulfillmentStatus)
	}
	if got.InternalNotes != "Auto-fulfillment failed: worker shutting down" {
		t.Errorf("internal notes = %q", got.InternalNotes)
	}
	if got.Items[0].FulfillmentStatus != model.ItemOrdered {
		t.Errorf("first item = %s, want ordered", got.Items[0].FulfillmentStatus)
	}
	if got.Items[1].FulfillmentStatus != model.ItemPending {
		t.Errorf("second item = %s, want untouched", got.Items[1].FulfillmentStatus)
	}
}

func TestFulfillment_CancelledMidLoopIsRetried(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p1", 1}, testItem{model.PlatformCJ, "p2", 1})
	if err := f.svc.ProcessOrder(ctx, order.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessOrder() error = %v, want context.Canceled", err)
	}
	got := f.reload(t, order.ID)
	if got.FulfillmentStatus != model.OrderFulfillmentFailed {
		t.Fatalf("fulfillment = %s, want failed so the sweep finds it", got.FulfillmentStatus)
	}

	f.svc.WithSleeper(NoSleep)
	report, err := f.svc.RetryFailed(context.Background(), 0)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if report.Found != 1 || report.Retried != 1 || report.Recovered != 1 {
		t.Errorf("report = %+v", report)
	}

	got = f.reload(t, order.ID)
	for i, it := range got.Items {
		if it.FulfillmentStatus != model.ItemOrdered {
			t.Errorf("item %d = %s, want ordered", i+1, it.FulfillmentStatus)
		}
	}
	if orders := f.cj.Orders(); len(orders) != 2 {
		t.Errorf("cj orders = %d, want one per item", len(orders))
	}
}

func TestFulfillment_ReprocessSkipsOrderedItems(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p1", 1})
	for i := 0; i < 2; i++ {
		if err := f.svc.ProcessOrder(ctx, order.ID); err != nil {
			t.Fatalf("ProcessOrder() run %d error = %v", i+1, err)
		}
	}

	if orders := f.cj.Orders(); len(orders) != 1 {
		t.Errorf("cj orders = %d, want 1", len(orders))
	}
	if got := f.reload(t, order.ID); len(got.FulfillmentAttempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(got.FulfillmentAttempts))
	}
}

// gatedDispatcher holds every CreateOrder until release is closed.
type gatedDispatcher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedDispatcher() *gatedDispatcher {
	return &gatedDispatcher{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedDispatcher) Platform() string { return "gated" }

func (g *gatedDispatcher) CreateOrder(ctx context.Context, req SupplierOrderRequest) (*SupplierOrderResult, error) {
	n := g.calls.Add(1)
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &SupplierOrderResult{SupplierOrderID: fmt.Sprintf("G-%d", n), TrackingNumber: "TRK" + req.Reference}, nil
}

func (g *gatedDispatcher) OrderStatus(_ context.Context, id string) (*SupplierOrderStatus, error) {
	return &SupplierOrderStatus{SupplierOrderID: id, Status: "confirmed"}, nil
}

func TestFulfillment_ConcurrentProcessDispatchesOnce(t *testing.T) {
	f := newFulfillmentFixture(t)
	gate := newGatedDispatcher()
	svc := NewFulfillmentService(&FulfillmentConfig{}, f.orders, f.scheduler, f.notifier, gate).WithSleeper(NoSleep)
	ctx := context.Background()

	order := f.createPaidOrder(t, testItem{"gated", "g1", 1})
	first := make(chan error, 1)
	go func() { first <- svc.ProcessOrder(ctx, order.ID) }()
	<-gate.entered

	if err := svc.ProcessOrder(ctx, order.ID); !errors.Is(err, ErrOrderInFlight) {
		t.Errorf("second ProcessOrder() error = %v, want ErrOrderInFlight", err)
	}
	// a second worker sharing only the database sees the item already taken
	other := NewFulfillmentService(&FulfillmentConfig{}, f.orders, f.scheduler, f.notifier, gate).WithSleeper(NoSleep)
	if err := other.ProcessOrder(ctx, order.ID); err != nil {
		t.Errorf("other worker ProcessOrder() error = %v", err)
	}

	close(gate.release)
	if err := <-first; err != nil {
		t.Fatalf("first ProcessOrder() error = %v", err)
	}
	if n := gate.calls.Load(); n != 1 {
		t.Errorf("supplier orders = %d, want 1", n)
	}
	if got := f.reload(t, order.ID).Items[0]; got.FulfillmentStatus != model.ItemOrdered || got.SupplierOrderID != "G-1" {
		t.Errorf("item = %s / %q", got.FulfillmentStatus, got.SupplierOrderID)
	}

	// the guard is released once the run ends
	if err := svc.ProcessOrder(ctx, order.ID); err != nil {
		t.Errorf("ProcessOrder() after release error = %v", err)
	}
}

// contestedRepo lets a rival worker claim each item just before this one does.
type contestedRepo struct {
	repository.OrderRepository
}

func (r contestedRepo) ClaimItem(ctx context.Context, itemID int64) (bool, error) {
	if _, err := r.OrderRepository.ClaimItem(ctx, itemID); err != nil {
		return false, err
	}
	return r.OrderRepository.ClaimItem(ctx, itemID)
}

func TestFulfillment_LostClaimSkipsDispatch(t *testing.T) {
	f := newFulfillmentFixture(t)
	cj := NewCJClient(&CJConfig{BaseURL: f.cj.URL(), Email: "ops@example.com", Password: "x", Timeout: 5 * time.Second}, nil)
	svc := NewFulfillmentService(&FulfillmentConfig{}, contestedRepo{f.orders}, f.scheduler, f.notifier, cj).WithSleeper(NoSleep)

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p1", 1})
	if err := svc.ProcessOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("ProcessOrder() error = %v", err)
	}
	if f.cj.Total() != 0 {
		t.Errorf("cj requests = %d, want none for a claimed item", f.cj.Total())
	}
	got := f.reload(t, order.ID)
	if got.Items[0].FulfillmentStatus != model.ItemProcessing || len(got.FulfillmentAttempts) != 0 {
		t.Errorf("item = %s, attempts = %d", got.Items[0].FulfillmentStatus, len(got.FulfillmentAttempts))
	}
}

func TestFulfillment_DeliveredCompletesOrder(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p1", 1})
	if err := f.svc.ProcessOrder(ctx, order.ID); err != nil {
		t.Fatal(err)
	}
	f.cj.mu.Lock()
	f.cj.tracking["CJO-p1"] = "LP0001"
	f.cj.mu.Unlock()
	if err := f.svc.CheckItemStatus(ctx, order.ID, 0); err != nil {
		t.Fatalf("CheckItemStatus() error = %v", err)
	}

	f.cj.mu.Lock()
	f.cj.statuses["CJO-p1"] = "DELIVERED"
	f.cj.mu.Unlock()
	if err := f.svc.CheckItemStatus(ctx, order.ID, 0); err != nil {
		t.Fatalf("CheckItemStatus() error = %v", err)
	}

	got := f.reload(t, order.ID)
	if got.Items[0].FulfillmentStatus != model.ItemDelivered {
		t.Errorf("item = %s, want delivered", got.Items[0].FulfillmentStatus)
	}
	if got.Status != model.OrderStatusDelivered || got.DeliveredAt == nil {
		t.Errorf("order = %s deliveredAt=%v", got.Status, got.DeliveredAt)
	}
	if got.FulfillmentStatus != model.OrderFulfillmentComplete {
		t.Errorf("fulfillment = %s, want complete", got.FulfillmentStatus)
	}

	tracking := 0
	for _, n := range f.notifier.Sent() {
		if n.Kind == NotifyTracking {
			tracking++
		}
	}
	if tracking != 1 {
		t.Errorf("tracking notifications = %d, want 1", tracking)
	}
}

func TestFulfillment_RejectsCancelled(t *testing.T) {
	f := newFulfillmentFixture(t)
	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "p1", 1})
	if err := f.orders.UpdateFields(context.Background(), order.ID, map[string]interface{}{"status": model.OrderStatusCancelled}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ProcessOrder(context.Background(), order.ID); !errors.Is(err, ErrOrderNotFulfillable) {
		t.Errorf("ProcessOrder() error = %v, want ErrOrderNotFulfillable", err)
	}
}

func TestFulfillment_Stats(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.cj.failOrder["bad"] = true
	ctx := context.Background()

	order := f.createPaidOrder(t, testItem{model.PlatformCJ, "good", 1}, testItem{model.PlatformCJ, "bad", 1}, testItem{model.PlatformAmazon, "a1", 1})
	if err := f.svc.ProcessOrder(ctx, order.ID); err != nil {
		t.Fatal(err)
	}

	stats, err := f.svc.Stats(ctx, 7)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalOrders != 1 || stats.TotalItems != 3 {
		t.Errorf("totals = %d orders / %d items", stats.TotalOrders, stats.TotalItems)
	}
	if stats.ItemStatus[model.ItemOrdered] != 2 || stats.ItemStatus[model.ItemFailed] != 1 {
		t.Errorf("item status = %v", stats.ItemStatus)
	}
	if c := stats.Suppliers[model.PlatformCJ]; c.Orders != 1 || c.Items != 2 {
		t.Errorf("cj counts = %+v", c)
	}
	if stats.Attempts != 3 || stats.AttemptSuccessRate < 66.6 || stats.AttemptSuccessRate > 66.7 {
		t.Errorf("attempts = %d rate = %.2f", stats.Attempts, stats.AttemptSuccessRate)
	}
}

func TestEstimatedDelivery_SlowestItemWins(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	order := &model.Order{Items: []model.OrderItem{
		{Supplier: datatypes.NewJSONType(model.ItemSupplier{Platform: model.PlatformAmazon})},
		{Supplier: datatypes.NewJSONType(model.ItemSupplier{Platform: model.PlatformCJ})},
	}}
	if got := EstimatedDelivery(order, now); !got.Equal(now.AddDate(0, 0, 10)) {
		t.Errorf("EstimatedDelivery() = %v", got)
	}
}
