package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"

	"gorm.io/datatypes"
)

type fakeStripe struct {
	srv   *httptest.Server
	mu    sync.Mutex
	forms []map[string]string
}

func newFakeStripe(t *testing.T) *fakeStripe {
	f := &fakeStripe{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if user, _, ok := r.BasicAuth(); !ok || user != "sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/checkout/sessions":
			_ = r.ParseForm()
			form := map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			f.mu.Lock()
			f.forms = append(f.forms, form)
			n := len(f.forms)
			f.mu.Unlock()
			_, _ = fmt.Fprintf(w, `{"id":"cs_%d","url":"https://pay.test/cs_%d"}`, n, n)
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"id":"cs_1","payment_status":"paid"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStripe) LastForm() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forms) == 0 {
		return nil
	}
	return f.forms[len(f.forms)-1]
}

type recordingProcessor struct {
	mu  sync.Mutex
	ids []int64
}

func (p *recordingProcessor) ProcessOrder(_ context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

type checkoutFixture struct {
	orders    repository.OrderRepository
	products  repository.ProductRepository
	stripe    *fakeStripe
	processor *recordingProcessor
	scheduler *queuedScheduler
	svc       *CheckoutService
}

const testWebhookSecret = "whsec_test"

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &checkoutFixture{
		orders:    repository.NewOrderRepository(db),
		products:  repository.NewProductRepository(db),
		stripe:    newFakeStripe(t),
		processor: &recordingProcessor{},
		scheduler: &queuedScheduler{},
	}
	gw := NewStripeGateway(&StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret, BaseURL: f.stripe.srv.URL})
	f.svc = NewCheckoutService(f.orders, f.products, gw, f.processor, f.scheduler)
	return f
}

func (f *checkoutFixture) addProduct(t *testing.T, name string, price, supplierPrice float64) *model.Product {
	t.Helper()
	p := &model.Product{
		Name:              name,
		Price:             price,
		Status:            model.ProductStatusActive,
		SupplierPlatform:  model.PlatformCJ,
		SupplierProductID: "cj-" + name,
		Pricing:           datatypes.NewJSONType(model.Pricing{SupplierPrice: supplierPrice, FinalPrice: price}),
		Images:            []string{"https://img/" + name + ".jpg"},
		Variants:          []model.Variant{{ID: "var-" + name}},
	}
	if err := f.products.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

var testAddress = model.Address{Line1: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701"}

func TestCheckout_CreateSessionPricesCart(t *testing.T) {
	f := newCheckoutFixture(t)
	lamp := f.addProduct(t, "lamp", 20, 12)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, CheckoutRequest{
		Items:           []CartItem{{ProductID: lamp.ID, Quantity: 2}},
		Customer:        model.Customer{Name: "Ann", Email: "Ann@Example.com"},
		ShippingAddress: testAddress,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	// 40 subtotal: flat shipping, 3.20 tax
	if res.Subtotal != 40 || res.Shipping != 9.99 || res.Tax != 3.2 || res.Total != 53.19 {
		t.Errorf("totals = %+v", res)
	}
	if res.SessionID != "cs_1" || res.URL == "" {
		t.Errorf("session = %+v", res)
	}

	form := f.stripe.LastForm()
	if form["line_items[0][price_data][unit_amount]"] != "2000" || form["line_items[0][quantity]"] != "2" {
		t.Errorf("item line = %v", form)
	}
	if form["line_items[1][price_data][product_data][name]"] != "Shipping" || form["line_items[2][price_data][unit_amount]"] != "320" {
		t.Errorf("shipping/tax lines = %v", form)
	}
	if form["metadata[order_number]"] != res.OrderNumber {
		t.Errorf("metadata = %v", form)
	}

	order, err := f.orders.GetByStripeSessionID(ctx, "cs_1")
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != model.OrderStatusPending || order.CustomerEmail != "ann@example.com" {
		t.Errorf("order = %s / %s", order.Status, order.CustomerEmail)
	}
	it := order.Items[0]
	if it.Profit != 16 || it.Supplier.Data().VariantID != "var-lamp" || it.Platform() != model.PlatformCJ {
		t.Errorf("item = %+v", it)
	}
	if order.ShippingAddress.Data().Name != "Ann" || order.ShippingAddress.Data().Country != "US" {
		t.Errorf("address defaults not applied: %+v", order.ShippingAddress.Data())
	}
}

func TestCheckout_FreeShippingOver50(t *testing.T) {
	shipping, tax := ShippingAndTax(60)
	if shipping != 0 || tax != 4.8 {
		t.Errorf("ShippingAndTax(60) = %v, %v", shipping, tax)
	}
	if shipping, _ := ShippingAndTax(50); shipping != 9.99 {
		t.Errorf("exactly 50 still pays shipping, got %v", shipping)
	}
}

func TestCheckout_Validation(t *testing.T) {
	f := newCheckoutFixture(t)
	lamp := f.addProduct(t, "lamp", 20, 12)

	tests := []struct {
		name string
		req  CheckoutRequest
	}{
		{"empty cart", CheckoutRequest{Customer: model.Customer{Email: "a@b.c"}, ShippingAddress: testAddress}},
		{"no email", CheckoutRequest{Items: []CartItem{{ProductID: lamp.ID}}, ShippingAddress: testAddress}},
		{"no address", CheckoutRequest{Items: []CartItem{{ProductID: lamp.ID}}, Customer: model.Customer{Email: "a@b.c"}}},
		{"unknown product", CheckoutRequest{Items: []CartItem{{ProductID: 999}}, Customer: model.Customer{Email: "a@b.c"}, ShippingAddress: testAddress}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.CreateSession(context.Background(), tt.req); !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
	if f.stripe.LastForm() != nil {
		t.Error("invalid requests must not reach the gateway")
	}
}

func completedEvent(id, session string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"id":   id,
		"type": "checkout.session.completed",
		"data": map[string]interface{}{"object": map[string]interface{}{
			"id": session,
			"shipping_details": map[string]interface{}{
				"name":    "Ann Buyer",
				"address": map[string]string{"line1": "9 Elm St", "city": "Dallas", "postal_code": "75001", "country": "US"},
			},
		}},
	})
	return b
}

func TestCheckout_WebhookMarksPaidAndSchedulesFulfillment(t *testing.T) {
	f := newCheckoutFixture(t)
	lamp := f.addProduct(t, "lamp", 60, 30)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, CheckoutRequest{
		Items:           []CartItem{{ProductID: lamp.ID, Quantity: 1}},
		Customer:        model.Customer{Email: "ann@example.com"},
		ShippingAddress: testAddress,
	})
	if err != nil {
		t.Fatal(err)
	}

	payload := completedEvent("evt_1", res.SessionID)
	sig := SignPayload(payload, testWebhookSecret, time.Now())
	if err := f.svc.HandleWebhook(ctx, payload, sig); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	// redelivery
	if err := f.svc.HandleWebhook(ctx, payload, sig); err != nil {
		t.Fatalf("duplicate HandleWebhook() error = %v", err)
	}

	order, _ := f.orders.GetByStripeSessionID(ctx, res.SessionID)
	if order.PaymentStatus != model.PaymentStatusPaid || order.Status != model.OrderStatusProcessing || order.PaidAt == nil {
		t.Errorf("order = %s / %s / %v", order.PaymentStatus, order.Status, order.PaidAt)
	}
	if order.ShippingAddress.Data().City != "Dallas" {
		t.Errorf("shipping address not taken from session: %+v", order.ShippingAddress.Data())
	}

	if n := f.scheduler.Pending(); n != 1 {
		t.Fatalf("scheduled jobs = %d, want 1", n)
	}
	f.scheduler.RunAll(ctx)
	if len(f.processor.ids) != 1 || f.processor.ids[0] != order.ID {
		t.Errorf("processed = %v", f.processor.ids)
	}

	paid, err := f.svc.OrdersByEmail(ctx, "ANN@example.com")
	if err != nil || len(paid) != 1 || paid[0].StripeSessionID != "" {
		t.Errorf("OrdersByEmail() = %+v, %v", paid, err)
	}
	summary, err := f.svc.OrderBySession(ctx, res.SessionID)
	if err != nil || summary.PaymentStatus != "paid" {
		t.Errorf("OrderBySession() = %+v, %v", summary, err)
	}
}

func TestCheckout_WebhookRejectsBadSignature(t *testing.T) {
	f := newCheckoutFixture(t)
	payload := completedEvent("evt_2", "cs_x")

	for name, sig := range map[string]string{
		"wrong secret": SignPayload(payload, "other", time.Now()),
		"stale":        SignPayload(payload, testWebhookSecret, time.Now().Add(-10*time.Minute)),
		"malformed":    "garbage",
	} {
		if err := f.svc.HandleWebhook(context.Background(), payload, sig); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: error = %v, want ErrInvalidSignature", name, err)
		}
	}
	if f.scheduler.Pending() != 0 {
		t.Error("rejected webhook scheduled work")
	}
}

func TestVerifySignature_MultipleV1(t *testing.T) {
	payload := []byte(`{"id":"evt"}`)
	now := time.Unix(1_700_000_000, 0)
	good := SignPayload(payload, "s", now)
	header := "t=1700000000,v1=deadbeef," + good[len("t=1700000000,"):]
	if err := VerifySignature(payload, header, "s", 5*time.Minute, now.Add(time.Minute)); err != nil {
		t.Errorf("VerifySignature() error = %v", err)
	}
}
