package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"
	"videoshop/pkg/utils"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	freeShippingOver = 50.0
	flatShipping     = 9.99
	salesTaxRate     = 0.08
)

// OrderProcessor starts fulfillment of a paid order.
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, orderID int64) error
}

// ==================== Requests ====================

type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	Items           []CartItem     `json:"items"`
	Customer        model.Customer `json:"customer"`
	ShippingAddress model.Address  `json:"shipping_address"`
}

type CheckoutResult struct {
	SessionID   string  `json:"session_id"`
	URL         string  `json:"url"`
	OrderNumber string  `json:"order_number"`
	Subtotal    float64 `json:"subtotal"`
	Shipping    float64 `json:"shipping"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
}

// OrderSummary what the storefront shows after checkout.
type OrderSummary struct {
	Order         *model.Order `json:"order"`
	PaymentStatus string       `json:"session_payment_status,omitempty"`
}

// ==================== CheckoutService ====================

type CheckoutService struct {
	orders    repository.OrderRepository
	products  repository.ProductRepository
	gateway   PaymentGateway
	processor OrderProcessor
	scheduler Scheduler
	events    *utils.TTLCache[bool]
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewCheckoutService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	gateway PaymentGateway,
	processor OrderProcessor,
	scheduler Scheduler,
) *CheckoutService {
	return &CheckoutService{
		orders:    orders,
		products:  products,
		gateway:   gateway,
		processor: processor,
		scheduler: scheduler,
		events:    utils.NewTTLCache[bool](24 * time.Hour),
		now:       time.Now,
		log:       logger.Named("[Checkout]"),
	}
}

func validateCheckout(req *CheckoutRequest) error {
	if len(req.Items) == 0 {
		return validationError("cart is empty")
	}
	if strings.TrimSpace(req.Customer.Email) == "" {
		return validationError("customer email is required")
	}
	a := req.ShippingAddress
	if a.Line1 == "" || a.City == "" || a.PostalCode == "" {
		return validationError("complete shipping address is required")
	}
	return nil
}

// ShippingAndTax free shipping above $50, else flat 9.99; 8% tax on the subtotal.
func ShippingAndTax(subtotal float64) (shipping, tax float64) {
	if subtotal <= freeShippingOver {
		shipping = flatShipping
	}
	return shipping, math.Round(subtotal*salesTaxRate*100) / 100
}

// CreateSession prices the cart from the catalog, opens a hosted checkout
// session and pre-creates the pending order.
func (s *CheckoutService) CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateCheckout(&req); err != nil {
		return nil, err
	}

	order := &model.Order{
		OrderNumber:   model.NewOrderNumber(s.now()),
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.Customer.Email)),
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		Currency:      "usd",
	}

	for i, ci := range req.Items {
		p, err := s.products.GetByID(ctx, ci.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationError("product %d not found", ci.ProductID)
		}
		if err != nil {
			return nil, fmt.Errorf("load product %d: %w", ci.ProductID, err)
		}
		if p.Status != model.ProductStatusActive {
			return nil, validationError("product %d is not available", ci.ProductID)
		}
		order.Items = append(order.Items, orderItemFor(p, ci.Quantity, i))
	}

	order.CalculateTotals()
	order.Shipping, order.Tax = ShippingAndTax(order.Subtotal)
	order.CalculateTotals()

	addr := req.ShippingAddress
	if addr.Name == "" {
		addr.Name = req.Customer.Name
	}
	if addr.Country == "" {
		addr.Country = "US"
	}
	customer := req.Customer
	customer.Email = order.CustomerEmail
	order.Customer = datatypes.NewJSONType(customer)
	order.ShippingAddress = datatypes.NewJSONType(addr)

	session, err := s.gateway.CreateSession(ctx, SessionRequest{
		CustomerEmail: order.CustomerEmail,
		LineItems:     lineItemsFor(order),
		Metadata: map[string]string{
			"order_number": order.OrderNumber,
			"order_type":   "dropshipping",
			"item_count":   fmt.Sprintf("%d", len(order.Items)),
			"total_profit": fmt.Sprintf("%.2f", order.TotalProfit),
		},
	})
	if err != nil {
		return nil, err
	}

	order.StripeSessionID = session.ID
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.log.Infow("checkout started", "order", order.OrderNumber, "session", session.ID,
		"total", order.Total, "profit", order.TotalProfit)

	return &CheckoutResult{
		SessionID:   session.ID,
		URL:         session.URL,
		OrderNumber: order.OrderNumber,
		Subtotal:    order.Subtotal,
		Shipping:    order.Shipping,
		Tax:         order.Tax,
		Total:       order.Total,
	}, nil
}

func orderItemFor(p *model.Product, qty, position int) model.OrderItem {
	if qty <= 0 {
		qty = 1
	}
	supplier := p.Supplier.Data()
	supplierPrice := p.Pricing.Data().SupplierPrice
	if supplierPrice == 0 {
		supplierPrice = supplier.Price
	}
	platform := p.SupplierPlatform
	if platform == "" {
		platform = supplier.Platform
	}
	if platform == "" {
		platform = model.PlatformAmazon
	}
	ref := model.ItemSupplier{
		Platform:    platform,
		ProductID:   firstNonEmpty(p.SupplierProductID, supplier.ProductID),
		SupplierURL: supplier.SupplierURL,
	}
	if len(p.Variants) > 0 {
		ref.VariantID = p.Variants[0].ID
	}
	return model.OrderItem{
		Position:          position,
		ProductID:         p.ID,
		ProductName:       p.Name,
		Quantity:          qty,
		UnitPrice:         p.Price,
		SupplierPrice:     supplierPrice,
		ImageURL:          p.PrimaryImage(),
		Supplier:          datatypes.NewJSONType(ref),
		FulfillmentStatus: model.ItemPending,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func cents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func lineItemsFor(o *model.Order) []LineItem {
	items := make([]LineItem, 0, len(o.Items)+2)
	for _, it := range o.Items {
		items = append(items, LineItem{
			Name:      it.ProductName,
			Image:     it.ImageURL,
			UnitCents: cents(it.UnitPrice),
			Quantity:  it.Quantity,
		})
	}
	if o.Shipping > 0 {
		items = append(items, LineItem{Name: "Shipping", Description: "Standard shipping", UnitCents: cents(o.Shipping), Quantity: 1})
	}
	if o.Tax > 0 {
		items = append(items, LineItem{Name: "Tax", Description: "Sales tax", UnitCents: cents(o.Tax), Quantity: 1})
	}
	return items
}

// ==================== Webhooks ====================

// HandleWebhook verifies and applies a payment event. Redelivered events are
// acknowledged without being applied twice.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	ev, err := s.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		return err
	}
	if !s.events.SetIfAbsent(ev.ID, true) {
		s.log.Infow("duplicate webhook ignored", "event", ev.ID, "type", ev.Type)
		return nil
	}

	switch ev.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(ev.Data.Object, &session); err != nil {
			s.events.Delete(ev.ID)
			return validationError("decode session: %v", err)
		}
		if err := s.completeCheckout(ctx, &session); err != nil {
			s.events.Delete(ev.ID)
			return err
		}
	case "payment_intent.succeeded":
		s.log.Infow("payment succeeded", "event", ev.ID)
	default:
		s.log.Debugw("unhandled webhook", "event", ev.ID, "type", ev.Type)
	}
	return nil
}

func (s *CheckoutService) completeCheckout(ctx context.Context, session *CheckoutSession) error {
	order, err := s.orders.GetByStripeSessionID(ctx, session.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnw("no order for completed session", "session", session.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order for session %s: %w", session.ID, err)
	}
	if order.PaymentStatus == model.PaymentStatusPaid {
		return nil
	}

	now := s.now()
	order.PaymentStatus = model.PaymentStatusPaid
	order.Status = model.OrderStatusProcessing
	order.PaidAt = &now
	if sd := session.ShippingDetails; sd != nil && sd.Address.Line1 != "" {
		order.ShippingAddress = datatypes.NewJSONType(model.Address{
			Name:       sd.Name,
			Line1:      sd.Address.Line1,
			Line2:      sd.Address.Line2,
			City:       sd.Address.City,
			State:      sd.Address.State,
			PostalCode: sd.Address.PostalCode,
			Country:    sd.Address.Country,
			Phone:      order.ShippingAddress.Data().Phone,
		})
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	s.log.Infow("payment confirmed", "order", order.OrderNumber, "total", order.Total, "profit", order.TotalProfit)

	orderID, number := order.ID, order.OrderNumber
	s.scheduler.Schedule(0, "fulfill-"+number, func(ctx context.Context) {
		if err := s.processor.ProcessOrder(ctx, orderID); err != nil {
			s.log.Errorw("auto-fulfillment failed, left for the retry sweep", "order", number, "error", err)
		}
	})
	return nil
}

// OrderBySession order plus the live session payment status when available.
func (s *CheckoutService) OrderBySession(ctx context.Context, sessionID string) (*OrderSummary, error) {
	order, err := s.orders.GetByStripeSessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary := &OrderSummary{Order: order}
	if session, err := s.gateway.RetrieveSession(ctx, sessionID); err == nil {
		summary.PaymentStatus = session.PaymentStatus
	} else {
		s.log.Warnw("session lookup failed", "session", sessionID, "error", err)
	}
	return summary, nil
}

// OrdersByEmail paid orders of a customer, newest first.
func (s *CheckoutService) OrdersByEmail(ctx context.Context, email string) ([]model.Order, error) {
	if strings.TrimSpace(email) == "" {
		return nil, validationError("email is required")
	}
	orders, err := s.orders.ListByEmail(ctx, email, 20)
	if err != nil {
		return nil, err
	}
	paid := orders[:0]
	for _, o := range orders {
		if o.PaymentStatus == model.PaymentStatusPaid {
			o.InternalNotes = ""
			o.StripeSessionID = ""
			paid = append(paid, o)
		}
	}
	return paid, nil
}
