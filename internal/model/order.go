package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ==================== Order status constants ====================

// OrderStatus order lifecycle
const (
	OrderStatusPending    = "pending"
	OrderStatusPaid       = "paid"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
	OrderStatusFailed     = "failed"
)

// PaymentStatus payment lifecycle
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Order-level fulfillment status, aggregated from items
const (
	OrderFulfillmentPending    = "pending"
	OrderFulfillmentProcessing = "processing"
	OrderFulfillmentPartial    = "partial"
	OrderFulfillmentComplete   = "complete"
	OrderFulfillmentFailed     = "failed"
)

// Item fulfillment states: pending -> processing -> ordered -> shipped -> delivered.
// failed is absorbing and reachable from processing or ordered.
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemOrdered    = "ordered"
	ItemShipped    = "shipped"
	ItemDelivered  = "delivered"
	ItemFailed     = "failed"
)

// Attempt outcomes
const (
	AttemptSuccess = "success"
	AttemptFailed  = "failed"
)

var ErrIllegalTransition = errors.New("illegal fulfillment transition")

var itemRank = map[string]int{
	ItemPending:    0,
	ItemProcessing: 1,
	ItemOrdered:    2,
	ItemShipped:    3,
	ItemDelivered:  4,
}

// CanTransition reports whether an item may move from one state to another.
// Leaving failed is only possible through ResetForRetry.
func CanTransition(from, to string) bool {
	if from == "" {
		from = ItemPending
	}
	if to == ItemFailed {
		return from == ItemProcessing || from == ItemOrdered
	}
	if from == ItemFailed {
		return false
	}
	fr, ok1 := itemRank[from]
	tr, ok2 := itemRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr > fr
}

// ==================== Embedded documents ====================

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// ItemSupplier where an item is sourced from
type ItemSupplier struct {
	Platform    string `json:"platform"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	SupplierURL string `json:"supplier_url,omitempty"`
}

// FulfillmentAttempt one dispatch try to a supplier
type FulfillmentAttempt struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Supplier  string    `json:"supplier"`
	ItemIndex int       `json:"item_index"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Response  string    `json:"response,omitempty"`
}

// ==================== Order ====================

// Order storefront order
type Order struct {
	BaseModel

	OrderNumber     string `gorm:"size:32;uniqueIndex;not null" json:"order_number"`
	StripeSessionID string `gorm:"size:255;index" json:"stripe_session_id"`
	CustomerEmail   string `gorm:"size:255;index" json:"customer_email"`

	Customer        datatypes.JSONType[Customer] `json:"customer"`
	ShippingAddress datatypes.JSONType[Address]  `json:"shipping_address"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items"`

	// Totals in dollars
	Subtotal    float64 `json:"subtotal"`
	Shipping    float64 `json:"shipping"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
	TotalProfit float64 `json:"total_profit"`
	Currency    string  `gorm:"size:10;default:usd" json:"currency"`

	Status            string `gorm:"size:32;index;default:pending" json:"status"`
	PaymentStatus     string `gorm:"size:32;index;default:pending" json:"payment_status"`
	FulfillmentStatus string `gorm:"size:32;index;default:pending" json:"fulfillment_status"`

	FulfillmentAttempts datatypes.JSONSlice[FulfillmentAttempt] `json:"fulfillment_attempts"`
	InternalNotes       string                                  `gorm:"type:text" json:"internal_notes,omitempty"`

	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

func (*Order) TableName() string {
	return "orders"
}

// NewOrderNumber VS-<6 digits of unix millis>-<4 random chars>
func NewOrderNumber(now time.Time) string {
	ms := now.UnixMilli() % 1000000
	suffix := uuid.New().String()[:4]
	return fmt.Sprintf("VS-%06d-%s", ms, suffixUpper(suffix))
}

func suffixUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

// CalculateTotals recomputes item totals, subtotal, total and profit.
// Shipping and tax are set by the caller.
func (o *Order) CalculateTotals() {
	subtotal, profit := 0.0, 0.0
	for i := range o.Items {
		it := &o.Items[i]
		it.TotalPrice = roundCents(it.UnitPrice * float64(it.Quantity))
		it.Profit = roundCents((it.UnitPrice - it.SupplierPrice) * float64(it.Quantity))
		subtotal += it.TotalPrice
		profit += it.Profit
	}
	o.Subtotal = roundCents(subtotal)
	o.TotalProfit = roundCents(profit)
	o.Total = roundCents(o.Subtotal + o.Shipping + o.Tax)
}

// AddAttempt appends a fulfillment attempt record.
func (o *Order) AddAttempt(a FulfillmentAttempt) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	o.FulfillmentAttempts = append(o.FulfillmentAttempts, a)
}

// RecomputeFulfillmentStatus derives the order-level status from its items:
// failed if all failed, complete if all delivered, processing if any is
// shipped or processing, pending if any is pending. Any other mix (ordered
// items next to failed ones) keeps the current status.
func (o *Order) RecomputeFulfillmentStatus() string {
	if len(o.Items) == 0 {
		o.FulfillmentStatus = OrderFulfillmentPending
		return o.FulfillmentStatus
	}
	var failed, delivered, active, pending int
	for _, it := range o.Items {
		switch it.FulfillmentStatus {
		case ItemFailed:
			failed++
		case ItemDelivered:
			delivered++
		case ItemShipped, ItemProcessing:
			active++
		case ItemPending, "":
			pending++
		}
	}
	switch {
	case failed == len(o.Items):
		o.FulfillmentStatus = OrderFulfillmentFailed
	case delivered == len(o.Items):
		o.FulfillmentStatus = OrderFulfillmentComplete
	case active > 0:
		o.FulfillmentStatus = OrderFulfillmentProcessing
	case pending > 0:
		o.FulfillmentStatus = OrderFulfillmentPending
	}
	return o.FulfillmentStatus
}

// AllShipped true when every item is shipped or delivered
func (o *Order) AllShipped() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, it := range o.Items {
		if it.FulfillmentStatus != ItemShipped && it.FulfillmentStatus != ItemDelivered {
			return false
		}
	}
	return true
}

// AllDelivered true when every item is delivered
func (o *Order) AllDelivered() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, it := range o.Items {
		if it.FulfillmentStatus != ItemDelivered {
			return false
		}
	}
	return true
}

// ==================== OrderItem ====================

// OrderItem one line of an order
type OrderItem struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64 `gorm:"index;not null" json:"order_id"`
	Position  int   `gorm:"default:0" json:"position"`
	ProductID int64 `gorm:"index" json:"product_id"`

	ProductName   string  `gorm:"size:255" json:"product_name"`
	Quantity      int     `gorm:"default:1" json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	SupplierPrice float64 `json:"supplier_price"`
	TotalPrice    float64 `json:"total_price"`
	Profit        float64 `json:"profit"`
	ImageURL      string  `gorm:"size:500" json:"image_url"`

	Supplier datatypes.JSONType[ItemSupplier] `json:"supplier"`

	FulfillmentStatus string     `gorm:"size:32;index;default:pending" json:"fulfillment_status"`
	SupplierOrderID   string     `gorm:"size:128" json:"supplier_order_id"`
	TrackingNumber    string     `gorm:"size:128" json:"tracking_number"`
	TrackingURL       string     `gorm:"size:500" json:"tracking_url"`
	FulfillmentNotes  string     `gorm:"type:text" json:"fulfillment_notes"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*OrderItem) TableName() string {
	return "order_items"
}

// Transition moves the item forward, rejecting backward moves.
func (i *OrderItem) Transition(to string) error {
	if !CanTransition(i.FulfillmentStatus, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, i.FulfillmentStatus, to)
	}
	i.FulfillmentStatus = to
	return nil
}

// Platform supplier platform of the item
func (i *OrderItem) Platform() string {
	return i.Supplier.Data().Platform
}

// ResetForRetry re-arms a failed item for an explicit retry sweep.
// It is the only way out of the failed state.
func (i *OrderItem) ResetForRetry() bool {
	if i.FulfillmentStatus != ItemFailed {
		return false
	}
	i.FulfillmentStatus = ItemPending
	return true
}
