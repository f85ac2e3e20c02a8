package repository

import (
	"context"
	"time"

	"videoshop/internal/model"

	"gorm.io/gorm"
)

// ==================== Filter ====================

// OrderFilter order query conditions
type OrderFilter struct {
	Email             string
	Status            string
	PaymentStatus     string
	FulfillmentStatus string
	StartDate         *time.Time
	EndDate           *time.Time
	Page              int
	PageSize          int
}

// StatusCount aggregate row
type StatusCount struct {
	Status string
	Count  int64
}

// ==================== OrderRepository ====================

// OrderRepository order persistence. Items are always loaded in position order.
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	GetByStripeSessionID(ctx context.Context, sessionID string) (*model.Order, error)
	ListByEmail(ctx context.Context, email string, limit int) ([]model.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error)

	// Save persists the order row and every item row in one transaction.
	Save(ctx context.Context, order *model.Order) error
	SaveItem(ctx context.Context, item *model.OrderItem) error
	// SaveProgress persists the order row and a single item, leaving the
	// other item rows untouched.
	SaveProgress(ctx context.Context, order *model.Order, item *model.OrderItem) error
	// ClaimItem moves a pending item to processing. False means another
	// worker got there first.
	ClaimItem(ctx context.Context, itemID int64) (bool, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error

	// ListFailedSince paid orders whose fulfillment failed after since.
	ListFailedSince(ctx context.Context, since time.Time, limit int) ([]model.Order, error)
	CountByFulfillmentStatus(ctx context.Context) ([]StatusCount, error)
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	for i := range order.Items {
		order.Items[i].Position = i
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	if err := preloadItems(r.db.WithContext(ctx)).First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	var order model.Order
	err := preloadItems(r.db.WithContext(ctx)).Where("order_number = ?", orderNumber).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByStripeSessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	var order model.Order
	err := preloadItems(r.db.WithContext(ctx)).Where("stripe_session_id = ?", sessionID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByEmail(ctx context.Context, email string, limit int) ([]model.Order, error) {
	var orders []model.Order
	if limit <= 0 {
		limit = 10
	}
	err := preloadItems(r.db.WithContext(ctx)).
		Where("LOWER(customer_email) = LOWER(?)", email).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Order{})
	if filter.Email != "" {
		db = db.Where("LOWER(customer_email) = LOWER(?)", filter.Email)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.PaymentStatus != "" {
		db = db.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.FulfillmentStatus != "" {
		db = db.Where("fulfillment_status = ?", filter.FulfillmentStatus)
	}
	if filter.StartDate != nil {
		db = db.Where("created_at >= ?", filter.StartDate)
	}
	if filter.EndDate != nil {
		db = db.Where("created_at <= ?", filter.EndDate)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize

	err := preloadItems(db).Order("created_at DESC").Offset(offset).Limit(filter.PageSize).Find(&orders).Error
	return orders, total, err
}

func (r *orderRepository) Save(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Save(order).Error; err != nil {
			return err
		}
		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			if err := tx.Save(item).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *orderRepository) SaveItem(ctx context.Context, item *model.OrderItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *orderRepository) SaveProgress(ctx context.Context, order *model.Order, item *model.OrderItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Save(order).Error; err != nil {
			return err
		}
		item.OrderID = order.ID
		return tx.Save(item).Error
	})
}

func (r *orderRepository) ClaimItem(ctx context.Context, itemID int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.OrderItem{}).
		Where("id = ? AND (fulfillment_status = ? OR fulfillment_status = '')", itemID, model.ItemPending).
		Update("fulfillment_status", model.ItemProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id).Updates(fields).Error
}

func (r *orderRepository) ListFailedSince(ctx context.Context, since time.Time, limit int) ([]model.Order, error) {
	var orders []model.Order
	if limit <= 0 {
		limit = 100
	}
	err := preloadItems(r.db.WithContext(ctx)).
		Where("fulfillment_status = ? AND payment_status = ? AND created_at >= ?",
			model.OrderFulfillmentFailed, model.PaymentStatusPaid, since).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) CountByFulfillmentStatus(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Select("fulfillment_status AS status, COUNT(*) AS count").
		Group("fulfillment_status").
		Scan(&rows).Error
	return rows, err
}
