package repository

import (
	"context"
	"time"

	"videoshop/internal/model"

	"gorm.io/gorm"
)

// SubscriptionRepository alert subscription persistence
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) error
	GetByID(ctx context.Context, id int64) (*model.Subscription, error)
	ListByEmail(ctx context.Context, email string) ([]model.Subscription, error)
	// ListActive active subscriptions of the given types; all types when empty.
	ListActive(ctx context.Context, types ...string) ([]model.Subscription, error)
	Update(ctx context.Context, sub *model.Subscription) error
	SetActive(ctx context.Context, id int64, active bool) error
	MarkAlerted(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a subscription repository
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListByEmail(ctx context.Context, email string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = LOWER(?)", email).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) ListActive(ctx context.Context, types ...string) ([]model.Subscription, error) {
	var subs []model.Subscription
	db := r.db.WithContext(ctx).Where("is_active = ?", true)
	if len(types) > 0 {
		db = db.Where("type IN ?", types)
	}
	err := db.Order("id ASC").Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *subscriptionRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

func (r *subscriptionRepository) MarkAlerted(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_alert_sent": at,
			"alert_count":     gorm.Expr("alert_count + 1"),
		}).Error
}

func (r *subscriptionRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.Subscription{}, id).Error
}
