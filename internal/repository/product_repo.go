package repository

import (
	"context"
	"errors"
	"time"

	"videoshop/internal/model"

	"gorm.io/gorm"
)

// ==================== Filter ====================

// ProductFilter product query conditions
type ProductFilter struct {
	Source      string
	Status      string
	Category    string
	Keyword     string
	NeedsReview *bool
	Page        int
	PageSize    int
}

// CategoryCount aggregate row
type CategoryCount struct {
	Category string
	Count    int64
}

// ==================== ProductRepository ====================

// ProductRepository product persistence
type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.Product, error)
	GetByDiscoveryPostID(ctx context.Context, postID string) (*model.Product, error)
	Update(ctx context.Context, product *model.Product) error
	UpdateStatus(ctx context.Context, id int64, status string) error
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error)

	// UpsertByDiscovery creates the product, or merges supplier data into the
	// record with the same discovery post id. created reports which path ran.
	UpsertByDiscovery(ctx context.Context, product *model.Product) (created bool, err error)
	ExistsBySupplierProductID(ctx context.Context, platform, supplierProductID string) (bool, error)

	// AddRating adds one storefront rating to the running totals and keeps
	// the review, if any, with the product's reviews.
	AddRating(ctx context.Context, id int64, value int, review *model.Review) error
	// ListFeatured active products, promoted first, then best rated, then newest.
	ListFeatured(ctx context.Context, limit int) ([]model.Product, error)

	ListStaleAutomated(ctx context.Context, olderThan time.Time, limit int) ([]model.Product, error)
	CountByCategory(ctx context.Context, source string, since time.Time) ([]CategoryCount, error)

	// Purge hard-deletes products of a source; administrative use only.
	Purge(ctx context.Context, source string) (int64, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepository) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) GetByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error
	return products, err
}

func (r *productRepository) GetByDiscoveryPostID(ctx context.Context, postID string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Where("discovery_post_id = ?", postID).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// Update saves the product. Rating totals only move through AddRating.
func (r *productRepository) Update(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Omit("rating_total", "rating_count").Save(product).Error
}

func (r *productRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *productRepository) List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Product{})
	if filter.Source != "" {
		db = db.Where("source = ?", filter.Source)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		db = db.Where("category = ?", filter.Category)
	}
	if filter.NeedsReview != nil {
		db = db.Where("needs_review = ?", *filter.NeedsReview)
	}
	if filter.Keyword != "" {
		db = db.Where("LOWER(name) LIKE LOWER(?)", "%"+filter.Keyword+"%")
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

	err := db.Order("created_at DESC").Offset(offset).Limit(filter.PageSize).Find(&products).Error
	return products, total, err
}

func (r *productRepository) UpsertByDiscovery(ctx context.Context, product *model.Product) (bool, error) {
	if product.DiscoveryPostID == "" {
		return true, r.Create(ctx, product)
	}

	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Product
		err := tx.Where("discovery_post_id = ?", product.DiscoveryPostID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(product).Error
		}
		if err != nil {
			return err
		}

		existing.MergeSupplierData(product)
		if err := tx.Omit("rating_total", "rating_count").Save(&existing).Error; err != nil {
			return err
		}
		*product = existing
		return nil
	})
	return created, err
}

func (r *productRepository) AddRating(ctx context.Context, id int64, value int, review *model.Review) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Product{}).Where("id = ?", id).Updates(map[string]interface{}{
			"rating_total": gorm.Expr("rating_total + ?", value),
			"rating_count": gorm.Expr("rating_count + 1"),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if review == nil {
			return nil
		}

		var p model.Product
		if err := tx.Select("id", "reviews").First(&p, id).Error; err != nil {
			return err
		}
		p.Reviews = append(p.Reviews, *review)
		return tx.Model(&model.Product{}).Where("id = ?", id).Update("reviews", p.Reviews).Error
	})
}

func (r *productRepository) ListFeatured(ctx context.Context, limit int) ([]model.Product, error) {
	var products []model.Product
	if limit <= 0 {
		limit = 4
	}
	err := r.db.WithContext(ctx).
		Where("status = ?", model.ProductStatusActive).
		Order("is_promoted DESC").
		Order("CASE WHEN rating_count > 0 THEN rating_total * 1.0 / rating_count ELSE 0 END DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&products).Error
	return products, err
}

func (r *productRepository) ExistsBySupplierProductID(ctx context.Context, platform, supplierProductID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("supplier_platform = ? AND supplier_product_id = ?", platform, supplierProductID).
		Count(&count).Error
	return count > 0, err
}

func (r *productRepository) ListStaleAutomated(ctx context.Context, olderThan time.Time, limit int) ([]model.Product, error) {
	var products []model.Product
	if limit <= 0 {
		limit = 50
	}
	err := r.db.WithContext(ctx).
		Where("source = ? AND status = ? AND updated_at < ?", model.ProductSourceDiscovery, model.ProductStatusActive, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&products).Error
	return products, err
}

func (r *productRepository) CountByCategory(ctx context.Context, source string, since time.Time) ([]CategoryCount, error) {
	var rows []CategoryCount
	db := r.db.WithContext(ctx).Model(&model.Product{}).
		Select("category, COUNT(*) AS count").
		Where("created_at >= ?", since)
	if source != "" {
		db = db.Where("source = ?", source)
	}
	err := db.Group("category").Order("count DESC").Scan(&rows).Error
	return rows, err
}

func (r *productRepository) Purge(ctx context.Context, source string) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().Where("source = ?", source).Delete(&model.Product{})
	return res.RowsAffected, res.Error
}
