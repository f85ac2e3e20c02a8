package repository

import (
	"context"
	"strings"

	"videoshop/internal/model"

	"gorm.io/gorm"
)

// VideoFilter cached video query
type VideoFilter struct {
	ProductID   int64
	ProductName string
	Category    string
	OnlyActive  bool
	Limit       int
}

// ==================== VideoRepository ====================

// VideoRepository video cache persistence
type VideoRepository interface {
	// FindCached returns active, API-resolved entries linked to the product
	// by id or name, best first.
	FindCached(ctx context.Context, productID int64, productName string, limit int) ([]model.VideoCacheEntry, error)
	GetByVideoID(ctx context.Context, videoID string) (*model.VideoCacheEntry, error)
	GetByVideoIDWithLinks(ctx context.Context, videoID string) (*model.VideoCacheEntry, error)
	Create(ctx context.Context, entry *model.VideoCacheEntry) error
	Update(ctx context.Context, entry *model.VideoCacheEntry) error
	Link(ctx context.Context, entryID, productID int64, productName string) error
	List(ctx context.Context, filter VideoFilter) ([]model.VideoCacheEntry, error)
	// ListFeatured active, API-resolved videos, most viewed first.
	ListFeatured(ctx context.Context, limit int) ([]model.VideoCacheEntry, error)
	Deactivate(ctx context.Context, videoID string) error
	Count(ctx context.Context) (int64, error)
}

type videoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a video cache repository
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepository{db: db}
}

func normalizeProductName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// linkedEntryIDs subquery of entry ids linked to a product by id or name
func (r *videoRepository) linkedEntryIDs(ctx context.Context, productID int64, productName string) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&model.VideoProductLink{}).Select("video_entry_id")
	name := normalizeProductName(productName)
	switch {
	case productID > 0 && name != "":
		q = q.Where("product_id = ? OR product_name = ?", productID, name)
	case productID > 0:
		q = q.Where("product_id = ?", productID)
	default:
		q = q.Where("product_name = ?", name)
	}
	return q
}

func (r *videoRepository) FindCached(ctx context.Context, productID int64, productName string, limit int) ([]model.VideoCacheEntry, error) {
	var entries []model.VideoCacheEntry
	if productID <= 0 && normalizeProductName(productName) == "" {
		return entries, nil
	}
	if limit <= 0 {
		limit = 5
	}

	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.linkedEntryIDs(ctx, productID, productName)).
		Where("api_call_made = ? AND is_active = ?", true, true).
		Order("relevance_score DESC").
		Order("view_count DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *videoRepository) GetByVideoID(ctx context.Context, videoID string) (*model.VideoCacheEntry, error) {
	var entry model.VideoCacheEntry
	if err := r.db.WithContext(ctx).Where("video_id = ?", videoID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *videoRepository) GetByVideoIDWithLinks(ctx context.Context, videoID string) (*model.VideoCacheEntry, error) {
	var entry model.VideoCacheEntry
	err := r.db.WithContext(ctx).Preload("Links").Where("video_id = ?", videoID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *videoRepository) Create(ctx context.Context, entry *model.VideoCacheEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *videoRepository) Update(ctx context.Context, entry *model.VideoCacheEntry) error {
	return r.db.WithContext(ctx).Omit("Links").Save(entry).Error
}

// Link is idempotent: an existing association is left untouched.
func (r *videoRepository) Link(ctx context.Context, entryID, productID int64, productName string) error {
	link := model.VideoProductLink{
		VideoEntryID: entryID,
		ProductID:    productID,
		ProductName:  normalizeProductName(productName),
	}
	return r.db.WithContext(ctx).
		Where(map[string]interface{}{
			"video_entry_id": link.VideoEntryID,
			"product_id":     link.ProductID,
			"product_name":   link.ProductName,
		}).
		FirstOrCreate(&link).Error
}

func (r *videoRepository) List(ctx context.Context, filter VideoFilter) ([]model.VideoCacheEntry, error) {
	var entries []model.VideoCacheEntry
	db := r.db.WithContext(ctx).Model(&model.VideoCacheEntry{})

	if filter.ProductID > 0 || filter.ProductName != "" {
		db = db.Where("id IN (?)", r.linkedEntryIDs(ctx, filter.ProductID, filter.ProductName))
	}
	if filter.Category != "" {
		db = db.Where("category = ?", filter.Category)
	}
	if filter.OnlyActive {
		db = db.Where("is_active = ?", true)
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	err := db.Order("relevance_score DESC").Order("view_count DESC").Limit(filter.Limit).Find(&entries).Error
	return entries, err
}

func (r *videoRepository) ListFeatured(ctx context.Context, limit int) ([]model.VideoCacheEntry, error) {
	var entries []model.VideoCacheEntry
	if limit <= 0 {
		limit = 15
	}
	err := r.db.WithContext(ctx).
		Where("api_call_made = ? AND is_active = ?", true, true).
		Order("view_count DESC").
		Order("relevance_score DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *videoRepository) Deactivate(ctx context.Context, videoID string) error {
	return r.db.WithContext(ctx).Model(&model.VideoCacheEntry{}).
		Where("video_id = ?", videoID).
		Update("is_active", false).Error
}

func (r *videoRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.VideoCacheEntry{}).Count(&n).Error
	return n, err
}
