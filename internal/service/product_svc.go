package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"videoshop/internal/api/dto"
	"videoshop/internal/model"
	"videoshop/internal/repository"

	"gorm.io/gorm"
)

var ErrProductNotFound = errors.New("product not found")

const (
	minRating = 1
	maxRating = 5

	// ReviewSourceStorefront reviews left with a storefront rating
	ReviewSourceStorefront = "storefront"
)

// ProductService storefront read side of the catalog.
type ProductService struct {
	repo repository.ProductRepository
}

func NewProductService(repo repository.ProductRepository) *ProductService {
	return &ProductService{repo: repo}
}

// ProductQuery storefront filter. Empty status lists active products only.
type ProductQuery struct {
	Category    string
	Keyword     string
	Status      string
	NeedsReview *bool
	Page        int
	PageSize    int
}

func (s *ProductService) List(ctx context.Context, q ProductQuery) ([]dto.ProductResp, int64, error) {
	status := q.Status
	switch status {
	case "":
		status = model.ProductStatusActive
	case "all":
		status = ""
	}
	products, total, err := s.repo.List(ctx, repository.ProductFilter{
		Status:      status,
		Category:    q.Category,
		Keyword:     q.Keyword,
		NeedsReview: q.NeedsReview,
		Page:        q.Page,
		PageSize:    q.PageSize,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}

	out := make([]dto.ProductResp, 0, len(products))
	for i := range products {
		out = append(out, s.ToProductResp(&products[i]))
	}
	return out, total, nil
}

func (s *ProductService) Get(ctx context.Context, id int64) (*dto.ProductResp, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	resp := s.ToProductResp(p)
	return &resp, nil
}

// Rate records one 1 to 5 star rating. A non-empty review is kept alongside
// the scraped reviews.
func (s *ProductService) Rate(ctx context.Context, id int64, value int, review string) (*dto.RatingResp, error) {
	if value < minRating || value > maxRating {
		return nil, validationError("rating value must be between %d and %d", minRating, maxRating)
	}

	var rv *model.Review
	if text := strings.TrimSpace(review); text != "" {
		rv = &model.Review{Source: ReviewSourceStorefront, Rating: float64(value), Text: text, Fetched: time.Now()}
	}
	err := s.repo.AddRating(ctx, id, value, rv)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("rate product %d: %w", id, err)
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &dto.RatingResp{ProductID: p.ID, AverageRating: p.AverageRating(), RatingCount: p.RatingCount}, nil
}

// Featured storefront highlights: promoted products first, topped up with
// the best rated ones.
func (s *ProductService) Featured(ctx context.Context, limit int) ([]dto.ProductResp, error) {
	products, err := s.repo.ListFeatured(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("featured products: %w", err)
	}
	out := make([]dto.ProductResp, 0, len(products))
	for i := range products {
		out = append(out, s.ToProductResp(&products[i]))
	}
	return out, nil
}

// ToProductResp flattens the embedded documents into the storefront shape.
func (s *ProductService) ToProductResp(p *model.Product) dto.ProductResp {
	pricing := p.Pricing.Data()
	supplier := p.Supplier.Data()
	images := []string(p.Images)
	if images == nil {
		images = []string{}
	}
	variants := []model.Variant(p.Variants)
	if variants == nil {
		variants = []model.Variant{}
	}

	resp := dto.ProductResp{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		CompareAt:     pricing.CompareAtPrice,
		SupplierPrice: pricing.SupplierPrice,
		Profit:        pricing.MarkupAmount,
		Category:      p.Category,
		Channel:       productChannel(p),
		TrendingScore: p.Analytics.Data().TrendingScore,
		ImageURL:      p.PrimaryImage(),
		Images:        images,
		Variants:      variants,
		HasVariants:   len(variants) > 0,
		InStock:       p.Status == model.ProductStatusActive,
		Supplier:      supplier.Platform,
		SupplierID:    p.SupplierProductID,
		RealProduct:   p.Source == model.ProductSourceDiscovery,
		IsPromoted:    p.IsPromoted,
		AverageRating: p.AverageRating(),
		RatingCount:   p.RatingCount,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if resp.Supplier == "" {
		resp.Supplier = model.ProductSourceManual
	}
	if len(p.Reviews) > 0 {
		resp.Reviews = []model.Review(p.Reviews)
	}
	return resp
}
