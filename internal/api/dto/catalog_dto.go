package dto

// ==================== Products ====================

// ProductListQuery storefront listing filter
type ProductListQuery struct {
	Category    string `form:"category"`
	Keyword     string `form:"keyword"`
	Status      string `form:"status"`
	NeedsReview *bool  `form:"needs_review"`
	Page        int    `form:"page,default=1" binding:"gte=1"`
	PageSize    int    `form:"page_size,default=20" binding:"gte=1,lte=100"`
}

// PageResp paged list envelope
type PageResp struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// RateProductReq one storefront rating, 1 to 5 stars
type RateProductReq struct {
	Value  int    `json:"value"`
	Review string `json:"review" binding:"max=2000"`
}

// RatingResp rating totals after the new rating
type RatingResp struct {
	ProductID     int64   `json:"product_id"`
	AverageRating float64 `json:"average_rating"`
	RatingCount   int     `json:"rating_count"`
}

// FeaturedQuery limit of a featured listing
type FeaturedQuery struct {
	Limit int `form:"limit" binding:"gte=0,lte=20"`
}

// ==================== Videos ====================

// VideoQuery either productId or productName is required.
type VideoQuery struct {
	ProductID   int64  `form:"productId"`
	ProductName string `form:"productName"`
	Category    string `form:"category"`
	Max         int    `form:"max,default=3" binding:"gte=1,lte=10"`
}

// ProductResp storefront view of a product. Supplier cost is exposed for the
// admin dashboard, supplier credentials never are.
type ProductResp struct {
	ID            int64                  `json:"id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Price         float64                `json:"price"`
	CompareAt     float64                `json:"compare_at_price,omitempty"`
	SupplierPrice float64                `json:"supplierPrice"`
	Profit        float64                `json:"profit"`
	Category      string                 `json:"category"`
	Channel       string                 `json:"subreddit,omitempty"`
	TrendingScore float64                `json:"trendingScore"`
	ImageURL      string                 `json:"imageUrl"`
	Images        []string               `json:"images"`
	Variants      interface{}            `json:"variants"`
	HasVariants   bool                   `json:"hasVariants"`
	InStock       bool                   `json:"inStock"`
	Supplier      string                 `json:"supplier"`
	SupplierID    string                 `json:"supplierProductId,omitempty"`
	RealProduct   bool                   `json:"realProduct"`
	IsPromoted    bool                   `json:"isPromoted"`
	AverageRating float64                `json:"averageRating"`
	RatingCount   int                    `json:"ratingCount"`
	Reviews       interface{}            `json:"reviews,omitempty"`
	CreatedAt     string                 `json:"createdAt"`
}
