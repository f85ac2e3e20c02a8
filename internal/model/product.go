package model

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// ==================== Product constants ====================

// ProductSource how a product entered the catalog
const (
	ProductSourceManual    = "manual"
	ProductSourceDiscovery = "automated-discovery"
	ProductSourceImport    = "api-import"
)

// ProductStatus lifecycle status
const (
	ProductStatusActive       = "active"
	ProductStatusInactive     = "inactive"
	ProductStatusPending      = "pending"
	ProductStatusOutOfStock   = "out-of-stock"
	ProductStatusDiscontinued = "discontinued"
)

// Supplier platform identifiers
const (
	PlatformCJ     = "cjdropshipping"
	PlatformAmazon = "amazon"
)

// ==================== Embedded documents ====================

// DiscoverySource where an automated product was found
type DiscoverySource struct {
	Platform        string    `json:"platform"`
	Channel         string    `json:"channel"`
	PostID          string    `json:"post_id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Upvotes         int       `json:"upvotes"`
	Comments        int       `json:"comments"`
	EngagementScore float64   `json:"engagement_score"`
	Permalink       string    `json:"permalink"`
	URL             string    `json:"url"`
	DiscoveredAt    time.Time `json:"discovered_at"`
	TopComments     []string  `json:"top_comments,omitempty"`
}

// SupplierSpecs flags attached to a supplier listing
type SupplierSpecs struct {
	IsRealProduct bool    `json:"is_real_product"`
	HasVariants   bool    `json:"has_variants"`
	Weight        float64 `json:"weight,omitempty"`
	ProductType   string  `json:"product_type,omitempty"`
	SellCount     int     `json:"sell_count,omitempty"`
	SourceStatus  string  `json:"source_status,omitempty"`
}

// SupplierInfo supplier-side identity of a product
type SupplierInfo struct {
	Platform       string        `json:"platform"`
	ProductID      string        `json:"product_id"`
	SupplierURL    string        `json:"supplier_url"`
	Price          float64       `json:"price"`
	Seller         string        `json:"seller,omitempty"`
	Shipping       string        `json:"shipping,omitempty"`
	Specifications SupplierSpecs `json:"specifications"`
}

// Pricing price ladder derived from the supplier cost
type Pricing struct {
	SupplierPrice    float64   `json:"supplier_price"`
	MarkupPercentage float64   `json:"markup_percentage"`
	MarkupAmount     float64   `json:"markup_amount"`
	FinalPrice       float64   `json:"final_price"`
	CompareAtPrice   float64   `json:"compare_at_price"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewPricing builds the price ladder: markup on top of supplier cost, compare-at at 1.4x.
func NewPricing(supplierPrice, markupPercentage float64, now time.Time) Pricing {
	markup := roundCents(supplierPrice * markupPercentage / 100)
	return Pricing{
		SupplierPrice:    roundCents(supplierPrice),
		MarkupPercentage: markupPercentage,
		MarkupAmount:     markup,
		FinalPrice:       roundCents(supplierPrice + markup),
		CompareAtPrice:   roundCents(supplierPrice * 1.4),
		LastUpdated:      now,
	}
}

// Variant a purchasable variant of a product
type Variant struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	SKU        string            `json:"sku"`
	Price      float64           `json:"price"`
	Image      string            `json:"image,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Stock      int               `json:"stock"`
}

type Analytics struct {
	Views         int     `json:"views"`
	Clicks        int     `json:"clicks"`
	Orders        int     `json:"orders"`
	Revenue       float64 `json:"revenue"`
	TrendingScore float64 `json:"trending_score"`
}

type Inventory struct {
	SKU           string `json:"sku"`
	StockQuantity int    `json:"stock_quantity"`
	TrackQuantity bool   `json:"track_quantity"`
}

// AutomationMeta bookkeeping for automatically managed products
type AutomationMeta struct {
	IsAutomated bool       `json:"is_automated"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
}

// Review a third-party review snippet
type Review struct {
	Source  string    `json:"source"`
	Author  string    `json:"author,omitempty"`
	Rating  float64   `json:"rating,omitempty"`
	Text    string    `json:"text"`
	URL     string    `json:"url,omitempty"`
	Fetched time.Time `json:"fetched"`
}

// ==================== Product ====================

// Product catalog entity
type Product struct {
	BaseModel

	Name        string  `gorm:"size:255;not null" json:"name"`
	Description string  `gorm:"type:text" json:"description"`
	Price       float64 `json:"price"`
	Category    string  `gorm:"size:50;index" json:"category"`
	Source      string  `gorm:"size:32;index;default:manual" json:"source"`
	Status      string  `gorm:"size:32;index;default:active" json:"status"`
	NeedsReview bool    `gorm:"default:false;index" json:"needs_review"`
	IsPromoted  bool    `gorm:"default:false;index" json:"is_promoted"`

	// Storefront ratings, kept as running totals
	RatingTotal int `gorm:"default:0" json:"-"`
	RatingCount int `gorm:"default:0" json:"rating_count"`

	// Denormalized lookup keys for upsert and dedup
	DiscoveryPostID   string `gorm:"size:64;index" json:"discovery_post_id,omitempty"`
	SupplierPlatform  string `gorm:"size:32;index:idx_supplier_product" json:"supplier_platform,omitempty"`
	SupplierProductID string `gorm:"size:128;index:idx_supplier_product" json:"supplier_product_id,omitempty"`

	DiscoverySource datatypes.JSONType[*DiscoverySource] `json:"discovery_source"`
	Supplier        datatypes.JSONType[SupplierInfo]     `json:"supplier"`
	Pricing         datatypes.JSONType[Pricing]          `json:"pricing"`
	Images          datatypes.JSONSlice[string]          `json:"images"`
	Variants        datatypes.JSONSlice[Variant]         `json:"variants"`
	Analytics       datatypes.JSONType[Analytics]        `json:"analytics"`
	Inventory       datatypes.JSONType[Inventory]        `json:"inventory"`
	Automation      datatypes.JSONType[AutomationMeta]   `json:"automation"`
	Reviews         datatypes.JSONSlice[Review]          `json:"reviews"`
}

func (Product) TableName() string {
	return "products"
}

// PrimaryImage first image is canonical
func (p *Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// AverageRating mean storefront rating to one decimal, 0 when unrated
func (p *Product) AverageRating() float64 {
	if p.RatingCount == 0 {
		return 0
	}
	return math.Round(float64(p.RatingTotal)/float64(p.RatingCount)*10) / 10
}

// Profit markup earned per unit
func (p *Product) Profit() float64 {
	return p.Pricing.Data().MarkupAmount
}

// Discovery returns the discovery source or nil for manual products.
func (p *Product) Discovery() *DiscoverySource {
	return p.DiscoverySource.Data()
}

// MergeSupplierData copies supplier, pricing and media from a fresher record.
// Identity, analytics and lifecycle status are kept.
func (p *Product) MergeSupplierData(src *Product) {
	p.Name = src.Name
	p.Description = src.Description
	p.Price = src.Price
	p.Category = src.Category
	p.SupplierPlatform = src.SupplierPlatform
	p.SupplierProductID = src.SupplierProductID
	p.Supplier = src.Supplier
	p.Pricing = src.Pricing
	if len(src.Images) > 0 {
		p.Images = src.Images
	}
	if len(src.Variants) > 0 {
		p.Variants = src.Variants
	}
	if src.Discovery() != nil {
		p.DiscoverySource = src.DiscoverySource
	}
	inv := p.Inventory.Data()
	if inv.SKU == "" {
		p.Inventory = src.Inventory
	}
	meta := p.Automation.Data()
	now := time.Now()
	meta.IsAutomated = true
	meta.LastSync = &now
	p.Automation = datatypes.NewJSONType(meta)
}
